package stm

import (
	"errors"
	"sync/atomic"
)

// entry is one version in a ref's history: the value as of writePoint, and
// the write-point at which it became the head.
type entry[T any] struct {
	value      T
	writePoint uint64
}

// refHandle is the type-erased view of a Ref[T] that the driver needs in
// order to validate and publish refs of arbitrary value types within one
// generic-free Tx. A ref's identity, for the purposes of a transaction's
// working-set maps, is simply its address boxed behind this interface —
// *Ref[T] pointers are already comparable and stable for the ref's
// lifetime, so no separate integer ref-id is needed.
type refHandle interface {
	world() *World
	headWritePoint() uint64
	mostRecentAny() any
	historyBeforeOrOnAny(pt uint64) (any, bool)
	publishAny(value any, pt uint64)
}

// Ref is a versioned mutable cell holding a bounded history of values, each
// tagged with the write-point at which it was published. Create one with
// NewRef; read and mutate it from within a transaction using Read, Write,
// Alter, Ensure, and Commute.
type Ref[T any] struct {
	w        *World
	capacity int
	history  atomic.Pointer[[]entry[T]]
}

type refOptions struct {
	world        *World
	historyDepth int
}

// RefOption is a potential customization of a Ref's behavior.
type RefOption func(*refOptions) error

// WithWorld binds a new ref to the given World instead of DefaultWorld.
// Every ref read or written within the same transaction must share one
// World, since a transaction's read-point is a single World's write-point
// counter.
func WithWorld(w *World) RefOption {
	return func(o *refOptions) error {
		if w == nil {
			return errors.New("stm: world must be non-nil")
		}
		o.world = w
		return nil
	}
}

// WithHistoryDepth overrides, for this ref only, the positive capacity H of
// its version history. Larger values reduce retries caused by a slow
// reader's snapshot aging out of the history window, at the cost of memory.
func WithHistoryDepth(n int) RefOption {
	return func(o *refOptions) error {
		if n < 1 {
			return errors.New("stm: history depth must be positive")
		}
		o.historyDepth = n
		return nil
	}
}

// NewRef creates a new Ref holding initial, with head write-point equal to
// the current write-point of its World (DefaultWorld, unless overridden
// with WithWorld).
func NewRef[T any](initial T, opts ...RefOption) *Ref[T] {
	options := refOptions{world: DefaultWorld}
	for _, o := range opts {
		if err := o(&options); err != nil {
			panic(err)
		}
	}
	if options.historyDepth == 0 {
		options.historyDepth = options.world.defaultHistoryDepth
	}
	r := &Ref[T]{
		w:        options.world,
		capacity: options.historyDepth,
	}
	h := []entry[T]{{value: initial, writePoint: options.world.readPoint()}}
	r.history.Store(&h)
	return r
}

// Value returns the ref's current head value, bypassing any active
// transaction's read-your-writes cache. Prefer Read from within a
// transaction body; Value is for callers that are not inside one, and for
// diagnostics.
func (r *Ref[T]) Value() T {
	return r.mostRecent().value
}

func (r *Ref[T]) mostRecent() entry[T] {
	h := *r.history.Load()
	return h[0]
}

// historyBeforeOrOn returns the newest entry whose write-point is <= pt, or
// false if every stored entry is newer than pt (the snapshot has aged off
// the back of the history window).
func (r *Ref[T]) historyBeforeOrOn(pt uint64) (entry[T], bool) {
	h := *r.history.Load()
	for _, e := range h {
		if e.writePoint <= pt {
			return e, true
		}
	}
	return entry[T]{}, false
}

// appendVersion prepends a new head entry, dropping the oldest entry if the
// history is already at capacity. Must be called only while holding the
// owning World's commit lock.
func (r *Ref[T]) appendVersion(value T, writePoint uint64) {
	old := *r.history.Load()
	n := len(old) + 1
	if n > r.capacity {
		n = r.capacity
	}
	next := make([]entry[T], n)
	next[0] = entry[T]{value: value, writePoint: writePoint}
	copy(next[1:], old[:n-1])
	r.history.Store(&next)
}

func (r *Ref[T]) world() *World {
	return r.w
}

func (r *Ref[T]) headWritePoint() uint64 {
	return r.mostRecent().writePoint
}

func (r *Ref[T]) mostRecentAny() any {
	return r.mostRecent().value
}

func (r *Ref[T]) historyBeforeOrOnAny(pt uint64) (any, bool) {
	e, ok := r.historyBeforeOrOn(pt)
	if !ok {
		return nil, false
	}
	return e.value, true
}

func (r *Ref[T]) publishAny(value any, writePoint uint64) {
	r.appendVersion(value.(T), writePoint)
}

var _ refHandle = (*Ref[int])(nil)
