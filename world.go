package stm

import (
	"errors"
	"sync"
	"sync/atomic"
)

// defaultHistoryDepth is the capacity H of a ref's version history when
// neither the owning World nor the ref itself overrides it.
const defaultHistoryDepth = 10

type worldOptions struct {
	defaultHistoryDepth int
}

// WorldOption is a potential customization of a World's behavior.
type WorldOption func(*worldOptions) error

// WithDefaultHistoryDepth establishes the positive default capacity H for
// refs created against this World that don't specify their own
// WithHistoryDepth override.
func WithDefaultHistoryDepth(n int) WorldOption {
	return func(o *worldOptions) error {
		if n < 1 {
			return errors.New("stm: default history depth must be positive")
		}
		o.defaultHistoryDepth = n
		return nil
	}
}

// World bundles the global write-point counter and the commit lock shared
// by every Ref created against it. Programs that don't care about running
// independent STM universes in one process can ignore World entirely and
// use the package-level functions, which operate against DefaultWorld.
type World struct {
	writePoint          atomic.Uint64
	commitLock          sync.Mutex
	defaultHistoryDepth int
}

// NewWorld creates an empty World with its write-point counter at zero.
func NewWorld(opts ...WorldOption) (*World, error) {
	options := worldOptions{
		defaultHistoryDepth: defaultHistoryDepth,
	}
	for _, o := range opts {
		if err := o(&options); err != nil {
			return nil, err
		}
	}
	return &World{defaultHistoryDepth: options.defaultHistoryDepth}, nil
}

// MustNewWorld is like NewWorld but panics on error. It exists for the
// common case of constructing DefaultWorld and worlds in tests, where the
// options passed are always valid constants rather than user input.
func MustNewWorld(opts ...WorldOption) *World {
	w, err := NewWorld(opts...)
	if err != nil {
		panic(err)
	}
	return w
}

// DefaultWorld is the World used by NewRef and Run when no explicit World is
// given. Read, Write, Alter, Ensure, and Commute act in the World of the
// active transaction and of the ref itself.
var DefaultWorld = MustNewWorld()

func (w *World) readPoint() uint64 {
	return w.writePoint.Load()
}

// claimNextWritePoint must be called only while holding w.commitLock.
func (w *World) claimNextWritePoint() uint64 {
	next := w.writePoint.Load() + 1
	if next == 0 {
		panic("stm: write-point counter overflowed")
	}
	return next
}

// publishWritePoint must be called only while holding w.commitLock, after
// every ref in the commit has had its new version appended.
func (w *World) publishWritePoint(next uint64) {
	w.writePoint.Store(next)
}
