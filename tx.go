package stm

import "fmt"

// Tx is the per-attempt working set for one transaction body: the
// read-point snapshot, the read-your-writes value cache, and the sets of
// refs written, ensured, and commuted during this attempt. A Tx is owned
// by exactly one goroutine for the lifetime of one attempt and is never
// shared outside the context.Context chain that carries it; see Run.
type Tx struct {
	world     *World
	readPoint uint64
	values    map[refHandle]any
	written   map[refHandle]struct{}
	ensured   map[refHandle]struct{}
	commutes  map[refHandle][]func(any) any
}

func newTx(w *World) *Tx {
	return &Tx{
		world:     w,
		readPoint: w.readPoint(),
	}
}

// read implements the spec's read(ref) operation: read-your-writes first,
// then the ref's own history at or before the snapshot, else retry.
func (tx *Tx) read(rh refHandle) any {
	if v, ok := tx.values[rh]; ok {
		return v
	}
	v, ok := rh.historyBeforeOrOnAny(tx.readPoint)
	if !ok {
		panicRetry("ref history aged past transaction snapshot")
	}
	if tx.values == nil {
		tx.values = make(map[refHandle]any)
	}
	tx.values[rh] = v
	return v
}

// write implements the spec's write(ref, new-value) operation.
func (tx *Tx) write(rh refHandle, v any) (any, error) {
	if _, ok := tx.commutes[rh]; ok {
		return nil, setAfterCommuteError(fmt.Sprintf("%p", rh))
	}
	if tx.values == nil {
		tx.values = make(map[refHandle]any)
	}
	tx.values[rh] = v
	if tx.written == nil {
		tx.written = make(map[refHandle]struct{})
	}
	tx.written[rh] = struct{}{}
	return v, nil
}

// ensure implements the spec's ensure(ref) operation.
func (tx *Tx) ensure(rh refHandle) {
	if tx.ensured == nil {
		tx.ensured = make(map[refHandle]struct{})
	}
	tx.ensured[rh] = struct{}{}
}

// commute implements the spec's commute(ref, fn, args) operation. apply has
// already closed over fn and its extra arguments.
func (tx *Tx) commute(rh refHandle, apply func(any) any) any {
	base, ok := tx.values[rh]
	if !ok {
		base = rh.mostRecentAny()
	}
	provisional := apply(base)
	if tx.values == nil {
		tx.values = make(map[refHandle]any)
	}
	tx.values[rh] = provisional
	if tx.commutes == nil {
		tx.commutes = make(map[refHandle][]func(any) any)
	}
	// Newest-first: prepend.
	tx.commutes[rh] = append([]func(any) any{apply}, tx.commutes[rh]...)
	return provisional
}

// commit implements the spec's commit(tx) protocol. It either returns
// normally (committed, possibly having done nothing if the working set was
// empty) or panics with retryNeeded.
func (tx *Tx) commit() {
	if len(tx.written) == 0 && len(tx.ensured) == 0 && len(tx.commutes) == 0 {
		// Read-only fast path: no lock, no write-point bump.
		return
	}
	w := tx.world
	w.commitLock.Lock()

	for rh := range tx.written {
		if rh.headWritePoint() > tx.readPoint {
			w.commitLock.Unlock()
			panicRetry("written ref advanced past read-point")
		}
	}
	for rh := range tx.ensured {
		if rh.headWritePoint() > tx.readPoint {
			w.commitLock.Unlock()
			panicRetry("ensured ref advanced past read-point")
		}
	}

	for rh, closures := range tx.commutes {
		if _, ok := tx.written[rh]; ok {
			continue
		}
		val := rh.mostRecentAny()
		for i := len(closures) - 1; i >= 0; i-- {
			val = closures[i](val)
		}
		if tx.values == nil {
			tx.values = make(map[refHandle]any)
		}
		tx.values[rh] = val
	}

	// An ensure-only commit validates but publishes nothing, so the GWP
	// must not move: bumping it here would needlessly invalidate every
	// other ref's readers sitting at this read-point.
	if len(tx.written) > 0 || len(tx.commutes) > 0 {
		newWritePoint := w.claimNextWritePoint()

		for rh := range tx.written {
			rh.publishAny(tx.values[rh], newWritePoint)
		}
		for rh := range tx.commutes {
			if _, ok := tx.written[rh]; ok {
				continue
			}
			rh.publishAny(tx.values[rh], newWritePoint)
		}

		w.publishWritePoint(newWritePoint)
	}
	w.commitLock.Unlock()
}
