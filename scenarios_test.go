package stm

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestConcurrentCommuteIncrements drives the counter scenario: many
// goroutines incrementing one Ref through Commute should never conflict
// with each other, since each commit only needs its own closure to be
// re-appliable against whatever the counter's latest value turns out to be.
func TestConcurrentCommuteIncrements(t *testing.T) {
	w := MustNewWorld()
	counter := NewRef(0, WithWorld(w))
	ctx := context.Background()

	const goroutines = 100
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			_, err := RunIn(ctx, w, func(ctx context.Context) (int, error) {
				return Commute(ctx, counter, func(v int, _ ...any) int { return v + 1 })
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, goroutines, counter.Value())
}

// TestBankTransferAtomicity drives the transfer scenario: a transaction
// that debits one account and credits another either commits both writes
// or neither, so the sum of balances is invariant across concurrent
// transfers.
func TestBankTransferAtomicity(t *testing.T) {
	w := MustNewWorld()
	accountA := NewRef(1000, WithWorld(w))
	accountB := NewRef(0, WithWorld(w))
	ctx := context.Background()

	transfer := func(amount int) error {
		_, err := RunIn(ctx, w, func(ctx context.Context) (struct{}, error) {
			cur, err := Read(ctx, accountA)
			if err != nil {
				return struct{}{}, err
			}
			if cur < amount {
				return struct{}{}, errInsufficientFundsForTest
			}
			if _, err := Write(ctx, accountA, cur-amount); err != nil {
				return struct{}{}, err
			}
			curB, err := Read(ctx, accountB)
			if err != nil {
				return struct{}{}, err
			}
			_, err = Write(ctx, accountB, curB+amount)
			return struct{}{}, err
		})
		return err
	}

	const goroutines = 20
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			_ = transfer(10)
		}()
	}
	wg.Wait()

	require.Equal(t, 1000, accountA.Value()+accountB.Value())
}

var errInsufficientFundsForTest = &testError{"insufficient funds"}

// TestEnsurePreventsWriteSkew pits two transactions, each reading the other's
// flag and writing its own, against the invariant x+y >= 1. Declaring an
// Ensure on the flag that's only read (never written) is what makes the
// second committer's stale read visible to validation.
func TestEnsurePreventsWriteSkew(t *testing.T) {
	w := MustNewWorld()
	x := NewRef(1, WithWorld(w))
	y := NewRef(1, WithWorld(w))
	ctx := context.Background()

	tx1 := newTx(w)
	tx2 := newTx(w)
	ctx1 := withTx(ctx, tx1)
	ctx2 := withTx(ctx, tx2)

	yVal, err := Read(ctx1, y)
	require.NoError(t, err)
	require.Equal(t, 1, yVal)
	require.NoError(t, Ensure(ctx1, y))
	_, err = Write(ctx1, x, 0)
	require.NoError(t, err)

	xVal, err := Read(ctx2, x)
	require.NoError(t, err)
	require.Equal(t, 1, xVal)
	require.NoError(t, Ensure(ctx2, x))
	_, err = Write(ctx2, y, 0)
	require.NoError(t, err)

	require.NotPanics(t, func() { tx1.commit() })
	require.Equal(t, 0, x.Value())
	require.Equal(t, 1, y.Value())

	require.Panics(t, func() { tx2.commit() })
	require.Equal(t, 1, y.Value(), "the write skew that Ensure exists to block must not have committed")
}

// TestWriteSkewWithoutEnsure shows the failure mode Ensure exists to close:
// without declaring the cross-ref read dependency, both transactions commit
// and the x+y >= 1 invariant breaks.
func TestWriteSkewWithoutEnsure(t *testing.T) {
	w := MustNewWorld()
	x := NewRef(1, WithWorld(w))
	y := NewRef(1, WithWorld(w))
	ctx := context.Background()

	tx1 := newTx(w)
	tx2 := newTx(w)
	ctx1 := withTx(ctx, tx1)
	ctx2 := withTx(ctx, tx2)

	_, err := Read(ctx1, y)
	require.NoError(t, err)
	_, err = Write(ctx1, x, 0)
	require.NoError(t, err)

	_, err = Read(ctx2, x)
	require.NoError(t, err)
	_, err = Write(ctx2, y, 0)
	require.NoError(t, err)

	require.NotPanics(t, func() { tx1.commit() })
	require.NotPanics(t, func() { tx2.commit() })

	require.Equal(t, 0, x.Value())
	require.Equal(t, 0, y.Value())
}

// TestHistoryExhaustionForcesRetry drives a ref with a short history and a
// reader slow enough that its snapshot ages off the back of the window
// before it reads, forcing a retry rather than returning a stale answer.
func TestHistoryExhaustionForcesRetry(t *testing.T) {
	w := MustNewWorld()
	r := NewRef(0, WithWorld(w), WithHistoryDepth(2))
	ctx := context.Background()

	var attempts int
	_, err := RunIn(ctx, w, func(ctx context.Context) (int, error) {
		attempts++
		if attempts == 1 {
			// Simulate two other committers publishing between this
			// attempt's start and its first read, evicting write-point 0
			// from a depth-2 history.
			for i := 1; i <= 2; i++ {
				w.commitLock.Lock()
				pt := w.claimNextWritePoint()
				r.appendVersion(i, pt)
				w.publishWritePoint(pt)
				w.commitLock.Unlock()
			}
		}
		return Read(ctx, r)
	})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
}

// TestSetAfterCommuteEndToEnd confirms the library-level error surfaces
// through the exported ops, not just the internal Tx methods.
func TestSetAfterCommuteEndToEnd(t *testing.T) {
	w := MustNewWorld()
	r := NewRef(0, WithWorld(w))
	ctx := context.Background()

	_, err := RunIn(ctx, w, func(ctx context.Context) (int, error) {
		if _, err := Commute(ctx, r, func(v int, _ ...any) int { return v + 1 }); err != nil {
			return 0, err
		}
		return Write(ctx, r, 5)
	})
	require.ErrorIs(t, err, ErrSetAfterCommute)
	require.Equal(t, 0, r.Value(), "a failed attempt must not have committed anything")
}
