package main

import (
	"context"
	"errors"

	"sehlabs.com/stm"
)

// ErrInsufficientFunds is returned by demoState.Transfer when the source
// account's balance is too low to cover the requested amount. It is a
// demo-layer error, not part of the stm package's own error taxonomy.
var ErrInsufficientFunds = errors.New("insufficient funds")

// demoState holds the Refs exercised by the three canonical end-to-end
// scenarios from the library's test suite, wired up behind an HTTP surface
// so they can be driven interactively instead of only from go test.
type demoState struct {
	world *stm.World

	counter *stm.Ref[int]

	accountA *stm.Ref[int]
	accountB *stm.Ref[int]

	// invariantX and invariantY model a pair of flags with the invariant
	// x+y >= 1, used to demonstrate write-skew prevention via Ensure.
	invariantX *stm.Ref[int]
	invariantY *stm.Ref[int]
}

type demoOptions struct {
	initialBalance int
	historyDepth   int
}

// demoOption is a potential customization of newDemoState, in the same
// functional-options shape as stm.WorldOption and stm.RefOption.
type demoOption func(*demoOptions)

// withInitialBalance sets account A's starting balance for the transfer
// scenario. The default is 100.
func withInitialBalance(n int) demoOption {
	return func(o *demoOptions) { o.initialBalance = n }
}

// withHistoryDepth overrides the demo World's default ref history depth,
// making it easy to provoke the history-exhaustion retry path (a small
// depth plus a slow reader) from the command line instead of only from a
// test.
func withHistoryDepth(n int) demoOption {
	return func(o *demoOptions) { o.historyDepth = n }
}

func newDemoState(opts ...demoOption) *demoState {
	options := demoOptions{initialBalance: 100}
	for _, o := range opts {
		o(&options)
	}
	var worldOpts []stm.WorldOption
	if options.historyDepth > 0 {
		worldOpts = append(worldOpts, stm.WithDefaultHistoryDepth(options.historyDepth))
	}
	w := stm.MustNewWorld(worldOpts...)
	return &demoState{
		world:      w,
		counter:    stm.NewRef(0, stm.WithWorld(w)),
		accountA:   stm.NewRef(options.initialBalance, stm.WithWorld(w)),
		accountB:   stm.NewRef(0, stm.WithWorld(w)),
		invariantX: stm.NewRef(1, stm.WithWorld(w)),
		invariantY: stm.NewRef(1, stm.WithWorld(w)),
	}
}

func addInt(v int, args ...any) int {
	return v + args[0].(int)
}

// IncrementCounter runs a Commute-based increment, returning the
// provisional value Commute computed inside the transaction; under
// concurrent increments it can differ from the value published at commit.
// Concurrent callers never retry against each other for this ref, since
// disjoint commutes don't conflict.
func (d *demoState) IncrementCounter(ctx context.Context) (int, error) {
	return stm.RunIn(ctx, d.world, func(ctx context.Context) (int, error) {
		return stm.Commute(ctx, d.counter, addInt, 1)
	})
}

func (d *demoState) CounterValue() int {
	return d.counter.Value()
}

// Transfer moves amount from account A to account B as a single
// transaction: both writes commit together or neither does.
func (d *demoState) Transfer(ctx context.Context, amount int) (a, b int, err error) {
	type balances struct{ a, b int }
	result, err := stm.RunIn(ctx, d.world, func(ctx context.Context) (balances, error) {
		cur, err := stm.Read(ctx, d.accountA)
		if err != nil {
			return balances{}, err
		}
		if cur < amount {
			return balances{}, ErrInsufficientFunds
		}
		newA, err := stm.Write(ctx, d.accountA, cur-amount)
		if err != nil {
			return balances{}, err
		}
		curB, err := stm.Read(ctx, d.accountB)
		if err != nil {
			return balances{}, err
		}
		newB, err := stm.Write(ctx, d.accountB, curB+amount)
		if err != nil {
			return balances{}, err
		}
		return balances{a: newA, b: newB}, nil
	})
	return result.a, result.b, err
}

func (d *demoState) Balances() (a, b int) {
	return d.accountA.Value(), d.accountB.Value()
}

// ClearFlag sets the named flag ("x" or "y") to zero, optionally declaring
// an Ensure on the other flag first. With useEnsure true, at most one of
// two concurrent ClearFlag calls targeting opposite flags can commit,
// because each one's Ensure of the other flag is invalidated by the other's
// write. Without it, both can commit and the x+y >= 1 invariant can break.
func (d *demoState) ClearFlag(ctx context.Context, target string, useEnsure bool) (bool, error) {
	var this, other *stm.Ref[int]
	switch target {
	case "x":
		this, other = d.invariantX, d.invariantY
	case "y":
		this, other = d.invariantY, d.invariantX
	default:
		return false, errors.New("unknown flag: " + target)
	}
	committed := true
	_, err := stm.RunIn(ctx, d.world, func(ctx context.Context) (struct{}, error) {
		otherVal, err := stm.Read(ctx, other)
		if err != nil {
			return struct{}{}, err
		}
		if otherVal == 0 {
			committed = false
			return struct{}{}, nil
		}
		if useEnsure {
			if err := stm.Ensure(ctx, other); err != nil {
				return struct{}{}, err
			}
		}
		_, err = stm.Write(ctx, this, 0)
		return struct{}{}, err
	})
	if err != nil {
		return false, err
	}
	return committed, nil
}

func (d *demoState) InvariantFlags() (x, y int) {
	return d.invariantX.Value(), d.invariantY.Value()
}
