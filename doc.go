/*
Package stm provides Software Transactional Memory for Go, built on
multi-version concurrency control. It is an alternative to coordinating
concurrent access to shared state with mutexes and channels: application code
groups reads and writes to one or more Refs into a transaction, and the
runtime guarantees that the transaction either commits all of its effects at
a single logical instant or is discarded and retried — readers never observe
a partially-applied transaction.

Create a Ref to hold a piece of mutable state:

	balance := stm.NewRef(100)

Use Run to execute a transaction body. The body receives a context.Context
derived from the one passed to Run, carrying the active transaction so that
Read, Write, Alter, Ensure, and Commute can find it:

	stm.Run(ctx, func(ctx context.Context) (int, error) {
		cur, err := stm.Read(ctx, balance)
		if err != nil {
			return 0, err
		}
		return stm.Write(ctx, balance, cur-10)
	})

If the history backing a Ref ages past a transaction's snapshot before that
transaction commits, the transaction is silently discarded and re-run from
scratch against a fresh snapshot; a caller never sees this happen unless it
never stops happening, which is a liveness property this package does not
promise beyond "some committer makes progress."

Ensure lets a transaction declare a read dependency on a Ref it never writes,
so that a concurrent writer invalidates it at commit time even though it
never touched the Ref's value. This is what prevents write skew: two
transactions that each read both of a pair of Refs and each write only one of
them can otherwise both commit even though neither observed the other's
write.

Commute stages a commutative update — typically something like "add one" —
that is re-applied against the Ref's latest value at commit time rather than
validated against the transaction's read-point. Disjoint commutes on the same
Ref from concurrent transactions never conflict with each other, which is
what makes a shared counter updated by many goroutines cheap under this
model. The in-transaction value Commute returns is provisional: it is
computed against the most recently published value, not the transaction's
snapshot, so it does not itself obey snapshot consistency. Only the value
applied at commit time is authoritative.

Refs and the runtime state that drives their commits are scoped to a World.
Most programs never need to think about this and can use the package-level
functions, which operate against a shared DefaultWorld; tests that want
isolated STM universes can call NewWorld and RunIn explicitly.
*/
package stm
