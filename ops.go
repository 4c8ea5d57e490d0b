package stm

import "context"

// txContextKey is the unexported context.Context key under which the
// active *Tx, if any, is carried. Using an unexported type avoids
// collisions with keys set by any other package sharing the same ctx.
type txContextKey struct{}

func txFromContext(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(txContextKey{}).(*Tx)
	return tx, ok
}

func withTx(ctx context.Context, tx *Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// Run executes body as a transaction against DefaultWorld: either as a
// fresh top-level transaction, or, if ctx already carries an active
// transaction (this call is nested inside an enclosing Run), inlined into
// that enclosing transaction with no sub-commit of its own.
func Run[T any](ctx context.Context, body func(context.Context) (T, error)) (T, error) {
	return RunIn(ctx, DefaultWorld, body)
}

// RunIn is Run against an explicitly chosen World, for callers that want
// an STM universe isolated from DefaultWorld (tests, primarily).
func RunIn[T any](ctx context.Context, w *World, body func(context.Context) (T, error)) (T, error) {
	if _, ok := txFromContext(ctx); ok {
		// Nested: inline into the enclosing transaction. The enclosing
		// Run owns validation and commit for this attempt.
		return body(ctx)
	}
	for {
		tx := newTx(w)
		ctx2 := withTx(ctx, tx)
		result, err, retry := attempt(ctx2, tx, body)
		if retry {
			continue
		}
		return result, err
	}
}

// attempt runs one iteration of the retry loop: the body, and if it
// returns without error, the commit. A retryNeeded panic raised by either
// the body (via a Read that aged off its snapshot) or commit (via failed
// validation) is caught here and reported through the retry return value
// rather than propagated, so RunIn's loop stays a plain loop.
func attempt[T any](ctx context.Context, tx *Tx, body func(context.Context) (T, error)) (result T, err error, retry bool) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(retryNeeded); ok {
				var zero T
				result, err, retry = zero, nil, true
				return
			}
			panic(r)
		}
	}()
	result, err = body(ctx)
	if err != nil {
		return result, err, false
	}
	tx.commit()
	return result, nil, false
}

// Read returns r's value as of the active transaction's snapshot, caching
// it for the remainder of the transaction (read-your-writes). If ctx
// carries no active transaction, Read returns r's current head value
// directly, equivalent to r.Value().
func Read[T any](ctx context.Context, r *Ref[T]) (T, error) {
	tx, ok := txFromContext(ctx)
	if !ok {
		return r.Value(), nil
	}
	if tx.world != r.world() {
		var zero T
		return zero, ErrWrongWorld
	}
	return tx.read(r).(T), nil
}

// Write stages v as r's new value, to be published if the transaction
// commits. It fails with ErrNotInTransaction if ctx carries no active
// transaction, and with ErrSetAfterCommute if r was already Commuted
// within this transaction.
func Write[T any](ctx context.Context, r *Ref[T], v T) (T, error) {
	tx, ok := txFromContext(ctx)
	if !ok {
		var zero T
		return zero, notInTransactionError("Write")
	}
	if tx.world != r.world() {
		var zero T
		return zero, ErrWrongWorld
	}
	result, err := tx.write(r, v)
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}

// Alter is equivalent to Write(ctx, r, fn(Read(ctx, r), args...)), performed
// as one read-modify-write against the transaction's cached value.
func Alter[T any](ctx context.Context, r *Ref[T], fn func(T, ...any) T, args ...any) (T, error) {
	tx, ok := txFromContext(ctx)
	if !ok {
		var zero T
		return zero, notInTransactionError("Alter")
	}
	if tx.world != r.world() {
		var zero T
		return zero, ErrWrongWorld
	}
	cur := tx.read(r).(T)
	result, err := tx.write(r, fn(cur, args...))
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}

// Ensure declares a read dependency on r without writing it: the
// transaction commits only if r's head write-point has not advanced past
// the transaction's read-point, which is what prevents write skew between
// transactions that each read a pair of refs but write only one of them.
func Ensure[T any](ctx context.Context, r *Ref[T]) error {
	tx, ok := txFromContext(ctx)
	if !ok {
		return notInTransactionError("Ensure")
	}
	if tx.world != r.world() {
		return ErrWrongWorld
	}
	tx.ensure(r)
	return nil
}

// Commute stages a commutative update, returning a provisional value
// computed against r's most recently published value (not the
// transaction's snapshot — see the package doc for why). At commit time,
// fn is re-applied against r's then-latest value, so disjoint commutes
// from concurrent transactions never conflict with each other.
func Commute[T any](ctx context.Context, r *Ref[T], fn func(T, ...any) T, args ...any) (T, error) {
	tx, ok := txFromContext(ctx)
	if !ok {
		var zero T
		return zero, notInTransactionError("Commute")
	}
	if tx.world != r.world() {
		var zero T
		return zero, ErrWrongWorld
	}
	apply := func(base any) any { return fn(base.(T), args...) }
	return tx.commute(r, apply).(T), nil
}
