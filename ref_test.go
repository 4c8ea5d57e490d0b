package stm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRefValue(t *testing.T) {
	r := NewRef(42, WithWorld(MustNewWorld()))
	require.Equal(t, 42, r.Value())
}

func TestWithWorldRejectsNil(t *testing.T) {
	require.Panics(t, func() {
		NewRef(0, WithWorld(nil))
	})
}

func TestWithHistoryDepthRejectsNonPositive(t *testing.T) {
	require.Panics(t, func() {
		NewRef(0, WithHistoryDepth(0))
	})
}

func TestRefUsesWorldDefaultHistoryDepth(t *testing.T) {
	w := MustNewWorld(WithDefaultHistoryDepth(2))
	r := NewRef(0, WithWorld(w))
	require.Equal(t, 2, r.capacity)
}

func TestRefHistoryDepthOverride(t *testing.T) {
	w := MustNewWorld(WithDefaultHistoryDepth(10))
	r := NewRef(0, WithWorld(w), WithHistoryDepth(2))
	require.Equal(t, 2, r.capacity)
}

// confirmHistoryAt fails the test unless r's history holds a version visible
// at pt with the given value.
func confirmHistoryAt[T any](t *testing.T, r *Ref[T], pt uint64, want T) {
	t.Helper()
	e, ok := r.historyBeforeOrOn(pt)
	require.True(t, ok, "expected a version visible at write-point %d", pt)
	require.Equal(t, want, e.value)
}

func TestRefHistoryBounded(t *testing.T) {
	w := MustNewWorld()
	r := NewRef(0, WithWorld(w), WithHistoryDepth(3))

	// Publish write-points 1, 2, 3 directly, as commit would.
	for i := 1; i <= 3; i++ {
		r.appendVersion(i, uint64(i))
	}
	confirmHistoryAt(t, r, 1, 1)
	confirmHistoryAt(t, r, 2, 2)
	confirmHistoryAt(t, r, 3, 3)

	// A fourth version evicts write-point 1 from the history.
	r.appendVersion(4, 4)
	_, ok := r.historyBeforeOrOn(1)
	require.False(t, ok, "write-point 1 should have aged off a depth-3 history")
	confirmHistoryAt(t, r, 2, 2)
	confirmHistoryAt(t, r, 3, 3)
	confirmHistoryAt(t, r, 4, 4)
}

func TestHistoryBeforeOrOnPicksNewestNotAfterPoint(t *testing.T) {
	r := NewRef(0, WithWorld(MustNewWorld()), WithHistoryDepth(5))
	r.appendVersion(1, 1)
	r.appendVersion(2, 3)
	// Write-point 2 never had its own version; the entry as of write-point
	// 1 is still the answer for any query at or above 1 and below 3.
	confirmHistoryAt(t, r, 2, 1)
	confirmHistoryAt(t, r, 3, 2)
}

func TestHeadWritePoint(t *testing.T) {
	r := NewRef(0, WithWorld(MustNewWorld()))
	require.Equal(t, uint64(0), r.headWritePoint())
	r.appendVersion(1, 5)
	require.Equal(t, uint64(5), r.headWritePoint())
}
