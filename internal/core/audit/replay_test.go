package audit

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helioworks/stockcore/internal/core/domain"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newItem(t *testing.T, quantity string) *domain.StockItem {
	t.Helper()
	item, err := domain.NewStockItem("panel-x", "Panel X", d(quantity), "audit-test")
	require.NoError(t, err)
	return item
}

func TestReplay_RoundTrip(t *testing.T) {
	item := newItem(t, "10")

	_, err := item.Reserve(d("4"), "project-a", "tester")
	require.NoError(t, err)
	_, err = item.Consume(d("4"), "project-a", "tester")
	require.NoError(t, err)
	_, err = item.Receive(d("3"), "PO-9", "tester")
	require.NoError(t, err)
	_, err = item.Reserve(d("2"), "project-b", "tester")
	require.NoError(t, err)
	_, _, err = item.Unreserve(d("2"), "project-b", "tester")
	require.NoError(t, err)
	_, err = item.Adjust(d("-1"), "recount", "tester")
	require.NoError(t, err)
	_, err = item.ReturnFromProject(d("0.5"), "project-a", "tester")
	require.NoError(t, err)
	_, err = item.ConsumeAvailable(d("1.5"), "project-c", "manual", "tester")
	require.NoError(t, err)

	require.NoError(t, Verify(item))

	b, err := Replay(item.Log)
	require.NoError(t, err)
	assert.True(t, b.Quantity.Equal(item.Quantity))
	assert.True(t, b.ReservedQuantity.Equal(item.ReservedQuantity))
	assert.True(t, b.Available().Equal(item.AvailableQuantity()))
}

func TestReplay_EmptyLog(t *testing.T) {
	b, err := Replay(nil)
	require.NoError(t, err)
	assert.True(t, b.Quantity.IsZero())
	assert.True(t, b.ReservedQuantity.IsZero())
}

func TestReplay_RejectsMissingInitial(t *testing.T) {
	log := []domain.StockLogEntry{
		{Kind: domain.LogKindReceived, QuantityChange: d("5")},
	}
	_, err := Replay(log)
	assert.ErrorContains(t, err, "initial")
}

func TestReplay_RejectsDuplicateInitial(t *testing.T) {
	log := []domain.StockLogEntry{
		{Kind: domain.LogKindInitial, QuantityChange: d("5")},
		{Kind: domain.LogKindInitial, QuantityChange: d("5")},
	}
	_, err := Replay(log)
	assert.ErrorContains(t, err, "duplicate")
}

func TestReplay_RejectsUnknownKind(t *testing.T) {
	log := []domain.StockLogEntry{
		{Kind: domain.LogKindInitial, QuantityChange: d("5")},
		{Kind: domain.LogKind("teleported"), QuantityChange: d("1")},
	}
	_, err := Replay(log)
	assert.ErrorContains(t, err, "unknown kind")
}

func TestReplay_DetectsInvariantBreach(t *testing.T) {
	// A hand-forged log that over-commits must be rejected even though
	// the write path could never produce it.
	log := []domain.StockLogEntry{
		{Kind: domain.LogKindInitial, QuantityChange: d("5")},
		{Kind: domain.LogKindAllocated, QuantityChange: d("7")},
	}
	_, err := Replay(log)
	assert.ErrorContains(t, err, "exceeds quantity")
}

func TestBalanceAt(t *testing.T) {
	item := newItem(t, "10")
	_, err := item.Reserve(d("4"), "project-a", "tester")
	require.NoError(t, err)
	_, err = item.Consume(d("4"), "project-a", "tester")
	require.NoError(t, err)

	b, err := BalanceAt(item.Log, 1)
	require.NoError(t, err)
	assert.True(t, b.Quantity.Equal(d("10")))
	assert.True(t, b.ReservedQuantity.IsZero())

	b, err = BalanceAt(item.Log, 2)
	require.NoError(t, err)
	assert.True(t, b.ReservedQuantity.Equal(d("4")))

	_, err = BalanceAt(item.Log, 99)
	assert.Error(t, err)
}

func TestVerify_DetectsDrift(t *testing.T) {
	item := newItem(t, "10")
	_, err := item.Reserve(d("4"), "project-a", "tester")
	require.NoError(t, err)

	item.Quantity = d("9") // simulate a direct write bypassing the primitives
	assert.Error(t, Verify(item))
}

// TestInvariant_RandomSequences drives a ledger through random primitive
// sequences and checks, after every single operation, that the invariant
// holds and that the stored counters stay derivable from the log.
func TestInvariant_RandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for seq := 0; seq < 50; seq++ {
		item := newItem(t, "100")

		for op := 0; op < 200; op++ {
			amount := decimal.NewFromInt(rng.Int63n(40) + 1)
			switch rng.Intn(7) {
			case 0:
				item.Reserve(amount, "p", "rng")
			case 1:
				item.Consume(amount, "p", "rng")
			case 2:
				item.Unreserve(amount, "p", "rng")
			case 3:
				item.Adjust(amount.Neg(), "rng", "rng")
			case 4:
				item.Adjust(amount, "rng", "rng")
			case 5:
				item.Receive(amount, "rng", "rng")
			case 6:
				item.ConsumeAvailable(amount, "p", "rng", "rng")
			}

			require.False(t, item.Quantity.IsNegative(),
				"seq %d op %d: quantity went negative", seq, op)
			require.False(t, item.ReservedQuantity.IsNegative(),
				"seq %d op %d: reservation went negative", seq, op)
			require.False(t, item.ReservedQuantity.GreaterThan(item.Quantity),
				"seq %d op %d: reservation exceeds quantity", seq, op)
			require.False(t, item.AvailableQuantity().IsNegative(),
				"seq %d op %d: available went negative", seq, op)
		}

		require.NoError(t, Verify(item), "seq %d: replay mismatch", seq)
	}
}
