// Package audit is the read-side view over stock logs. It reconstructs
// quantities by replaying the append-only log and checks that a ledger's
// stored counters are derivable from its history. Nothing in the write
// path depends on it.
package audit

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/helioworks/stockcore/internal/core/domain"
)

// Balance is a reconstructed ledger position.
type Balance struct {
	Quantity         decimal.Decimal
	ReservedQuantity decimal.Decimal
}

func (b Balance) Available() decimal.Decimal {
	return b.Quantity.Sub(b.ReservedQuantity)
}

// Replay folds a full stock log into the resulting balance.
//
// Sign conventions per kind: initial, received, returned and allocated
// record positive changes; committed records the deduction as a negative
// change applied to both counters; released records the amount returned
// to the available pool as a positive change subtracted from the
// reservation; adjusted carries its sign.
func Replay(log []domain.StockLogEntry) (Balance, error) {
	var b Balance
	b.Quantity = decimal.Zero
	b.ReservedQuantity = decimal.Zero

	for i, entry := range log {
		if i == 0 && entry.Kind != domain.LogKindInitial {
			return Balance{}, fmt.Errorf("log starts with %q, want %q", entry.Kind, domain.LogKindInitial)
		}
		if i > 0 && entry.Kind == domain.LogKindInitial {
			return Balance{}, fmt.Errorf("entry %d: duplicate %q entry", i, domain.LogKindInitial)
		}

		switch entry.Kind {
		case domain.LogKindInitial, domain.LogKindReceived, domain.LogKindReturned:
			b.Quantity = b.Quantity.Add(entry.QuantityChange)
		case domain.LogKindAdjusted:
			b.Quantity = b.Quantity.Add(entry.QuantityChange)
			if b.ReservedQuantity.GreaterThan(b.Quantity) {
				b.ReservedQuantity = b.Quantity
			}
		case domain.LogKindAllocated:
			b.ReservedQuantity = b.ReservedQuantity.Add(entry.QuantityChange)
		case domain.LogKindReleased:
			b.ReservedQuantity = b.ReservedQuantity.Sub(entry.QuantityChange)
		case domain.LogKindCommitted:
			b.Quantity = b.Quantity.Add(entry.QuantityChange)
			b.ReservedQuantity = b.ReservedQuantity.Add(entry.QuantityChange)
		default:
			return Balance{}, fmt.Errorf("entry %d: unknown kind %q", i, entry.Kind)
		}

		if err := check(b, i); err != nil {
			return Balance{}, err
		}
	}
	return b, nil
}

// BalanceAt replays only the first n entries.
func BalanceAt(log []domain.StockLogEntry, n int) (Balance, error) {
	if n < 0 || n > len(log) {
		return Balance{}, fmt.Errorf("index %d out of range for log of %d entries", n, len(log))
	}
	return Replay(log[:n])
}

// Verify confirms the item's stored counters match a replay of its log.
func Verify(item *domain.StockItem) error {
	b, err := Replay(item.Log)
	if err != nil {
		return fmt.Errorf("replay %s: %w", item.ID, err)
	}
	if !b.Quantity.Equal(item.Quantity) {
		return fmt.Errorf("item %s: replayed quantity %s, stored %s", item.ID, b.Quantity, item.Quantity)
	}
	if !b.ReservedQuantity.Equal(item.ReservedQuantity) {
		return fmt.Errorf("item %s: replayed reservation %s, stored %s", item.ID, b.ReservedQuantity, item.ReservedQuantity)
	}
	return nil
}

func check(b Balance, i int) error {
	if b.Quantity.IsNegative() {
		return fmt.Errorf("entry %d: quantity went negative (%s)", i, b.Quantity)
	}
	if b.ReservedQuantity.IsNegative() {
		return fmt.Errorf("entry %d: reservation went negative (%s)", i, b.ReservedQuantity)
	}
	if b.ReservedQuantity.GreaterThan(b.Quantity) {
		return fmt.Errorf("entry %d: reservation %s exceeds quantity %s", i, b.ReservedQuantity, b.Quantity)
	}
	return nil
}
