package port

import (
	"context"

	"github.com/shopspring/decimal"
)

// StockCache keeps a read-side mirror of available quantities for
// dashboard traffic and holds short-lived idempotency keys for the
// lifecycle endpoints. It is never authoritative: the transactional
// store is.
type StockCache interface {
	// SetAvailable overwrites the mirrored available quantity.
	SetAvailable(ctx context.Context, itemID string, available decimal.Decimal) error

	// Available returns the mirrored quantity; ok is false on a miss.
	Available(ctx context.Context, itemID string) (avail decimal.Decimal, ok bool, err error)

	// SetIdempotency sets a key for idempotency check, returns false if it already exists.
	SetIdempotency(ctx context.Context, key string) (bool, error)
}
