package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound                = errors.New("stock item not found")
	ErrProjectNotFound         = errors.New("project not found")
	ErrProposalNotFound        = errors.New("proposal not found")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrInsufficientReservation = errors.New("insufficient reservation")
	ErrInvalidTransition       = errors.New("invalid lifecycle transition")
	ErrTransactionConflict     = errors.New("transaction conflict")
	ErrDuplicateRequest        = errors.New("duplicate request")
	ErrInvalidArgument         = errors.New("invalid argument")
)

// ShortageError reports which item could not cover a requested amount.
// It unwraps to ErrInsufficientStock or ErrInsufficientReservation so
// callers can classify with errors.Is.
type ShortageError struct {
	ItemID    string
	Requested decimal.Decimal
	Available decimal.Decimal
	reason    error
}

func newShortageError(itemID string, requested, available decimal.Decimal, reason error) *ShortageError {
	return &ShortageError{
		ItemID:    itemID,
		Requested: requested,
		Available: available,
		reason:    reason,
	}
}

func (e *ShortageError) Error() string {
	return fmt.Sprintf("item %s: requested %s, available %s: %v",
		e.ItemID, e.Requested, e.Available, e.reason)
}

func (e *ShortageError) Unwrap() error { return e.reason }
