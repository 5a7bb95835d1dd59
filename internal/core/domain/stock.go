package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LogKind string

const (
	LogKindInitial   LogKind = "initial"
	LogKindReceived  LogKind = "received"
	LogKindAllocated LogKind = "allocated"
	LogKindCommitted LogKind = "committed"
	LogKindReleased  LogKind = "released"
	LogKindAdjusted  LogKind = "adjusted"
	LogKindReturned  LogKind = "returned"
)

// StockLogEntry is one immutable line of a stock item's audit log.
// Entries are only ever appended, never updated or deleted.
type StockLogEntry struct {
	ID             string
	Kind           LogKind
	QuantityChange decimal.Decimal
	ReferenceID    string
	Note           string
	ActorID        string
	CreatedAt      time.Time
}

// StockItem is the authoritative ledger for one inventory SKU.
//
// Invariant after every mutation: 0 <= ReservedQuantity <= Quantity.
// All mutations go through the methods below; none of them leaves a
// partial write behind on failure.
type StockItem struct {
	ID               string
	Name             string
	Quantity         decimal.Decimal
	ReservedQuantity decimal.Decimal
	Log              []StockLogEntry
	Version          int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func NewStockItem(id, name string, initial decimal.Decimal, actorID string) (*StockItem, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrInvalidArgument
	}
	if initial.IsNegative() {
		return nil, ErrInvalidArgument
	}

	now := time.Now().UTC()
	item := &StockItem{
		ID:               id,
		Name:             name,
		Quantity:         initial,
		ReservedQuantity: decimal.Zero,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	item.appendLog(LogKindInitial, initial, "", "initial stock", actorID)
	return item, nil
}

// AvailableQuantity is derived, never stored: what can still be reserved.
func (s *StockItem) AvailableQuantity() decimal.Decimal {
	return s.Quantity.Sub(s.ReservedQuantity)
}

// Reserve earmarks amount for a project without removing it from the
// physical count. Fails if the available pool cannot cover it.
func (s *StockItem) Reserve(amount decimal.Decimal, referenceID, actorID string) (StockLogEntry, error) {
	if !amount.IsPositive() {
		return StockLogEntry{}, ErrInvalidArgument
	}
	available := s.AvailableQuantity()
	if available.LessThan(amount) {
		return StockLogEntry{}, newShortageError(s.ID, amount, available, ErrInsufficientStock)
	}

	s.ReservedQuantity = s.ReservedQuantity.Add(amount)
	return s.appendLog(LogKindAllocated, amount, referenceID, "", actorID), nil
}

// Consume turns a reservation into a permanent deduction.
func (s *StockItem) Consume(amount decimal.Decimal, referenceID, actorID string) (StockLogEntry, error) {
	if !amount.IsPositive() {
		return StockLogEntry{}, ErrInvalidArgument
	}
	if s.ReservedQuantity.LessThan(amount) {
		return StockLogEntry{}, newShortageError(s.ID, amount, s.ReservedQuantity, ErrInsufficientReservation)
	}
	if s.Quantity.LessThan(amount) {
		return StockLogEntry{}, newShortageError(s.ID, amount, s.Quantity, ErrInsufficientStock)
	}

	s.Quantity = s.Quantity.Sub(amount)
	s.ReservedQuantity = s.ReservedQuantity.Sub(amount)
	return s.appendLog(LogKindCommitted, amount.Neg(), referenceID, "", actorID), nil
}

// ConsumeAvailable deducts directly from the available pool, bypassing
// any project reservation. Used for ad-hoc material draws outside a
// proposal. Logged as an allocate/commit pair so replaying the log
// reproduces both counters without special cases; the net reservation
// change is zero.
func (s *StockItem) ConsumeAvailable(amount decimal.Decimal, referenceID, note, actorID string) (StockLogEntry, error) {
	if !amount.IsPositive() {
		return StockLogEntry{}, ErrInvalidArgument
	}
	available := s.AvailableQuantity()
	if available.LessThan(amount) {
		return StockLogEntry{}, newShortageError(s.ID, amount, available, ErrInsufficientStock)
	}

	s.ReservedQuantity = s.ReservedQuantity.Add(amount)
	s.appendLog(LogKindAllocated, amount, referenceID, note, actorID)
	s.Quantity = s.Quantity.Sub(amount)
	s.ReservedQuantity = s.ReservedQuantity.Sub(amount)
	return s.appendLog(LogKindCommitted, amount.Neg(), referenceID, note, actorID), nil
}

// Unreserve returns reserved units to the available pool. It clamps to
// the current reservation instead of failing: release is a compensating
// action and must always complete. Returns the amount actually released;
// no log entry is written when nothing was reserved.
func (s *StockItem) Unreserve(amount decimal.Decimal, referenceID, actorID string) (StockLogEntry, decimal.Decimal, error) {
	if !amount.IsPositive() {
		return StockLogEntry{}, decimal.Zero, ErrInvalidArgument
	}

	released := decimal.Min(amount, s.ReservedQuantity)
	if released.IsZero() {
		return StockLogEntry{}, decimal.Zero, nil
	}

	s.ReservedQuantity = s.ReservedQuantity.Sub(released)
	entry := s.appendLog(LogKindReleased, released, referenceID, "", actorID)
	return entry, released, nil
}

// Receive records goods inward.
func (s *StockItem) Receive(amount decimal.Decimal, note, actorID string) (StockLogEntry, error) {
	if !amount.IsPositive() {
		return StockLogEntry{}, ErrInvalidArgument
	}
	s.Quantity = s.Quantity.Add(amount)
	return s.appendLog(LogKindReceived, amount, "", note, actorID), nil
}

// ReturnFromProject puts unused material back after it was committed.
func (s *StockItem) ReturnFromProject(amount decimal.Decimal, referenceID, actorID string) (StockLogEntry, error) {
	if !amount.IsPositive() {
		return StockLogEntry{}, ErrInvalidArgument
	}
	s.Quantity = s.Quantity.Add(amount)
	return s.appendLog(LogKindReturned, amount, referenceID, "", actorID), nil
}

// Adjust applies an administrative correction to the physical count and
// re-clamps the reservation so the invariant survives downward
// corrections. The resulting quantity may not go negative.
func (s *StockItem) Adjust(delta decimal.Decimal, note, actorID string) (StockLogEntry, error) {
	if delta.IsZero() {
		return StockLogEntry{}, ErrInvalidArgument
	}
	next := s.Quantity.Add(delta)
	if next.IsNegative() {
		return StockLogEntry{}, newShortageError(s.ID, delta.Neg(), s.Quantity, ErrInsufficientStock)
	}

	s.Quantity = next
	if s.ReservedQuantity.GreaterThan(s.Quantity) {
		s.ReservedQuantity = s.Quantity
	}
	return s.appendLog(LogKindAdjusted, delta, "", note, actorID), nil
}

// Clone deep-copies the item, log included. Stores hand out clones so
// callers can never mutate ledger state behind the invariant checks.
func (s *StockItem) Clone() *StockItem {
	cp := *s
	cp.Log = make([]StockLogEntry, len(s.Log))
	copy(cp.Log, s.Log)
	return &cp
}

func (s *StockItem) appendLog(kind LogKind, change decimal.Decimal, referenceID, note, actorID string) StockLogEntry {
	entry := StockLogEntry{
		ID:             uuid.NewString(),
		Kind:           kind,
		QuantityChange: change,
		ReferenceID:    referenceID,
		Note:           note,
		ActorID:        actorID,
		CreatedAt:      time.Now().UTC(),
	}
	s.Log = append(s.Log, entry)
	s.UpdatedAt = entry.CreatedAt
	return entry
}
