package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Stage string

const (
	StagePlanning   Stage = "planning"
	StagePermitting Stage = "permitting"
	StageScheduled  Stage = "scheduled"
	StageInProgress Stage = "in_progress"
	StageInspection Stage = "inspection"
	StageCompleted  Stage = "completed"
)

var stageOrder = map[Stage]int{
	StagePlanning:   0,
	StagePermitting: 1,
	StageScheduled:  2,
	StageInProgress: 3,
	StageInspection: 4,
	StageCompleted:  5,
}

func (s Stage) Valid() bool {
	_, ok := stageOrder[s]
	return ok
}

// Reached reports whether s is at or past other in the install pipeline.
func (s Stage) Reached(other Stage) bool {
	return stageOrder[s] >= stageOrder[other]
}

type Status string

const (
	StatusActive    Status = "active"
	StatusOnHold    Status = "on_hold"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusOnHold, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

type EquipmentSource string

const (
	EquipmentSourceProposal EquipmentSource = "proposal"
	EquipmentSourceManual   EquipmentSource = "manual"
)

// ConsumedEquipment records stock permanently drawn for a project.
type ConsumedEquipment struct {
	StockItemID string
	Quantity    decimal.Decimal
	Source      EquipmentSource
	CreatedAt   time.Time
}

// LineItem is one (stock item, quantity) pair from a proposal: the unit
// the allocation engine operates on.
type LineItem struct {
	StockItemID string
	Quantity    decimal.Decimal
}

// Project is owned by the surrounding CRUD system. The allocation
// engine reads its proposal line items and writes back consumption
// records and derived stage/status; it never drives the full lifecycle.
type Project struct {
	ID         string
	ProposalID string
	Name       string
	Stage      Stage
	Status     Status
	Equipment  []ConsumedEquipment
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CanEnterStage rejects backward and repeated stage moves. Committing a
// project twice is caught here: once it reached in_progress, a second
// in_progress transition is invalid.
func (p *Project) CanEnterStage(next Stage) error {
	if !next.Valid() {
		return ErrInvalidArgument
	}
	if p.Status == StatusCancelled {
		return ErrInvalidTransition
	}
	if p.Stage.Reached(next) {
		return ErrInvalidTransition
	}
	return nil
}

// CanEnterStatus allows any status move except re-cancelling or leaving
// the cancelled state, which would need stock the engine already gave
// back.
func (p *Project) CanEnterStatus(next Status) error {
	if !next.Valid() {
		return ErrInvalidArgument
	}
	if p.Status == StatusCancelled {
		return ErrInvalidTransition
	}
	return nil
}

// HasActiveReservation reports whether proposal stock is still held for
// the project: allocated at creation and neither committed nor released.
func (p *Project) HasActiveReservation() bool {
	return p.ProposalID != "" && !p.Stage.Reached(StageInProgress) && p.Status != StatusCancelled
}
