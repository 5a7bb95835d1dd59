package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helioworks/stockcore/internal/core/domain"
	"github.com/helioworks/stockcore/internal/port"
)

// ProjectLifecycleTrigger maps externally visible project events onto
// coordinator calls: allocation on creation from a proposal, commitment
// on entering in_progress, release on cancellation. Each event runs as
// one transaction together with the project write it belongs to, so a
// failed allocation never leaves a project record behind and a
// committed project never loses its consumption records.
type ProjectLifecycleTrigger struct {
	store port.TransactionalStore
	cache port.StockCache
	coord *AllocationCoordinator
	log   *zap.Logger
}

func NewProjectLifecycleTrigger(store port.TransactionalStore, cache port.StockCache, coord *AllocationCoordinator, log *zap.Logger) *ProjectLifecycleTrigger {
	return &ProjectLifecycleTrigger{store: store, cache: cache, coord: coord, log: log}
}

// CreateProjectFromProposal creates a project and reserves every line
// item of its proposal, all or nothing. On a shortage no project record
// is persisted and the error names the under-stocked item. A proposal
// without line items creates the project with no allocation.
//
// requestID, when non-empty, deduplicates transport-level retries.
func (t *ProjectLifecycleTrigger) CreateProjectFromProposal(ctx context.Context, proposalID, name, actorID, requestID string) (*domain.Project, error) {
	proposalID = strings.TrimSpace(proposalID)
	if proposalID == "" {
		return nil, fmt.Errorf("proposal id: %w", domain.ErrInvalidArgument)
	}

	if requestID != "" {
		ok, err := t.cache.SetIdempotency(ctx, "create:"+requestID)
		if err != nil {
			return nil, fmt.Errorf("idempotency check: %w", err)
		}
		if !ok {
			return nil, domain.ErrDuplicateRequest
		}
	}

	items, err := t.store.ProposalLineItems(ctx, proposalID)
	if err != nil {
		return nil, fmt.Errorf("resolve proposal %s: %w", proposalID, err)
	}

	now := time.Now().UTC()
	project := &domain.Project{
		ID:         uuid.NewString(),
		ProposalID: proposalID,
		Name:       name,
		Stage:      domain.StagePlanning,
		Status:     domain.StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	touched := map[string]decimal.Decimal{}
	err = t.store.WithinTx(ctx, func(uow port.UnitOfWork) error {
		if err := uow.InsertProject(ctx, project); err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		if len(items) == 0 {
			return nil
		}
		return t.coord.allocate(ctx, uow, AllocationRequest{
			ProjectID: project.ID,
			ActorID:   actorID,
			Items:     items,
		}, touched)
	})
	t.coord.observe("allocate", err)
	if err != nil {
		return nil, err
	}

	t.coord.mirror(ctx, touched)
	t.log.Info("project created from proposal",
		zap.String("project_id", project.ID),
		zap.String("proposal_id", proposalID),
		zap.Int("line_items", len(items)),
	)
	return project, nil
}

// TransitionStage moves a project to a new stage. Entering in_progress
// commits the project's reservations best-effort and appends the
// committed items to its consumed-equipment record; every other stage
// move has no inventory effect. Re-entering a reached stage is
// rejected.
func (t *ProjectLifecycleTrigger) TransitionStage(ctx context.Context, projectID string, next domain.Stage, actorID string) (CommitResult, error) {
	var result CommitResult
	touched := map[string]decimal.Decimal{}
	err := t.store.WithinTx(ctx, func(uow port.UnitOfWork) error {
		project, err := uow.ProjectForUpdate(ctx, projectID)
		if err != nil {
			return fmt.Errorf("load project %s: %w", projectID, err)
		}
		if err := project.CanEnterStage(next); err != nil {
			return fmt.Errorf("stage %s -> %s: %w", project.Stage, next, err)
		}

		if next == domain.StageInProgress && project.ProposalID != "" {
			items, err := t.store.ProposalLineItems(ctx, project.ProposalID)
			if err != nil {
				return fmt.Errorf("resolve proposal %s: %w", project.ProposalID, err)
			}
			if len(items) > 0 {
				result, err = t.coord.commit(ctx, uow, AllocationRequest{
					ProjectID: projectID,
					ActorID:   actorID,
					Items:     items,
				}, touched)
				if err != nil {
					return err
				}
				if len(result.Committed) > 0 {
					if err := uow.AppendEquipment(ctx, projectID, result.Committed); err != nil {
						return fmt.Errorf("append equipment: %w", err)
					}
				}
			}
		}

		project.Stage = next
		project.UpdatedAt = time.Now().UTC()
		if err := uow.SaveProject(ctx, project); err != nil {
			return fmt.Errorf("save project: %w", err)
		}
		return nil
	})
	if next == domain.StageInProgress {
		t.coord.observe("commit", err)
	}
	if err != nil {
		return CommitResult{}, err
	}

	t.coord.mirror(ctx, touched)
	for _, skipped := range result.Skipped {
		t.log.Warn("stage transition committed with skipped item",
			zap.String("project_id", projectID),
			zap.String("item_id", skipped.Item.StockItemID),
			zap.String("reason", skipped.Reason),
		)
	}
	return result, nil
}

// TransitionStatus moves a project to a new status. Cancelling releases
// any stock still reserved for it; other status moves have no inventory
// effect. Cancelling an already cancelled project is rejected.
func (t *ProjectLifecycleTrigger) TransitionStatus(ctx context.Context, projectID string, next domain.Status, actorID string) error {
	touched := map[string]decimal.Decimal{}
	err := t.store.WithinTx(ctx, func(uow port.UnitOfWork) error {
		project, err := uow.ProjectForUpdate(ctx, projectID)
		if err != nil {
			return fmt.Errorf("load project %s: %w", projectID, err)
		}
		if err := project.CanEnterStatus(next); err != nil {
			return fmt.Errorf("status %s -> %s: %w", project.Status, next, err)
		}

		if next == domain.StatusCancelled && project.HasActiveReservation() {
			items, err := t.store.ProposalLineItems(ctx, project.ProposalID)
			if err != nil {
				return fmt.Errorf("resolve proposal %s: %w", project.ProposalID, err)
			}
			if len(items) > 0 {
				if err := t.coord.release(ctx, uow, AllocationRequest{
					ProjectID: projectID,
					ActorID:   actorID,
					Items:     items,
				}, touched); err != nil {
					return err
				}
			}
		}

		project.Status = next
		project.UpdatedAt = time.Now().UTC()
		if err := uow.SaveProject(ctx, project); err != nil {
			return fmt.Errorf("save project: %w", err)
		}
		return nil
	})
	if next == domain.StatusCancelled {
		t.coord.observe("release", err)
	}
	if err != nil {
		return err
	}

	t.coord.mirror(ctx, touched)
	return nil
}

// Project returns a project with its consumed-equipment records.
func (t *ProjectLifecycleTrigger) Project(ctx context.Context, id string) (*domain.Project, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("project id: %w", domain.ErrInvalidArgument)
	}
	return t.store.Project(ctx, id)
}

// AddManualEquipment draws stock for a project directly from the
// available pool, outside any proposal line item. Fails with a shortage
// error when the available pool cannot cover it.
func (t *ProjectLifecycleTrigger) AddManualEquipment(ctx context.Context, projectID, itemID string, quantity decimal.Decimal, actorID string) error {
	if !quantity.IsPositive() {
		return fmt.Errorf("quantity must be positive: %w", domain.ErrInvalidArgument)
	}

	touched := map[string]decimal.Decimal{}
	err := t.store.WithinTx(ctx, func(uow port.UnitOfWork) error {
		project, err := uow.ProjectForUpdate(ctx, projectID)
		if err != nil {
			return fmt.Errorf("load project %s: %w", projectID, err)
		}
		if project.Status == domain.StatusCancelled {
			return fmt.Errorf("project %s is cancelled: %w", projectID, domain.ErrInvalidTransition)
		}

		if err := t.coord.consumeManual(ctx, uow, projectID, itemID, quantity, actorID, touched); err != nil {
			return err
		}
		return uow.AppendEquipment(ctx, projectID, []domain.ConsumedEquipment{{
			StockItemID: itemID,
			Quantity:    quantity,
			Source:      domain.EquipmentSourceManual,
			CreatedAt:   time.Now().UTC(),
		}})
	})
	t.coord.observe("manual_consume", err)
	if err != nil {
		return err
	}

	t.coord.mirror(ctx, touched)
	return nil
}
