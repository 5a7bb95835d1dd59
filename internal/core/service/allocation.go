package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helioworks/stockcore/internal/core/domain"
	"github.com/helioworks/stockcore/internal/metrics"
	"github.com/helioworks/stockcore/internal/port"
)

// AllocationRequest groups the line items of one project that are
// allocated, committed or released as one atomic group. Items are
// processed in the order they appear, which is the order of the
// proposal's original line items.
type AllocationRequest struct {
	ProjectID string
	ActorID   string
	Items     []domain.LineItem
}

// SkippedItem names a line item a best-effort commit could not apply.
type SkippedItem struct {
	Item   domain.LineItem
	Reason string
}

// CommitResult reports which items a commit applied and which it
// skipped, so the caller can proceed while surfacing a reconciliation
// warning.
type CommitResult struct {
	Committed []domain.ConsumedEquipment
	Skipped   []SkippedItem
}

// AllocationCoordinator applies whole allocation requests against the
// stock ledgers inside a single unit of work. Allocation is
// all-or-nothing; commitment is best-effort per item; release always
// completes. The asymmetry is policy, not accident: rejecting a whole
// project at commit time, after work has started, is worse than
// proceeding with a reconciliation note.
type AllocationCoordinator struct {
	store port.TransactionalStore
	cache port.StockCache
	log   *zap.Logger
}

func NewAllocationCoordinator(store port.TransactionalStore, cache port.StockCache, log *zap.Logger) *AllocationCoordinator {
	return &AllocationCoordinator{store: store, cache: cache, log: log}
}

// AllocateForProject reserves every line item or none of them. A single
// failing item rolls back all reservations made in this call.
func (c *AllocationCoordinator) AllocateForProject(ctx context.Context, req AllocationRequest) error {
	if len(req.Items) == 0 {
		return nil
	}

	touched := map[string]decimal.Decimal{}
	err := c.store.WithinTx(ctx, func(uow port.UnitOfWork) error {
		return c.allocate(ctx, uow, req, touched)
	})
	c.observe("allocate", err)
	if err != nil {
		return err
	}

	c.mirror(ctx, touched)
	return nil
}

// CommitForProject converts reservations into permanent deductions.
// Items whose ledger has drifted below the reserved amount are skipped
// with a warning instead of failing the whole commit.
func (c *AllocationCoordinator) CommitForProject(ctx context.Context, req AllocationRequest) (CommitResult, error) {
	if len(req.Items) == 0 {
		return CommitResult{}, nil
	}

	var result CommitResult
	touched := map[string]decimal.Decimal{}
	err := c.store.WithinTx(ctx, func(uow port.UnitOfWork) error {
		var err error
		result, err = c.commit(ctx, uow, req, touched)
		return err
	})
	c.observe("commit", err)
	if err != nil {
		return CommitResult{}, err
	}

	c.mirror(ctx, touched)
	return result, nil
}

// ReleaseForProject returns reserved stock to the available pool. It is
// a compensating action: over-release clamps, it never fails on amounts.
func (c *AllocationCoordinator) ReleaseForProject(ctx context.Context, req AllocationRequest) error {
	if len(req.Items) == 0 {
		return nil
	}

	touched := map[string]decimal.Decimal{}
	err := c.store.WithinTx(ctx, func(uow port.UnitOfWork) error {
		return c.release(ctx, uow, req, touched)
	})
	c.observe("release", err)
	if err != nil {
		return err
	}

	c.mirror(ctx, touched)
	return nil
}

// allocate applies req inside uow. Any failure aborts the transaction,
// which is what makes the operation all-or-nothing.
func (c *AllocationCoordinator) allocate(ctx context.Context, uow port.UnitOfWork, req AllocationRequest, touched map[string]decimal.Decimal) error {
	for _, li := range req.Items {
		item, err := uow.StockItemForUpdate(ctx, li.StockItemID)
		if err != nil {
			return fmt.Errorf("load item %s: %w", li.StockItemID, err)
		}

		entry, err := item.Reserve(li.Quantity, req.ProjectID, req.ActorID)
		if err != nil {
			return fmt.Errorf("reserve %s of %s: %w", li.Quantity, li.StockItemID, err)
		}

		if err := uow.SaveStockItem(ctx, item, []domain.StockLogEntry{entry}); err != nil {
			return fmt.Errorf("save item %s: %w", item.ID, err)
		}
		touched[item.ID] = item.AvailableQuantity()
	}
	return nil
}

// commit applies req inside uow, skipping items whose stock bookkeeping
// has drifted. Only stock shortfalls downgrade to a skip; a missing
// item or a store failure still aborts.
func (c *AllocationCoordinator) commit(ctx context.Context, uow port.UnitOfWork, req AllocationRequest, touched map[string]decimal.Decimal) (CommitResult, error) {
	var result CommitResult
	for _, li := range req.Items {
		item, err := uow.StockItemForUpdate(ctx, li.StockItemID)
		if err != nil {
			return CommitResult{}, fmt.Errorf("load item %s: %w", li.StockItemID, err)
		}

		entry, err := item.Consume(li.Quantity, req.ProjectID, req.ActorID)
		if err != nil {
			if errors.Is(err, domain.ErrInsufficientStock) || errors.Is(err, domain.ErrInsufficientReservation) {
				c.log.Warn("skipping line item during commit",
					zap.String("project_id", req.ProjectID),
					zap.String("item_id", li.StockItemID),
					zap.String("quantity", li.Quantity.String()),
					zap.Error(err),
				)
				metrics.CommitSkips.Inc()
				result.Skipped = append(result.Skipped, SkippedItem{Item: li, Reason: err.Error()})
				continue
			}
			return CommitResult{}, fmt.Errorf("consume %s of %s: %w", li.Quantity, li.StockItemID, err)
		}

		if err := uow.SaveStockItem(ctx, item, []domain.StockLogEntry{entry}); err != nil {
			return CommitResult{}, fmt.Errorf("save item %s: %w", item.ID, err)
		}
		touched[item.ID] = item.AvailableQuantity()
		result.Committed = append(result.Committed, domain.ConsumedEquipment{
			StockItemID: li.StockItemID,
			Quantity:    li.Quantity,
			Source:      domain.EquipmentSourceProposal,
			CreatedAt:   time.Now().UTC(),
		})
	}
	return result, nil
}

// release applies req inside uow. Amounts clamp to what is actually
// reserved; only a missing item or a store failure aborts.
func (c *AllocationCoordinator) release(ctx context.Context, uow port.UnitOfWork, req AllocationRequest, touched map[string]decimal.Decimal) error {
	for _, li := range req.Items {
		item, err := uow.StockItemForUpdate(ctx, li.StockItemID)
		if err != nil {
			return fmt.Errorf("load item %s: %w", li.StockItemID, err)
		}

		entry, released, err := item.Unreserve(li.Quantity, req.ProjectID, req.ActorID)
		if err != nil {
			return fmt.Errorf("unreserve %s of %s: %w", li.Quantity, li.StockItemID, err)
		}
		if released.IsZero() {
			continue
		}

		if err := uow.SaveStockItem(ctx, item, []domain.StockLogEntry{entry}); err != nil {
			return fmt.Errorf("save item %s: %w", item.ID, err)
		}
		touched[item.ID] = item.AvailableQuantity()
	}
	return nil
}

// consumeManual draws directly from available stock, bypassing any
// reservation. Used for ad-hoc equipment additions outside a proposal.
func (c *AllocationCoordinator) consumeManual(ctx context.Context, uow port.UnitOfWork, projectID, itemID string, quantity decimal.Decimal, actorID string, touched map[string]decimal.Decimal) error {
	item, err := uow.StockItemForUpdate(ctx, itemID)
	if err != nil {
		return fmt.Errorf("load item %s: %w", itemID, err)
	}

	before := len(item.Log)
	_, err = item.ConsumeAvailable(quantity, projectID, "manual equipment draw", actorID)
	if err != nil {
		return fmt.Errorf("consume %s of %s: %w", quantity, itemID, err)
	}

	if err := uow.SaveStockItem(ctx, item, item.Log[before:]); err != nil {
		return fmt.Errorf("save item %s: %w", item.ID, err)
	}
	touched[item.ID] = item.AvailableQuantity()
	return nil
}

// mirror pushes fresh available quantities to the cache after a commit.
// Best effort: the ledger is authoritative and a stale mirror heals on
// the next write, so failures are logged, not surfaced.
func (c *AllocationCoordinator) mirror(ctx context.Context, touched map[string]decimal.Decimal) {
	for id, avail := range touched {
		if err := c.cache.SetAvailable(ctx, id, avail); err != nil {
			c.log.Warn("cache mirror update failed",
				zap.String("item_id", id),
				zap.Error(err),
			)
		}
	}
}

func (c *AllocationCoordinator) observe(op string, err error) {
	switch {
	case err == nil:
		metrics.Operations.WithLabelValues(op, metrics.OutcomeOK).Inc()
	case errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, domain.ErrInsufficientReservation):
		metrics.Operations.WithLabelValues(op, metrics.OutcomeShortage).Inc()
	case errors.Is(err, domain.ErrTransactionConflict):
		metrics.TxConflicts.Inc()
		metrics.Operations.WithLabelValues(op, metrics.OutcomeError).Inc()
	default:
		metrics.Operations.WithLabelValues(op, metrics.OutcomeError).Inc()
	}
}
