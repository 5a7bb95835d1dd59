package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helioworks/stockcore/internal/core/domain"
	"github.com/helioworks/stockcore/internal/port"
)

// StockService covers the ledger surface outside the project lifecycle:
// seeding items, goods inward, returns, administrative corrections and
// the read-only query surface used for reconciliation and reporting.
type StockService struct {
	store port.TransactionalStore
	cache port.StockCache
	log   *zap.Logger
}

func NewStockService(store port.TransactionalStore, cache port.StockCache, log *zap.Logger) *StockService {
	return &StockService{store: store, cache: cache, log: log}
}

// CreateStockItem seeds a new ledger with an initial entry so replay
// always has a base.
func (s *StockService) CreateStockItem(ctx context.Context, id, name string, initial decimal.Decimal, actorID string) (*domain.StockItem, error) {
	item, err := domain.NewStockItem(id, name, initial, actorID)
	if err != nil {
		return nil, err
	}

	err = s.store.WithinTx(ctx, func(uow port.UnitOfWork) error {
		return uow.InsertStockItem(ctx, item)
	})
	if err != nil {
		return nil, fmt.Errorf("insert item %s: %w", item.ID, err)
	}

	s.mirror(ctx, item)
	s.log.Info("stock item created",
		zap.String("item_id", item.ID),
		zap.String("initial", initial.String()),
	)
	return item, nil
}

// ReceiveStock records goods inward.
func (s *StockService) ReceiveStock(ctx context.Context, itemID string, amount decimal.Decimal, note, actorID string) error {
	return s.apply(ctx, itemID, func(item *domain.StockItem) (domain.StockLogEntry, error) {
		return item.Receive(amount, note, actorID)
	})
}

// ReturnStock puts unused material back after it was committed to a
// project.
func (s *StockService) ReturnStock(ctx context.Context, itemID, projectID string, amount decimal.Decimal, actorID string) error {
	return s.apply(ctx, itemID, func(item *domain.StockItem) (domain.StockLogEntry, error) {
		return item.ReturnFromProject(amount, projectID, actorID)
	})
}

// AdjustStock applies a signed administrative correction.
func (s *StockService) AdjustStock(ctx context.Context, itemID string, delta decimal.Decimal, note, actorID string) error {
	return s.apply(ctx, itemID, func(item *domain.StockItem) (domain.StockLogEntry, error) {
		return item.Adjust(delta, note, actorID)
	})
}

// StockItem returns one ledger with its full log.
func (s *StockService) StockItem(ctx context.Context, id string) (*domain.StockItem, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("item id: %w", domain.ErrInvalidArgument)
	}
	return s.store.StockItem(ctx, id)
}

// ListStockItems returns every ledger, logs included.
func (s *StockService) ListStockItems(ctx context.Context) ([]*domain.StockItem, error) {
	return s.store.ListStockItems(ctx)
}

// AvailableQuantity serves dashboard reads from the cache mirror when
// it is warm and falls back to the authoritative store.
func (s *StockService) AvailableQuantity(ctx context.Context, itemID string) (decimal.Decimal, error) {
	if avail, ok, err := s.cache.Available(ctx, itemID); err == nil && ok {
		return avail, nil
	} else if err != nil {
		s.log.Warn("cache read failed", zap.String("item_id", itemID), zap.Error(err))
	}

	item, err := s.store.StockItem(ctx, itemID)
	if err != nil {
		return decimal.Zero, err
	}
	return item.AvailableQuantity(), nil
}

func (s *StockService) apply(ctx context.Context, itemID string, mutate func(*domain.StockItem) (domain.StockLogEntry, error)) error {
	var after *domain.StockItem
	err := s.store.WithinTx(ctx, func(uow port.UnitOfWork) error {
		item, err := uow.StockItemForUpdate(ctx, itemID)
		if err != nil {
			return fmt.Errorf("load item %s: %w", itemID, err)
		}

		entry, err := mutate(item)
		if err != nil {
			return err
		}

		if err := uow.SaveStockItem(ctx, item, []domain.StockLogEntry{entry}); err != nil {
			return fmt.Errorf("save item %s: %w", itemID, err)
		}
		after = item
		return nil
	})
	if err != nil {
		return err
	}

	s.mirror(ctx, after)
	return nil
}

func (s *StockService) mirror(ctx context.Context, item *domain.StockItem) {
	if err := s.cache.SetAvailable(ctx, item.ID, item.AvailableQuantity()); err != nil {
		s.log.Warn("cache mirror update failed",
			zap.String("item_id", item.ID),
			zap.Error(err),
		)
	}
}
