package port

import (
	"context"

	"github.com/helioworks/stockcore/internal/core/domain"
)

// UnitOfWork is the mutable view inside one transaction. Reads through
// it lock the underlying record until the transaction ends, so the
// precondition checks in the domain primitives and the write that
// follows them are atomic from the store's perspective.
type UnitOfWork interface {
	// StockItemForUpdate loads an item, log included, holding a write
	// lock on it. Returns domain.ErrNotFound for unknown ids.
	StockItemForUpdate(ctx context.Context, id string) (*domain.StockItem, error)

	// SaveStockItem persists the item's counters and appends the given
	// new log entries. Entries already persisted must not be passed
	// again; the log is append-only.
	SaveStockItem(ctx context.Context, item *domain.StockItem, appended []domain.StockLogEntry) error

	// InsertStockItem creates a new ledger, its initial log entry
	// included.
	InsertStockItem(ctx context.Context, item *domain.StockItem) error

	// ProjectForUpdate loads a project holding a write lock on it.
	// Returns domain.ErrProjectNotFound for unknown ids.
	ProjectForUpdate(ctx context.Context, id string) (*domain.Project, error)

	// InsertProject creates a project record.
	InsertProject(ctx context.Context, p *domain.Project) error

	// SaveProject persists a project's stage and status.
	SaveProject(ctx context.Context, p *domain.Project) error

	// AppendEquipment appends consumed-equipment records to a project.
	AppendEquipment(ctx context.Context, projectID string, eq []domain.ConsumedEquipment) error
}

// TransactionalStore is the persistence boundary for the allocation
// engine. WithinTx runs fn inside one atomic unit: a nil return commits
// every mutation made through the UnitOfWork, any error rolls all of
// them back. Concurrent transactions touching the same stock item are
// serialized by the implementation; an unresolvable conflict surfaces
// as domain.ErrTransactionConflict, which callers may retry.
type TransactionalStore interface {
	WithinTx(ctx context.Context, fn func(uow UnitOfWork) error) error

	// StockItem reads one item with its full log, without locking.
	StockItem(ctx context.Context, id string) (*domain.StockItem, error)

	// ListStockItems reads all items, logs included, ordered by id.
	ListStockItems(ctx context.Context) ([]*domain.StockItem, error)

	// Project reads one project with its consumed equipment.
	Project(ctx context.Context, id string) (*domain.Project, error)

	// ProposalLineItems resolves a proposal's line items in their
	// original order. Returns domain.ErrProposalNotFound for unknown
	// proposals; a known proposal with no items returns an empty slice.
	ProposalLineItems(ctx context.Context, proposalID string) ([]domain.LineItem, error)
}
