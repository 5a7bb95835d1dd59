package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/helioworks/stockcore/internal/core/domain"
	"github.com/helioworks/stockcore/internal/port"
)

// MySQL error numbers the engine maps to a retryable conflict.
const (
	mysqlErrLockDeadlock    = 1213
	mysqlErrLockWaitTimeout = 1205
)

// MySQLStore is the authoritative TransactionalStore. Rows read through
// a unit of work are locked with SELECT ... FOR UPDATE, so two requests
// racing for the same item serialize on the row lock and the second one
// sees the first one's committed state. InnoDB deadlocks surface as
// domain.ErrTransactionConflict.
type MySQLStore struct {
	db *sql.DB
}

var _ port.TransactionalStore = (*MySQLStore)(nil)

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

func (m *MySQLStore) WithinTx(ctx context.Context, fn func(uow port.UnitOfWork) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&mysqlUow{tx: tx}); err != nil {
		return mapMySQLErr(err)
	}
	if err := tx.Commit(); err != nil {
		return mapMySQLErr(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

func (m *MySQLStore) StockItem(ctx context.Context, id string) (*domain.StockItem, error) {
	item, err := scanStockItem(m.db.QueryRowContext(ctx, `
		SELECT id, name, quantity, reserved_quantity, version, created_at, updated_at
		FROM stock_items WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}

	item.Log, err = queryLog(ctx, m.db, id)
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (m *MySQLStore) ListStockItems(ctx context.Context) ([]*domain.StockItem, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, name, quantity, reserved_quantity, version, created_at, updated_at
		FROM stock_items ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query stock items: %w", err)
	}
	defer rows.Close()

	var items []*domain.StockItem
	for rows.Next() {
		item, err := scanStockItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock items: %w", err)
	}

	for _, item := range items {
		if item.Log, err = queryLog(ctx, m.db, item.ID); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (m *MySQLStore) Project(ctx context.Context, id string) (*domain.Project, error) {
	return queryProject(ctx, m.db, id, "")
}

func (m *MySQLStore) ProposalLineItems(ctx context.Context, proposalID string) ([]domain.LineItem, error) {
	return queryProposalItems(ctx, m.db, proposalID)
}

type mysqlUow struct {
	tx *sql.Tx
}

func (u *mysqlUow) StockItemForUpdate(ctx context.Context, id string) (*domain.StockItem, error) {
	item, err := scanStockItem(u.tx.QueryRowContext(ctx, `
		SELECT id, name, quantity, reserved_quantity, version, created_at, updated_at
		FROM stock_items WHERE id = ? FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}

	item.Log, err = queryLog(ctx, u.tx, id)
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (u *mysqlUow) SaveStockItem(ctx context.Context, item *domain.StockItem, appended []domain.StockLogEntry) error {
	result, err := u.tx.ExecContext(ctx, `
		UPDATE stock_items
		SET quantity = ?, reserved_quantity = ?, version = version + 1, updated_at = ?
		WHERE id = ?`,
		item.Quantity, item.ReservedQuantity, item.UpdatedAt, item.ID,
	)
	if err != nil {
		return fmt.Errorf("update stock item: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}

	return insertLogEntries(ctx, u.tx, item.ID, appended)
}

func (u *mysqlUow) InsertStockItem(ctx context.Context, item *domain.StockItem) error {
	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO stock_items (id, name, quantity, reserved_quantity, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Name, item.Quantity, item.ReservedQuantity, item.Version,
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert stock item: %w", err)
	}
	return insertLogEntries(ctx, u.tx, item.ID, item.Log)
}

func (u *mysqlUow) ProjectForUpdate(ctx context.Context, id string) (*domain.Project, error) {
	return queryProject(ctx, u.tx, id, " FOR UPDATE")
}

func (u *mysqlUow) InsertProject(ctx context.Context, p *domain.Project) error {
	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO projects (id, proposal_id, name, stage, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ProposalID, p.Name, p.Stage, p.Status, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (u *mysqlUow) SaveProject(ctx context.Context, p *domain.Project) error {
	result, err := u.tx.ExecContext(ctx, `
		UPDATE projects SET stage = ?, status = ?, updated_at = ? WHERE id = ?`,
		p.Stage, p.Status, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrProjectNotFound
	}
	return nil
}

func (u *mysqlUow) AppendEquipment(ctx context.Context, projectID string, eq []domain.ConsumedEquipment) error {
	for _, e := range eq {
		_, err := u.tx.ExecContext(ctx, `
			INSERT INTO project_equipment (project_id, stock_item_id, quantity, source, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			projectID, e.StockItemID, e.Quantity, e.Source, e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert equipment: %w", err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanStockItem(row rowScanner) (*domain.StockItem, error) {
	var item domain.StockItem
	err := row.Scan(&item.ID, &item.Name, &item.Quantity, &item.ReservedQuantity,
		&item.Version, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan stock item: %w", err)
	}
	return &item, nil
}

func queryLog(ctx context.Context, q querier, itemID string) ([]domain.StockLogEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, kind, quantity_change, reference_id, note, actor_id, created_at
		FROM stock_log WHERE stock_item_id = ? ORDER BY seq`, itemID)
	if err != nil {
		return nil, fmt.Errorf("query stock log: %w", err)
	}
	defer rows.Close()

	var log []domain.StockLogEntry
	for rows.Next() {
		var e domain.StockLogEntry
		if err := rows.Scan(&e.ID, &e.Kind, &e.QuantityChange, &e.ReferenceID,
			&e.Note, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		log = append(log, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock log: %w", err)
	}
	return log, nil
}

func insertLogEntries(ctx context.Context, tx *sql.Tx, itemID string, entries []domain.StockLogEntry) error {
	for _, e := range entries {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO stock_log (id, stock_item_id, kind, quantity_change, reference_id, note, actor_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, itemID, e.Kind, e.QuantityChange, e.ReferenceID, e.Note, e.ActorID, e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert log entry: %w", err)
		}
	}
	return nil
}

func queryProject(ctx context.Context, q querier, id, lock string) (*domain.Project, error) {
	var p domain.Project
	err := q.QueryRowContext(ctx, `
		SELECT id, proposal_id, name, stage, status, created_at, updated_at
		FROM projects WHERE id = ?`+lock, id,
	).Scan(&p.ID, &p.ProposalID, &p.Name, &p.Stage, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT stock_item_id, quantity, source, created_at
		FROM project_equipment WHERE project_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("query equipment: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e domain.ConsumedEquipment
		if err := rows.Scan(&e.StockItemID, &e.Quantity, &e.Source, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan equipment: %w", err)
		}
		p.Equipment = append(p.Equipment, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate equipment: %w", err)
	}
	return &p, nil
}

func queryProposalItems(ctx context.Context, q querier, proposalID string) ([]domain.LineItem, error) {
	var exists int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM proposals WHERE id = ?`, proposalID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProposalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query proposal: %w", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT stock_item_id, quantity
		FROM proposal_items WHERE proposal_id = ? ORDER BY position`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("query proposal items: %w", err)
	}
	defer rows.Close()

	items := []domain.LineItem{}
	for rows.Next() {
		var li domain.LineItem
		if err := rows.Scan(&li.StockItemID, &li.Quantity); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		items = append(items, li)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposal items: %w", err)
	}
	return items, nil
}

func mapMySQLErr(err error) error {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlErrLockDeadlock, mysqlErrLockWaitTimeout:
			return fmt.Errorf("%w: %v", domain.ErrTransactionConflict, err)
		}
	}
	return err
}
