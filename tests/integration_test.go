package tests

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helioworks/stockcore/internal/adapter/storage"
	"github.com/helioworks/stockcore/internal/core/audit"
	"github.com/helioworks/stockcore/internal/core/domain"
	"github.com/helioworks/stockcore/internal/core/service"
)

type testEnv struct {
	mysql     *sql.DB
	store     *storage.MySQLStore
	cache     *storage.MemoryCache
	coord     *service.AllocationCoordinator
	lifecycle *service.ProjectLifecycleTrigger
	stock     *service.StockService
	cleanup   func()
}

func setupTestEnv(t *testing.T) *testEnv {
	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "root:root@tcp(localhost:3306)/stockcore?parseTime=true"
	}

	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	store := storage.NewMySQLStore(db)
	cache := storage.NewMemoryCache()
	log := zap.NewNop()

	coord := service.NewAllocationCoordinator(store, cache, log)
	return &testEnv{
		mysql:     db,
		store:     store,
		cache:     cache,
		coord:     coord,
		lifecycle: service.NewProjectLifecycleTrigger(store, cache, coord, log),
		stock:     service.NewStockService(store, cache, log),
		cleanup:   func() { db.Close() },
	}
}

func (e *testEnv) seedItem(t *testing.T, id, quantity string) {
	ctx := context.Background()
	e.mysql.ExecContext(ctx, `DELETE FROM stock_log WHERE stock_item_id = ?`, id)
	e.mysql.ExecContext(ctx, `DELETE FROM stock_items WHERE id = ?`, id)

	_, err := e.stock.CreateStockItem(ctx, id, id, decimal.RequireFromString(quantity), "integration")
	if err != nil {
		t.Fatalf("seed item %s: %v", id, err)
	}
	t.Cleanup(func() {
		e.mysql.ExecContext(ctx, `DELETE FROM stock_log WHERE stock_item_id = ?`, id)
		e.mysql.ExecContext(ctx, `DELETE FROM stock_items WHERE id = ?`, id)
	})
}

func (e *testEnv) seedProposal(t *testing.T, proposalID string, items map[string]string) {
	ctx := context.Background()
	e.mysql.ExecContext(ctx, `DELETE FROM proposal_items WHERE proposal_id = ?`, proposalID)
	e.mysql.ExecContext(ctx, `DELETE FROM proposals WHERE id = ?`, proposalID)

	if _, err := e.mysql.ExecContext(ctx, `INSERT INTO proposals (id) VALUES (?)`, proposalID); err != nil {
		t.Fatalf("seed proposal: %v", err)
	}
	pos := 0
	for itemID, qty := range items {
		pos++
		if _, err := e.mysql.ExecContext(ctx,
			`INSERT INTO proposal_items (proposal_id, stock_item_id, quantity, position) VALUES (?, ?, ?, ?)`,
			proposalID, itemID, qty, pos); err != nil {
			t.Fatalf("seed proposal item: %v", err)
		}
	}
	t.Cleanup(func() {
		e.mysql.ExecContext(ctx, `DELETE FROM proposal_items WHERE proposal_id = ?`, proposalID)
		e.mysql.ExecContext(ctx, `DELETE FROM proposals WHERE id = ?`, proposalID)
	})
}

func (e *testEnv) cleanupProject(id string) {
	ctx := context.Background()
	e.mysql.ExecContext(ctx, `DELETE FROM project_equipment WHERE project_id = ?`, id)
	e.mysql.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
}

func (e *testEnv) mustItem(t *testing.T, id string) *domain.StockItem {
	item, err := e.store.StockItem(context.Background(), id)
	if err != nil {
		t.Fatalf("load item %s: %v", id, err)
	}
	return item
}

func TestIntegration_ProposalToCompletion(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	itemID := fmt.Sprintf("it-panel-%d", time.Now().UnixNano())
	proposalID := fmt.Sprintf("it-prop-%d", time.Now().UnixNano())

	env.seedItem(t, itemID, "10")
	env.seedProposal(t, proposalID, map[string]string{itemID: "4"})

	// proposal accepted: project appears with planning-stage reservations
	project, err := env.lifecycle.CreateProjectFromProposal(ctx, proposalID, "integration install", "sales", "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	defer env.cleanupProject(project.ID)

	item := env.mustItem(t, itemID)
	if !item.ReservedQuantity.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("expected reserved 4, got %s", item.ReservedQuantity)
	}

	// paperwork stages have no inventory effect
	if _, err := env.lifecycle.TransitionStage(ctx, project.ID, domain.StagePermitting, "ops"); err != nil {
		t.Fatalf("permitting: %v", err)
	}
	item = env.mustItem(t, itemID)
	if !item.ReservedQuantity.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("permitting must not touch inventory, reserved %s", item.ReservedQuantity)
	}

	// installation starts: reservations become consumption
	result, err := env.lifecycle.TransitionStage(ctx, project.ID, domain.StageInProgress, "ops")
	if err != nil {
		t.Fatalf("in_progress: %v", err)
	}
	if len(result.Committed) != 1 || len(result.Skipped) != 0 {
		t.Fatalf("unexpected commit result %+v", result)
	}

	item = env.mustItem(t, itemID)
	if !item.Quantity.Equal(decimal.NewFromInt(6)) || !item.ReservedQuantity.IsZero() {
		t.Fatalf("expected 6 on hand and 0 reserved, got %s/%s", item.Quantity, item.ReservedQuantity)
	}

	// the persisted log replays to the stored balances
	if err := audit.Verify(item); err != nil {
		t.Fatalf("log does not replay to stored balances: %v", err)
	}

	persisted, err := env.store.Project(ctx, project.ID)
	if err != nil {
		t.Fatalf("load project: %v", err)
	}
	if len(persisted.Equipment) != 1 || persisted.Equipment[0].StockItemID != itemID {
		t.Fatalf("expected consumed equipment record, got %+v", persisted.Equipment)
	}
}

func TestIntegration_CancelReleasesReservations(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	itemID := fmt.Sprintf("it-inverter-%d", time.Now().UnixNano())
	proposalID := fmt.Sprintf("it-prop-%d", time.Now().UnixNano())

	env.seedItem(t, itemID, "5")
	env.seedProposal(t, proposalID, map[string]string{itemID: "2"})

	project, err := env.lifecycle.CreateProjectFromProposal(ctx, proposalID, "doomed install", "sales", "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	defer env.cleanupProject(project.ID)

	if err := env.lifecycle.TransitionStatus(ctx, project.ID, domain.StatusCancelled, "ops"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	item := env.mustItem(t, itemID)
	if !item.ReservedQuantity.IsZero() {
		t.Fatalf("expected reservations released, got %s", item.ReservedQuantity)
	}
	last := item.Log[len(item.Log)-1]
	if last.Kind != domain.LogKindReleased || !last.QuantityChange.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected released +2 entry, got %+v", last)
	}
	if err := audit.Verify(item); err != nil {
		t.Fatalf("log does not replay: %v", err)
	}
}

func TestIntegration_ConcurrentAllocationsNeverOversell(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	itemID := fmt.Sprintf("it-contend-%d", time.Now().UnixNano())
	env.seedItem(t, itemID, "10")

	request := func(projectID string) error {
		return env.coord.AllocateForProject(ctx, service.AllocationRequest{
			ProjectID: projectID,
			ActorID:   "stress",
			Items: []domain.LineItem{
				{StockItemID: itemID, Quantity: decimal.NewFromInt(6)},
			},
		})
	}

	const attempts = 4
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			errs[n] = request(fmt.Sprintf("it-proj-%d", n))
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner for 6 of 10, got %d", wins)
	}

	item := env.mustItem(t, itemID)
	if item.ReservedQuantity.GreaterThan(item.Quantity) {
		t.Fatalf("oversold: reserved %s of %s", item.ReservedQuantity, item.Quantity)
	}
	if !item.ReservedQuantity.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("expected reserved 6, got %s", item.ReservedQuantity)
	}
	if err := audit.Verify(item); err != nil {
		t.Fatalf("log does not replay: %v", err)
	}
}

func TestIntegration_ManualDrawAndReturn(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	itemID := fmt.Sprintf("it-cable-%d", time.Now().UnixNano())
	proposalID := fmt.Sprintf("it-prop-%d", time.Now().UnixNano())

	env.seedItem(t, itemID, "100")
	env.seedProposal(t, proposalID, map[string]string{})

	project, err := env.lifecycle.CreateProjectFromProposal(ctx, proposalID, "labour heavy", "sales", "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	defer env.cleanupProject(project.ID)

	if err := env.lifecycle.AddManualEquipment(ctx, project.ID, itemID, decimal.RequireFromString("12.5"), "installer"); err != nil {
		t.Fatalf("manual draw: %v", err)
	}
	if err := env.stock.ReturnStock(ctx, itemID, project.ID, decimal.RequireFromString("2.5"), "installer"); err != nil {
		t.Fatalf("return: %v", err)
	}

	item := env.mustItem(t, itemID)
	if !item.Quantity.Equal(decimal.NewFromInt(90)) {
		t.Fatalf("expected 90 on hand, got %s", item.Quantity)
	}
	if err := audit.Verify(item); err != nil {
		t.Fatalf("log does not replay: %v", err)
	}
}
