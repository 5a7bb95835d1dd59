package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/helioworks/stockcore/internal/core/domain"
	"github.com/helioworks/stockcore/internal/port"
)

// MemoryStore is an in-memory TransactionalStore for tests and
// ephemeral environments. Transactions serialize on one mutex and run
// against staged copies, so a failing unit of work leaves the base
// state untouched.
type MemoryStore struct {
	mu        sync.Mutex
	items     map[string]*domain.StockItem
	projects  map[string]*domain.Project
	proposals map[string][]domain.LineItem
}

var _ port.TransactionalStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:     make(map[string]*domain.StockItem),
		projects:  make(map[string]*domain.Project),
		proposals: make(map[string][]domain.LineItem),
	}
}

// SeedProposal registers proposal line items. Proposals are owned by
// the surrounding CRUD system; the engine only reads them.
func (m *MemoryStore) SeedProposal(proposalID string, items []domain.LineItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proposals[proposalID] = append([]domain.LineItem(nil), items...)
}

func (m *MemoryStore) WithinTx(ctx context.Context, fn func(uow port.UnitOfWork) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	uow := &memoryUow{
		store:    m,
		items:    make(map[string]*domain.StockItem),
		projects: make(map[string]*domain.Project),
	}
	if err := fn(uow); err != nil {
		return err
	}

	for id, item := range uow.items {
		m.items[id] = item
	}
	for id, project := range uow.projects {
		m.projects[id] = project
	}
	return nil
}

func (m *MemoryStore) StockItem(ctx context.Context, id string) (*domain.StockItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return item.Clone(), nil
}

func (m *MemoryStore) ListStockItems(ctx context.Context) ([]*domain.StockItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*domain.StockItem, 0, len(m.items))
	for _, item := range m.items {
		out = append(out, item.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Project(ctx context.Context, id string) (*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	project, ok := m.projects[id]
	if !ok {
		return nil, domain.ErrProjectNotFound
	}
	return cloneProject(project), nil
}

func (m *MemoryStore) ProposalLineItems(ctx context.Context, proposalID string) ([]domain.LineItem, error) {
	// Callers invoke this from inside WithinTx, where the store mutex
	// is already held. Proposals are immutable, so reading the map
	// without re-locking is safe only because no writer exists; the
	// seed method is for test setup before traffic starts.
	items, ok := m.proposals[proposalID]
	if !ok {
		return nil, domain.ErrProposalNotFound
	}
	return append([]domain.LineItem(nil), items...), nil
}

// memoryUow stages mutations until the transaction commits.
type memoryUow struct {
	store    *MemoryStore
	items    map[string]*domain.StockItem
	projects map[string]*domain.Project
}

func (u *memoryUow) StockItemForUpdate(ctx context.Context, id string) (*domain.StockItem, error) {
	if staged, ok := u.items[id]; ok {
		return staged.Clone(), nil
	}
	item, ok := u.store.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return item.Clone(), nil
}

func (u *memoryUow) SaveStockItem(ctx context.Context, item *domain.StockItem, appended []domain.StockLogEntry) error {
	if _, ok := u.items[item.ID]; !ok {
		if _, ok := u.store.items[item.ID]; !ok {
			return domain.ErrNotFound
		}
	}
	cp := item.Clone()
	cp.Version++
	u.items[item.ID] = cp
	return nil
}

func (u *memoryUow) InsertStockItem(ctx context.Context, item *domain.StockItem) error {
	if _, ok := u.store.items[item.ID]; ok {
		return domain.ErrInvalidArgument
	}
	if _, ok := u.items[item.ID]; ok {
		return domain.ErrInvalidArgument
	}
	u.items[item.ID] = item.Clone()
	return nil
}

func (u *memoryUow) ProjectForUpdate(ctx context.Context, id string) (*domain.Project, error) {
	if staged, ok := u.projects[id]; ok {
		return cloneProject(staged), nil
	}
	project, ok := u.store.projects[id]
	if !ok {
		return nil, domain.ErrProjectNotFound
	}
	return cloneProject(project), nil
}

func (u *memoryUow) InsertProject(ctx context.Context, p *domain.Project) error {
	if _, ok := u.store.projects[p.ID]; ok {
		return domain.ErrInvalidArgument
	}
	u.projects[p.ID] = cloneProject(p)
	return nil
}

func (u *memoryUow) SaveProject(ctx context.Context, p *domain.Project) error {
	current, err := u.ProjectForUpdate(ctx, p.ID)
	if err != nil {
		return err
	}
	cp := cloneProject(p)
	// Equipment is appended through AppendEquipment, not SaveProject.
	cp.Equipment = current.Equipment
	u.projects[p.ID] = cp
	return nil
}

func (u *memoryUow) AppendEquipment(ctx context.Context, projectID string, eq []domain.ConsumedEquipment) error {
	project, err := u.ProjectForUpdate(ctx, projectID)
	if err != nil {
		return err
	}
	project.Equipment = append(project.Equipment, eq...)
	u.projects[projectID] = project
	return nil
}

func cloneProject(p *domain.Project) *domain.Project {
	cp := *p
	cp.Equipment = append([]domain.ConsumedEquipment(nil), p.Equipment...)
	return &cp
}
