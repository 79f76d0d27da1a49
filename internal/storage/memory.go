package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"fineledger/internal/domain"
	"fineledger/pkg/platform/sentinel"
)

// In-memory stores back development and unit tests. They favor clarity over
// performance and enforce the same optimistic-version contract as the
// PostgreSQL stores.

// NewMemoryLedger wires a fully in-memory ledger.
func NewMemoryLedger() *Ledger {
	return &Ledger{
		Drivers:  NewMemoryDriverStore(),
		Offenses: NewMemoryOffenseStore(),
		Appeals:  NewMemoryAppealStore(),
		Payments: NewMemoryPaymentStore(),
		locks:    NewKeyedLocks(),
		runner:   memoryRunner{},
	}
}

// memoryRunner executes the unit directly; atomicity for the in-memory
// ledger comes from the entity locks the caller already holds.
type memoryRunner struct{}

func (memoryRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type MemoryDriverStore struct {
	mu      sync.RWMutex
	drivers map[domain.DriverID]domain.Driver
}

func NewMemoryDriverStore() *MemoryDriverStore {
	return &MemoryDriverStore{drivers: make(map[domain.DriverID]domain.Driver)}
}

func (s *MemoryDriverStore) Save(_ context.Context, driver domain.Driver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.drivers[driver.ID]; ok {
		return sentinel.ErrConflict
	}
	if driver.Version == 0 {
		driver.Version = 1
	}
	s.drivers[driver.ID] = driver
	return nil
}

func (s *MemoryDriverStore) Update(_ context.Context, driver domain.Driver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.drivers[driver.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != driver.Version {
		return sentinel.ErrConflict
	}
	driver.Version++
	s.drivers[driver.ID] = driver
	return nil
}

func (s *MemoryDriverStore) FindByID(_ context.Context, id domain.DriverID) (domain.Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if driver, ok := s.drivers[id]; ok {
		return driver, nil
	}
	return domain.Driver{}, sentinel.ErrNotFound
}

func (s *MemoryDriverStore) List(_ context.Context) ([]domain.Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Driver, 0, len(s.drivers))
	for _, d := range s.drivers {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type MemoryOffenseStore struct {
	mu       sync.RWMutex
	offenses map[domain.OffenseID]domain.Offense
}

func NewMemoryOffenseStore() *MemoryOffenseStore {
	return &MemoryOffenseStore{offenses: make(map[domain.OffenseID]domain.Offense)}
}

func (s *MemoryOffenseStore) Save(_ context.Context, offense domain.Offense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.offenses[offense.ID]; ok {
		return sentinel.ErrConflict
	}
	if offense.Version == 0 {
		offense.Version = 1
	}
	s.offenses[offense.ID] = offense
	return nil
}

func (s *MemoryOffenseStore) Update(_ context.Context, offense domain.Offense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.offenses[offense.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != offense.Version {
		return sentinel.ErrConflict
	}
	offense.Version++
	s.offenses[offense.ID] = offense
	return nil
}

func (s *MemoryOffenseStore) FindByID(_ context.Context, id domain.OffenseID) (domain.Offense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if offense, ok := s.offenses[id]; ok {
		return offense, nil
	}
	return domain.Offense{}, sentinel.ErrNotFound
}

func (s *MemoryOffenseStore) ListByDriver(_ context.Context, driverID domain.DriverID) ([]domain.Offense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Offense
	for _, o := range s.offenses {
		if o.DriverID == driverID {
			out = append(out, o)
		}
	}
	sortOffenses(out, "occurred_at", SortDesc)
	return out, nil
}

func (s *MemoryOffenseStore) List(_ context.Context, filter OffenseFilter) ([]domain.Offense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Offense
	for _, o := range s.offenses {
		if filter.DriverID != nil && o.DriverID != *filter.DriverID {
			continue
		}
		if filter.Status != nil && o.Status != *filter.Status {
			continue
		}
		if filter.Type != "" && !strings.EqualFold(o.Type, filter.Type) {
			continue
		}
		out = append(out, o)
	}
	sortOffenses(out, filter.SortBy, filter.SortOrder)
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (s *MemoryOffenseStore) ListDueBefore(_ context.Context, cutoff time.Time) ([]domain.Offense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Offense
	for _, o := range s.offenses {
		if o.Status == domain.OffensePendingPayment && o.DueDate.Before(cutoff) {
			out = append(out, o)
		}
	}
	sortOffenses(out, "due_date", SortAsc)
	return out, nil
}

func sortOffenses(offenses []domain.Offense, sortBy, order string) {
	desc := order == SortDesc
	less := func(i, j int) bool {
		var before bool
		switch sortBy {
		case "fine_amount":
			before = offenses[i].FineAmount.LessThan(offenses[j].FineAmount)
		case "due_date":
			before = offenses[i].DueDate.Before(offenses[j].DueDate)
		default:
			before = offenses[i].OccurredAt.Before(offenses[j].OccurredAt)
		}
		if desc {
			return !before
		}
		return before
	}
	sort.SliceStable(offenses, less)
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

type MemoryAppealStore struct {
	mu      sync.RWMutex
	appeals map[domain.AppealID]domain.Appeal
}

func NewMemoryAppealStore() *MemoryAppealStore {
	return &MemoryAppealStore{appeals: make(map[domain.AppealID]domain.Appeal)}
}

func (s *MemoryAppealStore) Save(_ context.Context, appeal domain.Appeal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.appeals[appeal.ID]; ok {
		return sentinel.ErrConflict
	}
	if appeal.Version == 0 {
		appeal.Version = 1
	}
	s.appeals[appeal.ID] = appeal
	return nil
}

func (s *MemoryAppealStore) Update(_ context.Context, appeal domain.Appeal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.appeals[appeal.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != appeal.Version {
		return sentinel.ErrConflict
	}
	appeal.Version++
	s.appeals[appeal.ID] = appeal
	return nil
}

func (s *MemoryAppealStore) FindByID(_ context.Context, id domain.AppealID) (domain.Appeal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if appeal, ok := s.appeals[id]; ok {
		return appeal, nil
	}
	return domain.Appeal{}, sentinel.ErrNotFound
}

func (s *MemoryAppealStore) ListByDriver(_ context.Context, driverID domain.DriverID) ([]domain.Appeal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Appeal
	for _, a := range s.appeals {
		if a.DriverID == driverID {
			out = append(out, a)
		}
	}
	sortAppeals(out)
	return out, nil
}

func (s *MemoryAppealStore) List(_ context.Context, filter AppealFilter) ([]domain.Appeal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	search := strings.ToLower(filter.Search)
	var out []domain.Appeal
	for _, a := range s.appeals {
		if filter.DriverID != nil && a.DriverID != *filter.DriverID {
			continue
		}
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		if filter.Priority != nil && a.Priority != *filter.Priority {
			continue
		}
		if filter.AssignedTo != nil && (a.AssignedTo == nil || *a.AssignedTo != *filter.AssignedTo) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(a.Reason), search) &&
			!strings.Contains(strings.ToLower(a.Description), search) {
			continue
		}
		out = append(out, a)
	}
	sortAppeals(out)
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (s *MemoryAppealStore) FindOpenByOffense(_ context.Context, offenseID domain.OffenseID) (domain.Appeal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.appeals {
		if a.OffenseID == offenseID && a.Status.Open() {
			return a, nil
		}
	}
	return domain.Appeal{}, sentinel.ErrNotFound
}

func sortAppeals(appeals []domain.Appeal) {
	sort.SliceStable(appeals, func(i, j int) bool {
		return appeals[i].SubmittedDate.After(appeals[j].SubmittedDate)
	})
}

type MemoryPaymentStore struct {
	mu       sync.RWMutex
	payments map[domain.PaymentID]domain.Payment
}

func NewMemoryPaymentStore() *MemoryPaymentStore {
	return &MemoryPaymentStore{payments: make(map[domain.PaymentID]domain.Payment)}
}

func (s *MemoryPaymentStore) Save(_ context.Context, payment domain.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[payment.ID]; ok {
		return sentinel.ErrConflict
	}
	if payment.Version == 0 {
		payment.Version = 1
	}
	s.payments[payment.ID] = payment
	return nil
}

func (s *MemoryPaymentStore) FindByID(_ context.Context, id domain.PaymentID) (domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if payment, ok := s.payments[id]; ok {
		return payment, nil
	}
	return domain.Payment{}, sentinel.ErrNotFound
}

func (s *MemoryPaymentStore) ListByDriver(_ context.Context, driverID domain.DriverID) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Payment
	for _, p := range s.payments {
		if p.DriverID == driverID {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryPaymentStore) ListByOffense(_ context.Context, offenseID domain.OffenseID) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Payment
	for _, p := range s.payments {
		for _, id := range p.OffenseIDs {
			if id == offenseID {
				out = append(out, p)
				break
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
