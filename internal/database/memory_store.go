package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"pricealerts/internal/metrics"
	"pricealerts/internal/models"
)

// MemoryStore is an in-process alert store for local runs and tests.
// Alerts are kept in ascending id order; ids are never reused.
type MemoryStore struct {
	mu     sync.RWMutex
	alerts []*models.Alert
	nextID int64
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// Create stores a copy of the new alert under a fresh id.
func (s *MemoryStore) Create(ctx context.Context, in NewAlert) (*models.Alert, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, models.NewStoreUnavailableError("create", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	stored := &models.Alert{
		ID:          s.nextID,
		OwnerID:     in.OwnerID,
		TargetPrice: in.TargetPrice,
		Status:      in.Status,
		CreatedAt:   s.now().UTC(),
	}
	s.alerts = append(s.alerts, stored)

	metrics.RecordAlertWritten("create")
	result := *stored
	return &result, nil
}

// Delete removes the alert when it exists and belongs to ownerID.
func (s *MemoryStore) Delete(ctx context.Context, id int64, ownerID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, models.NewStoreUnavailableError("delete", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.indexOf(id)
	if !ok || s.alerts[i].OwnerID != ownerID {
		return false, nil
	}
	s.alerts = append(s.alerts[:i], s.alerts[i+1:]...)

	metrics.RecordAlertWritten("delete")
	return true, nil
}

// GetByID returns a copy of the alert when it belongs to ownerID.
func (s *MemoryStore) GetByID(ctx context.Context, id int64, ownerID string) (*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.indexOf(id)
	if !ok || s.alerts[i].OwnerID != ownerID {
		return nil, models.ErrNotFound
	}
	result := *s.alerts[i]
	return &result, nil
}

// Query returns one page of the owner's alerts and the total match count.
func (s *MemoryStore) Query(ctx context.Context, p QueryParams) ([]*models.Alert, int, error) {
	if err := p.validate(); err != nil {
		return nil, 0, err
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, models.NewStoreUnavailableError("query", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Alert
	for _, a := range s.alerts {
		if a.OwnerID != p.OwnerID {
			continue
		}
		if p.Status != "" && a.Status != p.Status {
			continue
		}
		matched = append(matched, a)
	}

	total := len(matched)
	result := make([]*models.Alert, 0)
	if p.outOfRange(total) {
		return result, total, nil
	}

	start := (p.Page - 1) * p.PerPage
	end := start + p.PerPage
	if end > total {
		end = total
	}
	for _, a := range matched[start:end] {
		alert := *a
		result = append(result, &alert)
	}
	return result, total, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) indexOf(id int64) (int, bool) {
	i := sort.Search(len(s.alerts), func(i int) bool { return s.alerts[i].ID >= id })
	if i < len(s.alerts) && s.alerts[i].ID == id {
		return i, true
	}
	return 0, false
}
