package application

import (
	"context"
	"sync"
	"time"

	"healthpass/internal/workflow/models"
	id "healthpass/pkg/domain"
	"healthpass/pkg/platform/sentinel"
)

// MemoryStore keeps applications in memory for tests and memory-backed wiring.
type MemoryStore struct {
	mu   sync.RWMutex
	apps map[id.ApplicationID]*models.Application
}

func NewMemory() *MemoryStore {
	return &MemoryStore{apps: make(map[id.ApplicationID]*models.Application)}
}

func (s *MemoryStore) Get(_ context.Context, appID id.ApplicationID) (*models.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[appID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *app
	return &cp, nil
}

func (s *MemoryStore) Create(_ context.Context, app *models.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.apps[app.ID]; exists {
		return sentinel.ErrConflict
	}
	cp := *app
	s.apps[app.ID] = &cp
	return nil
}

func (s *MemoryStore) SetStatus(_ context.Context, appID id.ApplicationID, status models.ApplicationStatus, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[appID]
	if !ok {
		return sentinel.ErrNotFound
	}
	app.Status = status
	app.UpdatedAt = now
	return nil
}

func (s *MemoryStore) SetPaymentDeadline(_ context.Context, appID id.ApplicationID, deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[appID]
	if !ok {
		return sentinel.ErrNotFound
	}
	d := deadline
	app.PaymentDeadline = &d
	return nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status models.ApplicationStatus) ([]*models.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Application
	for _, app := range s.apps {
		if app.Status == status {
			cp := *app
			out = append(out, &cp)
		}
	}
	return out, nil
}
