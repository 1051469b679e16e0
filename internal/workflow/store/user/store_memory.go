package user

import (
	"context"
	"sync"

	"healthpass/internal/workflow/models"
	id "healthpass/pkg/domain"
	"healthpass/pkg/platform/sentinel"
)

// MemoryStore keeps users in memory for tests and memory-backed wiring.
type MemoryStore struct {
	mu        sync.RWMutex
	byID      map[id.UserID]*models.User
	bySubject map[string]id.UserID
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		byID:      make(map[id.UserID]*models.User),
		bySubject: make(map[string]id.UserID),
	}
}

// Put seeds a user. Test helper; production users arrive via IdP provisioning.
func (s *MemoryStore) Put(u *models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.byID[u.ID] = &cp
	s.bySubject[u.Subject] = u.ID
}

func (s *MemoryStore) GetBySubject(_ context.Context, subject string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	uid, ok := s.bySubject[subject]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *s.byID[uid]
	return &cp, nil
}

func (s *MemoryStore) Get(_ context.Context, userID id.UserID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) ListAdmins(_ context.Context) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.User
	for _, u := range s.byID {
		if u.Role == models.RoleAdmin {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}
