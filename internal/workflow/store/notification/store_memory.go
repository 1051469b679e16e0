package notification

import (
	"context"
	"sync"

	"healthpass/internal/workflow/models"
	id "healthpass/pkg/domain"
	"healthpass/pkg/platform/sentinel"
)

// MemoryStore keeps notifications in memory for tests and memory-backed wiring.
type MemoryStore struct {
	mu   sync.RWMutex
	rows []*models.Notification
}

func NewMemory() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.rows = append(s.rows, &cp)
	return nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID id.UserID) ([]*models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Notification
	for i := len(s.rows) - 1; i >= 0; i-- {
		if s.rows[i].UserID == userID {
			cp := *s.rows[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, notificationID id.NotificationID, userID id.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.rows {
		if n.ID == notificationID && n.UserID == userID {
			n.Read = true
			return nil
		}
	}
	return sentinel.ErrNotFound
}
