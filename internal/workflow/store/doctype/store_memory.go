package doctype

import (
	"context"
	"sort"
	"sync"

	"healthpass/internal/workflow/models"
	id "healthpass/pkg/domain"
	"healthpass/pkg/platform/sentinel"
)

// MemoryStore keeps document types in memory for tests and memory-backed wiring.
type MemoryStore struct {
	mu    sync.RWMutex
	types map[id.DocumentTypeID]*models.DocumentType
}

func NewMemory() *MemoryStore {
	return &MemoryStore{types: make(map[id.DocumentTypeID]*models.DocumentType)}
}

// Put seeds a document type. Test helper; the catalog is managed out of band.
func (s *MemoryStore) Put(dt *models.DocumentType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *dt
	s.types[dt.ID] = &cp
}

func (s *MemoryStore) Get(_ context.Context, docTypeID id.DocumentTypeID) (*models.DocumentType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dt, ok := s.types[docTypeID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *dt
	return &cp, nil
}

func (s *MemoryStore) ListByCategory(_ context.Context, categoryID id.JobCategoryID) ([]*models.DocumentType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.DocumentType
	for _, dt := range s.types {
		if dt.JobCategoryID == categoryID {
			cp := *dt
			out = append(out, &cp)
		}
	}
	// Required first, then by name, so "first missing document" is deterministic.
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsRequired != out[j].IsRequired {
			return out[i].IsRequired
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}
