package document

import (
	"context"
	"sync"
	"time"

	"healthpass/internal/workflow/models"
	id "healthpass/pkg/domain"
	"healthpass/pkg/platform/sentinel"
)

// MemoryStore keeps document uploads in memory for tests and memory-backed
// wiring. Rows are append-only; the newest row per pair is the active one.
type MemoryStore struct {
	mu      sync.RWMutex
	uploads []*models.DocumentUpload
}

func NewMemory() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(_ context.Context, upload *models.DocumentUpload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *upload
	s.uploads = append(s.uploads, &cp)
	return nil
}

func (s *MemoryStore) GetActive(_ context.Context, appID id.ApplicationID, docTypeID id.DocumentTypeID) (*models.DocumentUpload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// Newest insertion wins; scan backwards.
	for i := len(s.uploads) - 1; i >= 0; i-- {
		u := s.uploads[i]
		if u.ApplicationID == appID && u.DocumentTypeID == docTypeID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *MemoryStore) ListByApplication(_ context.Context, appID id.ApplicationID) ([]*models.DocumentUpload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// Only the active (newest) row per document type.
	seen := make(map[id.DocumentTypeID]bool)
	var out []*models.DocumentUpload
	for i := len(s.uploads) - 1; i >= 0; i-- {
		u := s.uploads[i]
		if u.ApplicationID != appID || seen[u.DocumentTypeID] {
			continue
		}
		seen[u.DocumentTypeID] = true
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) SetReviewStatus(_ context.Context, uploadID id.UploadID, status models.ReviewStatus, reviewerID id.UserID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.uploads {
		if u.ID == uploadID {
			u.ReviewStatus = status
			rid := reviewerID
			u.ReviewerID = &rid
			t := now
			u.ReviewedAt = &t
			return nil
		}
	}
	return sentinel.ErrNotFound
}
