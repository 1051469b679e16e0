package reviewissue

import (
	"context"
	"sync"
	"time"

	"healthpass/internal/workflow/models"
	id "healthpass/pkg/domain"
	"healthpass/pkg/platform/sentinel"
)

// MemoryStore keeps review issues in memory for tests and memory-backed
// wiring. Append assigns attempt numbers under the store lock, mirroring the
// transactional recompute the postgres store does: the number a caller read
// earlier is never trusted.
type MemoryStore struct {
	mu     sync.Mutex
	issues []*models.ReviewIssue
}

func NewMemory() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, issue *models.ReviewIssue) (*models.ReviewIssue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *issue
	cp.AttemptNumber = s.countLocked(issue.ApplicationID, issue.Scope, issue.DocumentTypeID) + 1
	s.issues = append(s.issues, &cp)
	out := cp
	return &out, nil
}

func (s *MemoryStore) CountAttempts(_ context.Context, appID id.ApplicationID, docTypeID id.DocumentTypeID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLocked(appID, models.ScopeDocument, docTypeID), nil
}

func (s *MemoryStore) countLocked(appID id.ApplicationID, scope models.IssueScope, docTypeID id.DocumentTypeID) int {
	n := 0
	for _, i := range s.issues {
		if i.ApplicationID == appID && i.Scope == scope && i.DocumentTypeID == docTypeID {
			n++
		}
	}
	return n
}

func (s *MemoryStore) LatestUnresolved(_ context.Context, appID id.ApplicationID, docTypeID id.DocumentTypeID) (*models.ReviewIssue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.issues) - 1; i >= 0; i-- {
		issue := s.issues[i]
		if issue.ApplicationID == appID && issue.Scope == models.ScopeDocument &&
			issue.DocumentTypeID == docTypeID && !issue.WasReplaced {
			cp := *issue
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *MemoryStore) LatestUnresolvedPayment(_ context.Context, appID id.ApplicationID) (*models.ReviewIssue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.issues) - 1; i >= 0; i-- {
		issue := s.issues[i]
		if issue.ApplicationID == appID && issue.Scope == models.ScopePayment && !issue.WasReplaced {
			cp := *issue
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *MemoryStore) MarkReplaced(_ context.Context, issueID id.IssueID, uploadID *id.UploadID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, issue := range s.issues {
		if issue.ID == issueID {
			issue.WasReplaced = true
			if uploadID != nil {
				u := *uploadID
				issue.ReplacementUploadID = &u
			}
			return nil
		}
	}
	return sentinel.ErrNotFound
}

func (s *MemoryStore) ListUnsent(_ context.Context, appID id.ApplicationID) ([]*models.ReviewIssue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ReviewIssue
	for _, issue := range s.issues {
		if issue.ApplicationID == appID && !issue.NotificationSent {
			cp := *issue
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkNotified(_ context.Context, issueIDs []id.IssueID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	marked := make(map[id.IssueID]bool, len(issueIDs))
	for _, iid := range issueIDs {
		marked[iid] = true
	}
	for _, issue := range s.issues {
		if marked[issue.ID] {
			issue.NotificationSent = true
			t := now
			issue.NotificationSentAt = &t
		}
	}
	return nil
}

func (s *MemoryStore) ListByKind(_ context.Context, appID id.ApplicationID, kind models.IssueKind) ([]*models.ReviewIssue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ReviewIssue
	for _, issue := range s.issues {
		if issue.ApplicationID == appID && issue.Kind == kind {
			cp := *issue
			out = append(out, &cp)
		}
	}
	return out, nil
}
