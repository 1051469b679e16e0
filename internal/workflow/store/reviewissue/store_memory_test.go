package reviewissue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"healthpass/internal/workflow/models"
	id "healthpass/pkg/domain"
	"healthpass/pkg/platform/sentinel"
)

// =============================================================================
// Review Issue Memory Store Test Suite
// =============================================================================
// Justification for unit tests: attempt numbers are assigned inside Append, so
// the store is the single place where the counter's atomicity can be broken.
// The concurrent test pins down that two racing appends never share a number.

type ReviewIssueStoreSuite struct {
	suite.Suite
	store *MemoryStore

	appID      id.ApplicationID
	docTypeID  id.DocumentTypeID
	reviewerID id.UserID
	now        time.Time
}

func TestReviewIssueStoreSuite(t *testing.T) {
	suite.Run(t, new(ReviewIssueStoreSuite))
}

func (s *ReviewIssueStoreSuite) SetupTest() {
	s.store = NewMemory()
	s.appID = id.NewApplicationID()
	s.docTypeID = id.NewDocumentTypeID()
	s.reviewerID = id.NewUserID()
	s.now = time.Date(2026, 3, 25, 14, 0, 0, 0, time.UTC)
}

func (s *ReviewIssueStoreSuite) newIssue(kind models.IssueKind) *models.ReviewIssue {
	return &models.ReviewIssue{
		ID:             id.NewIssueID(),
		ApplicationID:  s.appID,
		Scope:          models.ScopeDocument,
		DocumentTypeID: s.docTypeID,
		Kind:           kind,
		Reason:         "blurry scan",
		ReviewerID:     s.reviewerID,
		CreatedAt:      s.now,
	}
}

// =============================================================================
// Attempt Numbering Tests
// =============================================================================

func (s *ReviewIssueStoreSuite) TestAppendAssignsSequentialAttempts() {
	ctx := context.Background()

	first, err := s.store.Append(ctx, s.newIssue(models.KindRejection))
	s.NoError(err)
	s.Equal(1, first.AttemptNumber)

	second, err := s.store.Append(ctx, s.newIssue(models.KindMedicalReferral))
	s.NoError(err)
	s.Equal(2, second.AttemptNumber)

	count, err := s.store.CountAttempts(ctx, s.appID, s.docTypeID)
	s.NoError(err)
	s.Equal(2, count)
}

func (s *ReviewIssueStoreSuite) TestAppendIgnoresCallerAttemptNumber() {
	ctx := context.Background()

	issue := s.newIssue(models.KindRejection)
	issue.AttemptNumber = 99
	stored, err := s.store.Append(ctx, issue)
	s.NoError(err)
	s.Equal(1, stored.AttemptNumber)
}

func (s *ReviewIssueStoreSuite) TestCountersAreScopedPerDocumentType() {
	ctx := context.Background()

	otherType := id.NewDocumentTypeID()
	_, err := s.store.Append(ctx, s.newIssue(models.KindRejection))
	s.Require().NoError(err)

	other := s.newIssue(models.KindRejection)
	other.DocumentTypeID = otherType
	stored, err := s.store.Append(ctx, other)
	s.NoError(err)
	s.Equal(1, stored.AttemptNumber)
}

func (s *ReviewIssueStoreSuite) TestPaymentScopeDoesNotInflateDocumentCount() {
	ctx := context.Background()

	payment := s.newIssue(models.KindRejection)
	payment.Scope = models.ScopePayment
	payment.DocumentTypeID = id.DocumentTypeID{}
	_, err := s.store.Append(ctx, payment)
	s.Require().NoError(err)

	count, err := s.store.CountAttempts(ctx, s.appID, s.docTypeID)
	s.NoError(err)
	s.Equal(0, count)
}

func (s *ReviewIssueStoreSuite) TestConcurrentAppendsNeverShareANumber() {
	ctx := context.Background()
	const writers = 16

	var wg sync.WaitGroup
	results := make([]int, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			stored, err := s.store.Append(ctx, s.newIssue(models.KindRejection))
			if err == nil {
				results[slot] = stored.AttemptNumber
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool, writers)
	for _, n := range results {
		s.False(seen[n], "attempt number %d assigned twice", n)
		seen[n] = true
		s.GreaterOrEqual(n, 1)
		s.LessOrEqual(n, writers)
	}
}

// =============================================================================
// Resolution Tests
// =============================================================================

func (s *ReviewIssueStoreSuite) TestLatestUnresolvedSkipsReplaced() {
	ctx := context.Background()

	first, err := s.store.Append(ctx, s.newIssue(models.KindRejection))
	s.Require().NoError(err)
	second, err := s.store.Append(ctx, s.newIssue(models.KindRejection))
	s.Require().NoError(err)

	got, err := s.store.LatestUnresolved(ctx, s.appID, s.docTypeID)
	s.NoError(err)
	s.Equal(second.ID, got.ID)

	uploadID := id.NewUploadID()
	s.Require().NoError(s.store.MarkReplaced(ctx, second.ID, &uploadID))

	got, err = s.store.LatestUnresolved(ctx, s.appID, s.docTypeID)
	s.NoError(err)
	s.Equal(first.ID, got.ID)

	s.Require().NoError(s.store.MarkReplaced(ctx, first.ID, nil))
	_, err = s.store.LatestUnresolved(ctx, s.appID, s.docTypeID)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *ReviewIssueStoreSuite) TestMarkReplacedRecordsReplacementUpload() {
	ctx := context.Background()

	issue, err := s.store.Append(ctx, s.newIssue(models.KindRejection))
	s.Require().NoError(err)

	uploadID := id.NewUploadID()
	s.NoError(s.store.MarkReplaced(ctx, issue.ID, &uploadID))

	list, err := s.store.ListByKind(ctx, s.appID, models.KindRejection)
	s.NoError(err)
	s.Require().Len(list, 1)
	s.True(list[0].WasReplaced)
	s.Require().NotNil(list[0].ReplacementUploadID)
	s.Equal(uploadID, *list[0].ReplacementUploadID)

	s.ErrorIs(s.store.MarkReplaced(ctx, id.NewIssueID(), nil), sentinel.ErrNotFound)
}

func (s *ReviewIssueStoreSuite) TestLatestUnresolvedPayment() {
	ctx := context.Background()

	payment := s.newIssue(models.KindRejection)
	payment.Scope = models.ScopePayment
	payment.DocumentTypeID = id.DocumentTypeID{}
	stored, err := s.store.Append(ctx, payment)
	s.Require().NoError(err)

	got, err := s.store.LatestUnresolvedPayment(ctx, s.appID)
	s.NoError(err)
	s.Equal(stored.ID, got.ID)

	s.Require().NoError(s.store.MarkReplaced(ctx, stored.ID, nil))
	_, err = s.store.LatestUnresolvedPayment(ctx, s.appID)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

// =============================================================================
// Notification Bookkeeping Tests
// =============================================================================

func (s *ReviewIssueStoreSuite) TestListUnsentAndMarkNotified() {
	ctx := context.Background()

	first, err := s.store.Append(ctx, s.newIssue(models.KindRejection))
	s.Require().NoError(err)
	second, err := s.store.Append(ctx, s.newIssue(models.KindMedicalReferral))
	s.Require().NoError(err)

	unsent, err := s.store.ListUnsent(ctx, s.appID)
	s.NoError(err)
	s.Len(unsent, 2)

	s.NoError(s.store.MarkNotified(ctx, []id.IssueID{first.ID}, s.now))

	unsent, err = s.store.ListUnsent(ctx, s.appID)
	s.NoError(err)
	s.Require().Len(unsent, 1)
	s.Equal(second.ID, unsent[0].ID)

	sent, err := s.store.ListByKind(ctx, s.appID, models.KindRejection)
	s.NoError(err)
	s.Require().Len(sent, 1)
	s.True(sent[0].NotificationSent)
	s.Require().NotNil(sent[0].NotificationSentAt)
	s.Equal(s.now, *sent[0].NotificationSentAt)
}

func (s *ReviewIssueStoreSuite) TestListByKindFilters() {
	ctx := context.Background()

	_, err := s.store.Append(ctx, s.newIssue(models.KindRejection))
	s.Require().NoError(err)
	_, err = s.store.Append(ctx, s.newIssue(models.KindMedicalReferral))
	s.Require().NoError(err)

	rejections, err := s.store.ListByKind(ctx, s.appID, models.KindRejection)
	s.NoError(err)
	s.Len(rejections, 1)

	referrals, err := s.store.ListByKind(ctx, s.appID, models.KindMedicalReferral)
	s.NoError(err)
	s.Len(referrals, 1)

	otherApp, err := s.store.ListByKind(ctx, id.NewApplicationID(), models.KindRejection)
	s.NoError(err)
	s.Empty(otherApp)
}
