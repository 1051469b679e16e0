//go:build integration

package reviewissue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"healthpass/internal/workflow/models"
	appstore "healthpass/internal/workflow/store/application"
	"healthpass/internal/workflow/store/reviewissue"
	id "healthpass/pkg/domain"
	"healthpass/pkg/platform/sentinel"
	"healthpass/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *reviewissue.PostgresStore
	apps     *appstore.PostgresStore

	appID      id.ApplicationID
	docTypeID  id.DocumentTypeID
	reviewerID id.UserID
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = reviewissue.NewPostgres(s.postgres.DB)
	s.apps = appstore.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.Truncate(ctx, "review_issues", "applications", "users"))

	applicantID := id.NewUserID()
	_, err := s.postgres.DB.ExecContext(ctx,
		`INSERT INTO users (id, subject, email, name, role) VALUES ($1, $2, $3, $4, $5)`,
		uuid.UUID(applicantID), "subject-"+applicantID.String(), "a@example.com", "Ana Cruz", "applicant")
	s.Require().NoError(err)

	s.appID = id.NewApplicationID()
	s.docTypeID = id.NewDocumentTypeID()
	s.reviewerID = id.NewUserID()
	s.Require().NoError(s.apps.Create(ctx, &models.Application{
		ID:            s.appID,
		ApplicantID:   applicantID,
		JobCategoryID: id.NewJobCategoryID(),
		Status:        models.StatusUnderReview,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}))
}

func (s *PostgresStoreSuite) newIssue() *models.ReviewIssue {
	return &models.ReviewIssue{
		ID:             id.NewIssueID(),
		ApplicationID:  s.appID,
		Scope:          models.ScopeDocument,
		DocumentTypeID: s.docTypeID,
		Kind:           models.KindRejection,
		Reason:         "blurry scan",
		Issues:         []string{"photo", "lighting"},
		ReviewerID:     s.reviewerID,
		CreatedAt:      time.Now().UTC(),
	}
}

// TestConcurrentAppends verifies the attempt counter is computed inside the
// insert: racing writers must come out with distinct consecutive numbers.
func (s *PostgresStoreSuite) TestConcurrentAppends() {
	ctx := context.Background()
	const writers = 8

	var wg sync.WaitGroup
	var mu sync.Mutex
	numbers := make(map[int]int)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stored, err := s.store.Append(ctx, s.newIssue())
			if err != nil {
				return
			}
			mu.Lock()
			numbers[stored.AttemptNumber]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	for n, count := range numbers {
		s.Equal(1, count, "attempt number %d assigned %d times", n, count)
	}

	count, err := s.store.CountAttempts(ctx, s.appID, s.docTypeID)
	s.NoError(err)
	s.Equal(len(numbers), count)
}

func (s *PostgresStoreSuite) TestAppendRoundTrip() {
	ctx := context.Background()

	stored, err := s.store.Append(ctx, s.newIssue())
	s.Require().NoError(err)
	s.Equal(1, stored.AttemptNumber)
	s.Equal([]string{"photo", "lighting"}, stored.Issues)
	s.False(stored.WasReplaced)
	s.False(stored.NotificationSent)

	got, err := s.store.LatestUnresolved(ctx, s.appID, s.docTypeID)
	s.NoError(err)
	s.Equal(stored.ID, got.ID)
}

func (s *PostgresStoreSuite) TestMarkReplacedAndLatestUnresolved() {
	ctx := context.Background()

	first, err := s.store.Append(ctx, s.newIssue())
	s.Require().NoError(err)

	uploadID := id.NewUploadID()
	s.Require().NoError(s.store.MarkReplaced(ctx, first.ID, &uploadID))

	_, err = s.store.LatestUnresolved(ctx, s.appID, s.docTypeID)
	s.ErrorIs(err, sentinel.ErrNotFound)

	list, err := s.store.ListByKind(ctx, s.appID, models.KindRejection)
	s.NoError(err)
	s.Require().Len(list, 1)
	s.True(list[0].WasReplaced)
	s.Require().NotNil(list[0].ReplacementUploadID)
	s.Equal(uploadID, *list[0].ReplacementUploadID)
}

func (s *PostgresStoreSuite) TestUnsentLifecycle() {
	ctx := context.Background()

	first, err := s.store.Append(ctx, s.newIssue())
	s.Require().NoError(err)
	second, err := s.store.Append(ctx, s.newIssue())
	s.Require().NoError(err)

	unsent, err := s.store.ListUnsent(ctx, s.appID)
	s.NoError(err)
	s.Len(unsent, 2)

	s.Require().NoError(s.store.MarkNotified(ctx, []id.IssueID{first.ID, second.ID}, time.Now().UTC()))

	unsent, err = s.store.ListUnsent(ctx, s.appID)
	s.NoError(err)
	s.Empty(unsent)
}

func (s *PostgresStoreSuite) TestPaymentScopeIsolation() {
	ctx := context.Background()

	payment := s.newIssue()
	payment.Scope = models.ScopePayment
	payment.DocumentTypeID = id.DocumentTypeID{}
	stored, err := s.store.Append(ctx, payment)
	s.Require().NoError(err)
	s.Equal(1, stored.AttemptNumber)

	count, err := s.store.CountAttempts(ctx, s.appID, s.docTypeID)
	s.NoError(err)
	s.Equal(0, count)

	got, err := s.store.LatestUnresolvedPayment(ctx, s.appID)
	s.NoError(err)
	s.Equal(stored.ID, got.ID)
}
