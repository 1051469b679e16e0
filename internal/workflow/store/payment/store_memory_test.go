package payment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"healthpass/internal/workflow/models"
	id "healthpass/pkg/domain"
	"healthpass/pkg/platform/sentinel"
)

// =============================================================================
// Payment Memory Store Test Suite
// =============================================================================
// Justification for unit tests: the append-only chain has one structural
// invariant, at most one current payment per application, and the store is
// where it is enforced.

type PaymentStoreSuite struct {
	suite.Suite
	store *MemoryStore

	appID id.ApplicationID
	now   time.Time
}

func TestPaymentStoreSuite(t *testing.T) {
	suite.Run(t, new(PaymentStoreSuite))
}

func (s *PaymentStoreSuite) SetupTest() {
	s.store = NewMemory()
	s.appID = id.NewApplicationID()
	s.now = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
}

func (s *PaymentStoreSuite) newPayment(status models.PaymentStatus, createdAt time.Time) *models.Payment {
	return &models.Payment{
		ID:            id.NewPaymentID(),
		ApplicationID: s.appID,
		Amount:        30000,
		ServiceFee:    1500,
		NetAmount:     31500,
		Method:        models.MethodMaya,
		Status:        status,
		Current:       true,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
}

func (s *PaymentStoreSuite) TestSingleCurrentPerApplication() {
	ctx := context.Background()

	first := s.newPayment(models.PaymentPending, s.now)
	s.Require().NoError(s.store.Insert(ctx, first))

	second := s.newPayment(models.PaymentPending, s.now)
	s.ErrorIs(s.store.Insert(ctx, second), sentinel.ErrConflict)

	// A different application is unaffected.
	other := s.newPayment(models.PaymentPending, s.now)
	other.ApplicationID = id.NewApplicationID()
	s.NoError(s.store.Insert(ctx, other))
}

func (s *PaymentStoreSuite) TestSupersedeFreesTheCurrentSlot() {
	ctx := context.Background()

	first := s.newPayment(models.PaymentFailed, s.now)
	s.Require().NoError(s.store.Insert(ctx, first))
	s.Require().NoError(s.store.Supersede(ctx, first.ID, s.now.Add(time.Minute)))

	second := s.newPayment(models.PaymentPending, s.now.Add(time.Minute))
	s.NoError(s.store.Insert(ctx, second))

	current, err := s.store.Current(ctx, s.appID)
	s.NoError(err)
	s.Equal(second.ID, current.ID)

	// The superseded row is still retrievable by id.
	old, err := s.store.Get(ctx, first.ID)
	s.NoError(err)
	s.False(old.Current)
	s.Equal(models.PaymentFailed, old.Status)
}

func (s *PaymentStoreSuite) TestCurrentMissing() {
	_, err := s.store.Current(context.Background(), s.appID)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PaymentStoreSuite) TestGetByGatewayID() {
	ctx := context.Background()

	p := s.newPayment(models.PaymentPending, s.now)
	s.Require().NoError(s.store.Insert(ctx, p))
	s.Require().NoError(s.store.SetGatewayRefs(ctx, p.ID, "maya-abc", "chk-abc", "https://pay/abc", s.now))

	got, err := s.store.GetByGatewayID(ctx, "maya-abc")
	s.NoError(err)
	s.Equal(p.ID, got.ID)
	s.Equal("chk-abc", got.MayaCheckoutID)

	_, err = s.store.GetByGatewayID(ctx, "maya-unknown")
	s.ErrorIs(err, sentinel.ErrNotFound)

	// Rows without a gateway reference must not match an empty lookup.
	_, err = s.store.GetByGatewayID(ctx, "")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PaymentStoreSuite) TestSetStatusRecordsReasonAndPaidAt() {
	ctx := context.Background()

	p := s.newPayment(models.PaymentProcessing, s.now)
	s.Require().NoError(s.store.Insert(ctx, p))

	paidAt := s.now.Add(2 * time.Minute)
	s.NoError(s.store.SetStatus(ctx, p.ID, models.PaymentComplete, nil, &paidAt, s.now.Add(3*time.Minute)))

	got, err := s.store.Get(ctx, p.ID)
	s.NoError(err)
	s.Equal(models.PaymentComplete, got.Status)
	s.Require().NotNil(got.PaidAt)
	s.Equal(paidAt, *got.PaidAt)

	s.ErrorIs(s.store.SetStatus(ctx, id.NewPaymentID(), models.PaymentFailed, nil, nil, s.now), sentinel.ErrNotFound)
}

func (s *PaymentStoreSuite) TestListProcessingBefore() {
	ctx := context.Background()
	cutoff := s.now

	stale := s.newPayment(models.PaymentProcessing, s.now.Add(-time.Minute))
	s.Require().NoError(s.store.Insert(ctx, stale))

	atCutoff := s.newPayment(models.PaymentProcessing, s.now)
	atCutoff.ApplicationID = id.NewApplicationID()
	s.Require().NoError(s.store.Insert(ctx, atCutoff))

	completed := s.newPayment(models.PaymentComplete, s.now.Add(-time.Hour))
	completed.ApplicationID = id.NewApplicationID()
	s.Require().NoError(s.store.Insert(ctx, completed))

	list, err := s.store.ListProcessingBefore(ctx, cutoff)
	s.NoError(err)
	s.Require().Len(list, 1)
	s.Equal(stale.ID, list[0].ID)
}

func (s *PaymentStoreSuite) TestGetReturnsACopy() {
	ctx := context.Background()

	p := s.newPayment(models.PaymentPending, s.now)
	s.Require().NoError(s.store.Insert(ctx, p))

	got, err := s.store.Get(ctx, p.ID)
	s.Require().NoError(err)
	got.Status = models.PaymentFailed

	again, err := s.store.Get(ctx, p.ID)
	s.NoError(err)
	s.Equal(models.PaymentPending, again.Status)
}
