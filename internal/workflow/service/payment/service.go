// Package payment owns the payment lifecycle: creation and resubmission of
// the append-only payment chain, gateway checkout, return/webhook
// reconciliation, and the abandoned-payment sweep.
package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"healthpass/internal/audit"
	wfconfig "healthpass/internal/workflow/config"
	wfmetrics "healthpass/internal/workflow/metrics"
	"healthpass/internal/workflow/models"
	"healthpass/internal/workflow/policy"
	"healthpass/internal/workflow/ports"
	id "healthpass/pkg/domain"
	dErrors "healthpass/pkg/domain-errors"
	"healthpass/pkg/platform/sentinel"
	"healthpass/pkg/platform/tx"
)

const abandonedReason = "abandoned after checkout timeout"

type Service struct {
	db             *sql.DB
	users          ports.UserStore
	apps           ports.ApplicationStore
	payments       ports.PaymentStore
	issues         ports.ReviewIssueStore
	gateway        ports.Gateway
	idempotency    ports.IdempotencyStore
	notify         Notifier
	auditPublisher ports.AuditPublisher
	cfg            *wfconfig.Config
	metrics        *wfmetrics.Metrics
	logger         *slog.Logger
	returnBase     string
	now            func() time.Time
}

// Notifier is the slice of the notify service this package uses.
type Notifier interface {
	NotifyApplicant(ctx context.Context, app *models.Application, typ models.NotificationType, title, message, actionURL string) error
	NotifyAdmins(ctx context.Context, app *models.Application, typ models.NotificationType, title, message, actionURL string) (int, error)
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(s *Service) { s.auditPublisher = publisher }
}

func WithDB(db *sql.DB) Option {
	return func(s *Service) { s.db = db }
}

func WithMetrics(m *wfmetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithGateway attaches the payment provider. Without it, checkout is
// refused and reconciliation degrades to trusting the redirect outcome.
func WithGateway(gw ports.Gateway) Option {
	return func(s *Service) { s.gateway = gw }
}

// WithIdempotency attaches the claim store used to dedupe webhook redelivery.
func WithIdempotency(store ports.IdempotencyStore) Option {
	return func(s *Service) { s.idempotency = store }
}

// WithReturnBaseURL sets the public origin the gateway redirects back to.
// Maya requires absolute redirect URLs, so relative paths are never sent.
func WithReturnBaseURL(base string) Option {
	return func(s *Service) { s.returnBase = base }
}

func New(
	users ports.UserStore,
	apps ports.ApplicationStore,
	payments ports.PaymentStore,
	issues ports.ReviewIssueStore,
	notifier Notifier,
	cfg *wfconfig.Config,
	opts ...Option,
) (*Service, error) {
	if users == nil || apps == nil || payments == nil || issues == nil {
		return nil, fmt.Errorf("all stores are required")
	}
	if cfg == nil {
		cfg = wfconfig.DefaultConfig()
	}

	svc := &Service{
		users:      users,
		apps:       apps,
		payments:   payments,
		issues:     issues,
		notify:     notifier,
		cfg:        cfg,
		returnBase: "http://localhost:8080",
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Create records a payment for the application. When the current payment has
// failed, the new one supersedes it rather than overwriting: the failed row
// stays in the chain with current=false and its unresolved payment issue is
// marked replaced.
func (s *Service) Create(ctx context.Context, subject string, appID id.ApplicationID, req models.CreatePaymentRequest) (*models.Payment, error) {
	user, err := policy.ResolveUser(ctx, s.users, subject)
	if err != nil {
		return nil, err
	}
	app, err := s.getApplication(ctx, appID)
	if err != nil {
		return nil, err
	}
	if err := policy.RequireOwner(user, app); err != nil {
		return nil, err
	}
	if app.Status.Terminal() {
		return nil, dErrors.New(dErrors.CodeInvalidState, "application is in a terminal status")
	}

	if req.Amount <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "amount must be positive")
	}
	if req.ServiceFee < 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "service fee cannot be negative")
	}
	if req.NetAmount != req.Amount+req.ServiceFee {
		return nil, dErrors.New(dErrors.CodeValidation, "net amount must equal amount plus service fee")
	}
	method, err := models.ParsePaymentMethod(req.Method)
	if err != nil {
		return nil, err
	}

	now := s.now()
	replacement := &models.Payment{
		ID:              id.NewPaymentID(),
		ApplicationID:   appID,
		Amount:          req.Amount,
		ServiceFee:      req.ServiceFee,
		NetAmount:       req.NetAmount,
		Method:          method,
		ReferenceNumber: req.ReferenceNumber,
		Status:          models.PaymentPending,
		Current:         true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	current, err := s.payments.Current(ctx, appID)
	switch {
	case err != nil && !errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load current payment")

	case err == nil && current.Status != models.PaymentFailed:
		return nil, dErrors.New(dErrors.CodeConflict, "a payment already exists for this application")

	case err == nil:
		// Resubmission after a failed payment.
		err = tx.Run(ctx, s.db, func(ctx context.Context) error {
			if err := s.payments.Supersede(ctx, current.ID, now); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "supersede failed payment")
			}
			if err := s.payments.Insert(ctx, replacement); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "insert replacement payment")
			}
			issue, ierr := s.issues.LatestUnresolvedPayment(ctx, appID)
			if ierr != nil && !errors.Is(ierr, sentinel.ErrNotFound) {
				return dErrors.Wrap(ierr, dErrors.CodeInternal, "find payment issue")
			}
			if issue != nil {
				if err := s.issues.MarkReplaced(ctx, issue.ID, nil); err != nil {
					return dErrors.Wrap(err, dErrors.CodeInternal, "mark payment issue replaced")
				}
			}
			return s.apps.SetStatus(ctx, appID, models.StatusForPaymentValidation, now)
		})
		if err != nil {
			return nil, err
		}
		s.metrics.IncrementPaymentTransition(string(models.PaymentPending))
		if s.notify != nil {
			if _, nerr := s.notify.NotifyAdmins(ctx, app, models.NotifyPaymentResubmitted,
				"Payment resubmitted",
				"The applicant submitted a new payment after a failed one.",
				"/admin/applications/"+appID.String()); nerr != nil && s.logger != nil {
				s.logger.WarnContext(ctx, "payment resubmission notification failed", "error", nerr)
			}
		}
		return replacement, nil
	}

	// First payment on the application.
	err = tx.Run(ctx, s.db, func(ctx context.Context) error {
		if err := s.payments.Insert(ctx, replacement); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "insert payment")
		}
		return s.apps.SetStatus(ctx, appID, models.StatusForPaymentValidation, now)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncrementPaymentTransition(string(models.PaymentPending))

	if s.notify != nil {
		if nerr := s.notify.NotifyApplicant(ctx, app, models.NotifyPaymentReceived,
			"Payment received",
			"Your payment has been recorded and is awaiting validation.",
			"/applications/"+appID.String()); nerr != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "payment notification failed", "error", nerr)
		}
	}
	return replacement, nil
}

// StartCheckout opens a gateway checkout session for a pending payment and
// moves it to processing. From that moment the abandonment clock runs.
func (s *Service) StartCheckout(ctx context.Context, subject string, paymentID id.PaymentID) (*ports.CheckoutSession, error) {
	if s.gateway == nil {
		return nil, dErrors.New(dErrors.CodeGateway, "payment gateway is not configured")
	}
	user, err := policy.ResolveUser(ctx, s.users, subject)
	if err != nil {
		return nil, err
	}
	payment, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	app, err := s.getApplication(ctx, payment.ApplicationID)
	if err != nil {
		return nil, err
	}
	if err := policy.RequireOwner(user, app); err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentPending {
		return nil, dErrors.New(dErrors.CodeInvalidState, "checkout can only be started for a pending payment")
	}

	session, err := s.gateway.CreateCheckout(ctx, ports.CheckoutRequest{
		ApplicationID: payment.ApplicationID,
		Amount:        payment.NetAmount,
		Description:   "Health card processing fee",
		BuyerName:     user.Name,
		BuyerEmail:    user.Email,
		SuccessURL:    s.returnURL(paymentID, models.ReturnSuccess),
		FailureURL:    s.returnURL(paymentID, models.ReturnFailed),
		CancelURL:     s.returnURL(paymentID, models.ReturnCancelled),
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	err = tx.Run(ctx, s.db, func(ctx context.Context) error {
		if err := s.payments.SetGatewayRefs(ctx, paymentID, session.PaymentID, session.CheckoutID, session.CheckoutURL, now); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "record gateway refs")
		}
		return s.payments.SetStatus(ctx, paymentID, models.PaymentProcessing, nil, nil, now)
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// returnURL builds the absolute URL the gateway redirects the applicant back
// to for one outcome of one payment.
func (s *Service) returnURL(paymentID id.PaymentID, outcome models.ReturnOutcome) string {
	return strings.TrimRight(s.returnBase, "/") +
		"/payments/" + paymentID.String() + "/return?outcome=" + string(outcome)
}

// IsAbandoned is a pure read: a processing payment strictly older than the
// configured timeout. Nothing is mutated; repair happens in HandleAbandoned
// or the sweep.
func (s *Service) IsAbandoned(ctx context.Context, paymentID id.PaymentID) (bool, error) {
	payment, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return false, err
	}
	return payment.Abandoned(s.now(), s.cfg.AbandonedTimeout), nil
}

// HandleAbandoned cancels an abandoned payment and reopens the application.
// Calling it on a payment that is not abandoned is an invalid-state error,
// not a silent no-op.
func (s *Service) HandleAbandoned(ctx context.Context, paymentID id.PaymentID) (*models.Payment, error) {
	payment, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !payment.Abandoned(s.now(), s.cfg.AbandonedTimeout) {
		return nil, dErrors.New(dErrors.CodeInvalidState, "payment is not abandoned")
	}
	if err := s.cancelAbandoned(ctx, payment); err != nil {
		return nil, err
	}
	return payment, nil
}

func (s *Service) cancelAbandoned(ctx context.Context, payment *models.Payment) error {
	return s.cancel(ctx, payment, abandonedReason,
		"Your payment session expired and was cancelled. You can start a new payment at any time.")
}

// cancel is the single cancellation path. Abandonment and gateway-reported
// cancellations all land here so every cancelled payment reverts the
// application, leaves an audit event, and tells the applicant.
func (s *Service) cancel(ctx context.Context, payment *models.Payment, reason, message string) error {
	now := s.now()
	err := tx.Run(ctx, s.db, func(ctx context.Context) error {
		if err := s.payments.SetStatus(ctx, payment.ID, models.PaymentCancelled, &reason, nil, now); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "cancel payment")
		}
		return s.apps.SetStatus(ctx, payment.ApplicationID, models.StatusSubmitted, now)
	})
	if err != nil {
		return err
	}
	payment.Status = models.PaymentCancelled
	payment.FailureReason = reason
	payment.UpdatedAt = now
	s.metrics.IncrementPaymentTransition(string(models.PaymentCancelled))

	ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.Event{
		Timestamp:     now,
		ApplicationID: payment.ApplicationID,
		Action:        "payment_cancelled",
		Subject:       payment.ID.String(),
		Reason:        reason,
	})

	if s.notify != nil {
		if app, aerr := s.apps.Get(ctx, payment.ApplicationID); aerr == nil {
			if nerr := s.notify.NotifyApplicant(ctx, app, models.NotifyPaymentCancelled,
				"Payment cancelled", message,
				"/applications/"+payment.ApplicationID.String()); nerr != nil && s.logger != nil {
				s.logger.WarnContext(ctx, "cancellation notification failed", "error", nerr)
			}
		}
	}
	return nil
}

// SweepAbandoned repairs every abandoned payment in one pass. Failures are
// isolated per payment and the sweep is re-entrant: cancelled rows no longer
// match the processing filter, so an overlapping run finds nothing to redo.
func (s *Service) SweepAbandoned(ctx context.Context) (*models.SweepReport, error) {
	now := s.now()
	cutoff := now.Add(-s.cfg.AbandonedTimeout)
	stale, err := s.payments.ListProcessingBefore(ctx, cutoff)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list stale payments")
	}

	report := &models.SweepReport{
		Scanned: len(stale),
		Entries: make([]models.SweepEntry, len(stale)),
		SweptAt: now,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.SweepConcurrency)
	for i, payment := range stale {
		g.Go(func() error {
			entry := models.SweepEntry{PaymentID: payment.ID}
			if err := s.cancelAbandoned(gctx, payment); err != nil {
				entry.Error = err.Error()
			} else {
				entry.Cancelled = true
			}
			report.Entries[i] = entry
			// Errors stay in the entry; returning one would abort the group.
			return nil
		})
	}
	_ = g.Wait()

	for _, entry := range report.Entries {
		if entry.Cancelled {
			report.Cancelled++
			s.metrics.IncrementSweepOutcome("cancelled")
		} else {
			report.Failed++
			s.metrics.IncrementSweepOutcome("failed")
		}
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "abandoned payment sweep finished",
			"scanned", report.Scanned, "cancelled", report.Cancelled, "failed", report.Failed)
	}
	return report, nil
}

// HandleReturn reconciles a payment after the gateway redirects the applicant
// back. The redirect outcome is a hint, not the truth: on success the gateway
// is consulted when we hold its payment id. An already-complete payment
// short-circuits so a double redirect produces the same answer twice.
func (s *Service) HandleReturn(ctx context.Context, paymentID id.PaymentID, outcome models.ReturnOutcome) (*models.ReturnResult, error) {
	payment, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if payment.Status == models.PaymentComplete {
		return &models.ReturnResult{PaymentID: paymentID, Status: models.PaymentComplete, Reconciled: true}, nil
	}

	switch outcome {
	case models.ReturnSuccess:
		return s.reconcileSuccess(ctx, payment)

	case models.ReturnCancelled:
		if err := s.cancelReturned(ctx, payment, "cancelled at gateway"); err != nil {
			return nil, err
		}
		return &models.ReturnResult{PaymentID: paymentID, Status: models.PaymentCancelled, Reconciled: false}, nil

	case models.ReturnFailed:
		reason := "payment failed at gateway"
		if err := s.markFailed(ctx, payment, reason); err != nil {
			return nil, err
		}
		return &models.ReturnResult{PaymentID: paymentID, Status: models.PaymentFailed, Reconciled: false}, nil

	default:
		return nil, dErrors.New(dErrors.CodeBadRequest, "unknown return outcome")
	}
}

func (s *Service) reconcileSuccess(ctx context.Context, payment *models.Payment) (*models.ReturnResult, error) {
	now := s.now()

	// No gateway reference means the session never reached checkout; the
	// redirect is the only signal there is.
	if payment.MayaPaymentID == "" || s.gateway == nil {
		if err := s.complete(ctx, payment, &now); err != nil {
			return nil, err
		}
		return &models.ReturnResult{PaymentID: payment.ID, Status: models.PaymentComplete, Reconciled: false}, nil
	}

	remote, err := s.gateway.GetPayment(ctx, payment.MayaPaymentID)
	if err != nil {
		// Do not mutate on a gateway error; the caller can retry the return.
		return nil, dErrors.Wrap(err, dErrors.CodeGateway, "verify payment with gateway")
	}

	switch remote.Status {
	case models.PaymentComplete:
		paidAt := remote.PaidAt
		if paidAt == nil {
			paidAt = &now
		}
		if err := s.complete(ctx, payment, paidAt); err != nil {
			return nil, err
		}
		return &models.ReturnResult{PaymentID: payment.ID, Status: models.PaymentComplete, Reconciled: true}, nil

	case models.PaymentCancelled, models.PaymentExpired:
		if err := s.cancelReturned(ctx, payment, "gateway reported "+string(remote.Status)); err != nil {
			return nil, err
		}
		return &models.ReturnResult{PaymentID: payment.ID, Status: models.PaymentCancelled, Reconciled: true}, nil

	case models.PaymentFailed:
		if err := s.markFailed(ctx, payment, "gateway reported failure"); err != nil {
			return nil, err
		}
		return &models.ReturnResult{PaymentID: payment.ID, Status: models.PaymentFailed, Reconciled: true}, nil

	default:
		// Still pending or processing at the gateway; leave local state alone.
		return &models.ReturnResult{PaymentID: payment.ID, Status: payment.Status, Reconciled: true}, nil
	}
}

func (s *Service) complete(ctx context.Context, payment *models.Payment, paidAt *time.Time) error {
	now := s.now()
	err := tx.Run(ctx, s.db, func(ctx context.Context) error {
		if err := s.payments.SetStatus(ctx, payment.ID, models.PaymentComplete, nil, paidAt, now); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "complete payment")
		}
		return s.apps.SetStatus(ctx, payment.ApplicationID, models.StatusUnderReview, now)
	})
	if err != nil {
		return err
	}
	payment.Status = models.PaymentComplete
	payment.PaidAt = paidAt
	s.metrics.IncrementPaymentTransition(string(models.PaymentComplete))

	ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.Event{
		Timestamp:     now,
		ApplicationID: payment.ApplicationID,
		Action:        "payment_completed",
		Subject:       payment.ID.String(),
	})

	if s.notify != nil {
		if app, aerr := s.apps.Get(ctx, payment.ApplicationID); aerr == nil {
			if nerr := s.notify.NotifyApplicant(ctx, app, models.NotifyPaymentReceived,
				"Payment confirmed",
				"Your payment has been confirmed. Your application is now under review.",
				"/applications/"+payment.ApplicationID.String()); nerr != nil && s.logger != nil {
				s.logger.WarnContext(ctx, "payment confirmation notification failed", "error", nerr)
			}
		}
	}
	return nil
}

func (s *Service) cancelReturned(ctx context.Context, payment *models.Payment, reason string) error {
	return s.cancel(ctx, payment, reason,
		"Your payment was cancelled. You can start a new payment at any time.")
}

func (s *Service) markFailed(ctx context.Context, payment *models.Payment, reason string) error {
	now := s.now()
	if err := s.payments.SetStatus(ctx, payment.ID, models.PaymentFailed, &reason, nil, now); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "mark payment failed")
	}
	payment.Status = models.PaymentFailed
	payment.FailureReason = reason
	s.metrics.IncrementPaymentTransition(string(models.PaymentFailed))
	return nil
}

// HandleWebhook ingests a gateway status callback. Redeliveries collapse
// through the idempotency claim; unknown payment ids are not an error worth
// retrying on the gateway's side, so they map to NOT_FOUND.
func (s *Service) HandleWebhook(ctx context.Context, mayaPaymentID string, status models.PaymentStatus, paidAt *time.Time) error {
	if mayaPaymentID == "" {
		return dErrors.New(dErrors.CodeBadRequest, "missing gateway payment id")
	}

	key := "webhook:" + mayaPaymentID + ":" + string(status)
	if s.idempotency != nil {
		claimed, err := s.idempotency.Claim(ctx, key, 24*time.Hour)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "claim webhook delivery")
		}
		if !claimed {
			return nil
		}
	}

	// The claim must not outlive a failed mutation: the gateway retries on
	// error, and that retry has to find the key free again or the payment
	// stays processing until the sweep wrongly cancels it.
	if err := s.applyWebhook(ctx, mayaPaymentID, status, paidAt); err != nil {
		if s.idempotency != nil {
			if rerr := s.idempotency.Release(ctx, key); rerr != nil && s.logger != nil {
				s.logger.WarnContext(ctx, "release webhook claim failed", "key", key, "error", rerr)
			}
		}
		return err
	}
	return nil
}

func (s *Service) applyWebhook(ctx context.Context, mayaPaymentID string, status models.PaymentStatus, paidAt *time.Time) error {
	payment, err := s.payments.GetByGatewayID(ctx, mayaPaymentID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "no payment for gateway id")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "load payment by gateway id")
	}
	if payment.Status == models.PaymentComplete {
		return nil
	}

	switch status {
	case models.PaymentComplete:
		if paidAt == nil {
			now := s.now()
			paidAt = &now
		}
		return s.complete(ctx, payment, paidAt)
	case models.PaymentCancelled, models.PaymentExpired:
		return s.cancelReturned(ctx, payment, "gateway webhook reported "+string(status))
	case models.PaymentFailed:
		return s.markFailed(ctx, payment, "gateway webhook reported failure")
	default:
		return nil
	}
}

// Current returns the application's current payment for the owner or a
// scoped admin.
func (s *Service) Current(ctx context.Context, subject string, appID id.ApplicationID) (*models.Payment, error) {
	user, err := policy.ResolveUser(ctx, s.users, subject)
	if err != nil {
		return nil, err
	}
	app, err := s.getApplication(ctx, appID)
	if err != nil {
		return nil, err
	}
	if policy.RequireOwner(user, app) != nil && policy.RequireAdmin(user, app) != nil {
		return nil, dErrors.New(dErrors.CodeForbidden, "not permitted to read this application's payment")
	}
	payment, err := s.payments.Current(ctx, appID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no payment on record")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load payment")
	}
	return payment, nil
}

func (s *Service) getPayment(ctx context.Context, paymentID id.PaymentID) (*models.Payment, error) {
	payment, err := s.payments.Get(ctx, paymentID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "payment not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load payment")
	}
	return payment, nil
}

func (s *Service) getApplication(ctx context.Context, appID id.ApplicationID) (*models.Application, error) {
	app, err := s.apps.Get(ctx, appID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "application not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load application")
	}
	return app, nil
}
