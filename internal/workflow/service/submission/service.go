// Package submission owns draft creation, document upload, and the submit
// transition with its required-document check and pay-now / defer split.
package submission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

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

type Service struct {
	db       *sql.DB
	users    ports.UserStore
	apps     ports.ApplicationStore
	docTypes ports.DocumentTypeStore
	docs     ports.DocumentStore
	payments ports.PaymentStore
	notify   Notifier
	cfg      *wfconfig.Config
	metrics  *wfmetrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// Notifier is the slice of the notify service this package uses.
type Notifier interface {
	NotifyApplicant(ctx context.Context, app *models.Application, typ models.NotificationType, title, message, actionURL string) error
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithDB makes mutations run inside database transactions. Memory-backed
// wiring omits it.
func WithDB(db *sql.DB) Option {
	return func(s *Service) { s.db = db }
}

func WithMetrics(m *wfmetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(
	users ports.UserStore,
	apps ports.ApplicationStore,
	docTypes ports.DocumentTypeStore,
	docs ports.DocumentStore,
	payments ports.PaymentStore,
	notifier Notifier,
	cfg *wfconfig.Config,
	opts ...Option,
) (*Service, error) {
	if users == nil || apps == nil || docTypes == nil || docs == nil || payments == nil {
		return nil, fmt.Errorf("all stores are required")
	}
	if cfg == nil {
		cfg = wfconfig.DefaultConfig()
	}

	svc := &Service{
		users:    users,
		apps:     apps,
		docTypes: docTypes,
		docs:     docs,
		payments: payments,
		notify:   notifier,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// StartDraft creates a new draft application for the caller.
func (s *Service) StartDraft(ctx context.Context, subject string, categoryID id.JobCategoryID) (*models.Application, error) {
	user, err := policy.ResolveUser(ctx, s.users, subject)
	if err != nil {
		return nil, err
	}
	if categoryID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "job category is required")
	}

	now := s.now()
	app := &models.Application{
		ID:            id.NewApplicationID(),
		ApplicantID:   user.ID,
		JobCategoryID: categoryID,
		Status:        models.StatusDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.apps.Create(ctx, app); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create application")
	}
	return app, nil
}

// UploadDocument records an uploaded document against a draft or
// needs-revision application. The blob itself lives in external storage; only
// the handle is kept.
func (s *Service) UploadDocument(ctx context.Context, subject string, appID id.ApplicationID, docTypeID id.DocumentTypeID, storageKey, filename string) (*models.DocumentUpload, error) {
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
	if app.Status != models.StatusDraft {
		return nil, dErrors.New(dErrors.CodeInvalidState, "documents can only be uploaded while the application is a draft")
	}
	if _, err := s.docTypes.Get(ctx, docTypeID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "document type not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load document type")
	}
	if storageKey == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "storage key is required")
	}

	upload := &models.DocumentUpload{
		ID:               id.NewUploadID(),
		ApplicationID:    appID,
		DocumentTypeID:   docTypeID,
		StorageKey:       storageKey,
		OriginalFilename: filename,
		ReviewStatus:     models.ReviewPending,
		CreatedAt:        s.now(),
	}
	if err := s.docs.Insert(ctx, upload); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "insert upload")
	}
	return upload, nil
}

// Submit moves a draft forward. With payment fields it creates the payment row
// and lands on submitted; without, it sets a payment deadline and lands on
// pending payment. Every document type required for the job category must have
// an upload of any review status.
func (s *Service) Submit(ctx context.Context, subject string, appID id.ApplicationID, req models.SubmitRequest) (*models.Application, error) {
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
	if app.Status != models.StatusDraft {
		return nil, dErrors.New(dErrors.CodeInvalidState, "application has already been submitted")
	}

	if err := s.checkRequiredDocuments(ctx, app); err != nil {
		return nil, err
	}

	now := s.now()
	err = tx.Run(ctx, s.db, func(ctx context.Context) error {
		if req.PayNow() {
			method, err := models.ParsePaymentMethod(req.Method)
			if err != nil {
				return err
			}
			if req.ReferenceNumber == "" {
				return dErrors.New(dErrors.CodeValidation, "payment reference number is required")
			}
			p := &models.Payment{
				ID:              id.NewPaymentID(),
				ApplicationID:   app.ID,
				Amount:          s.cfg.ProcessingFee,
				ServiceFee:      s.cfg.ServiceFee,
				NetAmount:       s.cfg.ProcessingFee + s.cfg.ServiceFee,
				Method:          method,
				ReferenceNumber: req.ReferenceNumber,
				Status:          models.PaymentPending,
				Current:         true,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := s.payments.Insert(ctx, p); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "create payment")
			}
			app.Status = models.StatusSubmitted
			return s.apps.SetStatus(ctx, app.ID, models.StatusSubmitted, now)
		}

		deadline := now.Add(s.cfg.PaymentDeadline)
		if err := s.apps.SetPaymentDeadline(ctx, app.ID, deadline); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "set payment deadline")
		}
		app.PaymentDeadline = &deadline
		app.Status = models.StatusPendingPayment
		return s.apps.SetStatus(ctx, app.ID, models.StatusPendingPayment, now)
	})
	if err != nil {
		return nil, err
	}
	app.UpdatedAt = now

	mode := "defer"
	if req.PayNow() {
		mode = "pay_now"
	}
	s.metrics.IncrementSubmission(mode)

	if s.notify != nil {
		if nerr := s.notify.NotifyApplicant(ctx, app, models.NotifyApplicationSubmit, "Application submitted",
			"Your health card application has been submitted.", "/applications/"+app.ID.String()); nerr != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "submission notification failed", "error", nerr)
		}
	}
	return app, nil
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

// checkRequiredDocuments fails with a validation error naming the first
// missing required document, in the catalog's stable order.
func (s *Service) checkRequiredDocuments(ctx context.Context, app *models.Application) error {
	types, err := s.docTypes.ListByCategory(ctx, app.JobCategoryID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "load document requirements")
	}
	for _, dt := range types {
		if !dt.IsRequired {
			continue
		}
		if _, err := s.docs.GetActive(ctx, app.ID, dt.ID); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeValidation, "missing required document: "+dt.Name)
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "check uploaded documents")
		}
	}
	return nil
}
