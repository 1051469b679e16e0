// Package review is the document review state machine: admin rejections and
// referrals with atomic attempt counting, the resubmission loop, the deferred
// notification burst, and approval.
package review

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

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

type Service struct {
	db             *sql.DB
	users          ports.UserStore
	apps           ports.ApplicationStore
	docTypes       ports.DocumentTypeStore
	docs           ports.DocumentStore
	issues         ports.ReviewIssueStore
	payments       ports.PaymentStore
	notify         Notifier
	auditPublisher ports.AuditPublisher
	cfg            *wfconfig.Config
	metrics        *wfmetrics.Metrics
	logger         *slog.Logger
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
	issues ports.ReviewIssueStore,
	payments ports.PaymentStore,
	notifier Notifier,
	cfg *wfconfig.Config,
	opts ...Option,
) (*Service, error) {
	if users == nil || apps == nil || docTypes == nil || docs == nil || issues == nil || payments == nil {
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
		issues:   issues,
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

// RejectDocument records a rejection or medical referral against the active
// upload. The attempt number is assigned inside the insert, so two concurrent
// rejections can never share a number. Reaching the ceiling closes the
// application permanently instead of sending it back for revision.
// Applicant notification is deferred to SendReviewNotifications so an admin
// can reject several documents and trigger one consolidated burst.
func (s *Service) RejectDocument(ctx context.Context, subject string, appID id.ApplicationID, docTypeID id.DocumentTypeID, req models.RejectDocumentRequest) (*models.ReviewIssue, error) {
	admin, err := policy.ResolveUser(ctx, s.users, subject)
	if err != nil {
		return nil, err
	}
	app, err := s.getApplication(ctx, appID)
	if err != nil {
		return nil, err
	}
	if err := policy.RequireAdmin(admin, app); err != nil {
		return nil, err
	}
	if app.Status.Terminal() {
		return nil, dErrors.New(dErrors.CodeInvalidState, "application is in a terminal status")
	}

	kind, err := models.ParseIssueKind(req.Kind)
	if err != nil {
		return nil, err
	}
	if req.Reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "a rejection reason is required")
	}

	docType, err := s.docTypes.Get(ctx, docTypeID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "document type not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load document type")
	}
	upload, err := s.docs.GetActive(ctx, appID, docTypeID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no upload to reject for "+docType.Name)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load active upload")
	}

	now := s.now()
	var issue *models.ReviewIssue
	err = tx.Run(ctx, s.db, func(ctx context.Context) error {
		issue, err = s.issues.Append(ctx, &models.ReviewIssue{
			ID:             id.NewIssueID(),
			ApplicationID:  appID,
			Scope:          models.ScopeDocument,
			DocumentTypeID: docTypeID,
			Kind:           kind,
			Reason:         req.Reason,
			Issues:         req.Issues,
			ReviewerID:     admin.ID,
			CreatedAt:      now,
		})
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "record review issue")
		}

		if err := s.docs.SetReviewStatus(ctx, upload.ID, models.ReviewRejected, admin.ID, now); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "mark upload rejected")
		}

		next := models.StatusNeedsRevision
		if issue.AttemptNumber >= s.cfg.AttemptCeiling {
			next = models.StatusPermanentlyRejected
		}
		return s.apps.SetStatus(ctx, appID, next, now)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncrementReviewIssue(string(kind))

	if issue.AttemptNumber >= s.cfg.AttemptCeiling {
		ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.Event{
			Timestamp:     now,
			ApplicationID: appID,
			UserID:        admin.ID,
			Action:        "application_permanently_closed",
			Subject:       docType.Name,
			Decision:      string(kind),
			Reason:        req.Reason,
		}, "attempt_number", issue.AttemptNumber)
	}
	return issue, nil
}

// SendReviewNotifications drains every issue on the application that has not
// yet been notified, composes escalating-severity messages, inserts them, and
// marks the issues sent. Returns how many notifications went out.
func (s *Service) SendReviewNotifications(ctx context.Context, subject string, appID id.ApplicationID) (int, error) {
	admin, err := policy.ResolveUser(ctx, s.users, subject)
	if err != nil {
		return 0, err
	}
	app, err := s.getApplication(ctx, appID)
	if err != nil {
		return 0, err
	}
	if err := policy.RequireAdmin(admin, app); err != nil {
		return 0, err
	}

	unsent, err := s.issues.ListUnsent(ctx, appID)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "list unsent issues")
	}
	if len(unsent) == 0 {
		return 0, nil
	}

	now := s.now()
	var delivered []id.IssueID
	for _, issue := range unsent {
		docTypeName := "payment"
		if issue.Scope == models.ScopeDocument {
			if dt, err := s.docTypes.Get(ctx, issue.DocumentTypeID); err == nil {
				docTypeName = dt.Name
			} else {
				docTypeName = "document"
			}
		}
		title, message := composeIssueMessage(issue, docTypeName, s.cfg.AttemptCeiling)

		typ := models.NotifyDocumentRejected
		if issue.Kind == models.KindMedicalReferral {
			typ = models.NotifyDocumentReferred
		}
		if issue.AttemptNumber >= s.cfg.AttemptCeiling {
			typ = models.NotifyApplicationClosed
		}
		if nerr := s.notify.NotifyApplicant(ctx, app, typ, title, message, "/applications/"+appID.String()); nerr != nil {
			// Best effort: skip marking so the next drain retries this issue.
			if s.logger != nil {
				s.logger.WarnContext(ctx, "review notification insert failed",
					"issue_id", issue.ID.String(), "error", nerr)
			}
			continue
		}
		delivered = append(delivered, issue.ID)
	}

	if len(delivered) > 0 {
		if err := s.issues.MarkNotified(ctx, delivered, now); err != nil {
			return len(delivered), dErrors.Wrap(err, dErrors.CodeInternal, "mark issues notified")
		}
	}
	return len(delivered), nil
}

// ResubmitDocument replaces a rejected upload. The ceiling is recomputed
// inside the same transaction as the write: a count read earlier in the
// request is never trusted. The latest unresolved issue for the pair is
// marked replaced, the application returns to review, and the admins managing
// the category are notified.
func (s *Service) ResubmitDocument(ctx context.Context, subject string, appID id.ApplicationID, docTypeID id.DocumentTypeID, req models.ResubmitDocumentRequest) (*models.DocumentUpload, error) {
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
	if app.Status == models.StatusPermanentlyRejected {
		return nil, dErrors.New(dErrors.CodeInvalidState,
			"application is permanently closed; no further resubmission is possible")
	}
	if app.Status != models.StatusNeedsRevision && app.Status != models.StatusUnderReview {
		return nil, dErrors.New(dErrors.CodeInvalidState, "application is not awaiting document revision")
	}
	if req.StorageKey == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "storage key is required")
	}

	now := s.now()
	upload := &models.DocumentUpload{
		ID:               id.NewUploadID(),
		ApplicationID:    appID,
		DocumentTypeID:   docTypeID,
		StorageKey:       req.StorageKey,
		OriginalFilename: req.OriginalFilename,
		ReviewStatus:     models.ReviewPending,
		CreatedAt:        now,
	}

	err = tx.Run(ctx, s.db, func(ctx context.Context) error {
		// Recompute at commit time. Two racing resubmissions may both have
		// read 3 earlier; only the state inside this transaction counts.
		attempts, err := s.issues.CountAttempts(ctx, appID, docTypeID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "count attempts")
		}
		if attempts >= s.cfg.AttemptCeiling {
			return dErrors.New(dErrors.CodeInvalidState,
				"the resubmission limit for this document has been reached; the application is permanently closed")
		}

		latest, err := s.issues.LatestUnresolved(ctx, appID, docTypeID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeInvalidState,
					"this document has no rejection awaiting resubmission")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "find unresolved issue")
		}

		if err := s.docs.Insert(ctx, upload); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "insert replacement upload")
		}

		uploadID := upload.ID
		if err := s.issues.MarkReplaced(ctx, latest.ID, &uploadID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "mark issue replaced")
		}

		return s.apps.SetStatus(ctx, appID, models.StatusUnderReview, now)
	})
	if err != nil {
		return nil, err
	}

	if s.notify != nil {
		docTypeName := "a document"
		if dt, derr := s.docTypes.Get(ctx, docTypeID); derr == nil {
			docTypeName = dt.Name
		}
		if _, nerr := s.notify.NotifyAdmins(ctx, app, models.NotifyDocumentResubmit,
			"Document resubmitted",
			fmt.Sprintf("The applicant resubmitted %s for review.", docTypeName),
			"/admin/applications/"+appID.String()); nerr != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "resubmission notification failed", "error", nerr)
		}
	}
	return upload, nil
}

// VerifyDocument marks the active upload for a document type as verified.
func (s *Service) VerifyDocument(ctx context.Context, subject string, appID id.ApplicationID, docTypeID id.DocumentTypeID) error {
	admin, err := policy.ResolveUser(ctx, s.users, subject)
	if err != nil {
		return err
	}
	app, err := s.getApplication(ctx, appID)
	if err != nil {
		return err
	}
	if err := policy.RequireAdmin(admin, app); err != nil {
		return err
	}

	upload, err := s.docs.GetActive(ctx, appID, docTypeID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "no upload to verify")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "load active upload")
	}
	if err := s.docs.SetReviewStatus(ctx, upload.ID, models.ReviewVerified, admin.ID, s.now()); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "mark upload verified")
	}
	return nil
}

// Approve is the terminal happy-path transition. Every required document must
// be verified and the current payment complete.
func (s *Service) Approve(ctx context.Context, subject string, appID id.ApplicationID) (*models.Application, error) {
	admin, err := policy.ResolveUser(ctx, s.users, subject)
	if err != nil {
		return nil, err
	}
	app, err := s.getApplication(ctx, appID)
	if err != nil {
		return nil, err
	}
	if err := policy.RequireAdmin(admin, app); err != nil {
		return nil, err
	}
	if app.Status != models.StatusUnderReview {
		return nil, dErrors.New(dErrors.CodeInvalidState, "only applications under review can be approved")
	}

	types, err := s.docTypes.ListByCategory(ctx, app.JobCategoryID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load document requirements")
	}
	for _, dt := range types {
		if !dt.IsRequired {
			continue
		}
		upload, err := s.docs.GetActive(ctx, appID, dt.ID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil, dErrors.New(dErrors.CodeInvalidState, "missing document: "+dt.Name)
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load active upload")
		}
		if upload.ReviewStatus != models.ReviewVerified {
			return nil, dErrors.New(dErrors.CodeInvalidState, "document not yet verified: "+dt.Name)
		}
	}

	payment, err := s.payments.Current(ctx, appID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeInvalidState, "no payment on record")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load payment")
	}
	if payment.Status != models.PaymentComplete {
		return nil, dErrors.New(dErrors.CodeInvalidState, "payment has not been completed")
	}

	now := s.now()
	if err := s.apps.SetStatus(ctx, appID, models.StatusApproved, now); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "approve application")
	}
	app.Status = models.StatusApproved
	app.UpdatedAt = now

	ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.Event{
		Timestamp:     now,
		ApplicationID: appID,
		UserID:        admin.ID,
		Action:        "application_approved",
		Decision:      "approved",
	})

	if s.notify != nil {
		if nerr := s.notify.NotifyApplicant(ctx, app, models.NotifyApplicationDone,
			"Health card approved",
			"Your application has been approved. Your digital health card is now available.",
			"/applications/"+appID.String()); nerr != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "approval notification failed", "error", nerr)
		}
	}
	return app, nil
}

// ListRejections preserves the legacy read contract for plain rejections.
func (s *Service) ListRejections(ctx context.Context, subject string, appID id.ApplicationID) ([]*models.ReviewIssue, error) {
	return s.listByKind(ctx, subject, appID, models.KindRejection)
}

// ListReferrals preserves the legacy read contract for medical referrals.
func (s *Service) ListReferrals(ctx context.Context, subject string, appID id.ApplicationID) ([]*models.ReviewIssue, error) {
	return s.listByKind(ctx, subject, appID, models.KindMedicalReferral)
}

func (s *Service) listByKind(ctx context.Context, subject string, appID id.ApplicationID, kind models.IssueKind) ([]*models.ReviewIssue, error) {
	user, err := policy.ResolveUser(ctx, s.users, subject)
	if err != nil {
		return nil, err
	}
	app, err := s.getApplication(ctx, appID)
	if err != nil {
		return nil, err
	}
	if policy.RequireOwner(user, app) != nil && policy.RequireAdmin(user, app) != nil {
		return nil, dErrors.New(dErrors.CodeForbidden, "not permitted to read this application's history")
	}
	return s.issues.ListByKind(ctx, appID, kind)
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
