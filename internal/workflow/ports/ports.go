// Package ports defines shared interfaces for the workflow module.
// Interfaces live here when consumed by multiple services to avoid duplication.
package ports

import (
	"context"
	"log/slog"
	"time"

	"healthpass/internal/audit"
	"healthpass/internal/platform/middleware"
	"healthpass/internal/workflow/models"
	id "healthpass/pkg/domain"
)

// AuditPublisher emits audit events for workflow-significant operations.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// UserStore resolves authenticated identities and admin audiences.
type UserStore interface {
	// GetBySubject resolves an external IdP subject to a local user.
	// Returns sentinel.ErrNotFound when no local record exists.
	GetBySubject(ctx context.Context, subject string) (*models.User, error)

	// Get fetches a user by id.
	Get(ctx context.Context, userID id.UserID) (*models.User, error)

	// ListAdmins returns every admin user; audience filtering happens in the
	// notify service via User.CanSeeCategory.
	ListAdmins(ctx context.Context) ([]*models.User, error)
}

// ApplicationStore persists the application aggregate.
type ApplicationStore interface {
	Get(ctx context.Context, appID id.ApplicationID) (*models.Application, error)

	Create(ctx context.Context, app *models.Application) error

	// SetStatus moves the aggregate status and bumps updated_at.
	SetStatus(ctx context.Context, appID id.ApplicationID, status models.ApplicationStatus, now time.Time) error

	// SetPaymentDeadline records the defer-payment deadline alongside the status.
	SetPaymentDeadline(ctx context.Context, appID id.ApplicationID, deadline time.Time) error

	ListByStatus(ctx context.Context, status models.ApplicationStatus) ([]*models.Application, error)
}

// DocumentTypeStore reads the per-category document requirements.
type DocumentTypeStore interface {
	Get(ctx context.Context, docTypeID id.DocumentTypeID) (*models.DocumentType, error)

	// ListByCategory returns the document types for a job category, required
	// ones first, in a stable order.
	ListByCategory(ctx context.Context, categoryID id.JobCategoryID) ([]*models.DocumentType, error)
}

// DocumentStore persists uploads. One active row per (application, document
// type); resubmission inserts a new row, the old one stays for the audit trail.
type DocumentStore interface {
	Insert(ctx context.Context, upload *models.DocumentUpload) error

	// GetActive returns the most recent upload for the pair, or
	// sentinel.ErrNotFound if none exists.
	GetActive(ctx context.Context, appID id.ApplicationID, docTypeID id.DocumentTypeID) (*models.DocumentUpload, error)

	ListByApplication(ctx context.Context, appID id.ApplicationID) ([]*models.DocumentUpload, error)

	SetReviewStatus(ctx context.Context, uploadID id.UploadID, status models.ReviewStatus, reviewerID id.UserID, now time.Time) error
}

// ReviewIssueStore is the rejection/referral ledger. Both kinds share one
// physical table; the legacy dual-table read contract survives as ListByKind.
type ReviewIssueStore interface {
	// Append inserts an issue with attempt_number computed atomically as
	// count(existing issues for the pair)+1, regardless of kind. The returned
	// issue carries the assigned number. The ceiling is NOT enforced here;
	// services decide what the number means.
	Append(ctx context.Context, issue *models.ReviewIssue) (*models.ReviewIssue, error)

	// CountAttempts returns the effective attempt number for a document type:
	// all issues of any kind for the pair.
	CountAttempts(ctx context.Context, appID id.ApplicationID, docTypeID id.DocumentTypeID) (int, error)

	// LatestUnresolved returns the most recent issue with was_replaced=false
	// for the pair, or sentinel.ErrNotFound.
	LatestUnresolved(ctx context.Context, appID id.ApplicationID, docTypeID id.DocumentTypeID) (*models.ReviewIssue, error)

	// LatestUnresolvedPayment is the payment-scoped variant used by payment
	// resubmission.
	LatestUnresolvedPayment(ctx context.Context, appID id.ApplicationID) (*models.ReviewIssue, error)

	// MarkReplaced flips was_replaced and records the replacement upload.
	// A payment-scoped issue carries no upload; pass nil.
	MarkReplaced(ctx context.Context, issueID id.IssueID, uploadID *id.UploadID) error

	// ListUnsent returns issues awaiting the consolidated notification burst.
	ListUnsent(ctx context.Context, appID id.ApplicationID) ([]*models.ReviewIssue, error)

	MarkNotified(ctx context.Context, issueIDs []id.IssueID, now time.Time) error

	// ListByKind preserves the legacy read contract: callers may still query
	// "rejection history" and "referral history" separately.
	ListByKind(ctx context.Context, appID id.ApplicationID, kind models.IssueKind) ([]*models.ReviewIssue, error)
}

// PaymentStore persists payments append-only with a current pointer.
type PaymentStore interface {
	Insert(ctx context.Context, p *models.Payment) error

	Get(ctx context.Context, paymentID id.PaymentID) (*models.Payment, error)

	// Current returns the application's current payment, or sentinel.ErrNotFound.
	Current(ctx context.Context, appID id.ApplicationID) (*models.Payment, error)

	// GetByGatewayID looks a payment up by its Maya payment id, for webhook
	// correlation.
	GetByGatewayID(ctx context.Context, mayaPaymentID string) (*models.Payment, error)

	// Supersede clears the current flag so a replacement can be inserted.
	Supersede(ctx context.Context, paymentID id.PaymentID, now time.Time) error

	// SetStatus updates the lifecycle status; failureReason and paidAt are
	// recorded when non-nil.
	SetStatus(ctx context.Context, paymentID id.PaymentID, status models.PaymentStatus, failureReason *string, paidAt *time.Time, now time.Time) error

	SetGatewayRefs(ctx context.Context, paymentID id.PaymentID, mayaPaymentID, checkoutID, checkoutURL string, now time.Time) error

	// ListProcessingBefore returns processing payments created strictly before
	// cutoff. Cancelled payments fall out of this filter, which is what makes
	// the sweep re-entrant.
	ListProcessingBefore(ctx context.Context, cutoff time.Time) ([]*models.Payment, error)
}

// NotificationStore persists intent-to-notify rows.
type NotificationStore interface {
	Insert(ctx context.Context, n *models.Notification) error
	ListByUser(ctx context.Context, userID id.UserID) ([]*models.Notification, error)
	MarkRead(ctx context.Context, notificationID id.NotificationID, userID id.UserID) error
}

// IdempotencyStore hands out single-use claims so webhook redelivery and
// double redirects collapse into one effective mutation.
type IdempotencyStore interface {
	// Claim returns true exactly once per key within ttl.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release gives a claimed key back so a later delivery can claim it
	// again. Used when processing fails after the claim.
	Release(ctx context.Context, key string) error
}

// CheckoutRequest is what the workflow sends outbound to the gateway.
type CheckoutRequest struct {
	ApplicationID id.ApplicationID
	Amount        int64
	Description   string
	BuyerName     string
	BuyerEmail    string
	SuccessURL    string
	FailureURL    string
	CancelURL     string
}

// CheckoutSession is the gateway's answer to a checkout creation.
type CheckoutSession struct {
	CheckoutID  string
	PaymentID   string
	CheckoutURL string
}

// GatewayPayment is the gateway's authoritative view of a payment.
type GatewayPayment struct {
	PaymentID string
	Status    models.PaymentStatus
	PaidAt    *time.Time
}

// Gateway is the payment-provider boundary. The workflow treats it as "give me
// an authoritative status for payment X" and tolerates it being unreachable by
// degrading to trust-the-redirect.
type Gateway interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	GetPayment(ctx context.Context, mayaPaymentID string) (*GatewayPayment, error)
}

// LogAudit is a shared helper for logging audit events across workflow services.
// It logs to both the structured logger and the audit publisher if available.
func LogAudit(ctx context.Context, logger *slog.Logger, publisher AuditPublisher, event audit.Event, attrs ...any) {
	if requestID := middleware.GetRequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	args := append(attrs, "event", event.Action, "log_type", "audit")

	if logger != nil {
		logger.InfoContext(ctx, event.Action, args...)
	}

	if publisher == nil {
		return
	}
	if err := publisher.Emit(ctx, event); err != nil && logger != nil {
		logger.WarnContext(ctx, "failed to emit audit event", "event", event.Action, "error", err)
	}
}
