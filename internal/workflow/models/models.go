package models

import (
	"slices"
	"time"

	id "healthpass/pkg/domain"
	dErrors "healthpass/pkg/domain-errors"
)

// ApplicationStatus is the aggregate status driven by the review and payment
// workflows. Transitions are monotonic within a submission cycle except the
// revision/resubmit loop.
type ApplicationStatus string

const (
	StatusDraft                ApplicationStatus = "draft"
	StatusPendingPayment       ApplicationStatus = "pending_payment"
	StatusSubmitted            ApplicationStatus = "submitted"
	StatusForPaymentValidation ApplicationStatus = "for_payment_validation"
	StatusUnderReview          ApplicationStatus = "under_review"
	StatusNeedsRevision        ApplicationStatus = "documents_need_revision"
	StatusApproved             ApplicationStatus = "approved"
	StatusPermanentlyRejected  ApplicationStatus = "permanently_rejected"
)

// IsValid checks the status against the supported enum values.
func (s ApplicationStatus) IsValid() bool {
	switch s {
	case StatusDraft, StatusPendingPayment, StatusSubmitted, StatusForPaymentValidation,
		StatusUnderReview, StatusNeedsRevision, StatusApproved, StatusPermanentlyRejected:
		return true
	}
	return false
}

// Terminal reports whether no further workflow operation may move the application.
func (s ApplicationStatus) Terminal() bool {
	return s == StatusApproved || s == StatusPermanentlyRejected
}

// ReviewStatus is the per-upload verification state.
type ReviewStatus string

const (
	ReviewPending    ReviewStatus = "pending"
	ReviewVerified   ReviewStatus = "verified"
	ReviewRejected   ReviewStatus = "rejected"
	ReviewClassified ReviewStatus = "classified"
)

// IssueKind distinguishes plain document rejections from medical referrals.
// Both feed the same attempt counter; the source system kept them in two
// physical tables, here they are one entity with kind-filtered projections.
type IssueKind string

const (
	KindRejection       IssueKind = "rejection"
	KindMedicalReferral IssueKind = "medical_referral"
)

// ParseIssueKind validates a kind string.
func ParseIssueKind(s string) (IssueKind, error) {
	k := IssueKind(s)
	if k != KindRejection && k != KindMedicalReferral {
		return "", dErrors.New(dErrors.CodeInvalidInput, "issue kind must be 'rejection' or 'medical_referral'")
	}
	return k, nil
}

// IssueScope says what a review issue refers to: a document upload or the
// payment proof itself.
type IssueScope string

const (
	ScopeDocument IssueScope = "document"
	ScopePayment  IssueScope = "payment"
)

// PaymentStatus is the local payment lifecycle state.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentComplete   PaymentStatus = "complete"
	PaymentFailed     PaymentStatus = "failed"
	PaymentCancelled  PaymentStatus = "cancelled"
	PaymentExpired    PaymentStatus = "expired"
	PaymentRefunded   PaymentStatus = "refunded"
)

// PaymentMethod enumerates how the applicant pays.
type PaymentMethod string

const (
	MethodMaya           PaymentMethod = "maya"
	MethodGCash          PaymentMethod = "gcash"
	MethodCard           PaymentMethod = "card"
	MethodOverTheCounter PaymentMethod = "over_the_counter"
)

// ParsePaymentMethod validates a method string.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	m := PaymentMethod(s)
	switch m {
	case MethodMaya, MethodGCash, MethodCard, MethodOverTheCounter:
		return m, nil
	}
	return "", dErrors.New(dErrors.CodeInvalidInput, "unknown payment method: "+s)
}

// Role separates applicants from reviewing admins.
type Role string

const (
	RoleApplicant Role = "applicant"
	RoleAdmin     Role = "admin"
)

// User is a local user resolved from an external identity-provider subject.
type User struct {
	ID      id.UserID
	Subject string
	Email   string
	Name    string
	Role    Role
	// ManagedCategories limits which applications an admin sees. Empty means
	// super-admin: every category.
	ManagedCategories []id.JobCategoryID
	CreatedAt         time.Time
}

// CanSeeCategory is the admin audience predicate. An empty ManagedCategories
// list grants visibility into everything.
func (u *User) CanSeeCategory(categoryID id.JobCategoryID) bool {
	if u.Role != RoleAdmin {
		return false
	}
	if len(u.ManagedCategories) == 0 {
		return true
	}
	return slices.Contains(u.ManagedCategories, categoryID)
}

// Application is one applicant's end-to-end health-card request.
type Application struct {
	ID              id.ApplicationID
	ApplicantID     id.UserID
	JobCategoryID   id.JobCategoryID
	Status          ApplicationStatus
	PaymentDeadline *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PaymentOverdue reports whether a deferred payment has missed its deadline.
// Purely data-driven: recomputed from wall clock on each read, no timers.
func (a *Application) PaymentOverdue(now time.Time) bool {
	return a.Status == StatusPendingPayment &&
		a.PaymentDeadline != nil &&
		now.After(*a.PaymentDeadline)
}

// DocumentType is a named artifact kind tied to a job category.
type DocumentType struct {
	ID            id.DocumentTypeID
	JobCategoryID id.JobCategoryID
	Name          string
	IsRequired    bool
}

// DocumentUpload is one active row per (application, documentType).
// Resubmission inserts a new row; superseded rows are kept.
type DocumentUpload struct {
	ID               id.UploadID
	ApplicationID    id.ApplicationID
	DocumentTypeID   id.DocumentTypeID
	StorageKey       string
	OriginalFilename string
	ReviewStatus     ReviewStatus
	ReviewerID       *id.UserID
	ReviewedAt       *time.Time
	ExtractedText    string
	Classification   string
	CreatedAt        time.Time
}

// ReviewIssue is one rejection or medical-referral event. AttemptNumber is a
// 1-based counter shared across both kinds for the same (application, document
// type); it is assigned atomically at insert time, never from an earlier read.
type ReviewIssue struct {
	ID             id.IssueID
	ApplicationID  id.ApplicationID
	Scope          IssueScope
	DocumentTypeID id.DocumentTypeID // zero for payment-scoped issues
	Kind           IssueKind
	Reason         string
	Issues         []string
	AttemptNumber  int
	ReviewerID     id.UserID

	WasReplaced         bool
	ReplacementUploadID *id.UploadID

	NotificationSent   bool
	NotificationSentAt *time.Time

	CreatedAt time.Time
}

// Payment is append-only: a superseded payment is marked non-current, never
// deleted, so the payment audit trail survives independently of the review
// issue ledger.
type Payment struct {
	ID              id.PaymentID
	ApplicationID   id.ApplicationID
	Amount          int64
	ServiceFee      int64
	NetAmount       int64
	Method          PaymentMethod
	ReferenceNumber string
	Status          PaymentStatus
	Current         bool

	MayaPaymentID  string
	MayaCheckoutID string
	CheckoutURL    string
	FailureReason  string

	CreatedAt time.Time
	UpdatedAt time.Time
	PaidAt    *time.Time
}

// Abandoned reports whether a processing payment has sat past the timeout.
// Strictly greater-than: exactly at the boundary is not yet abandoned.
func (p *Payment) Abandoned(now time.Time, timeout time.Duration) bool {
	return p.Status == PaymentProcessing && now.Sub(p.CreatedAt) > timeout
}

// NotificationType tags a notification row for client rendering.
type NotificationType string

const (
	NotifyDocumentRejected   NotificationType = "document_rejected"
	NotifyDocumentReferred   NotificationType = "document_referred"
	NotifyDocumentResubmit   NotificationType = "document_resubmitted"
	NotifyPaymentCreated     NotificationType = "payment_created"
	NotifyPaymentResubmitted NotificationType = "payment_resubmitted"
	NotifyPaymentCancelled   NotificationType = "payment_cancelled"
	NotifyPaymentReceived    NotificationType = "payment_received"
	NotifyApplicationSubmit  NotificationType = "application_submitted"
	NotifyApplicationClosed  NotificationType = "application_closed"
	NotifyApplicationDone    NotificationType = "application_approved"
)

// Notification is a fire-and-forget intent-to-notify row. Delivery transport
// is out of scope; the workflow's obligation ends at the insert.
type Notification struct {
	ID            id.NotificationID
	UserID        id.UserID
	Type          NotificationType
	Title         string
	Message       string
	Read          bool
	ActionURL     string
	JobCategoryID *id.JobCategoryID
	CreatedAt     time.Time
}
