// Package domain holds typed identifiers and domain primitives shared across
// the workflow packages. IDs wrap uuid.UUID so the compiler keeps an
// ApplicationID from ever being passed where a UserID is expected.
package domain

import (
	"github.com/google/uuid"

	dErrors "healthpass/pkg/domain-errors"
)

type (
	// UserID identifies a local user (applicant or admin).
	UserID uuid.UUID
	// ApplicationID identifies one health-card application.
	ApplicationID uuid.UUID
	// JobCategoryID identifies a job category (food handler, skin-to-skin, etc.).
	JobCategoryID uuid.UUID
	// DocumentTypeID identifies a required/optional artifact kind for a category.
	DocumentTypeID uuid.UUID
	// UploadID identifies a single document upload row.
	UploadID uuid.UUID
	// IssueID identifies a review issue (rejection or medical referral) row.
	IssueID uuid.UUID
	// PaymentID identifies a payment row.
	PaymentID uuid.UUID
	// NotificationID identifies a notification row.
	NotificationID uuid.UUID
)

func parseUUID(s, what string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" must not be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" is not a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" must not be the nil UUID")
	}
	return u, nil
}

// ParseUserID validates and converts a string into a UserID.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user id")
	return UserID(u), err
}

// ParseApplicationID validates and converts a string into an ApplicationID.
func ParseApplicationID(s string) (ApplicationID, error) {
	u, err := parseUUID(s, "application id")
	return ApplicationID(u), err
}

// ParseDocumentTypeID validates and converts a string into a DocumentTypeID.
func ParseDocumentTypeID(s string) (DocumentTypeID, error) {
	u, err := parseUUID(s, "document type id")
	return DocumentTypeID(u), err
}

// ParsePaymentID validates and converts a string into a PaymentID.
func ParsePaymentID(s string) (PaymentID, error) {
	u, err := parseUUID(s, "payment id")
	return PaymentID(u), err
}

// ParseNotificationID validates and converts a string into a NotificationID.
func ParseNotificationID(s string) (NotificationID, error) {
	u, err := parseUUID(s, "notification id")
	return NotificationID(u), err
}

// ParseJobCategoryID validates and converts a string into a JobCategoryID.
func ParseJobCategoryID(s string) (JobCategoryID, error) {
	u, err := parseUUID(s, "job category id")
	return JobCategoryID(u), err
}

func (id UserID) String() string         { return uuid.UUID(id).String() }
func (id ApplicationID) String() string  { return uuid.UUID(id).String() }
func (id JobCategoryID) String() string  { return uuid.UUID(id).String() }
func (id DocumentTypeID) String() string { return uuid.UUID(id).String() }
func (id UploadID) String() string       { return uuid.UUID(id).String() }
func (id IssueID) String() string        { return uuid.UUID(id).String() }
func (id PaymentID) String() string      { return uuid.UUID(id).String() }
func (id NotificationID) String() string { return uuid.UUID(id).String() }

// IDs marshal as canonical UUID strings in JSON and text contexts.
func (id UserID) MarshalText() ([]byte, error)         { return []byte(id.String()), nil }
func (id ApplicationID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id JobCategoryID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id DocumentTypeID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id UploadID) MarshalText() ([]byte, error)       { return []byte(id.String()), nil }
func (id IssueID) MarshalText() ([]byte, error)        { return []byte(id.String()), nil }
func (id PaymentID) MarshalText() ([]byte, error)      { return []byte(id.String()), nil }
func (id NotificationID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *UserID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	*id = UserID(u)
	return err
}

func (id *ApplicationID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	*id = ApplicationID(u)
	return err
}

func (id *JobCategoryID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	*id = JobCategoryID(u)
	return err
}

func (id *DocumentTypeID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	*id = DocumentTypeID(u)
	return err
}

func (id *UploadID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	*id = UploadID(u)
	return err
}

func (id *IssueID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	*id = IssueID(u)
	return err
}

func (id *PaymentID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	*id = PaymentID(u)
	return err
}

func (id *NotificationID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	*id = NotificationID(u)
	return err
}

func (id UserID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }
func (id ApplicationID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id JobCategoryID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id DocumentTypeID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id UploadID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id PaymentID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }

// NewUserID mints a fresh random UserID.
func NewUserID() UserID { return UserID(uuid.New()) }

// NewApplicationID mints a fresh random ApplicationID.
func NewApplicationID() ApplicationID { return ApplicationID(uuid.New()) }

// NewJobCategoryID mints a fresh random JobCategoryID.
func NewJobCategoryID() JobCategoryID { return JobCategoryID(uuid.New()) }

// NewDocumentTypeID mints a fresh random DocumentTypeID.
func NewDocumentTypeID() DocumentTypeID { return DocumentTypeID(uuid.New()) }

// NewUploadID mints a fresh random UploadID.
func NewUploadID() UploadID { return UploadID(uuid.New()) }

// NewIssueID mints a fresh random IssueID.
func NewIssueID() IssueID { return IssueID(uuid.New()) }

// NewPaymentID mints a fresh random PaymentID.
func NewPaymentID() PaymentID { return PaymentID(uuid.New()) }

// NewNotificationID mints a fresh random NotificationID.
func NewNotificationID() NotificationID { return NotificationID(uuid.New()) }
