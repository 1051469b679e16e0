package models

import (
	"time"

	id "healthpass/pkg/domain"
)

// SubmitRequest carries the optional pay-now fields. When Method and
// ReferenceNumber are both empty the submission defers payment and the
// application gets a payment deadline instead.
type SubmitRequest struct {
	Method          string `json:"method,omitempty"`
	ReferenceNumber string `json:"referenceNumber,omitempty"`
}

// PayNow reports whether payment fields were supplied.
func (r SubmitRequest) PayNow() bool {
	return r.Method != "" || r.ReferenceNumber != ""
}

// RejectDocumentRequest is the admin decision payload.
type RejectDocumentRequest struct {
	Kind   string   `json:"kind"`
	Reason string   `json:"reason"`
	Issues []string `json:"issues,omitempty"`
}

// ResubmitDocumentRequest carries the replacement upload.
type ResubmitDocumentRequest struct {
	StorageKey       string `json:"storageKey"`
	OriginalFilename string `json:"originalFilename"`
}

// CreatePaymentRequest creates the application's payment. NetAmount must equal
// Amount + ServiceFee.
type CreatePaymentRequest struct {
	Amount          int64  `json:"amount"`
	ServiceFee      int64  `json:"serviceFee"`
	NetAmount       int64  `json:"netAmount"`
	Method          string `json:"method"`
	ReferenceNumber string `json:"referenceNumber"`
}

// ReturnOutcome is the redirect status reported by the gateway's return URL.
type ReturnOutcome string

const (
	ReturnSuccess   ReturnOutcome = "success"
	ReturnFailed    ReturnOutcome = "failed"
	ReturnCancelled ReturnOutcome = "cancelled"
)

// ReturnResult reports what the reconciler did with a gateway return.
type ReturnResult struct {
	PaymentID id.PaymentID  `json:"paymentId"`
	Status    PaymentStatus `json:"status"`
	// Reconciled is true when the gateway was consulted as the source of
	// truth, false when the redirect outcome was trusted as a fallback.
	Reconciled bool `json:"reconciled"`
}

// SweepEntry is the per-payment outcome of an abandoned-payment sweep.
// Failures are isolated: one failing repair never blocks the others.
type SweepEntry struct {
	PaymentID id.PaymentID `json:"paymentId"`
	Cancelled bool         `json:"cancelled"`
	Error     string       `json:"error,omitempty"`
}

// SweepReport summarizes one sweep invocation.
type SweepReport struct {
	Scanned   int          `json:"scanned"`
	Cancelled int          `json:"cancelled"`
	Failed    int          `json:"failed"`
	Entries   []SweepEntry `json:"entries"`
	SweptAt   time.Time    `json:"sweptAt"`
}
