// Package config holds the workflow's tunable constants. They are injected
// into services so tests can exercise boundary values (a 1-second abandonment
// timeout) without waiting on real clocks.
package config

import "time"

// Config captures the review and payment workflow rules.
type Config struct {
	// AttemptCeiling is the review-issue count at which an application is
	// permanently closed for a document type. The first three issues are each
	// a real resubmission chance; the fourth triggers closure.
	AttemptCeiling int

	// AbandonedTimeout is how long a payment may sit in processing before the
	// checkout is presumed abandoned. Strictly greater-than: a payment exactly
	// at the boundary is not yet abandoned.
	AbandonedTimeout time.Duration

	// PaymentDeadline is how long an applicant has to pay after submitting
	// with deferred payment.
	PaymentDeadline time.Duration

	// ProcessingFee and ServiceFee are the standard charge in centavos.
	ProcessingFee int64
	ServiceFee    int64

	// SweepConcurrency bounds the abandoned-payment sweep worker count.
	SweepConcurrency int
}

// DefaultConfig returns production values.
func DefaultConfig() *Config {
	return &Config{
		AttemptCeiling:   4,
		AbandonedTimeout: 5 * time.Minute,
		PaymentDeadline:  7 * 24 * time.Hour,
		ProcessingFee:    30000,
		ServiceFee:       1500,
		SweepConcurrency: 4,
	}
}
