package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the workflow module.
type Metrics struct {
	// Applications submitted by payment mode (pay_now, defer)
	Submissions *prometheus.CounterVec

	// Review issues recorded by kind (rejection, medical_referral)
	ReviewIssues *prometheus.CounterVec

	// Payment lifecycle transitions by resulting status
	PaymentTransitions *prometheus.CounterVec

	// Abandoned-payment sweep outcomes (cancelled, failed)
	SweepOutcomes *prometheus.CounterVec

	// Notifications inserted by audience (applicant, admin)
	Notifications *prometheus.CounterVec

	// Gateway call latency by operation
	GatewayLatency *prometheus.HistogramVec
}

// New creates a Metrics instance with all workflow metrics registered.
func New() *Metrics {
	return &Metrics{
		Submissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "healthpass_applications_submitted_total",
			Help: "Total applications submitted by payment mode",
		}, []string{"mode"}), // mode: "pay_now", "defer"

		ReviewIssues: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "healthpass_review_issues_total",
			Help: "Total review issues recorded by kind",
		}, []string{"kind"}),

		PaymentTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "healthpass_payment_transitions_total",
			Help: "Total payment status transitions by resulting status",
		}, []string{"status"}),

		SweepOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "healthpass_sweep_outcomes_total",
			Help: "Total abandoned-payment sweep outcomes",
		}, []string{"outcome"}), // outcome: "cancelled", "failed"

		Notifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "healthpass_notifications_total",
			Help: "Total notifications inserted by audience",
		}, []string{"audience"}),

		GatewayLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "healthpass_gateway_duration_seconds",
			Help:    "Duration of payment gateway calls by operation",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation"}), // operation: "create_checkout", "get_payment"
	}
}

// IncrementSubmission records an application submission.
func (m *Metrics) IncrementSubmission(mode string) {
	if m != nil {
		m.Submissions.WithLabelValues(mode).Inc()
	}
}

// IncrementReviewIssue records a rejection or referral.
func (m *Metrics) IncrementReviewIssue(kind string) {
	if m != nil {
		m.ReviewIssues.WithLabelValues(kind).Inc()
	}
}

// IncrementPaymentTransition records a payment status change.
func (m *Metrics) IncrementPaymentTransition(status string) {
	if m != nil {
		m.PaymentTransitions.WithLabelValues(status).Inc()
	}
}

// IncrementSweepOutcome records one per-payment sweep result.
func (m *Metrics) IncrementSweepOutcome(outcome string) {
	if m != nil {
		m.SweepOutcomes.WithLabelValues(outcome).Inc()
	}
}

// IncrementNotification records an inserted notification.
func (m *Metrics) IncrementNotification(audience string) {
	if m != nil {
		m.Notifications.WithLabelValues(audience).Inc()
	}
}

// ObserveGatewayLatency records the duration of one gateway call.
func (m *Metrics) ObserveGatewayLatency(operation string, d time.Duration) {
	if m != nil {
		m.GatewayLatency.WithLabelValues(operation).Observe(d.Seconds())
	}
}
