package audit

import (
	"context"
	"time"

	id "healthpass/pkg/domain"
)

// Event is emitted from workflow logic to capture key actions: payment
// cancellations, permanent closures, reconciliation outcomes. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp     time.Time
	ApplicationID id.ApplicationID
	UserID        id.UserID
	Action        string
	Subject       string
	Decision      string
	Reason        string
}

// Store persists audit events append-only.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByApplication(ctx context.Context, appID id.ApplicationID) ([]Event, error)
}
