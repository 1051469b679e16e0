package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	id "healthpass/pkg/domain"
	"healthpass/pkg/platform/tx"
)

// PostgresStore persists audit events in PostgreSQL. Append-only: there is no
// update or delete path.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	query := `
		INSERT INTO audit_events (application_id, user_id, action, subject, decision, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := tx.Resolve(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(event.ApplicationID),
		uuid.UUID(event.UserID),
		event.Action,
		event.Subject,
		event.Decision,
		event.Reason,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByApplication(ctx context.Context, appID id.ApplicationID) ([]Event, error) {
	query := `
		SELECT application_id, user_id, action, subject, decision, reason, created_at
		FROM audit_events
		WHERE application_id = $1
		ORDER BY created_at
	`
	rows, err := tx.Resolve(ctx, s.db).QueryContext(ctx, query, uuid.UUID(appID))
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var aid, uid uuid.UUID
		if err := rows.Scan(&aid, &uid, &e.Action, &e.Subject, &e.Decision, &e.Reason, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.ApplicationID = id.ApplicationID(aid)
		e.UserID = id.UserID(uid)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return out, nil
}
