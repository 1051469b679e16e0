package notification

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"healthpass/internal/workflow/models"
	id "healthpass/pkg/domain"
	"healthpass/pkg/platform/sentinel"
	"healthpass/pkg/platform/tx"
)

// PostgresStore persists intent-to-notify rows. Delivery transport lives
// elsewhere; this table is the workflow's whole obligation.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (id, user_id, type, title, message, read, action_url,
			job_category_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	var category any
	if n.JobCategoryID != nil {
		category = uuid.UUID(*n.JobCategoryID)
	}
	_, err := tx.Resolve(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(n.ID),
		uuid.UUID(n.UserID),
		n.Type,
		n.Title,
		n.Message,
		n.Read,
		n.ActionURL,
		category,
		n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID id.UserID) ([]*models.Notification, error) {
	query := `
		SELECT id, user_id, type, title, message, read, action_url, job_category_id, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := tx.Resolve(ctx, s.db).QueryContext(ctx, query, uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		var n models.Notification
		var nid, uid uuid.UUID
		var category *uuid.UUID
		if err := rows.Scan(&nid, &uid, &n.Type, &n.Title, &n.Message, &n.Read,
			&n.ActionURL, &category, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.ID = id.NotificationID(nid)
		n.UserID = id.UserID(uid)
		if category != nil {
			c := id.JobCategoryID(*category)
			n.JobCategoryID = &c
		}
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) MarkRead(ctx context.Context, notificationID id.NotificationID, userID id.UserID) error {
	query := `UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`
	res, err := tx.Resolve(ctx, s.db).ExecContext(ctx, query, uuid.UUID(notificationID), uuid.UUID(userID))
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
