package reviewissue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"healthpass/internal/workflow/models"
	id "healthpass/pkg/domain"
	"healthpass/pkg/platform/sentinel"
	"healthpass/pkg/platform/tx"
)

// PostgresStore is the rejection/referral ledger. One physical table holds
// both kinds; the legacy dual-table read contract is served by kind filters.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const issueColumns = `id, application_id, scope, document_type_id, kind, reason, issues,
	attempt_number, reviewer_id, was_replaced, replacement_upload_id,
	notification_sent, notification_sent_at, created_at`

// Append inserts the issue with attempt_number recomputed inside the insert
// statement. Two concurrent rejections cannot observe the same counter value:
// the subselect runs at write time, not at whatever point the caller last read.
func (s *PostgresStore) Append(ctx context.Context, issue *models.ReviewIssue) (*models.ReviewIssue, error) {
	query := `
		INSERT INTO review_issues (id, application_id, scope, document_type_id, kind, reason,
			issues, attempt_number, reviewer_id, was_replaced, replacement_upload_id,
			notification_sent, notification_sent_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7,
			(SELECT COUNT(*) + 1 FROM review_issues
			 WHERE application_id = $2 AND scope = $3 AND document_type_id = $4),
			$8, FALSE, NULL, FALSE, NULL, $9)
		RETURNING ` + issueColumns + `
	`
	out, err := scanIssue(tx.Resolve(ctx, s.db).QueryRowContext(ctx, query,
		uuid.UUID(issue.ID),
		uuid.UUID(issue.ApplicationID),
		issue.Scope,
		uuid.UUID(issue.DocumentTypeID),
		issue.Kind,
		issue.Reason,
		pq.Array(issue.Issues),
		uuid.UUID(issue.ReviewerID),
		issue.CreatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("append review issue: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CountAttempts(ctx context.Context, appID id.ApplicationID, docTypeID id.DocumentTypeID) (int, error) {
	query := `
		SELECT COUNT(*) FROM review_issues
		WHERE application_id = $1 AND scope = 'document' AND document_type_id = $2
	`
	var n int
	err := tx.Resolve(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(appID), uuid.UUID(docTypeID)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) LatestUnresolved(ctx context.Context, appID id.ApplicationID, docTypeID id.DocumentTypeID) (*models.ReviewIssue, error) {
	query := `
		SELECT ` + issueColumns + `
		FROM review_issues
		WHERE application_id = $1 AND scope = 'document' AND document_type_id = $2
			AND was_replaced = FALSE
		ORDER BY created_at DESC
		LIMIT 1
	`
	issue, err := scanIssue(tx.Resolve(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(appID), uuid.UUID(docTypeID)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("latest unresolved issue: %w", err)
	}
	return issue, nil
}

func (s *PostgresStore) LatestUnresolvedPayment(ctx context.Context, appID id.ApplicationID) (*models.ReviewIssue, error) {
	query := `
		SELECT ` + issueColumns + `
		FROM review_issues
		WHERE application_id = $1 AND scope = 'payment' AND was_replaced = FALSE
		ORDER BY created_at DESC
		LIMIT 1
	`
	issue, err := scanIssue(tx.Resolve(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(appID)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("latest unresolved payment issue: %w", err)
	}
	return issue, nil
}

func (s *PostgresStore) MarkReplaced(ctx context.Context, issueID id.IssueID, uploadID *id.UploadID) error {
	query := `
		UPDATE review_issues
		SET was_replaced = TRUE, replacement_upload_id = $2
		WHERE id = $1
	`
	var upload any
	if uploadID != nil {
		upload = uuid.UUID(*uploadID)
	}
	res, err := tx.Resolve(ctx, s.db).ExecContext(ctx, query, uuid.UUID(issueID), upload)
	if err != nil {
		return fmt.Errorf("mark issue replaced: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListUnsent(ctx context.Context, appID id.ApplicationID) ([]*models.ReviewIssue, error) {
	query := `
		SELECT ` + issueColumns + `
		FROM review_issues
		WHERE application_id = $1 AND notification_sent = FALSE
		ORDER BY created_at
	`
	return s.list(ctx, query, uuid.UUID(appID))
}

func (s *PostgresStore) MarkNotified(ctx context.Context, issueIDs []id.IssueID, now time.Time) error {
	if len(issueIDs) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(issueIDs))
	for i, iid := range issueIDs {
		ids[i] = uuid.UUID(iid)
	}
	query := `
		UPDATE review_issues
		SET notification_sent = TRUE, notification_sent_at = $2
		WHERE id = ANY($1)
	`
	_, err := tx.Resolve(ctx, s.db).ExecContext(ctx, query, pq.Array(ids), now)
	if err != nil {
		return fmt.Errorf("mark issues notified: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByKind(ctx context.Context, appID id.ApplicationID, kind models.IssueKind) ([]*models.ReviewIssue, error) {
	query := `
		SELECT ` + issueColumns + `
		FROM review_issues
		WHERE application_id = $1 AND kind = $2
		ORDER BY created_at
	`
	return s.list(ctx, query, uuid.UUID(appID), kind)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*models.ReviewIssue, error) {
	rows, err := tx.Resolve(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list review issues: %w", err)
	}
	defer rows.Close()

	var out []*models.ReviewIssue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review issue: %w", err)
		}
		out = append(out, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review issues: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIssue(sc rowScanner) (*models.ReviewIssue, error) {
	var issue models.ReviewIssue
	var iid, aid, tid, reviewer uuid.UUID
	var replacement *uuid.UUID
	var issues []string
	if err := sc.Scan(&iid, &aid, &issue.Scope, &tid, &issue.Kind, &issue.Reason,
		pq.Array(&issues), &issue.AttemptNumber, &reviewer, &issue.WasReplaced,
		&replacement, &issue.NotificationSent, &issue.NotificationSentAt,
		&issue.CreatedAt); err != nil {
		return nil, err
	}
	issue.ID = id.IssueID(iid)
	issue.ApplicationID = id.ApplicationID(aid)
	issue.DocumentTypeID = id.DocumentTypeID(tid)
	issue.ReviewerID = id.UserID(reviewer)
	issue.Issues = issues
	if replacement != nil {
		r := id.UploadID(*replacement)
		issue.ReplacementUploadID = &r
	}
	return &issue, nil
}
