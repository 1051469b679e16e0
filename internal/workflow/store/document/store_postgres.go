package document

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"healthpass/internal/workflow/models"
	id "healthpass/pkg/domain"
	"healthpass/pkg/platform/sentinel"
	"healthpass/pkg/platform/tx"
)

// PostgresStore persists document uploads append-only. The active row for a
// (application, document type) pair is the newest by created_at.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const uploadColumns = `id, application_id, document_type_id, storage_key, original_filename,
	review_status, reviewer_id, reviewed_at, extracted_text, classification, created_at`

func (s *PostgresStore) Insert(ctx context.Context, upload *models.DocumentUpload) error {
	query := `
		INSERT INTO document_uploads (id, application_id, document_type_id, storage_key,
			original_filename, review_status, reviewer_id, reviewed_at, extracted_text,
			classification, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	var reviewer any
	if upload.ReviewerID != nil {
		reviewer = uuid.UUID(*upload.ReviewerID)
	}
	_, err := tx.Resolve(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(upload.ID),
		uuid.UUID(upload.ApplicationID),
		uuid.UUID(upload.DocumentTypeID),
		upload.StorageKey,
		upload.OriginalFilename,
		upload.ReviewStatus,
		reviewer,
		upload.ReviewedAt,
		upload.ExtractedText,
		upload.Classification,
		upload.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document upload: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetActive(ctx context.Context, appID id.ApplicationID, docTypeID id.DocumentTypeID) (*models.DocumentUpload, error) {
	query := `
		SELECT ` + uploadColumns + `
		FROM document_uploads
		WHERE application_id = $1 AND document_type_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	u, err := scanUpload(tx.Resolve(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(appID), uuid.UUID(docTypeID)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get active upload: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) ListByApplication(ctx context.Context, appID id.ApplicationID) ([]*models.DocumentUpload, error) {
	query := `
		SELECT DISTINCT ON (document_type_id) ` + uploadColumns + `
		FROM document_uploads
		WHERE application_id = $1
		ORDER BY document_type_id, created_at DESC
	`
	rows, err := tx.Resolve(ctx, s.db).QueryContext(ctx, query, uuid.UUID(appID))
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	var out []*models.DocumentUpload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate uploads: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SetReviewStatus(ctx context.Context, uploadID id.UploadID, status models.ReviewStatus, reviewerID id.UserID, now time.Time) error {
	query := `
		UPDATE document_uploads
		SET review_status = $2, reviewer_id = $3, reviewed_at = $4
		WHERE id = $1
	`
	res, err := tx.Resolve(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(uploadID), status, uuid.UUID(reviewerID), now)
	if err != nil {
		return fmt.Errorf("set review status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUpload(sc rowScanner) (*models.DocumentUpload, error) {
	var u models.DocumentUpload
	var uid, aid, tid uuid.UUID
	var reviewer *uuid.UUID
	if err := sc.Scan(&uid, &aid, &tid, &u.StorageKey, &u.OriginalFilename,
		&u.ReviewStatus, &reviewer, &u.ReviewedAt, &u.ExtractedText,
		&u.Classification, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.ID = id.UploadID(uid)
	u.ApplicationID = id.ApplicationID(aid)
	u.DocumentTypeID = id.DocumentTypeID(tid)
	if reviewer != nil {
		r := id.UserID(*reviewer)
		u.ReviewerID = &r
	}
	return &u, nil
}
