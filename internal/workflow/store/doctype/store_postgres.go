package doctype

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

// PostgresStore reads the document-type catalog from PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, docTypeID id.DocumentTypeID) (*models.DocumentType, error) {
	query := `SELECT id, job_category_id, name, is_required FROM document_types WHERE id = $1`
	var dt models.DocumentType
	var tid, cid uuid.UUID
	err := tx.Resolve(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(docTypeID)).
		Scan(&tid, &cid, &dt.Name, &dt.IsRequired)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get document type: %w", err)
	}
	dt.ID = id.DocumentTypeID(tid)
	dt.JobCategoryID = id.JobCategoryID(cid)
	return &dt, nil
}

func (s *PostgresStore) ListByCategory(ctx context.Context, categoryID id.JobCategoryID) ([]*models.DocumentType, error) {
	query := `
		SELECT id, job_category_id, name, is_required
		FROM document_types
		WHERE job_category_id = $1
		ORDER BY is_required DESC, name
	`
	rows, err := tx.Resolve(ctx, s.db).QueryContext(ctx, query, uuid.UUID(categoryID))
	if err != nil {
		return nil, fmt.Errorf("list document types: %w", err)
	}
	defer rows.Close()

	var out []*models.DocumentType
	for rows.Next() {
		var dt models.DocumentType
		var tid, cid uuid.UUID
		if err := rows.Scan(&tid, &cid, &dt.Name, &dt.IsRequired); err != nil {
			return nil, fmt.Errorf("scan document type: %w", err)
		}
		dt.ID = id.DocumentTypeID(tid)
		dt.JobCategoryID = id.JobCategoryID(cid)
		out = append(out, &dt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document types: %w", err)
	}
	return out, nil
}
