package application

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

// PostgresStore persists the application aggregate. Status legality is decided
// in the services; this store is pure I/O.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const appColumns = `id, applicant_id, job_category_id, status, payment_deadline, created_at, updated_at`

func (s *PostgresStore) Get(ctx context.Context, appID id.ApplicationID) (*models.Application, error) {
	query := `SELECT ` + appColumns + ` FROM applications WHERE id = $1`
	app, err := scanApplication(tx.Resolve(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(appID)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get application: %w", err)
	}
	return app, nil
}

func (s *PostgresStore) Create(ctx context.Context, app *models.Application) error {
	query := `
		INSERT INTO applications (id, applicant_id, job_category_id, status, payment_deadline, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := tx.Resolve(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(app.ID),
		uuid.UUID(app.ApplicantID),
		uuid.UUID(app.JobCategoryID),
		app.Status,
		app.PaymentDeadline,
		app.CreatedAt,
		app.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, appID id.ApplicationID, status models.ApplicationStatus, now time.Time) error {
	query := `UPDATE applications SET status = $2, updated_at = $3 WHERE id = $1`
	res, err := tx.Resolve(ctx, s.db).ExecContext(ctx, query, uuid.UUID(appID), status, now)
	if err != nil {
		return fmt.Errorf("set application status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetPaymentDeadline(ctx context.Context, appID id.ApplicationID, deadline time.Time) error {
	query := `UPDATE applications SET payment_deadline = $2 WHERE id = $1`
	res, err := tx.Resolve(ctx, s.db).ExecContext(ctx, query, uuid.UUID(appID), deadline)
	if err != nil {
		return fmt.Errorf("set payment deadline: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status models.ApplicationStatus) ([]*models.Application, error) {
	query := `SELECT ` + appColumns + ` FROM applications WHERE status = $1 ORDER BY created_at`
	rows, err := tx.Resolve(ctx, s.db).QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("list applications by status: %w", err)
	}
	defer rows.Close()

	var out []*models.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		out = append(out, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applications: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(sc rowScanner) (*models.Application, error) {
	var app models.Application
	var aid, applicant, category uuid.UUID
	if err := sc.Scan(&aid, &applicant, &category, &app.Status, &app.PaymentDeadline, &app.CreatedAt, &app.UpdatedAt); err != nil {
		return nil, err
	}
	app.ID = id.ApplicationID(aid)
	app.ApplicantID = id.UserID(applicant)
	app.JobCategoryID = id.JobCategoryID(category)
	return &app, nil
}
