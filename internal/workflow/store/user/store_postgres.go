package user

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"healthpass/internal/workflow/models"
	id "healthpass/pkg/domain"
	"healthpass/pkg/platform/sentinel"
	"healthpass/pkg/platform/tx"
)

// PostgresStore persists users in PostgreSQL. Pure I/O; role and audience
// rules belong in the services.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const userColumns = `id, subject, email, name, role, managed_categories, created_at`

func (s *PostgresStore) GetBySubject(ctx context.Context, subject string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE subject = $1`
	u, err := scanUser(tx.Resolve(ctx, s.db).QueryRowContext(ctx, query, subject))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get user by subject: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) Get(ctx context.Context, userID id.UserID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(tx.Resolve(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(userID)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) ListAdmins(ctx context.Context) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE role = 'admin'`
	rows, err := tx.Resolve(ctx, s.db).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	defer rows.Close()

	var out []*models.User
	for rows.Next() {
		u, err := scanUserRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan admin: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate admins: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(sc rowScanner) (*models.User, error) {
	var u models.User
	var uid uuid.UUID
	var managed []string
	if err := sc.Scan(&uid, &u.Subject, &u.Email, &u.Name, &u.Role, pq.Array(&managed), &u.CreatedAt); err != nil {
		return nil, err
	}
	u.ID = id.UserID(uid)
	for _, m := range managed {
		cat, err := uuid.Parse(m)
		if err != nil {
			return nil, fmt.Errorf("parse managed category %q: %w", m, err)
		}
		u.ManagedCategories = append(u.ManagedCategories, id.JobCategoryID(cat))
	}
	return &u, nil
}

func scanUser(row *sql.Row) (*models.User, error)      { return scanRow(row) }
func scanUserRows(rows *sql.Rows) (*models.User, error) { return scanRow(rows) }
