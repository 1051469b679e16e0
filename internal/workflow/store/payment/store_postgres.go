package payment

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

// PostgresStore persists payments append-only. A partial unique index on
// (application_id) WHERE current guarantees at most one current payment even
// under concurrent creates.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const paymentColumns = `id, application_id, amount, service_fee, net_amount, method,
	reference_number, status, current, maya_payment_id, maya_checkout_id, checkout_url,
	failure_reason, created_at, updated_at, paid_at`

func (s *PostgresStore) Insert(ctx context.Context, p *models.Payment) error {
	query := `
		INSERT INTO payments (id, application_id, amount, service_fee, net_amount, method,
			reference_number, status, current, maya_payment_id, maya_checkout_id,
			checkout_url, failure_reason, created_at, updated_at, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := tx.Resolve(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(p.ID),
		uuid.UUID(p.ApplicationID),
		p.Amount,
		p.ServiceFee,
		p.NetAmount,
		p.Method,
		p.ReferenceNumber,
		p.Status,
		p.Current,
		p.MayaPaymentID,
		p.MayaCheckoutID,
		p.CheckoutURL,
		p.FailureReason,
		p.CreatedAt,
		p.UpdatedAt,
		p.PaidAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, paymentID id.PaymentID) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	p, err := scanPayment(tx.Resolve(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(paymentID)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) Current(ctx context.Context, appID id.ApplicationID) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE application_id = $1 AND current`
	p, err := scanPayment(tx.Resolve(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(appID)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get current payment: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) GetByGatewayID(ctx context.Context, mayaPaymentID string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE maya_payment_id = $1 AND maya_payment_id <> ''`
	p, err := scanPayment(tx.Resolve(ctx, s.db).QueryRowContext(ctx, query, mayaPaymentID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get payment by gateway id: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) Supersede(ctx context.Context, paymentID id.PaymentID, now time.Time) error {
	query := `UPDATE payments SET current = FALSE, updated_at = $2 WHERE id = $1`
	res, err := tx.Resolve(ctx, s.db).ExecContext(ctx, query, uuid.UUID(paymentID), now)
	if err != nil {
		return fmt.Errorf("supersede payment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, paymentID id.PaymentID, status models.PaymentStatus, failureReason *string, paidAt *time.Time, now time.Time) error {
	query := `
		UPDATE payments
		SET status = $2,
			failure_reason = COALESCE($3, failure_reason),
			paid_at = COALESCE($4, paid_at),
			updated_at = $5
		WHERE id = $1
	`
	res, err := tx.Resolve(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(paymentID), status, failureReason, paidAt, now)
	if err != nil {
		return fmt.Errorf("set payment status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetGatewayRefs(ctx context.Context, paymentID id.PaymentID, mayaPaymentID, checkoutID, checkoutURL string, now time.Time) error {
	query := `
		UPDATE payments
		SET maya_payment_id = $2, maya_checkout_id = $3, checkout_url = $4, updated_at = $5
		WHERE id = $1
	`
	res, err := tx.Resolve(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(paymentID), mayaPaymentID, checkoutID, checkoutURL, now)
	if err != nil {
		return fmt.Errorf("set gateway refs: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListProcessingBefore(ctx context.Context, cutoff time.Time) ([]*models.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE status = 'processing' AND created_at < $1
		ORDER BY created_at
	`
	rows, err := tx.Resolve(ctx, s.db).QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list processing payments: %w", err)
	}
	defer rows.Close()

	var out []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(sc rowScanner) (*models.Payment, error) {
	var p models.Payment
	var pid, aid uuid.UUID
	if err := sc.Scan(&pid, &aid, &p.Amount, &p.ServiceFee, &p.NetAmount, &p.Method,
		&p.ReferenceNumber, &p.Status, &p.Current, &p.MayaPaymentID, &p.MayaCheckoutID,
		&p.CheckoutURL, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt, &p.PaidAt); err != nil {
		return nil, err
	}
	p.ID = id.PaymentID(pid)
	p.ApplicationID = id.ApplicationID(aid)
	return &p, nil
}
