package crdb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/eventra/payment-settlement/internal/domain"
)

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(&p.ID, &p.EventID, &p.ParticipantID, &p.TicketTypeID,
		&p.Quantity, &p.Amount, &p.Status, &p.PaidAt)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPaymentForUpdate locks the payment row so a pair of racing settlements
// for the same payment serialize before either reads the registration table.
func (r *Repository) GetPaymentForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Payment, error) {
	return scanPayment(tx.QueryRow(ctx, `
		SELECT id, event_id, participant_id, ticket_type_id, quantity, amount, status, paid_at
		FROM payments WHERE id = $1 FOR UPDATE
	`, id))
}

func (r *Repository) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx, `
		SELECT id, event_id, participant_id, ticket_type_id, quantity, amount, status, paid_at
		FROM payments WHERE id = $1
	`, id))
}

// MarkPaymentPaid flips PENDING to PAID exactly once. A second webhook
// delivery finds no PENDING row and reports changed=false; the payment must
// still exist or ErrNotFound is returned.
func (r *Repository) MarkPaymentPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE payments SET status = 'PAID', paid_at = $2 WHERE id = $1 AND status = 'PENDING'
	`, id, paidAt)
	if err != nil {
		return false, err
	}
	if result.RowsAffected() > 0 {
		return true, nil
	}
	if _, err := r.GetPayment(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// MarkPaymentClosed records a FAILED or EXPIRED outcome for a still-PENDING
// payment. Redelivery of the same outcome is a no-op; any other terminal
// state, PAID included, is a conflict the caller must not paper over.
func (r *Repository) MarkPaymentClosed(ctx context.Context, id uuid.UUID, status domain.PaymentStatus) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE payments SET status = $2 WHERE id = $1 AND status = 'PENDING'
	`, id, status)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		p, err := r.GetPayment(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != status {
			return domain.ErrInvalidStateTransition
		}
	}
	return nil
}

func (r *Repository) InsertPayment(ctx context.Context, p domain.Payment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO payments (id, event_id, participant_id, ticket_type_id, quantity, amount, status, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.ID, p.EventID, p.ParticipantID, p.TicketTypeID, p.Quantity, p.Amount, p.Status, p.PaidAt)
	return err
}
