package crdb

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/eventra/payment-settlement/internal/domain"
)

const registrationColumns = `id, event_id, participant_id, ticket_type_id, payment_id, status, registration_token, quantity, created_at`

func scanRegistration(row pgx.Row) (*domain.Registration, error) {
	var reg domain.Registration
	err := row.Scan(&reg.ID, &reg.EventID, &reg.ParticipantID, &reg.TicketTypeID,
		&reg.PaymentID, &reg.Status, &reg.RegistrationToken, &reg.Quantity, &reg.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

func (r *Repository) GetRegistrationByPayment(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID) (*domain.Registration, error) {
	return scanRegistration(tx.QueryRow(ctx, `
		SELECT `+registrationColumns+` FROM registrations WHERE payment_id = $1
	`, paymentID))
}

func (r *Repository) GetActiveRegistration(ctx context.Context, tx pgx.Tx, eventID, participantID uuid.UUID) (*domain.Registration, error) {
	return scanRegistration(tx.QueryRow(ctx, `
		SELECT `+registrationColumns+` FROM registrations
		WHERE event_id = $1 AND participant_id = $2 AND status = 'ACTIVE'
		LIMIT 1
	`, eventID, participantID))
}

func (r *Repository) GetRegistrationForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Registration, error) {
	return scanRegistration(tx.QueryRow(ctx, `
		SELECT `+registrationColumns+` FROM registrations WHERE id = $1 FOR UPDATE
	`, id))
}

// InsertRegistration relies on the partial unique index on payment_id: a
// duplicate settlement racing past the read-side check loses here and maps to
// ErrDuplicatePayment instead of creating a second registration.
func (r *Repository) InsertRegistration(ctx context.Context, tx pgx.Tx, reg domain.Registration) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO registrations (id, event_id, participant_id, ticket_type_id, payment_id, status, registration_token, quantity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, reg.ID, reg.EventID, reg.ParticipantID, reg.TicketTypeID, reg.PaymentID,
		reg.Status, reg.RegistrationToken, reg.Quantity, reg.CreatedAt)
	if isUniqueViolation(err) {
		return domain.ErrDuplicatePayment
	}
	return err
}

// MarkRegistrationCancelled flips ACTIVE to CANCELLED; zero rows affected
// means the registration is missing or already cancelled.
func (r *Repository) MarkRegistrationCancelled(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	result, err := tx.Exec(ctx, `
		UPDATE registrations SET status = 'CANCELLED' WHERE id = $1 AND status = 'ACTIVE'
	`, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repository) GetRegistration(ctx context.Context, id uuid.UUID) (*domain.Registration, error) {
	return scanRegistration(r.pool.QueryRow(ctx, `
		SELECT `+registrationColumns+` FROM registrations WHERE id = $1
	`, id))
}
