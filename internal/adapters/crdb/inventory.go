package crdb

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/eventra/payment-settlement/internal/domain"
)

func scanTicketType(row pgx.Row) (*domain.TicketType, error) {
	var t domain.TicketType
	err := row.Scan(&t.ID, &t.EventID, &t.Capacity, &t.SoldCount, &t.Price,
		&t.MinQuantity, &t.MaxQuantity, &t.SaleStartsAt, &t.SaleEndsAt)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTicketTypeForUpdate locks the ticket type row for the rest of the
// transaction, serializing concurrent reservations for the same type while
// leaving other ticket types untouched.
func (r *Repository) GetTicketTypeForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.TicketType, error) {
	return scanTicketType(tx.QueryRow(ctx, `
		SELECT id, event_id, capacity, sold_count, price, min_quantity, max_quantity, sale_starts_at, sale_ends_at
		FROM ticket_types WHERE id = $1 FOR UPDATE
	`, id))
}

func (r *Repository) GetTicketType(ctx context.Context, id uuid.UUID) (*domain.TicketType, error) {
	return scanTicketType(r.pool.QueryRow(ctx, `
		SELECT id, event_id, capacity, sold_count, price, min_quantity, max_quantity, sale_starts_at, sale_ends_at
		FROM ticket_types WHERE id = $1
	`, id))
}

// AddSoldCount commits sold_count += delta only while the result stays inside
// [0, capacity]. RowsAffected() == 0 means the guard failed: the caller maps
// that to sold-out (positive delta) or treats it as a release of seats that
// were never reserved (negative delta).
func (r *Repository) AddSoldCount(ctx context.Context, tx pgx.Tx, id uuid.UUID, delta int) error {
	result, err := tx.Exec(ctx, `
		UPDATE ticket_types SET sold_count = sold_count + $2
		WHERE id = $1 AND sold_count + $2 >= 0 AND sold_count + $2 <= capacity
	`, id, delta)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		if delta > 0 {
			return domain.ErrSoldOut
		}
		return domain.ErrInvalidInput
	}
	return nil
}

func (r *Repository) InsertTicketType(ctx context.Context, t domain.TicketType) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO ticket_types (id, event_id, capacity, sold_count, price, min_quantity, max_quantity, sale_starts_at, sale_ends_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.ID, t.EventID, t.Capacity, t.SoldCount, t.Price, t.MinQuantity, t.MaxQuantity, t.SaleStartsAt, t.SaleEndsAt)
	return err
}
