package crdb

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/eventra/payment-settlement/internal/domain"
)

func (r *Repository) GetEvent(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Event, error) {
	var ev domain.Event
	err := tx.QueryRow(ctx, `
		SELECT id, organizer_id, name, allows_repeat_purchases
		FROM events WHERE id = $1
	`, id).Scan(&ev.ID, &ev.OrganizerID, &ev.Name, &ev.AllowsRepeatPurchases)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *Repository) InsertEvent(ctx context.Context, ev domain.Event) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO events (id, organizer_id, name, allows_repeat_purchases)
		VALUES ($1, $2, $3, $4)
	`, ev.ID, ev.OrganizerID, ev.Name, ev.AllowsRepeatPurchases)
	return err
}
