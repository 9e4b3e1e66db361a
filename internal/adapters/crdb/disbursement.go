package crdb

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/eventra/payment-settlement/internal/domain"
)

const disbursementColumns = `id, organizer_id, amount, status, payout_account_ref, failure_reason, requested_at, processed_at, completed_at`

func scanDisbursement(row pgx.Row) (*domain.Disbursement, error) {
	var d domain.Disbursement
	err := row.Scan(&d.ID, &d.OrganizerID, &d.Amount, &d.Status, &d.PayoutAccountRef,
		&d.FailureReason, &d.RequestedAt, &d.ProcessedAt, &d.CompletedAt)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *Repository) InsertDisbursement(ctx context.Context, tx pgx.Tx, d domain.Disbursement) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO disbursements (id, organizer_id, amount, status, payout_account_ref, failure_reason, requested_at, processed_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, d.ID, d.OrganizerID, d.Amount, d.Status, d.PayoutAccountRef,
		d.FailureReason, d.RequestedAt, d.ProcessedAt, d.CompletedAt)
	return err
}

func (r *Repository) GetDisbursementForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Disbursement, error) {
	return scanDisbursement(tx.QueryRow(ctx, `
		SELECT `+disbursementColumns+` FROM disbursements WHERE id = $1 FOR UPDATE
	`, id))
}

func (r *Repository) GetDisbursement(ctx context.Context, id uuid.UUID) (*domain.Disbursement, error) {
	return scanDisbursement(r.pool.QueryRow(ctx, `
		SELECT `+disbursementColumns+` FROM disbursements WHERE id = $1
	`, id))
}

// TransitionUpdate carries the column writes that accompany a status flip.
type TransitionUpdate struct {
	ProcessedAt   *time.Time
	CompletedAt   *time.Time
	FailureReason *string
	ClearFailure  bool
}

// TransitionDisbursement performs a status-guarded update: the flip only
// lands if the row is still in the expected source status. Zero rows
// affected means another caller moved the row first, or the edge is not in
// the state machine to begin with; either way it is an invalid transition.
func (r *Repository) TransitionDisbursement(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to domain.DisbursementStatus, upd TransitionUpdate) error {
	query := `UPDATE disbursements SET status = $3`
	args := []any{id, from, to}
	if upd.ProcessedAt != nil {
		args = append(args, *upd.ProcessedAt)
		query += `, processed_at = $` + strconv.Itoa(len(args))
	}
	if upd.CompletedAt != nil {
		args = append(args, *upd.CompletedAt)
		query += `, completed_at = $` + strconv.Itoa(len(args))
	}
	if upd.FailureReason != nil {
		args = append(args, *upd.FailureReason)
		query += `, failure_reason = $` + strconv.Itoa(len(args))
	} else if upd.ClearFailure {
		query += `, failure_reason = NULL`
	}
	query += ` WHERE id = $1 AND status = $2`

	result, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		if _, err := scanDisbursement(tx.QueryRow(ctx, `
			SELECT `+disbursementColumns+` FROM disbursements WHERE id = $1
		`, id)); err != nil {
			return err
		}
		return domain.ErrInvalidStateTransition
	}
	return nil
}

// ListPendingDisbursements claims a batch for processor handoff. SKIP LOCKED
// lets multiple workers drain the backlog without stepping on each other.
func (r *Repository) ListPendingDisbursements(ctx context.Context, tx pgx.Tx, limit int) ([]domain.Disbursement, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+disbursementColumns+` FROM disbursements
		WHERE status = 'PENDING' ORDER BY requested_at ASC LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDisbursements(rows)
}

type DisbursementFilter struct {
	Status *domain.DisbursementStatus
	Limit  int
}

func (r *Repository) ListDisbursements(ctx context.Context, organizerID uuid.UUID, filter DisbursementFilter) ([]domain.Disbursement, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT ` + disbursementColumns + ` FROM disbursements WHERE organizer_id = $1`
	args := []any{organizerID}
	if filter.Status != nil {
		query += ` AND status = $2`
		args = append(args, *filter.Status)
	}
	query += ` ORDER BY requested_at DESC LIMIT ` + strconv.Itoa(limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDisbursements(rows)
}

func collectDisbursements(rows pgx.Rows) ([]domain.Disbursement, error) {
	var ds []domain.Disbursement
	for rows.Next() {
		var d domain.Disbursement
		if err := rows.Scan(&d.ID, &d.OrganizerID, &d.Amount, &d.Status, &d.PayoutAccountRef,
			&d.FailureReason, &d.RequestedAt, &d.ProcessedAt, &d.CompletedAt); err != nil {
			return nil, err
		}
		ds = append(ds, d)
	}
	return ds, rows.Err()
}
