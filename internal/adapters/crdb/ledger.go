package crdb

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/eventra/payment-settlement/internal/domain"
)

// HeadBalance reads the organizer's most recent ledger entry under a row lock
// so concurrent appends for the same organizer serialize. The head is the
// entry with the highest seq; created_at is display metadata only, since
// entries are written from several processes whose clocks skew. Returns
// (0, 0) for an organizer with no entries yet; the serializable transaction
// still fences two racing first appends in that case.
func (r *Repository) HeadBalance(ctx context.Context, tx pgx.Tx, organizerID uuid.UUID) (int64, int64, error) {
	var balance, seq int64
	err := tx.QueryRow(ctx, `
		SELECT balance_after, seq FROM balance_transactions
		WHERE organizer_id = $1
		ORDER BY seq DESC
		LIMIT 1
		FOR UPDATE
	`, organizerID).Scan(&balance, &seq)
	if err == pgx.ErrNoRows {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	return balance, seq, nil
}

// CurrentBalance is the unlocked read-side variant of HeadBalance. The
// balance is always derived from the newest entry, never a separate counter.
func (r *Repository) CurrentBalance(ctx context.Context, organizerID uuid.UUID) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `
		SELECT balance_after FROM balance_transactions
		WHERE organizer_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, organizerID).Scan(&balance)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (r *Repository) InsertBalanceTransaction(ctx context.Context, tx pgx.Tx, bt domain.BalanceTransaction) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO balance_transactions (id, organizer_id, seq, tx_type, amount, balance_before, balance_after, reference_type, reference_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, bt.ID, bt.OrganizerID, bt.Seq, bt.Type, bt.Amount, bt.BalanceBefore, bt.BalanceAfter,
		bt.ReferenceType, bt.ReferenceID, bt.CreatedAt)
	return err
}

// SumLockedDisbursements totals amounts still holding funds (PENDING or
// PROCESSING). Run inside the same transaction as the balance read when the
// result gates a new lock.
func (r *Repository) SumLockedDisbursements(ctx context.Context, tx pgx.Tx, organizerID uuid.UUID) (int64, error) {
	var sum int64
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM disbursements
		WHERE organizer_id = $1 AND status IN ('PENDING', 'PROCESSING')
	`, organizerID).Scan(&sum)
	return sum, err
}

func (r *Repository) SumLockedDisbursementsPool(ctx context.Context, organizerID uuid.UUID) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM disbursements
		WHERE organizer_id = $1 AND status IN ('PENDING', 'PROCESSING')
	`, organizerID).Scan(&sum)
	return sum, err
}

type TransactionFilter struct {
	Type   *domain.TransactionType
	Limit  int
	Offset int
}

func (r *Repository) ListTransactions(ctx context.Context, organizerID uuid.UUID, filter TransactionFilter) ([]domain.BalanceTransaction, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT id, organizer_id, seq, tx_type, amount, balance_before, balance_after, reference_type, reference_id, created_at
		FROM balance_transactions
		WHERE organizer_id = $1`
	args := []any{organizerID}
	if filter.Type != nil {
		query += ` AND tx_type = $2`
		args = append(args, *filter.Type)
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query += ` ORDER BY seq DESC LIMIT ` + strconv.Itoa(limit) + ` OFFSET ` + strconv.Itoa(offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []domain.BalanceTransaction
	for rows.Next() {
		var bt domain.BalanceTransaction
		if err := rows.Scan(&bt.ID, &bt.OrganizerID, &bt.Seq, &bt.Type, &bt.Amount, &bt.BalanceBefore,
			&bt.BalanceAfter, &bt.ReferenceType, &bt.ReferenceID, &bt.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, bt)
	}
	return txs, rows.Err()
}
