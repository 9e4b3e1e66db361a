// Package ledger maintains each organizer's balance as an append-only
// sequence of transactions. The balance is always the fold of the ledger,
// never a separately maintained counter, so it cannot drift.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/eventra/payment-settlement/internal/adapters/crdb"
	"github.com/eventra/payment-settlement/internal/domain"
)

type Store struct {
	repo *crdb.Repository
}

func NewStore(repo *crdb.Repository) *Store {
	return &Store{repo: repo}
}

// Credit appends one CREDIT entry. The head entry is read under a row lock,
// so appends for one organizer serialize while other organizers proceed in
// parallel.
func (s *Store) Credit(ctx context.Context, tx pgx.Tx, organizerID uuid.UUID, amount int64, referenceType string, referenceID *uuid.UUID) (*domain.BalanceTransaction, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidInput
	}
	before, seq, err := s.repo.HeadBalance(ctx, tx, organizerID)
	if err != nil {
		return nil, err
	}
	return s.append(ctx, tx, domain.BalanceTransaction{
		ID:            uuid.New(),
		OrganizerID:   organizerID,
		Seq:           seq + 1,
		Type:          domain.TransactionCredit,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  before + amount,
		ReferenceType: referenceType,
		ReferenceID:   referenceID,
		CreatedAt:     time.Now().UTC(),
	})
}

// Debit appends one DEBIT entry, failing with ErrInsufficientBalance rather
// than letting the balance go negative.
func (s *Store) Debit(ctx context.Context, tx pgx.Tx, organizerID uuid.UUID, amount int64, referenceType string, referenceID *uuid.UUID) (*domain.BalanceTransaction, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidInput
	}
	before, seq, err := s.repo.HeadBalance(ctx, tx, organizerID)
	if err != nil {
		return nil, err
	}
	if amount > before {
		return nil, domain.ErrInsufficientBalance
	}
	return s.append(ctx, tx, domain.BalanceTransaction{
		ID:            uuid.New(),
		OrganizerID:   organizerID,
		Seq:           seq + 1,
		Type:          domain.TransactionDebit,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  before - amount,
		ReferenceType: referenceType,
		ReferenceID:   referenceID,
		CreatedAt:     time.Now().UTC(),
	})
}

// Adjust appends an ADJUSTMENT entry for manual corrections; delta may be
// negative but may not take the balance below zero. Ledger rows are never
// edited or deleted, so this is the only correction mechanism.
func (s *Store) Adjust(ctx context.Context, tx pgx.Tx, organizerID uuid.UUID, delta int64, referenceType string, referenceID *uuid.UUID) (*domain.BalanceTransaction, error) {
	if delta == 0 {
		return nil, domain.ErrInvalidInput
	}
	before, seq, err := s.repo.HeadBalance(ctx, tx, organizerID)
	if err != nil {
		return nil, err
	}
	after := before + delta
	if after < 0 {
		return nil, domain.ErrInsufficientBalance
	}
	amount := delta
	if amount < 0 {
		amount = -amount
	}
	return s.append(ctx, tx, domain.BalanceTransaction{
		ID:            uuid.New(),
		OrganizerID:   organizerID,
		Seq:           seq + 1,
		Type:          domain.TransactionAdjustment,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		ReferenceType: referenceType,
		ReferenceID:   referenceID,
		CreatedAt:     time.Now().UTC(),
	})
}

func (s *Store) append(ctx context.Context, tx pgx.Tx, bt domain.BalanceTransaction) (*domain.BalanceTransaction, error) {
	if err := s.repo.InsertBalanceTransaction(ctx, tx, bt); err != nil {
		return nil, err
	}
	return &bt, nil
}

// CurrentBalance is the balanceAfter of the most recent entry, 0 when the
// ledger is empty.
func (s *Store) CurrentBalance(ctx context.Context, organizerID uuid.UUID) (int64, error) {
	return s.repo.CurrentBalance(ctx, organizerID)
}

// AvailableBalance is the current balance minus funds locked by in-flight
// disbursements (PENDING or PROCESSING).
func (s *Store) AvailableBalance(ctx context.Context, organizerID uuid.UUID) (int64, error) {
	balance, err := s.repo.CurrentBalance(ctx, organizerID)
	if err != nil {
		return 0, err
	}
	locked, err := s.repo.SumLockedDisbursementsPool(ctx, organizerID)
	if err != nil {
		return 0, err
	}
	return balance - locked, nil
}

// AvailableBalanceTx is the transactional variant used when the result gates
// a new disbursement lock: the balance read and the locked sum see the same
// snapshot as the insert that follows.
func (s *Store) AvailableBalanceTx(ctx context.Context, tx pgx.Tx, organizerID uuid.UUID) (int64, error) {
	balance, _, err := s.repo.HeadBalance(ctx, tx, organizerID)
	if err != nil {
		return 0, err
	}
	locked, err := s.repo.SumLockedDisbursements(ctx, tx, organizerID)
	if err != nil {
		return 0, err
	}
	return balance - locked, nil
}

func (s *Store) ListTransactions(ctx context.Context, organizerID uuid.UUID, filter crdb.TransactionFilter) ([]domain.BalanceTransaction, error) {
	return s.repo.ListTransactions(ctx, organizerID, filter)
}
