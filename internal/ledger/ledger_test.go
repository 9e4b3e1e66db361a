package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/eventra/payment-settlement/internal/adapters/crdb"
	"github.com/eventra/payment-settlement/internal/domain"
	"github.com/eventra/payment-settlement/internal/ledger"
)

func newTestStore(t *testing.T) (*ledger.Store, *crdb.Repository) {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	dsn, err := container.Endpoint(ctx, "postgresql")
	if err != nil {
		t.Fatal(err)
	}
	pool, err := pgxpool.New(ctx, dsn+"/settlement?sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, "CREATE DATABASE IF NOT EXISTS settlement"); err != nil {
		t.Fatal(err)
	}
	if _, err := pool.Exec(ctx, crdb.Schema); err != nil {
		t.Fatal(err)
	}

	repo := crdb.NewRepository(pool)
	return ledger.NewStore(repo), repo
}

func TestLedgerChain(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()
	organizer := uuid.New()

	err := repo.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := store.Credit(ctx, tx, organizer, 50000, "EVENT_PAYMENT", nil); err != nil {
			return err
		}
		if _, err := store.Credit(ctx, tx, organizer, 20000, "EVENT_PAYMENT", nil); err != nil {
			return err
		}
		_, err := store.Debit(ctx, tx, organizer, 30000, "DISBURSEMENT", nil)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	balance, err := store.CurrentBalance(ctx, organizer)
	if err != nil {
		t.Fatal(err)
	}
	if balance != 40000 {
		t.Errorf("expected balance 40000, got %d", balance)
	}

	txs, err := store.ListTransactions(ctx, organizer, crdb.TransactionFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(txs))
	}
	// ListTransactions returns newest first; walk the chain oldest to newest.
	for i := len(txs) - 1; i > 0; i-- {
		if txs[i-1].BalanceBefore != txs[i].BalanceAfter {
			t.Errorf("broken chain at entry %d: before=%d, prior after=%d",
				i-1, txs[i-1].BalanceBefore, txs[i].BalanceAfter)
		}
		if txs[i-1].Seq != txs[i].Seq+1 {
			t.Errorf("non-contiguous seq at entry %d: %d after %d", i-1, txs[i-1].Seq, txs[i].Seq)
		}
	}
	for _, bt := range txs {
		if bt.Amount <= 0 {
			t.Errorf("entry %s has non-positive amount %d", bt.ID, bt.Amount)
		}
	}
}

func TestDebit_InsufficientBalance(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()
	organizer := uuid.New()

	err := repo.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := store.Credit(ctx, tx, organizer, 10000, "EVENT_PAYMENT", nil); err != nil {
			return err
		}
		_, err := store.Debit(ctx, tx, organizer, 10001, "DISBURSEMENT", nil)
		return err
	})
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}

	// The failed transaction must leave no trace.
	balance, err := store.CurrentBalance(ctx, organizer)
	if err != nil {
		t.Fatal(err)
	}
	if balance != 0 {
		t.Errorf("expected balance 0 after rollback, got %d", balance)
	}
}

func TestAdjust_FloorsAtZero(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()
	organizer := uuid.New()

	err := repo.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := store.Credit(ctx, tx, organizer, 5000, "EVENT_PAYMENT", nil); err != nil {
			return err
		}
		bt, err := store.Adjust(ctx, tx, organizer, -5000, "MANUAL_CORRECTION", nil)
		if err != nil {
			return err
		}
		if bt.Amount != 5000 || bt.BalanceAfter != 0 {
			t.Errorf("adjust entry amount=%d after=%d, want 5000 and 0", bt.Amount, bt.BalanceAfter)
		}
		_, err = store.Adjust(ctx, tx, organizer, -1, "MANUAL_CORRECTION", nil)
		if !errors.Is(err, domain.ErrInsufficientBalance) {
			t.Errorf("expected ErrInsufficientBalance for negative-going adjustment, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestHeadBalance_OrdersBySeqNotClock(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()
	organizer := uuid.New()

	err := repo.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := store.Credit(ctx, tx, organizer, 10000, "EVENT_PAYMENT", nil)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	// A writer with a lagging wall clock commits the next entry with an
	// older created_at than the current head carries.
	err = repo.WithTx(ctx, func(tx pgx.Tx) error {
		return repo.InsertBalanceTransaction(ctx, tx, domain.BalanceTransaction{
			ID:            uuid.New(),
			OrganizerID:   organizer,
			Seq:           2,
			Type:          domain.TransactionCredit,
			Amount:        5000,
			BalanceBefore: 10000,
			BalanceAfter:  15000,
			ReferenceType: "EVENT_PAYMENT",
			CreatedAt:     time.Now().UTC().Add(-time.Hour),
		})
	})
	if err != nil {
		t.Fatal(err)
	}

	// The next append must chain off the seq-2 entry despite its older
	// timestamp; ordering by created_at would pick seq 1 and fork the chain.
	err = repo.WithTx(ctx, func(tx pgx.Tx) error {
		bt, err := store.Credit(ctx, tx, organizer, 1000, "EVENT_PAYMENT", nil)
		if err != nil {
			return err
		}
		if bt.Seq != 3 {
			t.Errorf("expected seq 3, got %d", bt.Seq)
		}
		if bt.BalanceBefore != 15000 || bt.BalanceAfter != 16000 {
			t.Errorf("chained off the wrong head: before=%d after=%d", bt.BalanceBefore, bt.BalanceAfter)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	balance, err := store.CurrentBalance(ctx, organizer)
	if err != nil {
		t.Fatal(err)
	}
	if balance != 16000 {
		t.Errorf("expected balance 16000, got %d", balance)
	}
}

func TestAvailableBalance_SubtractsLockedDisbursements(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()
	organizer := uuid.New()

	err := repo.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := store.Credit(ctx, tx, organizer, 50000, "EVENT_PAYMENT", nil); err != nil {
			return err
		}
		if err := repo.InsertDisbursement(ctx, tx, domain.NewDisbursement(organizer, 30000, "bank:acct-1")); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	available, err := store.AvailableBalance(ctx, organizer)
	if err != nil {
		t.Fatal(err)
	}
	if available != 20000 {
		t.Errorf("expected available 20000, got %d", available)
	}

	balance, err := store.CurrentBalance(ctx, organizer)
	if err != nil {
		t.Fatal(err)
	}
	if balance != 50000 {
		t.Errorf("locked funds must not change the ledger balance; got %d", balance)
	}
}
