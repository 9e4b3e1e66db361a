package disbursement_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/eventra/payment-settlement/internal/adapters/crdb"
	"github.com/eventra/payment-settlement/internal/disbursement"
	"github.com/eventra/payment-settlement/internal/domain"
	"github.com/eventra/payment-settlement/internal/ledger"
	"github.com/eventra/payment-settlement/internal/observability"
)

// stubProcessor records submissions instead of talking to rabbit.
type stubProcessor struct {
	mu        sync.Mutex
	submitted []uuid.UUID
	err       error
}

func (p *stubProcessor) Submit(ctx context.Context, d domain.Disbursement) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.submitted = append(p.submitted, d.ID)
	return nil
}

func (p *stubProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.submitted)
}

// stubAuditor records the from-state of every observed transition.
type stubAuditor struct {
	mu   sync.Mutex
	from []domain.DisbursementStatus
}

func (a *stubAuditor) LogDisbursementTransition(ctx context.Context, d domain.Disbursement, from domain.DisbursementStatus) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.from = append(a.from, from)
	return nil
}

func (a *stubAuditor) first() domain.DisbursementStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.from) == 0 {
		return ""
	}
	return a.from[0]
}

type testEnv struct {
	repo      *crdb.Repository
	ledger    *ledger.Store
	svc       *disbursement.Service
	processor *stubProcessor
	auditor   *stubAuditor
}

func newTestEnv(t *testing.T) *testEnv {
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
	led := ledger.NewStore(repo)
	processor := &stubProcessor{}
	auditor := &stubAuditor{}
	svc := disbursement.NewService(repo, led, processor, auditor, observability.NewLogger(), 10)
	return &testEnv{repo: repo, ledger: led, svc: svc, processor: processor, auditor: auditor}
}

func (e *testEnv) creditOrganizer(t *testing.T, organizerID uuid.UUID, amount int64) {
	t.Helper()
	ctx := context.Background()
	err := e.repo.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := e.ledger.Credit(ctx, tx, organizerID, amount, "EVENT_PAYMENT", nil)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestRequest_LocksAvailableBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	organizer := uuid.New()
	env.creditOrganizer(t, organizer, 500000)

	first, err := env.svc.Request(ctx, organizer, 300000, "bank:acct-1")
	if err != nil {
		t.Fatal(err)
	}
	if first.Status != domain.DisbursementPending {
		t.Errorf("expected PENDING, got %s", first.Status)
	}
	if got := env.auditor.first(); got != domain.DisbursementInitial {
		t.Errorf("creation audit record: expected from=INITIAL, got %q", got)
	}

	// 250000 > 200000 available while the first request holds its lock.
	_, err = env.svc.Request(ctx, organizer, 250000, "bank:acct-1")
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	if _, err := env.svc.Cancel(ctx, first.ID); err != nil {
		t.Fatal(err)
	}

	// Cancellation released the lock; the same request now fits.
	second, err := env.svc.Request(ctx, organizer, 250000, "bank:acct-1")
	if err != nil {
		t.Fatal(err)
	}

	available, err := env.ledger.AvailableBalance(ctx, organizer)
	if err != nil {
		t.Fatal(err)
	}
	if available != 250000 {
		t.Errorf("expected available 250000, got %d", available)
	}
	_ = second
}

func TestRequest_ConcurrentNoOverdraw(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	organizer := uuid.New()
	env.creditOrganizer(t, organizer, 500000)

	// Five racing 200000 requests against 500000 available: exactly two fit.
	const callers = 5
	var succeeded, rejected atomic.Int64
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			_, err := env.svc.Request(ctx, organizer, 200000, "bank:acct-1")
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, domain.ErrInsufficientBalance):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if succeeded.Load() != 2 || rejected.Load() != 3 {
		t.Errorf("expected 2 locked / 3 rejected, got %d / %d", succeeded.Load(), rejected.Load())
	}

	available, err := env.ledger.AvailableBalance(ctx, organizer)
	if err != nil {
		t.Fatal(err)
	}
	if available != 100000 {
		t.Errorf("expected available 100000, got %d", available)
	}

	pending := domain.DisbursementPending
	ds, err := env.svc.List(ctx, organizer, crdb.DisbursementFilter{Status: &pending})
	if err != nil {
		t.Fatal(err)
	}
	var locked int64
	for _, d := range ds {
		locked += d.Amount
	}
	if len(ds) != 2 || locked != 400000 {
		t.Errorf("expected 2 pending rows locking 400000, got %d rows locking %d", len(ds), locked)
	}
}

func TestComplete_DebitsLedger(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	organizer := uuid.New()
	env.creditOrganizer(t, organizer, 500000)

	d, err := env.svc.Request(ctx, organizer, 300000, "bank:acct-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.svc.BeginProcessing(ctx, d.ID); err != nil {
		t.Fatal(err)
	}
	if env.processor.count() != 1 {
		t.Errorf("expected one processor submission, got %d", env.processor.count())
	}

	done, err := env.svc.Complete(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != domain.DisbursementCompleted || done.CompletedAt == nil {
		t.Errorf("expected COMPLETED with timestamp, got %s %v", done.Status, done.CompletedAt)
	}

	balance, err := env.ledger.CurrentBalance(ctx, organizer)
	if err != nil {
		t.Fatal(err)
	}
	if balance != 200000 {
		t.Errorf("expected balance 200000 after debit, got %d", balance)
	}

	debit := domain.TransactionDebit
	txs, err := env.ledger.ListTransactions(ctx, organizer, crdb.TransactionFilter{Type: &debit})
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 1 || txs[0].Amount != 300000 {
		t.Fatalf("expected one DEBIT of 300000, got %+v", txs)
	}
	if txs[0].ReferenceID == nil || *txs[0].ReferenceID != d.ID {
		t.Error("debit entry must reference the disbursement")
	}
}

func TestFail_RestoresAvailableBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	organizer := uuid.New()
	env.creditOrganizer(t, organizer, 500000)

	d, err := env.svc.Request(ctx, organizer, 300000, "bank:acct-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.svc.BeginProcessing(ctx, d.ID); err != nil {
		t.Fatal(err)
	}

	failed, err := env.svc.Fail(ctx, d.ID, "account closed")
	if err != nil {
		t.Fatal(err)
	}
	if failed.Status != domain.DisbursementFailed {
		t.Errorf("expected FAILED, got %s", failed.Status)
	}
	if failed.FailureReason == nil || *failed.FailureReason != "account closed" {
		t.Errorf("expected failure reason, got %v", failed.FailureReason)
	}

	// No debit happened, and the lock is gone.
	balance, err := env.ledger.CurrentBalance(ctx, organizer)
	if err != nil {
		t.Fatal(err)
	}
	if balance != 500000 {
		t.Errorf("expected balance 500000, got %d", balance)
	}
	available, err := env.ledger.AvailableBalance(ctx, organizer)
	if err != nil {
		t.Fatal(err)
	}
	if available != 500000 {
		t.Errorf("expected available 500000, got %d", available)
	}
}

func TestRetry_RevalidatesBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	organizer := uuid.New()
	env.creditOrganizer(t, organizer, 300000)

	d, err := env.svc.Request(ctx, organizer, 300000, "bank:acct-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.svc.BeginProcessing(ctx, d.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.svc.Fail(ctx, d.ID, "transient"); err != nil {
		t.Fatal(err)
	}

	// Another withdrawal eats the headroom between failure and retry.
	if _, err := env.svc.Request(ctx, organizer, 100000, "bank:acct-1"); err != nil {
		t.Fatal(err)
	}

	_, err = env.svc.Retry(ctx, d.ID)
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance on retry, got %v", err)
	}

	got, err := env.svc.Get(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.DisbursementFailed {
		t.Errorf("rejected retry must leave the row FAILED, got %s", got.Status)
	}
}

func TestRetry_ClearsFailureReason(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	organizer := uuid.New()
	env.creditOrganizer(t, organizer, 400000)

	d, err := env.svc.Request(ctx, organizer, 300000, "bank:acct-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.svc.BeginProcessing(ctx, d.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.svc.Fail(ctx, d.ID, "transient"); err != nil {
		t.Fatal(err)
	}

	retried, err := env.svc.Retry(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if retried.Status != domain.DisbursementPending {
		t.Errorf("expected PENDING after retry, got %s", retried.Status)
	}
	if retried.FailureReason != nil {
		t.Errorf("expected cleared failure reason, got %q", *retried.FailureReason)
	}
}

func TestInvalidTransitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	organizer := uuid.New()
	env.creditOrganizer(t, organizer, 500000)

	d, err := env.svc.Request(ctx, organizer, 100000, "bank:acct-1")
	if err != nil {
		t.Fatal(err)
	}

	// PENDING cannot complete or fail without passing through PROCESSING.
	if _, err := env.svc.Complete(ctx, d.ID); !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Errorf("Complete on PENDING: expected ErrInvalidStateTransition, got %v", err)
	}
	if _, err := env.svc.Fail(ctx, d.ID, "x"); !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Errorf("Fail on PENDING: expected ErrInvalidStateTransition, got %v", err)
	}

	if _, err := env.svc.BeginProcessing(ctx, d.ID); err != nil {
		t.Fatal(err)
	}
	// PROCESSING is past the point of cancellation.
	if _, err := env.svc.Cancel(ctx, d.ID); !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Errorf("Cancel on PROCESSING: expected ErrInvalidStateTransition, got %v", err)
	}

	if _, err := env.svc.Complete(ctx, d.ID); err != nil {
		t.Fatal(err)
	}
	// COMPLETED is terminal.
	if _, err := env.svc.Fail(ctx, d.ID, "x"); !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Errorf("Fail on COMPLETED: expected ErrInvalidStateTransition, got %v", err)
	}
}

func TestClaimPending_SubmitsBatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	organizer := uuid.New()
	env.creditOrganizer(t, organizer, 500000)

	a, err := env.svc.Request(ctx, organizer, 100000, "bank:acct-1")
	if err != nil {
		t.Fatal(err)
	}
	b, err := env.svc.Request(ctx, organizer, 200000, "bank:acct-2")
	if err != nil {
		t.Fatal(err)
	}

	claimed, err := env.svc.ClaimPending(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 2 {
		t.Fatalf("expected 2 claimed, got %d", len(claimed))
	}
	if env.processor.count() != 2 {
		t.Errorf("expected 2 submissions, got %d", env.processor.count())
	}
	for _, id := range []uuid.UUID{a.ID, b.ID} {
		got, err := env.svc.Get(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != domain.DisbursementProcessing || got.ProcessedAt == nil {
			t.Errorf("disbursement %s: expected PROCESSING with timestamp, got %s", id, got.Status)
		}
	}

	// Nothing left to claim.
	claimed, err = env.svc.ClaimPending(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 0 {
		t.Errorf("expected empty second claim, got %d", len(claimed))
	}
}

func TestBeginProcessing_SubmitFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	organizer := uuid.New()
	env.creditOrganizer(t, organizer, 500000)

	d, err := env.svc.Request(ctx, organizer, 100000, "bank:acct-1")
	if err != nil {
		t.Fatal(err)
	}

	env.processor.err = errors.New("broker unavailable")
	got, err := env.svc.BeginProcessing(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.DisbursementFailed {
		t.Errorf("expected FAILED after submit error, got %s", got.Status)
	}
	if got.FailureReason == nil {
		t.Error("expected a failure reason")
	}
}
