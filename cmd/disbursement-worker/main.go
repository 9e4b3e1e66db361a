// The disbursement worker owns the asynchronous half of the payout state
// machine: it hands PENDING disbursements to the external processor and
// applies the processor's completion/failure callbacks.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/eventra/payment-settlement/internal/adapters/crdb"
	"github.com/eventra/payment-settlement/internal/adapters/rabbit"
	"github.com/eventra/payment-settlement/internal/config"
	"github.com/eventra/payment-settlement/internal/disbursement"
	"github.com/eventra/payment-settlement/internal/domain"
	"github.com/eventra/payment-settlement/internal/ledger"
	"github.com/eventra/payment-settlement/internal/observability"
	"github.com/eventra/payment-settlement/internal/payout"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	rabbitPub, err := rabbit.NewPublisher(conn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}
	resultConsumer, err := rabbit.NewConsumer(conn, "payout.results.q", "payout.result")
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}

	led := ledger.NewStore(repo)
	processor := payout.NewRabbitProcessor(rabbitPub)
	svc := disbursement.NewService(repo, led, processor, nil, logger, cfg.SettleMaxRetries)

	worker := NewWorker(svc, resultConsumer, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go worker.RunClaimLoop(ctx, cfg.DisbursementPollInterval, cfg.DisbursementBatchSize)
	go worker.RunResultLoop(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown disbursement worker")
}

type Worker struct {
	svc      *disbursement.Service
	consumer *rabbit.Consumer
	logger   observability.Logger
}

func NewWorker(svc *disbursement.Service, consumer *rabbit.Consumer, logger observability.Logger) *Worker {
	return &Worker{svc: svc, consumer: consumer, logger: logger}
}

// RunClaimLoop periodically claims PENDING disbursements and submits them to
// the processor. The claim flips rows to PROCESSING before any network call,
// so no row lock is held while the processor is contacted.
func (w *Worker) RunClaimLoop(ctx context.Context, interval time.Duration, batchSize int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			claimed, err := w.svc.ClaimPending(ctx, batchSize)
			if err != nil {
				w.logger.Error("failed to claim pending disbursements", err)
				continue
			}
			if len(claimed) > 0 {
				w.logger.WithField("count", len(claimed)).Info("disbursements handed to processor")
			}
		}
	}
}

// RunResultLoop consumes processor answers and drives the PROCESSING row to
// COMPLETED or FAILED. Deliveries are acked only after the transition
// commits; a redelivered result hits the status guard and is dropped.
func (w *Worker) RunResultLoop(ctx context.Context) {
	deliveries, err := w.consumer.Consume(ctx)
	if err != nil {
		w.logger.Error("failed to start result consumer", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				return
			}
			if err := w.applyResultWithRetry(ctx, delivery.Body); err != nil {
				w.logger.Error("failed to apply payout result", err)
				delivery.Nack(false, !errors.Is(err, domain.ErrInvalidStateTransition))
				continue
			}
			delivery.Ack(false)
		}
	}
}

func (w *Worker) applyResultWithRetry(ctx context.Context, body []byte) error {
	result, err := payout.ParseResult(body)
	if err != nil {
		return err
	}

	maxRetries := 3
	for i := 0; ; i++ {
		err = w.applyResult(ctx, result)
		if err == nil || !disbursement.IsRetryable(err) || i >= maxRetries {
			return err
		}
		backoff := time.Duration(1<<i) * time.Second
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func (w *Worker) applyResult(ctx context.Context, result payout.Result) error {
	switch result.Status {
	case payout.ResultCompleted:
		_, err := w.svc.Complete(ctx, result.DisbursementID)
		return err
	case payout.ResultFailed:
		reason := result.Reason
		if reason == "" {
			reason = "processor failure"
		}
		_, err := w.svc.Fail(ctx, result.DisbursementID, reason)
		return err
	default:
		return errors.Newf("unknown payout result status %q", result.Status)
	}
}
