package disbursement

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/eventra/payment-settlement/internal/adapters/crdb"
	"github.com/eventra/payment-settlement/internal/domain"
	"github.com/eventra/payment-settlement/internal/ledger"
	"github.com/eventra/payment-settlement/internal/observability"
	"github.com/eventra/payment-settlement/internal/payout"
)

const ReferenceDisbursement = "DISBURSEMENT"

// Auditor mirrors the settlement auditor for disbursement transitions.
type Auditor interface {
	LogDisbursementTransition(ctx context.Context, d domain.Disbursement, from domain.DisbursementStatus) error
}

type Service struct {
	repo       *crdb.Repository
	ledger     *ledger.Store
	processor  payout.Processor
	auditor    Auditor
	logger     observability.Logger
	maxRetries int
}

func NewService(repo *crdb.Repository, led *ledger.Store, processor payout.Processor, auditor Auditor, logger observability.Logger, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{
		repo:       repo,
		ledger:     led,
		processor:  processor,
		auditor:    auditor,
		logger:     logger,
		maxRetries: maxRetries,
	}
}

// Request creates a PENDING disbursement, locking the amount out of the
// organizer's available balance. Validation and insert share one serializable
// transaction, so two racing requests can never jointly overdraw: the loser
// either retries and sees the winner's lock, or aborts with 40001 and is
// retried here before the same check.
func (s *Service) Request(ctx context.Context, organizerID uuid.UUID, amount int64, payoutAccountRef string) (*domain.Disbursement, error) {
	if amount <= 0 || payoutAccountRef == "" {
		return nil, domain.ErrInvalidInput
	}
	var created domain.Disbursement
	err := s.repo.RunInTx(ctx, s.maxRetries, func(tx pgx.Tx) error {
		available, err := s.ledger.AvailableBalanceTx(ctx, tx, organizerID)
		if err != nil {
			return err
		}
		if amount > available {
			return domain.ErrInsufficientBalance
		}
		created = domain.NewDisbursement(organizerID, amount, payoutAccountRef)
		return s.repo.InsertDisbursement(ctx, tx, created)
	})
	if err != nil {
		return nil, err
	}
	s.observe(ctx, created, domain.DisbursementInitial)
	return &created, nil
}

// Cancel is only offered while PENDING, before processor handoff. It unlocks
// the amount and writes no ledger entry.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*domain.Disbursement, error) {
	return s.transition(ctx, id, domain.DisbursementPending, domain.DisbursementCancelled,
		func(tx pgx.Tx, d *domain.Disbursement) (crdb.TransitionUpdate, error) {
			return crdb.TransitionUpdate{}, nil
		}, nil)
}

// BeginProcessing flips PENDING to PROCESSING and commits before the
// processor is contacted: the network call happens with no row lock held.
// A failed submit is recorded through the ordinary Fail edge.
func (s *Service) BeginProcessing(ctx context.Context, id uuid.UUID) (*domain.Disbursement, error) {
	now := time.Now().UTC()
	d, err := s.transition(ctx, id, domain.DisbursementPending, domain.DisbursementProcessing,
		func(tx pgx.Tx, d *domain.Disbursement) (crdb.TransitionUpdate, error) {
			return crdb.TransitionUpdate{ProcessedAt: &now}, nil
		}, nil)
	if err != nil {
		return nil, err
	}

	if err := s.processor.Submit(ctx, *d); err != nil {
		s.logger.WithField("disbursement_id", id).Error("payout submit failed", err)
		return s.Fail(ctx, id, "submit failed: "+err.Error())
	}
	return d, nil
}

// Complete debits the ledger and closes the disbursement in one transaction;
// either both land or neither does.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*domain.Disbursement, error) {
	now := time.Now().UTC()
	return s.transition(ctx, id, domain.DisbursementProcessing, domain.DisbursementCompleted,
		func(tx pgx.Tx, d *domain.Disbursement) (crdb.TransitionUpdate, error) {
			if _, err := s.ledger.Debit(ctx, tx, d.OrganizerID, d.Amount, ReferenceDisbursement, &d.ID); err != nil {
				return crdb.TransitionUpdate{}, err
			}
			return crdb.TransitionUpdate{CompletedAt: &now}, nil
		}, outboxEvent("disbursement.completed"))
}

// Fail unlocks the amount, records the reason and writes no ledger entry;
// the balance reads exactly as before the request.
func (s *Service) Fail(ctx context.Context, id uuid.UUID, reason string) (*domain.Disbursement, error) {
	return s.transition(ctx, id, domain.DisbursementProcessing, domain.DisbursementFailed,
		func(tx pgx.Tx, d *domain.Disbursement) (crdb.TransitionUpdate, error) {
			return crdb.TransitionUpdate{FailureReason: &reason}, nil
		}, outboxEvent("disbursement.failed"))
}

// Retry re-validates against the organizer's current available balance, since
// other withdrawals may have consumed the headroom since the original request,
// and re-locks the amount on success.
func (s *Service) Retry(ctx context.Context, id uuid.UUID) (*domain.Disbursement, error) {
	return s.transition(ctx, id, domain.DisbursementFailed, domain.DisbursementPending,
		func(tx pgx.Tx, d *domain.Disbursement) (crdb.TransitionUpdate, error) {
			available, err := s.ledger.AvailableBalanceTx(ctx, tx, d.OrganizerID)
			if err != nil {
				return crdb.TransitionUpdate{}, err
			}
			if d.Amount > available {
				return crdb.TransitionUpdate{}, domain.ErrInsufficientBalance
			}
			return crdb.TransitionUpdate{ClearFailure: true}, nil
		}, nil)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Disbursement, error) {
	return s.repo.GetDisbursement(ctx, id)
}

func (s *Service) List(ctx context.Context, organizerID uuid.UUID, filter crdb.DisbursementFilter) ([]domain.Disbursement, error) {
	return s.repo.ListDisbursements(ctx, organizerID, filter)
}

// ClaimPending hands a batch of PENDING disbursements to the worker, flipping
// each to PROCESSING inside the claim transaction so a second worker cannot
// pick them up. Processor submission happens afterwards, outside any lock.
func (s *Service) ClaimPending(ctx context.Context, limit int) ([]domain.Disbursement, error) {
	var claimed []domain.Disbursement
	now := time.Now().UTC()
	err := s.repo.RunInTx(ctx, s.maxRetries, func(tx pgx.Tx) error {
		claimed = claimed[:0]
		pending, err := s.repo.ListPendingDisbursements(ctx, tx, limit)
		if err != nil {
			return err
		}
		for _, d := range pending {
			if err := s.repo.TransitionDisbursement(ctx, tx, d.ID, domain.DisbursementPending,
				domain.DisbursementProcessing, crdb.TransitionUpdate{ProcessedAt: &now}); err != nil {
				return err
			}
			d.Status = domain.DisbursementProcessing
			d.ProcessedAt = &now
			claimed = append(claimed, d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, d := range claimed {
		observability.DisbursementTransitionsTotal.WithLabelValues(string(domain.DisbursementProcessing)).Inc()
		if err := s.processor.Submit(ctx, d); err != nil {
			s.logger.WithField("disbursement_id", d.ID).Error("payout submit failed", err)
			if _, ferr := s.Fail(ctx, d.ID, "submit failed: "+err.Error()); ferr != nil {
				s.logger.WithField("disbursement_id", d.ID).Error("fail after submit error", ferr)
			}
		}
	}
	return claimed, nil
}

type mutate func(tx pgx.Tx, d *domain.Disbursement) (crdb.TransitionUpdate, error)

func (s *Service) transition(ctx context.Context, id uuid.UUID, from, to domain.DisbursementStatus, fn mutate, event *string) (*domain.Disbursement, error) {
	var result *domain.Disbursement
	err := s.repo.RunInTx(ctx, s.maxRetries, func(tx pgx.Tx) error {
		d, err := s.repo.GetDisbursementForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if d.Status != from || !CanTransition(from, to) {
			return domain.ErrInvalidStateTransition
		}
		upd, err := fn(tx, d)
		if err != nil {
			return err
		}
		if err := s.repo.TransitionDisbursement(ctx, tx, id, from, to, upd); err != nil {
			return err
		}
		d.Status = to
		if upd.ProcessedAt != nil {
			d.ProcessedAt = upd.ProcessedAt
		}
		if upd.CompletedAt != nil {
			d.CompletedAt = upd.CompletedAt
		}
		if upd.FailureReason != nil {
			d.FailureReason = upd.FailureReason
		} else if upd.ClearFailure {
			d.FailureReason = nil
		}
		result = d

		if event != nil {
			payload, _ := json.Marshal(map[string]any{
				"disbursement_id": d.ID,
				"organizer_id":    d.OrganizerID,
				"amount":          d.Amount,
				"status":          d.Status,
				"failure_reason":  d.FailureReason,
			})
			return s.repo.InsertOutbox(ctx, tx, crdb.NewOutboxRecord("disbursement", d.ID, *event, payload))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.observe(ctx, *result, from)
	return result, nil
}

func (s *Service) observe(ctx context.Context, d domain.Disbursement, from domain.DisbursementStatus) {
	observability.DisbursementTransitionsTotal.WithLabelValues(string(d.Status)).Inc()
	if s.auditor != nil {
		if err := s.auditor.LogDisbursementTransition(ctx, d, from); err != nil {
			s.logger.WithField("disbursement_id", d.ID).Warn("audit log failed", err)
		}
	}
}

func outboxEvent(name string) *string {
	return &name
}

// IsRetryable distinguishes infrastructure failures, which the caller may
// retry with backoff, from business rejections, which it must not.
func IsRetryable(err error) bool {
	return errors.Is(err, domain.ErrSerializationFailure)
}
