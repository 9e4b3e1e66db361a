// Package settlement converts one confirmed external payment into exactly
// one registration plus one ledger credit, atomically and idempotently.
package settlement

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/eventra/payment-settlement/internal/adapters/crdb"
	"github.com/eventra/payment-settlement/internal/domain"
	"github.com/eventra/payment-settlement/internal/inventory"
	"github.com/eventra/payment-settlement/internal/ledger"
	"github.com/eventra/payment-settlement/internal/observability"
	"github.com/eventra/payment-settlement/internal/registration"
)

const ReferenceEventPayment = "EVENT_PAYMENT"

// Auditor records settlement outcomes out-of-band; failures are logged and
// ignored, never rolled into the settlement result.
type Auditor interface {
	LogSettlement(ctx context.Context, payment domain.Payment, reg domain.Registration, duplicate bool) error
}

type Orchestrator struct {
	repo       *crdb.Repository
	inventory  *inventory.Manager
	finalizer  *registration.Finalizer
	ledger     *ledger.Store
	auditor    Auditor
	logger     observability.Logger
	maxRetries int
}

func NewOrchestrator(repo *crdb.Repository, inv *inventory.Manager, fin *registration.Finalizer, led *ledger.Store, auditor Auditor, logger observability.Logger, maxRetries int) *Orchestrator {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Orchestrator{
		repo:       repo,
		inventory:  inv,
		finalizer:  fin,
		ledger:     led,
		auditor:    auditor,
		logger:     logger,
		maxRetries: maxRetries,
	}
}

type Result struct {
	Registration *domain.Registration
	// AlreadySettled is set when a prior delivery of the same payment id
	// already produced the registration; the caller sees the original row.
	AlreadySettled bool
}

// Settle executes reserve -> finalize -> credit for a PAID payment inside a
// single serializable transaction, retried on serialization aborts. The
// ordering matters: the ledger is only credited once inventory and the
// registration are committed in the same transaction, and a failure at any
// step rolls back every earlier step.
//
// ErrSoldOut is a legitimate business outcome (the payment cleared externally
// but capacity vanished in a race); the caller must route it to the refund
// workflow, not retry.
func (o *Orchestrator) Settle(ctx context.Context, paymentID uuid.UUID) (*Result, error) {
	start := time.Now()
	var result Result
	var payment *domain.Payment

	err := o.repo.RunInTx(ctx, o.maxRetries, func(tx pgx.Tx) error {
		result = Result{}

		pay, err := o.repo.GetPaymentForUpdate(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		payment = pay
		if pay.Status != domain.PaymentPaid {
			return domain.ErrPaymentNotPaid
		}

		// Idempotency short-circuit: the primary defense against duplicate
		// webhook delivery and retried settlement calls.
		if existing, err := o.repo.GetRegistrationByPayment(ctx, tx, pay.ID); err == nil {
			result = Result{Registration: existing, AlreadySettled: true}
			return nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		ev, err := o.repo.GetEvent(ctx, tx, pay.EventID)
		if err != nil {
			return err
		}

		if err := o.inventory.Reserve(ctx, tx, pay.TicketTypeID, pay.Quantity); err != nil {
			return err
		}

		reg, err := o.finalizer.Finalize(ctx, tx, registration.FinalizeParams{
			EventID:       pay.EventID,
			ParticipantID: pay.ParticipantID,
			TicketTypeID:  &pay.TicketTypeID,
			PaymentID:     &pay.ID,
			Quantity:      pay.Quantity,
			AllowRepeat:   ev.AllowsRepeatPurchases,
		})
		if err != nil {
			// Hand the seats back before surfacing the error; the rollback
			// would undo the counter anyway, but the compensation keeps the
			// reserve/release pairing explicit and auditable in traces.
			if relErr := o.inventory.Release(ctx, tx, pay.TicketTypeID, pay.Quantity); relErr != nil {
				o.logger.WithField("payment_id", pay.ID).Error("release after finalize failure", relErr)
			}
			return err
		}

		if _, err := o.ledger.Credit(ctx, tx, ev.OrganizerID, pay.Amount, ReferenceEventPayment, &pay.ID); err != nil {
			return err
		}

		payload, _ := json.Marshal(map[string]any{
			"registration_id":    reg.ID,
			"registration_token": reg.RegistrationToken,
			"event_id":           pay.EventID,
			"participant_id":     pay.ParticipantID,
			"payment_id":         pay.ID,
			"quantity":           reg.Quantity,
			"amount":             pay.Amount,
		})
		rec := crdb.NewOutboxRecord("payment", pay.ID, "registration.confirmed", payload)
		if err := o.repo.InsertOutbox(ctx, tx, rec); err != nil {
			return err
		}

		result = Result{Registration: reg}
		return nil
	})

	observability.SettlementDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		observability.SettlementsTotal.WithLabelValues(outcomeLabel(err)).Inc()
		return nil, err
	}
	if result.AlreadySettled {
		observability.SettlementsTotal.WithLabelValues("duplicate").Inc()
	} else {
		observability.SettlementsTotal.WithLabelValues("settled").Inc()
	}

	if o.auditor != nil && payment != nil && result.Registration != nil {
		if err := o.auditor.LogSettlement(ctx, *payment, *result.Registration, result.AlreadySettled); err != nil {
			o.logger.WithField("payment_id", paymentID).Warn("audit log failed", err)
		}
	}
	return &result, nil
}

// CancelRegistration flips an ACTIVE registration to CANCELLED and releases
// its reserved quantity, the explicit inverse of the settlement reserve.
// The ledger is left untouched; money corrections go through ADJUSTMENT
// entries, not silent reversals.
func (o *Orchestrator) CancelRegistration(ctx context.Context, registrationID uuid.UUID) error {
	err := o.repo.RunInTx(ctx, o.maxRetries, func(tx pgx.Tx) error {
		reg, err := o.repo.GetRegistrationForUpdate(ctx, tx, registrationID)
		if err != nil {
			return err
		}
		if reg.Status != domain.RegistrationActive {
			return domain.ErrInvalidStateTransition
		}
		if err := o.repo.MarkRegistrationCancelled(ctx, tx, reg.ID); err != nil {
			return err
		}
		if reg.TicketTypeID != nil {
			if err := o.inventory.Release(ctx, tx, *reg.TicketTypeID, reg.Quantity); err != nil {
				return err
			}
		}
		payload, _ := json.Marshal(map[string]any{
			"registration_id": reg.ID,
			"event_id":        reg.EventID,
			"participant_id":  reg.ParticipantID,
		})
		return o.repo.InsertOutbox(ctx, tx, crdb.NewOutboxRecord("registration", reg.ID, "registration.cancelled", payload))
	})
	return err
}

// MarkPaid applies the gateway's confirmation: PENDING flips to PAID exactly
// once, and repeat deliveries are reported as changed=false.
func (o *Orchestrator) MarkPaid(ctx context.Context, paymentID uuid.UUID) (bool, error) {
	return o.repo.MarkPaymentPaid(ctx, paymentID, time.Now().UTC())
}

// ClosePayment records a FAILED or EXPIRED gateway outcome.
func (o *Orchestrator) ClosePayment(ctx context.Context, paymentID uuid.UUID, status domain.PaymentStatus) error {
	if status != domain.PaymentFailed && status != domain.PaymentExpired {
		return domain.ErrInvalidInput
	}
	return o.repo.MarkPaymentClosed(ctx, paymentID, status)
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrSoldOut):
		return "sold_out"
	case errors.Is(err, domain.ErrPaymentNotPaid):
		return "not_paid"
	case errors.Is(err, domain.ErrSerializationFailure):
		return "contention"
	default:
		return "error"
	}
}
