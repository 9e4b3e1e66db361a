// Package registration turns a confirmed purchase into exactly one active
// registration. It never touches inventory or the ledger; the settlement
// orchestrator composes those in the same unit of work.
package registration

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/eventra/payment-settlement/internal/adapters/crdb"
	"github.com/eventra/payment-settlement/internal/domain"
)

type Finalizer struct {
	repo *crdb.Repository
}

func NewFinalizer(repo *crdb.Repository) *Finalizer {
	return &Finalizer{repo: repo}
}

type FinalizeParams struct {
	EventID       uuid.UUID
	ParticipantID uuid.UUID
	TicketTypeID  *uuid.UUID
	PaymentID     *uuid.UUID
	Quantity      int
	// AllowRepeat mirrors the event's repeat-purchase setting; when false a
	// second ACTIVE registration for the same participant is rejected.
	AllowRepeat bool
}

// Finalize creates an ACTIVE registration, idempotently with respect to the
// payment id: a registration already referencing the payment is returned
// unchanged, which is what makes duplicate webhook delivery harmless.
func (f *Finalizer) Finalize(ctx context.Context, tx pgx.Tx, p FinalizeParams) (*domain.Registration, error) {
	if p.Quantity <= 0 {
		return nil, domain.ErrInvalidInput
	}

	if p.PaymentID != nil {
		existing, err := f.repo.GetRegistrationByPayment(ctx, tx, *p.PaymentID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	if !p.AllowRepeat {
		_, err := f.repo.GetActiveRegistration(ctx, tx, p.EventID, p.ParticipantID)
		if err == nil {
			return nil, domain.ErrAlreadyRegistered
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	reg := domain.NewRegistration(p.EventID, p.ParticipantID, p.TicketTypeID, p.PaymentID, p.Quantity)
	if err := f.repo.InsertRegistration(ctx, tx, reg); err != nil {
		// The partial unique index caught a racing settlement for the same
		// payment; hand back the row the winner created.
		if errors.Is(err, domain.ErrDuplicatePayment) && p.PaymentID != nil {
			return f.repo.GetRegistrationByPayment(ctx, tx, *p.PaymentID)
		}
		return nil, err
	}
	return &reg, nil
}
