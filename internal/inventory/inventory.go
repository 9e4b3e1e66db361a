// Package inventory owns ticket capacity: atomic reservation and release of
// seats against a ticket type's sold counter.
package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/eventra/payment-settlement/internal/adapters/crdb"
	"github.com/eventra/payment-settlement/internal/domain"
	"github.com/eventra/payment-settlement/internal/observability"
)

type Manager struct {
	repo *crdb.Repository
}

func NewManager(repo *crdb.Repository) *Manager {
	return &Manager{repo: repo}
}

// Reserve commits soldCount += quantity if, at commit time, remaining
// capacity covers the quantity. The ticket type row is locked first, so for
// M remaining seats and N racing callers at most M single-seat reservations
// succeed; the rest observe ErrSoldOut. Different ticket types never contend.
func (m *Manager) Reserve(ctx context.Context, tx pgx.Tx, ticketTypeID uuid.UUID, quantity int) error {
	tt, err := m.repo.GetTicketTypeForUpdate(ctx, tx, ticketTypeID)
	if err != nil {
		return err
	}
	if err := validateQuantity(*tt, quantity); err != nil {
		return err
	}
	if err := validateSaleWindow(*tt, time.Now()); err != nil {
		return err
	}
	if tt.Remaining() < quantity {
		observability.ReservationConflictsTotal.Inc()
		return domain.ErrSoldOut
	}
	return m.repo.AddSoldCount(ctx, tx, ticketTypeID, quantity)
}

// Release is the exact inverse of Reserve, used when a registration is
// cancelled. It never touches registrations or payments.
func (m *Manager) Release(ctx context.Context, tx pgx.Tx, ticketTypeID uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return domain.ErrInvalidInput
	}
	return m.repo.AddSoldCount(ctx, tx, ticketTypeID, -quantity)
}

// Availability serves the query surface; a plain read, no locks.
func (m *Manager) Availability(ctx context.Context, ticketTypeID uuid.UUID) (*domain.TicketAvailability, error) {
	tt, err := m.repo.GetTicketType(ctx, ticketTypeID)
	if err != nil {
		return nil, err
	}
	return &domain.TicketAvailability{
		TicketTypeID: tt.ID,
		Capacity:     tt.Capacity,
		SoldCount:    tt.SoldCount,
		Remaining:    tt.Remaining(),
	}, nil
}

func validateQuantity(tt domain.TicketType, quantity int) error {
	if quantity < tt.MinQuantity || quantity > tt.MaxQuantity {
		return domain.ErrQuantityOutOfRange
	}
	return nil
}

func validateSaleWindow(tt domain.TicketType, now time.Time) error {
	if tt.SaleStartsAt != nil && now.Before(*tt.SaleStartsAt) {
		return domain.ErrSaleWindowClosed
	}
	if tt.SaleEndsAt != nil && now.After(*tt.SaleEndsAt) {
		return domain.ErrSaleWindowClosed
	}
	return nil
}
