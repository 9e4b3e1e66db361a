package domain

import (
	"time"

	"github.com/google/uuid"
)

// Amounts are integer minor units (e.g. cents). The ledger chain invariant
// requires exact arithmetic, so floats are never used for money.

type Event struct {
	ID                    uuid.UUID
	OrganizerID           uuid.UUID
	Name                  string
	AllowsRepeatPurchases bool
}

type TicketType struct {
	ID           uuid.UUID
	EventID      uuid.UUID
	Capacity     int
	SoldCount    int
	Price        *int64 // nil means the ticket is free
	MinQuantity  int
	MaxQuantity  int
	SaleStartsAt *time.Time
	SaleEndsAt   *time.Time
}

func (t TicketType) IsFree() bool {
	return t.Price == nil
}

func (t TicketType) Remaining() int {
	return t.Capacity - t.SoldCount
}

type RegistrationStatus string

const (
	RegistrationActive    RegistrationStatus = "ACTIVE"
	RegistrationCancelled RegistrationStatus = "CANCELLED"
)

type Registration struct {
	ID                uuid.UUID
	EventID           uuid.UUID
	ParticipantID     uuid.UUID
	TicketTypeID      *uuid.UUID
	PaymentID         *uuid.UUID
	Status            RegistrationStatus
	RegistrationToken string
	Quantity          int
	CreatedAt         time.Time
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
	PaymentFailed  PaymentStatus = "FAILED"
	PaymentExpired PaymentStatus = "EXPIRED"
)

type Payment struct {
	ID            uuid.UUID
	EventID       uuid.UUID
	ParticipantID uuid.UUID
	TicketTypeID  uuid.UUID
	Quantity      int
	Amount        int64
	Status        PaymentStatus
	PaidAt        *time.Time
}

type TransactionType string

const (
	TransactionCredit     TransactionType = "CREDIT"
	TransactionDebit      TransactionType = "DEBIT"
	TransactionAdjustment TransactionType = "ADJUSTMENT"
)

// BalanceTransaction is an immutable ledger entry. For any organizer the
// entries chain: entry[n+1].BalanceBefore == entry[n].BalanceAfter.
type BalanceTransaction struct {
	ID          uuid.UUID
	OrganizerID uuid.UUID
	// Seq is the organizer-scoped append position, assigned as head seq + 1
	// under the head row lock. Head selection orders by it, never by
	// created_at: writers run in several processes and wall clocks skew.
	Seq           int64
	Type          TransactionType
	Amount        int64 // always positive
	BalanceBefore int64
	BalanceAfter  int64
	ReferenceType string
	ReferenceID   *uuid.UUID
	CreatedAt     time.Time
}

type DisbursementStatus string

const (
	DisbursementPending    DisbursementStatus = "PENDING"
	DisbursementProcessing DisbursementStatus = "PROCESSING"
	DisbursementCompleted  DisbursementStatus = "COMPLETED"
	DisbursementFailed     DisbursementStatus = "FAILED"
	DisbursementCancelled  DisbursementStatus = "CANCELLED"

	// DisbursementInitial marks the creation edge in audit trails; it is
	// never stored in the status column.
	DisbursementInitial DisbursementStatus = "INITIAL"
)

type Disbursement struct {
	ID               uuid.UUID
	OrganizerID      uuid.UUID
	Amount           int64
	Status           DisbursementStatus
	PayoutAccountRef string
	FailureReason    *string
	RequestedAt      time.Time
	ProcessedAt      *time.Time
	CompletedAt      *time.Time
}

// TicketAvailability is the read-model answer for the query surface.
type TicketAvailability struct {
	TicketTypeID uuid.UUID
	Capacity     int
	SoldCount    int
	Remaining    int
}
