package domain

import "github.com/google/uuid"

// NewPayment represents one external checkout attempt, created PENDING by the
// checkout flow and flipped to PAID exactly once by the gateway webhook.
func NewPayment(eventID, participantID, ticketTypeID uuid.UUID, quantity int, amount int64) Payment {
	return Payment{
		ID:            uuid.New(),
		EventID:       eventID,
		ParticipantID: participantID,
		TicketTypeID:  ticketTypeID,
		Quantity:      quantity,
		Amount:        amount,
		Status:        PaymentPending,
	}
}
