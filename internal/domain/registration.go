package domain

import (
	"time"

	"github.com/google/uuid"
)

// NewRegistration builds an ACTIVE registration with a fresh opaque token.
// The token is what participants present at check-in; it carries no meaning.
func NewRegistration(eventID, participantID uuid.UUID, ticketTypeID, paymentID *uuid.UUID, quantity int) Registration {
	return Registration{
		ID:                uuid.New(),
		EventID:           eventID,
		ParticipantID:     participantID,
		TicketTypeID:      ticketTypeID,
		PaymentID:         paymentID,
		Status:            RegistrationActive,
		RegistrationToken: uuid.NewString(),
		Quantity:          quantity,
		CreatedAt:         time.Now().UTC(),
	}
}
