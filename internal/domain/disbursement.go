package domain

import (
	"time"

	"github.com/google/uuid"
)

func NewDisbursement(organizerID uuid.UUID, amount int64, payoutAccountRef string) Disbursement {
	return Disbursement{
		ID:               uuid.New(),
		OrganizerID:      organizerID,
		Amount:           amount,
		Status:           DisbursementPending,
		PayoutAccountRef: payoutAccountRef,
		RequestedAt:      time.Now().UTC(),
	}
}

// Locked reports whether the disbursement currently holds funds out of the
// organizer's available balance.
func (d Disbursement) Locked() bool {
	return d.Status == DisbursementPending || d.Status == DisbursementProcessing
}
