// Package disbursement drives payout requests through an explicit state
// machine against the organizer's locked/unlocked balance.
package disbursement

import "github.com/eventra/payment-settlement/internal/domain"

// transitions is the full edge set. Anything absent is invalid and must be
// rejected without side effects.
//
//	(none)     -> PENDING      request: lock amount, no ledger entry
//	PENDING    -> CANCELLED    cancel: unlock, no ledger entry
//	PENDING    -> PROCESSING   beginProcessing: hand off to payout processor
//	PROCESSING -> COMPLETED    complete: ledger debit, unlock
//	PROCESSING -> FAILED       fail: unlock, record reason, no ledger entry
//	FAILED     -> PENDING      retry: re-validate available balance, re-lock
var transitions = map[domain.DisbursementStatus][]domain.DisbursementStatus{
	domain.DisbursementPending:    {domain.DisbursementCancelled, domain.DisbursementProcessing},
	domain.DisbursementProcessing: {domain.DisbursementCompleted, domain.DisbursementFailed},
	domain.DisbursementFailed:     {domain.DisbursementPending},
}

func CanTransition(from, to domain.DisbursementStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions exist from the status.
func Terminal(status domain.DisbursementStatus) bool {
	return len(transitions[status]) == 0
}
