package disbursement

import (
	"testing"

	"github.com/eventra/payment-settlement/internal/domain"
)

func TestCanTransition(t *testing.T) {
	valid := []struct {
		from, to domain.DisbursementStatus
	}{
		{domain.DisbursementPending, domain.DisbursementCancelled},
		{domain.DisbursementPending, domain.DisbursementProcessing},
		{domain.DisbursementProcessing, domain.DisbursementCompleted},
		{domain.DisbursementProcessing, domain.DisbursementFailed},
		{domain.DisbursementFailed, domain.DisbursementPending},
	}
	for _, tc := range valid {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	all := []domain.DisbursementStatus{
		domain.DisbursementPending,
		domain.DisbursementProcessing,
		domain.DisbursementCompleted,
		domain.DisbursementFailed,
		domain.DisbursementCancelled,
	}
	allowed := map[[2]domain.DisbursementStatus]bool{}
	for _, tc := range valid {
		allowed[[2]domain.DisbursementStatus{tc.from, tc.to}] = true
	}
	for _, from := range all {
		for _, to := range all {
			if allowed[[2]domain.DisbursementStatus{from, to}] {
				continue
			}
			if CanTransition(from, to) {
				t.Errorf("expected %s -> %s to be rejected", from, to)
			}
		}
	}
}

func TestTerminal(t *testing.T) {
	if !Terminal(domain.DisbursementCompleted) || !Terminal(domain.DisbursementCancelled) {
		t.Error("COMPLETED and CANCELLED must be terminal")
	}
	if Terminal(domain.DisbursementPending) || Terminal(domain.DisbursementProcessing) || Terminal(domain.DisbursementFailed) {
		t.Error("PENDING, PROCESSING and FAILED must not be terminal")
	}
}
