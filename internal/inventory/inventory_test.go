package inventory

import (
	"errors"
	"testing"
	"time"

	"github.com/eventra/payment-settlement/internal/domain"
)

func ticketType(min, max int) domain.TicketType {
	return domain.TicketType{Capacity: 100, MinQuantity: min, MaxQuantity: max}
}

func TestValidateQuantity(t *testing.T) {
	cases := []struct {
		name     string
		min, max int
		quantity int
		wantErr  error
	}{
		{"within range", 1, 10, 5, nil},
		{"at min", 1, 10, 1, nil},
		{"at max", 1, 10, 10, nil},
		{"below min", 2, 10, 1, domain.ErrQuantityOutOfRange},
		{"above max", 1, 4, 5, domain.ErrQuantityOutOfRange},
		{"zero", 1, 10, 0, domain.ErrQuantityOutOfRange},
		{"negative", 1, 10, -1, domain.ErrQuantityOutOfRange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateQuantity(ticketType(tc.min, tc.max), tc.quantity)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("validateQuantity(%d) = %v, want %v", tc.quantity, err, tc.wantErr)
			}
		})
	}
}

func TestValidateSaleWindow(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	cases := []struct {
		name       string
		start, end *time.Time
		wantErr    error
	}{
		{"no window", nil, nil, nil},
		{"open window", &past, &future, nil},
		{"before start", &future, nil, domain.ErrSaleWindowClosed},
		{"after end", nil, &past, domain.ErrSaleWindowClosed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tt := ticketType(1, 10)
			tt.SaleStartsAt = tc.start
			tt.SaleEndsAt = tc.end
			err := validateSaleWindow(tt, now)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("validateSaleWindow = %v, want %v", err, tc.wantErr)
			}
		})
	}
}
