package domain

import (
	"testing"
	"time"

	commissiondomain "github.com/smallbiznis/tontine/internal/commission/domain"
)

func TestShouldBlock(t *testing.T) {
	due := time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)
	pending := commissiondomain.Commission{Status: commissiondomain.StatusPending, DueDate: due}
	paid := commissiondomain.Commission{Status: commissiondomain.StatusPaid, DueDate: due}

	cases := []struct {
		name        string
		commissions []commissiondomain.Commission
		asOf        time.Time
		want        bool
	}{
		{"no commissions", nil, due.Add(48 * time.Hour), false},
		{"pending on due date", []commissiondomain.Commission{pending}, due, false},
		{"pending after due date", []commissiondomain.Commission{pending}, time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC), true},
		{"paid after due date", []commissiondomain.Commission{paid}, time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC), false},
		{"one overdue among paid", []commissiondomain.Commission{paid, pending}, due.Add(time.Second), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ShouldBlock(tc.commissions, tc.asOf); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}
