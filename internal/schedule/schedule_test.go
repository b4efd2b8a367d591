package schedule

import (
	"errors"
	"testing"
	"time"
)

func TestGenerateAllCycles(t *testing.T) {
	start := time.Date(2024, 1, 1, 15, 30, 0, 0, time.UTC)
	cases := []struct {
		cycle Cycle
		days  int
	}{
		{Cycle31, 31},
		{Cycle90, 90},
		{Cycle180, 180},
		{Cycle365, 365},
	}

	for _, tc := range cases {
		t.Run(string(tc.cycle), func(t *testing.T) {
			entries, err := Generate(tc.cycle, 500, start, 200)
			if err != nil {
				t.Fatalf("generate: %v", err)
			}
			if len(entries) != tc.days {
				t.Fatalf("expected %d entries, got %d", tc.days, len(entries))
			}
			for i, e := range entries {
				if e.DayNumber != i+1 {
					t.Fatalf("expected day %d, got %d", i+1, e.DayNumber)
				}
				want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
				if !e.DueDate.Equal(want) {
					t.Fatalf("day %d: expected due %s, got %s", e.DayNumber, want, e.DueDate)
				}
				if e.Amount != 500 {
					t.Fatalf("day %d: expected amount 500, got %d", e.DayNumber, e.Amount)
				}
			}
			if got := Total(entries); got != int64(tc.days)*500 {
				t.Fatalf("expected total %d, got %d", tc.days*500, got)
			}
			last := entries[len(entries)-1].DueDate
			if !last.Equal(EndDate(start, tc.days)) {
				t.Fatalf("expected end date %s, got %s", EndDate(start, tc.days), last)
			}
		})
	}
}

func TestGenerateThirtyOneDaysOfFiveHundred(t *testing.T) {
	entries, err := Generate(Cycle31, 500, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 200)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if Total(entries) != 15500 {
		t.Fatalf("expected 15500, got %d", Total(entries))
	}
}

func TestGenerateRejectsInvalidInput(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := Generate(Cycle("7_jours"), 500, start, 200); !errors.Is(err, ErrInvalidCycle) {
		t.Fatalf("expected ErrInvalidCycle, got %v", err)
	}
	if _, err := Generate(Cycle31, 199, start, 200); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := Generate(Cycle31, 0, start, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for zero, got %v", err)
	}
	if _, err := Generate(Cycle31, 500, time.Time{}, 200); !errors.Is(err, ErrInvalidStartDate) {
		t.Fatalf("expected ErrInvalidStartDate, got %v", err)
	}
}

func TestParseCycle(t *testing.T) {
	c, err := ParseCycle(" 90_JOURS ")
	if err != nil || c != Cycle90 {
		t.Fatalf("expected 90_jours, got %q (%v)", c, err)
	}
	if _, err := ParseCycle("monthly"); !errors.Is(err, ErrInvalidCycle) {
		t.Fatalf("expected ErrInvalidCycle, got %v", err)
	}
}

func TestGenerateCrossesMonthAndLeapDay(t *testing.T) {
	entries, err := Generate(Cycle31, 200, time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC), 200)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !entries[9].DueDate.Equal(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected leap day at index 9, got %s", entries[9].DueDate)
	}
	if !entries[10].DueDate.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected march 1 at index 10, got %s", entries[10].DueDate)
	}
}
