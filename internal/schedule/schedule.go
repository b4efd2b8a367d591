// Package schedule derives the daily obligation plan of a subscription.
package schedule

import (
	"errors"
	"strings"
	"time"
)

type Cycle string

const (
	Cycle31  Cycle = "31_jours"
	Cycle90  Cycle = "90_jours"
	Cycle180 Cycle = "180_jours"
	Cycle365 Cycle = "365_jours"
)

var (
	ErrInvalidCycle     = errors.New("invalid_cycle")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidStartDate = errors.New("invalid_start_date")
)

var cycleDays = map[Cycle]int{
	Cycle31:  31,
	Cycle90:  90,
	Cycle180: 180,
	Cycle365: 365,
}

// Entry is one day of the plan. Amounts are integer XOF.
type Entry struct {
	DayNumber int
	DueDate   time.Time
	Amount    int64
}

func ParseCycle(raw string) (Cycle, error) {
	c := Cycle(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := cycleDays[c]; !ok {
		return "", ErrInvalidCycle
	}
	return c, nil
}

func (c Cycle) Days() (int, error) {
	days, ok := cycleDays[c]
	if !ok {
		return 0, ErrInvalidCycle
	}
	return days, nil
}

func (c Cycle) String() string {
	return string(c)
}

// Generate returns day numbers 1..N with due dates start+(day-1) and a
// constant amount. It is pure; persistence is the ledger's job.
func Generate(cycle Cycle, dailyAmount int64, start time.Time, minDailyAmount int64) ([]Entry, error) {
	days, err := cycle.Days()
	if err != nil {
		return nil, err
	}
	if dailyAmount <= 0 || dailyAmount < minDailyAmount {
		return nil, ErrInvalidAmount
	}
	if start.IsZero() {
		return nil, ErrInvalidStartDate
	}

	first := Day(start)
	entries := make([]Entry, days)
	for i := 0; i < days; i++ {
		entries[i] = Entry{
			DayNumber: i + 1,
			DueDate:   first.AddDate(0, 0, i),
			Amount:    dailyAmount,
		}
	}
	return entries, nil
}

func Total(entries []Entry) int64 {
	var total int64
	for _, e := range entries {
		total += e.Amount
	}
	return total
}

// EndDate is the due date of the last day.
func EndDate(start time.Time, days int) time.Time {
	if days <= 0 {
		return Day(start)
	}
	return Day(start).AddDate(0, 0, days-1)
}

// Day truncates t to midnight of its UTC calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// EndOfDay is the last second of t's UTC calendar day.
func EndOfDay(t time.Time) time.Time {
	return Day(t).Add(24*time.Hour - time.Second)
}
