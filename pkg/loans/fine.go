package loans

import (
	"time"
)

const (
	// DailyLateFee is charged per whole day past the due date.
	DailyLateFee = 0.25

	// LoanPeriodDays is the default lending period.
	LoanPeriodDays = 14

	// MaxActiveLoans is the per-borrower ceiling on simultaneously active
	// loans.
	MaxActiveLoans = 3
)

// FineAmount computes the late fee owed on a loan due on dateDue as of the
// given day. Nothing accrues through and including the due date.
func FineAmount(dateDue, asOf time.Time) float64 {
	days := daysBetween(dateDue, asOf)
	if days < 0 {
		days = 0
	}
	return DailyLateFee * float64(days)
}

// daysBetween counts whole calendar days from one date to another,
// ignoring the time of day.
func daysBetween(from, to time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(t.Sub(f).Hours() / 24)
}
