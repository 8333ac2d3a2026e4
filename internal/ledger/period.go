package ledger

import (
	"fmt"
	"time"

	"github.com/tinoosan/settlements/internal/errs"
)

// Period is a whole calendar month.
type Period struct {
	Month int
	Year  int
}

// NewPeriod validates month and year.
func NewPeriod(month, year int) (Period, error) {
	p := Period{Month: month, Year: year}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// PeriodOf returns the period containing t (by its UTC date).
func PeriodOf(t time.Time) Period {
	u := t.UTC()
	return Period{Month: int(u.Month()), Year: u.Year()}
}

func (p Period) Validate() error {
	if p.Month < 1 || p.Month > 12 {
		return fmt.Errorf("%w: month must be between 1 and 12", errs.ErrInvalid)
	}
	if p.Year < 1 {
		return fmt.Errorf("%w: year must be positive", errs.ErrInvalid)
	}
	return nil
}

// Start returns the first instant of the first day of the month, UTC.
func (p Period) Start() time.Time {
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC)
}

// LastDay returns midnight of the last calendar day of the month, UTC.
func (p Period) LastDay() time.Time {
	return p.Start().AddDate(0, 1, -1)
}

// End returns the last instant of the month; [Start, End] is the inclusive range.
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, 0).Add(-time.Nanosecond)
}

// Contains reports whether t falls on a day of the period.
func (p Period) Contains(t time.Time) bool {
	u := t.UTC()
	return u.Year() == p.Year && int(u.Month()) == p.Month
}

// Before orders periods chronologically.
func (p Period) Before(o Period) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Month < o.Month
}

// String renders the period as YYYY-MM.
func (p Period) String() string { return fmt.Sprintf("%04d-%02d", p.Year, p.Month) }
