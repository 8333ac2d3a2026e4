package ledger

import (
	"errors"

	"github.com/govalues/money"
)

// Currency is the single currency amounts are kept in.
const Currency = "COP"

// ErrCurrencyMismatch is returned when amounts of different currencies are combined.
var ErrCurrencyMismatch = errors.New("currency mismatch")

// Zero returns the zero amount in the system currency.
func Zero() money.Amount {
	z, _ := money.NewAmountFromMinorUnits(Currency, 0)
	return z
}

// NewAmount builds an amount in the system currency from minor units.
func NewAmount(minor int64) (money.Amount, error) {
	return money.NewAmountFromMinorUnits(Currency, minor)
}

// MustAmount is NewAmount for literals in seeds and tests.
func MustAmount(minor int64) money.Amount {
	a, err := NewAmount(minor)
	if err != nil {
		panic(err)
	}
	return a
}

// Minor returns the amount as an integer count of minor units.
func Minor(a money.Amount) int64 {
	units, _ := a.MinorUnits()
	return units
}

// Sum folds amounts into a total starting from Zero. An empty input yields Zero.
func Sum(amounts ...money.Amount) (money.Amount, error) {
	total := Zero()
	for _, a := range amounts {
		if a.Curr().Code() != total.Curr().Code() {
			return Zero(), ErrCurrencyMismatch
		}
		v, err := total.Add(a)
		if err != nil {
			return Zero(), err
		}
		total = v
	}
	return total, nil
}

// Compare orders two amounts of the same currency: -1, 0 or +1.
func Compare(a, b money.Amount) (int, error) {
	if a.Curr().Code() != b.Curr().Code() {
		return 0, ErrCurrencyMismatch
	}
	x, y := Minor(a), Minor(b)
	switch {
	case x < y:
		return -1, nil
	case x > y:
		return 1, nil
	}
	return 0, nil
}

// Equal reports whether a and b have the same currency and value.
func Equal(a, b money.Amount) bool {
	c, err := Compare(a, b)
	return err == nil && c == 0
}

// ProjectValues returns the quoted values of ps.
func ProjectValues(ps []Project) []money.Amount {
	out := make([]money.Amount, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.QuotedValue)
	}
	return out
}

// ExpenseAmounts returns the amounts of es.
func ExpenseAmounts(es []Expense) []money.Amount {
	out := make([]money.Amount, 0, len(es))
	for _, e := range es {
		out = append(out, e.Amount)
	}
	return out
}
