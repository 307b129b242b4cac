// Package portfolio simulates a single-instrument portfolio executing a
// signal series bar by bar.
package portfolio

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// EndOfSeries decides what happens to a position still open on the last
// bar.
type EndOfSeries int

const (
	// LeaveOpen marks the position to market in the final equity value but
	// records no trade for it.
	LeaveOpen EndOfSeries = iota
	// ForceClose closes the position at the last close and records a trade
	// flagged ForcedExit.
	ForceClose
)

// String returns "leave_open" or "force_close".
func (e EndOfSeries) String() string {
	if e == ForceClose {
		return "force_close"
	}
	return "leave_open"
}

// ParseEndOfSeries parses the config spelling of an EndOfSeries policy.
func ParseEndOfSeries(s string) (EndOfSeries, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "leave_open", "leave-open":
		return LeaveOpen, nil
	case "force_close", "force-close":
		return ForceClose, nil
	default:
		return LeaveOpen, fmt.Errorf("unknown end-of-series policy %q", s)
	}
}

// Sizer decides how many whole units to open given the available cash.
type Sizer interface {
	Quantity(cash, price decimal.Decimal) decimal.Decimal
}

// AllIn invests all available cash, floored to whole units.
type AllIn struct{}

// Quantity returns floor(cash / price).
func (AllIn) Quantity(cash, price decimal.Decimal) decimal.Decimal {
	return wholeUnits(cash, price)
}

// Fraction invests a fixed fraction of available cash.
type Fraction struct {
	f decimal.Decimal
}

// NewFraction returns a Fraction sizer. f must be within (0, 1].
func NewFraction(f float64) (Fraction, error) {
	if !(f > 0 && f <= 1) {
		return Fraction{}, fmt.Errorf("position fraction %v outside (0, 1]", f)
	}
	return Fraction{f: decimal.NewFromFloat(f)}, nil
}

// Quantity returns floor(cash * f / price).
func (s Fraction) Quantity(cash, price decimal.Decimal) decimal.Decimal {
	return wholeUnits(cash.Mul(s.f), price)
}

func wholeUnits(budget, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() || !budget.IsPositive() {
		return decimal.Zero
	}
	qty := budget.Div(price).Floor()
	// Division is rounded; never spend more than the budget.
	for qty.IsPositive() && qty.Mul(price).GreaterThan(budget) {
		qty = qty.Sub(decimal.NewFromInt(1))
	}
	return qty
}

// Policy configures position sizing and lifecycle rules.
type Policy struct {
	Sizer       Sizer
	AllowShort  bool
	EndOfSeries EndOfSeries
}

// DefaultPolicy is the reference policy: all-in long only, positions left
// open at the end of the series.
func DefaultPolicy() Policy {
	return Policy{Sizer: AllIn{}, EndOfSeries: LeaveOpen}
}
