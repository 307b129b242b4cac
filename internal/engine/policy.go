package engine

import (
	"fmt"

	"quantdesk/internal/portfolio"
)

// NewPolicy builds a portfolio policy from its config spelling. A fraction
// of 0 or 1 selects the all-in sizer.
//
//   - fraction: share of available cash committed per entry, within (0, 1].
//   - allowShort: whether a sell signal while flat opens a short.
//   - endOfSeries: "leave_open" or "force_close".
func NewPolicy(fraction float64, allowShort bool, endOfSeries string) (portfolio.Policy, error) {
	eos, err := portfolio.ParseEndOfSeries(endOfSeries)
	if err != nil {
		return portfolio.Policy{}, err
	}
	p := portfolio.Policy{Sizer: portfolio.AllIn{}, AllowShort: allowShort, EndOfSeries: eos}
	if fraction != 0 && fraction != 1 {
		s, err := portfolio.NewFraction(fraction)
		if err != nil {
			return portfolio.Policy{}, fmt.Errorf("building sizer: %w", err)
		}
		p.Sizer = s
	}
	return p, nil
}
