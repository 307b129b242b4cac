package util

import (
	"fmt"
	"strings"
	"time"

	"quantdesk/internal/domain"
)

// DateLayout is the calendar-date format used in requests and configs.
const DateLayout = time.DateOnly

// TradingCalendar answers calendar questions for one market. Holidays are
// not modelled; the year lengths are the markets' usual session counts.
type TradingCalendar struct {
	market domain.Market
}

// NewTradingCalendar creates a TradingCalendar for the given market.
func NewTradingCalendar(market domain.Market) *TradingCalendar {
	return &TradingCalendar{market: market}
}

// Market returns the calendar's market.
func (tc *TradingCalendar) Market() domain.Market { return tc.market }

// PeriodsPerYear returns the number of daily sessions in a trading year:
// 252 for US equities, 242 for the Shanghai and Shenzhen exchanges.
func (tc *TradingCalendar) PeriodsPerYear() float64 {
	if tc.market == domain.MarketCN {
		return 242
	}
	return 252
}

// IsTradingDay reports whether t falls on a weekday.
func (tc *TradingCalendar) IsTradingDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}

// ParseMarket parses "us" or "cn", case-insensitively.
func ParseMarket(s string) (domain.Market, error) {
	switch m := domain.Market(strings.ToLower(strings.TrimSpace(s))); m {
	case domain.MarketUS, domain.MarketCN:
		return m, nil
	case "":
		return domain.MarketUS, nil
	default:
		return "", fmt.Errorf("unknown market %q", s)
	}
}

// ParseDate parses a YYYY-MM-DD date as UTC midnight. An empty string
// yields the zero time.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: want YYYY-MM-DD", s)
	}
	return t, nil
}
