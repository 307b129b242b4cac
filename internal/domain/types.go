// Package domain holds the value types shared across the backtesting
// pipeline: price bars, signals and position sides.
package domain

import (
	"sort"
	"time"
)

// Market identifies the exchange group a symbol trades on.
type Market string

const (
	MarketUS Market = "us"
	MarketCN Market = "cn"
)

// Bar is a single OHLCV price bar. Bars are produced once by a price
// provider and never mutated afterwards.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// Closes returns the close prices of bars in order.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i := range bars {
		out[i] = bars[i].Close
	}
	return out
}

// NormalizeBars sorts bars by timestamp and drops bars whose timestamp
// repeats the previous one, keeping the last bar seen for each timestamp.
// The input slice is not modified.
func NormalizeBars(bars []Bar) []Bar {
	if len(bars) == 0 {
		return nil
	}
	out := make([]Bar, len(bars))
	copy(out, bars)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	n := 0
	for i := range out {
		if n > 0 && out[n-1].Timestamp.Equal(out[i].Timestamp) {
			out[n-1] = out[i]
			continue
		}
		out[n] = out[i]
		n++
	}
	return out[:n]
}

// Signal is a per-bar directional recommendation.
type Signal int8

const (
	SignalSell Signal = -1
	SignalHold Signal = 0
	SignalBuy  Signal = 1
)

// String returns "buy", "sell" or "hold".
func (s Signal) String() string {
	switch s {
	case SignalBuy:
		return "buy"
	case SignalSell:
		return "sell"
	default:
		return "hold"
	}
}

// PositionSide is the simulated holding state of a portfolio.
type PositionSide string

const (
	PositionSideFlat  PositionSide = "flat"
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)
