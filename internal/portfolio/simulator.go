package portfolio

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"quantdesk/internal/domain"
)

var (
	// ErrLengthMismatch is returned when bars and signals are not aligned.
	ErrLengthMismatch = errors.New("bars and signals differ in length")
	// ErrInvalidCash is returned for a non-positive or non-finite starting
	// balance.
	ErrInvalidCash = errors.New("initial cash must be positive")
	// ErrInvalidPrice is returned for a bar whose close is not finite.
	ErrInvalidPrice = errors.New("close price is not finite")
)

// TradeEvent is a completed round trip: one entry and one exit.
type TradeEvent struct {
	EntryIndex  int                 `json:"entry_index"`
	ExitIndex   int                 `json:"exit_index"`
	EntryTime   time.Time           `json:"entry_time"`
	ExitTime    time.Time           `json:"exit_time"`
	EntryPrice  float64             `json:"entry_price"`
	ExitPrice   float64             `json:"exit_price"`
	Quantity    float64             `json:"quantity"`
	Direction   domain.PositionSide `json:"direction"`
	RealizedPnL float64             `json:"realized_pnl"`
	ForcedExit  bool                `json:"forced_exit,omitempty"`
}

// Result is the output of one simulation.
type Result struct {
	// Equity holds cash plus marked position value after each bar.
	Equity []float64
	Trades []TradeEvent
	// Entries and Exits count position opens and closes, forced closes
	// included.
	Entries int
	Exits   int
	// FinalSide and OpenQuantity describe the position left after the last
	// bar. OpenQuantity is negative for a short.
	FinalSide    domain.PositionSide
	OpenQuantity float64
}

// Simulator replays signals against close prices. It holds no state
// between runs and is safe for concurrent use.
type Simulator struct {
	policy Policy
}

// NewSimulator creates a Simulator. A nil Sizer falls back to AllIn.
func NewSimulator(p Policy) *Simulator {
	if p.Sizer == nil {
		p.Sizer = AllIn{}
	}
	return &Simulator{policy: p}
}

// Policy returns the simulator's policy.
func (s *Simulator) Policy() Policy { return s.policy }

// position is the in-flight state of a single simulation.
type position struct {
	side       domain.PositionSide
	qty        decimal.Decimal // always >= 0
	entryPrice decimal.Decimal
	entryIndex int
	entryTime  time.Time
}

// Simulate walks bars and signals once. A buy while flat opens a long, a
// sell while long closes it; the opposite pairs are no-ops unless short
// selling is enabled. Fills happen at the bar's close. An empty series
// yields an empty result.
func (s *Simulator) Simulate(bars []domain.Bar, signals []domain.Signal, initialCash float64) (Result, error) {
	if len(bars) != len(signals) {
		return Result{}, fmt.Errorf("%w: %d bars, %d signals", ErrLengthMismatch, len(bars), len(signals))
	}
	if !(initialCash > 0) || math.IsInf(initialCash, 0) {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidCash, initialCash)
	}
	res := Result{FinalSide: domain.PositionSideFlat}
	if len(bars) == 0 {
		return res, nil
	}

	cash := decimal.NewFromFloat(initialCash)
	pos := position{side: domain.PositionSideFlat}
	res.Equity = make([]float64, len(bars))

	closeOut := func(i int, price decimal.Decimal, forced bool) {
		var pnl decimal.Decimal
		if pos.side == domain.PositionSideLong {
			cash = cash.Add(pos.qty.Mul(price))
			pnl = price.Sub(pos.entryPrice).Mul(pos.qty)
		} else {
			cash = cash.Sub(pos.qty.Mul(price))
			pnl = pos.entryPrice.Sub(price).Mul(pos.qty)
		}
		res.Trades = append(res.Trades, TradeEvent{
			EntryIndex:  pos.entryIndex,
			ExitIndex:   i,
			EntryTime:   pos.entryTime,
			ExitTime:    bars[i].Timestamp,
			EntryPrice:  pos.entryPrice.InexactFloat64(),
			ExitPrice:   price.InexactFloat64(),
			Quantity:    pos.qty.InexactFloat64(),
			Direction:   pos.side,
			RealizedPnL: pnl.InexactFloat64(),
			ForcedExit:  forced,
		})
		res.Exits++
		pos = position{side: domain.PositionSideFlat}
	}

	open := func(i int, side domain.PositionSide, price decimal.Decimal) {
		qty := s.policy.Sizer.Quantity(cash, price)
		if !qty.IsPositive() {
			return
		}
		if side == domain.PositionSideLong {
			cash = cash.Sub(qty.Mul(price))
		} else {
			cash = cash.Add(qty.Mul(price))
		}
		pos = position{side: side, qty: qty, entryPrice: price, entryIndex: i, entryTime: bars[i].Timestamp}
		res.Entries++
	}

	for i := range bars {
		c := bars[i].Close
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return Result{}, fmt.Errorf("%w: bar %d (%s)", ErrInvalidPrice, i, bars[i].Timestamp.Format(time.DateOnly))
		}
		price := decimal.NewFromFloat(c)

		switch signals[i] {
		case domain.SignalBuy:
			switch pos.side {
			case domain.PositionSideFlat:
				open(i, domain.PositionSideLong, price)
			case domain.PositionSideShort:
				closeOut(i, price, false)
			}
		case domain.SignalSell:
			switch pos.side {
			case domain.PositionSideLong:
				closeOut(i, price, false)
			case domain.PositionSideFlat:
				if s.policy.AllowShort {
					open(i, domain.PositionSideShort, price)
				}
			}
		}

		res.Equity[i] = markToMarket(cash, pos, price).InexactFloat64()
	}

	last := len(bars) - 1
	if pos.side != domain.PositionSideFlat && s.policy.EndOfSeries == ForceClose {
		// Closing at the last close leaves equity unchanged.
		closeOut(last, decimal.NewFromFloat(bars[last].Close), true)
	}

	res.FinalSide = pos.side
	switch pos.side {
	case domain.PositionSideLong:
		res.OpenQuantity = pos.qty.InexactFloat64()
	case domain.PositionSideShort:
		res.OpenQuantity = pos.qty.Neg().InexactFloat64()
	}
	return res, nil
}

func markToMarket(cash decimal.Decimal, pos position, price decimal.Decimal) decimal.Decimal {
	switch pos.side {
	case domain.PositionSideLong:
		return cash.Add(pos.qty.Mul(price))
	case domain.PositionSideShort:
		return cash.Sub(pos.qty.Mul(price))
	default:
		return cash
	}
}
