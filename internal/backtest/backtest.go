// Package backtest runs deterministic bar-by-bar simulations of a ruleset
// over an OHLCV frame and computes the metrics the evolution worker scores
// strategies on.
package backtest

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"tradebrain/internal/market"
	"tradebrain/internal/ruleset"
)

// TradeRecord is one simulated round trip
type TradeRecord struct {
	Side       string    `json:"side"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	PnL        float64   `json:"pnl"`
	ExitReason string    `json:"exit_reason"` // stop_loss, take_profit, end_of_data
}

// Metrics summarizes a simulated run
type Metrics struct {
	Trades      int           `json:"trades"`
	Wins        int           `json:"wins"`
	WinRate     float64       `json:"win_rate"`
	TotalReturn float64       `json:"total_return"` // fraction of starting equity
	AvgPnL      float64       `json:"avg_pnl"`
	MaxDrawdown float64       `json:"max_drawdown"` // peak-to-trough fraction
	Sharpe      *float64      `json:"sharpe"`       // nil when fewer than 2 trades or zero stdev
	Records     []TradeRecord `json:"records,omitempty"`
}

// Result carries the full run plus the time-split segments used for overfit
// detection.
type Result struct {
	Full  Metrics `json:"full"`
	Train Metrics `json:"train"`
	Test  Metrics `json:"test"`
}

const startingEquity = 10000.0

// Run simulates the ruleset over the frame and splits it 70/30 by time for
// train/test metrics. An empty or too-short frame yields zeroed metrics, not
// an error.
func Run(rs *ruleset.Ruleset, candles []market.Candle) *Result {
	res := &Result{
		Full: simulate(rs, candles),
	}
	if len(candles) >= 10 {
		split := len(candles) * 7 / 10
		res.Train = simulate(rs, candles[:split])
		res.Test = simulate(rs, candles[split:])
	}
	return res
}

// position is the open simulated trade during a walk
type position struct {
	side      string
	entry     float64
	stop      float64
	target    float64
	entryTime time.Time
}

// simulate walks the frame once. After the warm-up, a flat book opens on met
// entry conditions; an open position exits on gap-aware stop/target checks
// against each bar's low and high, with the stop always checked first.
func simulate(rs *ruleset.Ruleset, candles []market.Candle) Metrics {
	warmup := rs.MaxLookback()
	if len(candles) <= warmup {
		return Metrics{}
	}

	env := ruleset.NewEnv(candles)
	var pos *position
	var records []TradeRecord

	for i := warmup; i < len(candles); i++ {
		bar := candles[i]

		if pos != nil {
			if rec, closed := checkExit(pos, bar); closed {
				records = append(records, rec)
				pos = nil
			}
			continue
		}

		if ruleset.Evaluate(rs, env, i).Met {
			entry := bar.Close
			atr := atrAt(env, i)
			stop, target := rs.Exit.Levels(entry, atr, rs.Side)
			pos = &position{
				side:      rs.Side,
				entry:     entry,
				stop:      stop,
				target:    target,
				entryTime: bar.Timestamp,
			}
		}
	}

	// Force-close at the final bar so every entry produces a record
	if pos != nil {
		last := candles[len(candles)-1]
		records = append(records, TradeRecord{
			Side:       pos.side,
			EntryTime:  pos.entryTime,
			ExitTime:   last.Timestamp,
			EntryPrice: pos.entry,
			ExitPrice:  last.Close,
			PnL:        pnl(pos.side, pos.entry, last.Close),
			ExitReason: "end_of_data",
		})
	}

	return summarize(records)
}

// checkExit applies gap-aware fills: a bar whose low breaches the stop fills
// at the stop, a bar whose high breaches the target fills at the target. When
// one bar breaches both, the stop wins.
func checkExit(pos *position, bar market.Candle) (TradeRecord, bool) {
	var exitPrice float64
	var reason string

	if pos.side == "SELL" {
		// Short: stop sits above entry, target below
		switch {
		case bar.High >= pos.stop:
			exitPrice, reason = pos.stop, "stop_loss"
		case bar.Low <= pos.target:
			exitPrice, reason = pos.target, "take_profit"
		default:
			return TradeRecord{}, false
		}
	} else {
		switch {
		case bar.Low <= pos.stop:
			exitPrice, reason = pos.stop, "stop_loss"
		case bar.High >= pos.target:
			exitPrice, reason = pos.target, "take_profit"
		default:
			return TradeRecord{}, false
		}
	}

	return TradeRecord{
		Side:       pos.side,
		EntryTime:  pos.entryTime,
		ExitTime:   bar.Timestamp,
		EntryPrice: pos.entry,
		ExitPrice:  exitPrice,
		PnL:        pnl(pos.side, pos.entry, exitPrice),
		ExitReason: reason,
	}, true
}

func pnl(side string, entry, exit float64) float64 {
	if side == "SELL" {
		return entry - exit
	}
	return exit - entry
}

func atrAt(env *ruleset.Env, barIndex int) float64 {
	v, ok := env.Value("ATR", 14, barIndex)
	if !ok {
		return 0
	}
	return v
}

// summarize computes the run metrics from trade records. Equity compounds
// per-trade returns against a nominal starting stake; drawdown is
// peak-to-trough on that curve.
func summarize(records []TradeRecord) Metrics {
	m := Metrics{Trades: len(records), Records: records}
	if len(records) == 0 {
		return m
	}

	equity := startingEquity
	peak := equity
	pnls := make([]float64, 0, len(records))

	for _, r := range records {
		if r.PnL > 0 {
			m.Wins++
		}
		pnls = append(pnls, r.PnL)

		if r.EntryPrice > 0 {
			equity *= 1 + r.PnL/r.EntryPrice
		}
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			dd := (peak - equity) / peak
			if dd > m.MaxDrawdown {
				m.MaxDrawdown = dd
			}
		}
	}

	m.WinRate = float64(m.Wins) / float64(len(records))
	m.TotalReturn = (equity - startingEquity) / startingEquity
	m.AvgPnL = stat.Mean(pnls, nil)

	if len(pnls) >= 2 {
		std := stat.StdDev(pnls, nil)
		if std > 0 && !math.IsNaN(std) {
			sharpe := m.AvgPnL / std
			m.Sharpe = &sharpe
		}
	}
	return m
}
