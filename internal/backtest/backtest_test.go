package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebrain/internal/market"
	"tradebrain/internal/ruleset"
)

func f(v float64) *float64 { return &v }

// frame builds candles from (open, high, low, close) rows
func frame(rows [][4]float64) []market.Candle {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, len(rows))
	for i, r := range rows {
		out[i] = market.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      r[0],
			High:      r[1],
			Low:       r[2],
			Close:     r[3],
			Volume:    1000,
		}
	}
	return out
}

// alwaysEnter is a ruleset that fires on every bar past warm-up
func alwaysEnter(stopPct, targetPct float64) *ruleset.Ruleset {
	return &ruleset.Ruleset{
		Side: "BUY",
		Conditions: []ruleset.Node{
			{Indicator: "PRICE", Relation: ruleset.RelGT, Value: f(0)},
		},
		Exit: ruleset.ExitSpec{Style: ruleset.ExitPercent, StopLoss: stopPct, TakeProfit: targetPct},
	}
}

// flatThen appends steady bars before the scripted ones so the warm-up is
// satisfied without triggering exits.
func flatThen(warmupBars int, price float64, rows [][4]float64) []market.Candle {
	all := make([][4]float64, 0, warmupBars+len(rows))
	for i := 0; i < warmupBars; i++ {
		all = append(all, [4]float64{price, price, price, price})
	}
	all = append(all, rows...)
	return frame(all)
}

func TestStopFillsAtStopOnGap(t *testing.T) {
	rs := alwaysEnter(0.02, 0.04)
	// Entry at 100, then a bar gapping far below the 98 stop
	candles := flatThen(50, 100, [][4]float64{
		{100, 100, 100, 100}, // entry bar
		{90, 91, 88, 89},     // gap down through the stop
	})

	res := Run(rs, candles)
	require.NotEmpty(t, res.Full.Records)
	first := res.Full.Records[0]
	assert.Equal(t, "stop_loss", first.ExitReason)
	assert.InDelta(t, 98.0, first.ExitPrice, 1e-9)
	assert.InDelta(t, -2.0, first.PnL, 1e-9)
}

func TestTargetFillsAtTarget(t *testing.T) {
	rs := alwaysEnter(0.02, 0.04)
	candles := flatThen(50, 100, [][4]float64{
		{100, 100, 100, 100},
		{103, 106, 103, 105}, // high pierces the 104 target
	})

	res := Run(rs, candles)
	require.NotEmpty(t, res.Full.Records)
	first := res.Full.Records[0]
	assert.Equal(t, "take_profit", first.ExitReason)
	assert.InDelta(t, 104.0, first.ExitPrice, 1e-9)
	assert.InDelta(t, 4.0, first.PnL, 1e-9)
}

func TestStopWinsWhenBarBreachesBoth(t *testing.T) {
	rs := alwaysEnter(0.02, 0.04)
	// One wide bar crossing both the 98 stop and the 104 target
	candles := flatThen(50, 100, [][4]float64{
		{100, 100, 100, 100},
		{100, 110, 95, 102},
	})

	res := Run(rs, candles)
	require.NotEmpty(t, res.Full.Records)
	assert.Equal(t, "stop_loss", res.Full.Records[0].ExitReason)
}

func TestOpenPositionClosesAtEndOfData(t *testing.T) {
	rs := alwaysEnter(0.10, 0.20)
	candles := flatThen(50, 100, [][4]float64{
		{100, 100, 100, 100},
		{101, 101, 100, 101}, // never touches 90 or 120
	})

	res := Run(rs, candles)
	require.NotEmpty(t, res.Full.Records)
	last := res.Full.Records[len(res.Full.Records)-1]
	assert.Equal(t, "end_of_data", last.ExitReason)
}

func TestTooShortFrameYieldsZeroMetrics(t *testing.T) {
	rs := alwaysEnter(0.02, 0.04)
	res := Run(rs, frame([][4]float64{{100, 100, 100, 100}}))
	assert.Zero(t, res.Full.Trades)
	assert.Nil(t, res.Full.Sharpe)
}

func TestSharpeNilForSingleTrade(t *testing.T) {
	rs := alwaysEnter(0.02, 0.04)
	candles := flatThen(50, 100, [][4]float64{
		{100, 100, 100, 100},
		{103, 106, 103, 105},
	})
	res := Run(rs, candles)
	require.Equal(t, 1, res.Full.Trades)
	assert.Nil(t, res.Full.Sharpe)
}

func TestSharpeNilForZeroStdev(t *testing.T) {
	rs := alwaysEnter(0.02, 0.04)
	// Two identical round trips produce identical pnls
	candles := flatThen(50, 100, [][4]float64{
		{100, 100, 100, 100},
		{103, 106, 103, 100},
		{100, 100, 100, 100},
		{103, 106, 103, 100},
	})
	res := Run(rs, candles)
	require.Equal(t, 2, res.Full.Trades)
	assert.Nil(t, res.Full.Sharpe)
}

func TestSharpeSetForVariedTrades(t *testing.T) {
	rs := alwaysEnter(0.02, 0.04)
	candles := flatThen(50, 100, [][4]float64{
		{100, 100, 100, 100},
		{103, 106, 103, 100}, // +4 via target
		{100, 100, 100, 100},
		{97, 97, 90, 95}, // -2 via stop
	})
	res := Run(rs, candles)
	require.Equal(t, 2, res.Full.Trades)
	require.NotNil(t, res.Full.Sharpe)
	assert.InDelta(t, 0.5, res.Full.WinRate, 1e-9)
}

func TestTrainTestSplitSeventyThirty(t *testing.T) {
	rs := alwaysEnter(0.02, 0.04)
	rows := make([][4]float64, 0, 100)
	for i := 0; i < 100; i++ {
		rows = append(rows, [4]float64{100, 100, 100, 100})
	}
	res := Run(rs, frame(rows))

	// The full frame is 100 bars: train sees 70, test 30. Neither segment
	// can out-trade the full run.
	assert.LessOrEqual(t, res.Train.Trades+res.Test.Trades, res.Full.Trades+2)
}

func TestDrawdownPositiveAfterLoss(t *testing.T) {
	rs := alwaysEnter(0.05, 0.10)
	candles := flatThen(50, 100, [][4]float64{
		{100, 100, 100, 100},
		{96, 96, 90, 94}, // stop at 95
	})
	res := Run(rs, candles)
	require.NotEmpty(t, res.Full.Records)
	assert.Greater(t, res.Full.MaxDrawdown, 0.0)
	assert.Less(t, res.Full.TotalReturn, 0.0)
}
