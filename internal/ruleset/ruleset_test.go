package ruleset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebrain/internal/market"
)

func f(v float64) *float64 { return &v }

func flatCandles(n int, close float64) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		out[i] = market.Candle{Open: close, High: close, Low: close, Close: close, Volume: 100}
	}
	return out
}

func decliningCandles(n int) []market.Candle {
	out := make([]market.Candle, n)
	price := 200.0
	for i := range out {
		price -= 1.5
		out[i] = market.Candle{Open: price + 1, High: price + 2, Low: price - 1, Close: price, Volume: 100}
	}
	return out
}

func TestParseDefaults(t *testing.T) {
	rs, err := Parse([]byte(`{"conditions":[{"indicator":"rsi","length":14,"relation":"<","value":30}]}`))
	require.NoError(t, err)
	assert.Equal(t, "1h", rs.Timeframe)
	assert.Equal(t, "BUY", rs.Side)
	assert.Equal(t, ExitPercent, rs.Exit.Style)
	assert.Equal(t, "RSI", rs.Conditions[0].Indicator)
}

func TestParseRejectsEmptyConditions(t *testing.T) {
	_, err := Parse([]byte(`{"conditions":[]}`))
	assert.Error(t, err)

	_, err = Parse([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseFillsZeroExitDistances(t *testing.T) {
	// A zero percent distance would place stop and target at entry
	rs, err := Parse([]byte(`{"conditions":[{"indicator":"rsi","length":14,"relation":"<","value":30}],"exit":{"style":"percent"}}`))
	require.NoError(t, err)
	assert.InDelta(t, 0.02, rs.Exit.StopLoss, 1e-9)
	assert.InDelta(t, 0.04, rs.Exit.TakeProfit, 1e-9)

	rs, err = Parse([]byte(`{"conditions":[{"indicator":"rsi","length":14,"relation":"<","value":30}],"exit":{"style":"atr","take_profit":2.5}}`))
	require.NoError(t, err)
	assert.InDelta(t, 1.5, rs.Exit.StopLoss, 1e-9)
	assert.InDelta(t, 2.5, rs.Exit.TakeProfit, 1e-9)
}

func TestParseRejectsInvalidExitLevels(t *testing.T) {
	_, err := Parse([]byte(`{"conditions":[{"indicator":"rsi","length":14,"relation":"<","value":30}],"exit":{"style":"percent","stop_loss":-0.02}}`))
	assert.Error(t, err)

	_, err = Parse([]byte(`{"conditions":[{"indicator":"rsi","length":14,"relation":"<","value":30}],"exit":{"style":"fixed","stop_loss":95}}`))
	assert.Error(t, err)
}

func TestEvaluateOversoldRSI(t *testing.T) {
	rs := &Ruleset{Conditions: []Node{
		{Indicator: "RSI", Length: 14, Relation: RelLT, Value: f(30)},
	}}
	env := NewEnv(decliningCandles(60))
	res := Evaluate(rs, env, env.Bars()-1)
	assert.True(t, res.Met)
	assert.Greater(t, res.Strength, 0.0)
}

func TestEvaluateUnmetCondition(t *testing.T) {
	rs := &Ruleset{Conditions: []Node{
		{Indicator: "RSI", Length: 14, Relation: RelGT, Value: f(70)},
	}}
	env := NewEnv(decliningCandles(60))
	res := Evaluate(rs, env, env.Bars()-1)
	assert.False(t, res.Met)
	assert.Zero(t, res.Strength)
}

func TestEvaluateRunningOperator(t *testing.T) {
	// false AND true = false, but false OR true = true
	andSet := &Ruleset{Conditions: []Node{
		{Indicator: "RSI", Length: 14, Relation: RelGT, Value: f(70)},
		{Logic: LogicAND},
		{Indicator: "RSI", Length: 14, Relation: RelLT, Value: f(30)},
	}}
	orSet := &Ruleset{Conditions: []Node{
		{Indicator: "RSI", Length: 14, Relation: RelGT, Value: f(70)},
		{Logic: LogicOR},
		{Indicator: "RSI", Length: 14, Relation: RelLT, Value: f(30)},
	}}
	env := NewEnv(decliningCandles(60))
	i := env.Bars() - 1

	assert.False(t, Evaluate(andSet, env, i).Met)
	assert.True(t, Evaluate(orSet, env, i).Met)
}

func TestEvaluateNestedGroup(t *testing.T) {
	rs := &Ruleset{Conditions: []Node{
		{Indicator: "RSI", Length: 14, Relation: RelLT, Value: f(30)},
		{Logic: LogicAND},
		{Group: []Node{
			{Indicator: "PRICE", Relation: RelGT, Value: f(0)},
			{Logic: LogicOR},
			{Indicator: "RSI", Length: 14, Relation: RelGT, Value: f(90)},
		}},
	}}
	env := NewEnv(decliningCandles(60))
	assert.True(t, Evaluate(rs, env, env.Bars()-1).Met)
}

func TestUnknownIndicatorIsFalse(t *testing.T) {
	rs := &Ruleset{Conditions: []Node{
		{Indicator: "WIZARDRY", Length: 9, Relation: RelGT, Value: f(0)},
	}}
	env := NewEnv(flatCandles(60, 100))
	assert.False(t, Evaluate(rs, env, env.Bars()-1).Met)
}

func TestMissingIndexIsFalse(t *testing.T) {
	rs := &Ruleset{Conditions: []Node{
		{Indicator: "RSI", Length: 14, Relation: RelLT, Value: f(101)},
	}}
	env := NewEnv(flatCandles(60, 100))

	// Before warm-up and past the frame both evaluate false
	assert.False(t, Evaluate(rs, env, 3).Met)
	assert.False(t, Evaluate(rs, env, 500).Met)
	assert.False(t, Evaluate(rs, env, -1).Met)
}

func TestIndicatorVsIndicatorComparison(t *testing.T) {
	// Fast EMA above slow EMA on a rising series
	candles := make([]market.Candle, 80)
	price := 100.0
	for i := range candles {
		price += 1.0
		candles[i] = market.Candle{Open: price, High: price, Low: price, Close: price, Volume: 100}
	}
	rs := &Ruleset{Conditions: []Node{
		{Indicator: "EMA", Length: 12, Relation: RelGT, Other: "EMA", OtherLen: 26},
	}}
	env := NewEnv(candles)
	assert.True(t, Evaluate(rs, env, env.Bars()-1).Met)
}

func TestExitLevelsPercent(t *testing.T) {
	spec := ExitSpec{Style: ExitPercent, StopLoss: 0.02, TakeProfit: 0.04}

	stop, target := spec.Levels(100, 0, "BUY")
	assert.InDelta(t, 98.0, stop, 1e-9)
	assert.InDelta(t, 104.0, target, 1e-9)

	stop, target = spec.Levels(100, 0, "SELL")
	assert.InDelta(t, 102.0, stop, 1e-9)
	assert.InDelta(t, 96.0, target, 1e-9)
}

func TestExitLevelsATRFallsBackToPercent(t *testing.T) {
	spec := ExitSpec{Style: ExitATR, StopLoss: 2, TakeProfit: 3}

	stop, target := spec.Levels(100, 1.5, "BUY")
	assert.InDelta(t, 97.0, stop, 1e-9)
	assert.InDelta(t, 104.5, target, 1e-9)

	// No ATR available: treat multiples as percent fractions
	spec = ExitSpec{Style: ExitATR, StopLoss: 0.02, TakeProfit: 0.04}
	stop, target = spec.Levels(100, 0, "BUY")
	assert.InDelta(t, 98.0, stop, 1e-9)
	assert.InDelta(t, 104.0, target, 1e-9)
}

func TestMaxLookbackCoversNestedGroups(t *testing.T) {
	rs := &Ruleset{Conditions: []Node{
		{Indicator: "RSI", Length: 14, Relation: RelLT, Value: f(30)},
		{Group: []Node{{Indicator: "SMA", Length: 50, Relation: RelGT, Other: "SMA", OtherLen: 200}}},
	}}
	assert.GreaterOrEqual(t, rs.MaxLookback(), 200)
}
