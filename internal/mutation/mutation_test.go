package mutation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebrain/internal/ruleset"
)

func f(v float64) *float64 { return &v }

func parent() *ruleset.Ruleset {
	return &ruleset.Ruleset{
		Side:      "BUY",
		Timeframe: "1h",
		Conditions: []ruleset.Node{
			{Indicator: "RSI", Length: 14, Relation: ruleset.RelLT, Value: f(30)},
			{Logic: ruleset.LogicAND},
			{Indicator: "SMA", Length: 50, Relation: ruleset.RelGT, Other: "SMA", OtherLen: 200},
		},
		Exit: ruleset.ExitSpec{Style: ruleset.ExitPercent, StopLoss: 0.02, TakeProfit: 0.04},
	}
}

func TestMutateClampsCount(t *testing.T) {
	e := NewEngine(1)

	children, err := e.Mutate(parent(), 0)
	require.NoError(t, err)
	assert.Len(t, children, 1)

	children, err = e.Mutate(parent(), 7)
	require.NoError(t, err)
	assert.Len(t, children, 3)
}

func TestMutateRejectsEmptyParent(t *testing.T) {
	e := NewEngine(1)
	_, err := e.Mutate(&ruleset.Ruleset{}, 2)
	assert.Error(t, err)
	_, err = e.Mutate(nil, 2)
	assert.Error(t, err)
}

func TestChildrenDifferFromParent(t *testing.T) {
	e := NewEngine(42)
	p := parent()
	children, err := e.Mutate(p, 3)
	require.NoError(t, err)

	for _, c := range children {
		assert.NotEmpty(t, c.Type)
		assert.GreaterOrEqual(t, c.Similarity, 0.0)
		assert.LessOrEqual(t, c.Similarity, 1.0)
		// A mutation must actually change something
		assert.Less(t, Similarity(p, c.Ruleset), 1.0)
	}
}

func TestMutateDoesNotModifyParent(t *testing.T) {
	e := NewEngine(7)
	p := parent()
	before := Similarity(p, parent())
	_, err := e.Mutate(p, 3)
	require.NoError(t, err)
	assert.InDelta(t, before, Similarity(p, parent()), 1e-12)
	assert.InDelta(t, 1.0, Similarity(p, parent()), 1e-12)
}

func TestSimilarityIdentity(t *testing.T) {
	assert.InDelta(t, 1.0, Similarity(parent(), parent()), 1e-12)
}

func TestSimilarityDropsWithChanges(t *testing.T) {
	a := parent()

	b := parent()
	b.Timeframe = "4h"
	oneChange := Similarity(a, b)
	assert.Less(t, oneChange, 1.0)

	c := parent()
	c.Timeframe = "4h"
	c.Conditions[0].Indicator = "MACD_HIST"
	c.Exit.TakeProfit = 0.08
	threeChanges := Similarity(a, c)
	assert.Less(t, threeChanges, oneChange)
}

func TestSimilarityDisjointRulesets(t *testing.T) {
	a := parent()
	b := &ruleset.Ruleset{
		Side:      "SELL",
		Timeframe: "1d",
		Conditions: []ruleset.Node{
			{Indicator: "VWAP", Relation: ruleset.RelLT, Other: "PRICE"},
		},
		Exit: ruleset.ExitSpec{Style: ruleset.ExitATR, StopLoss: 2, TakeProfit: 3},
	}
	assert.Less(t, Similarity(a, b), 0.2)
}

func TestTimeframeShiftStaysCanonical(t *testing.T) {
	e := NewEngine(3)
	valid := map[string]bool{"1m": true, "5m": true, "15m": true, "1h": true, "4h": true, "1d": true}

	for i := 0; i < 20; i++ {
		rs := parent()
		require.True(t, e.shiftTimeframe(rs))
		assert.True(t, valid[rs.Timeframe], "timeframe %q not canonical", rs.Timeframe)
	}
}

func TestConditionToggleOnSingleConditionDuplicates(t *testing.T) {
	e := NewEngine(5)
	rs := &ruleset.Ruleset{
		Conditions: []ruleset.Node{
			{Indicator: "RSI", Length: 14, Relation: ruleset.RelLT, Value: f(30)},
		},
	}
	require.True(t, e.toggleCondition(rs))
	assert.Greater(t, len(rs.Conditions), 1)
}
