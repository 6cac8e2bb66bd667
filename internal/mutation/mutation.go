// Package mutation derives child strategies from a parent ruleset. Each
// child differs by one randomly chosen mutation and carries a structural
// similarity score used later for royalty attribution.
package mutation

import (
	"encoding/json"
	"fmt"
	"math/rand"

	"tradebrain/internal/ruleset"
)

// Type names the mutation applied to produce a child
type Type string

const (
	TypeParameterTweak  Type = "parameter_tweak"
	TypeConditionToggle Type = "condition_toggle"
	TypeTimeframeShift  Type = "timeframe_shift"
	TypeExitRatioTweak  Type = "exit_ratio_tweak"
	TypeIndicatorSwap   Type = "indicator_swap"
)

var allTypes = []Type{
	TypeParameterTweak,
	TypeConditionToggle,
	TypeTimeframeShift,
	TypeExitRatioTweak,
	TypeIndicatorSwap,
}

// swappable groups indicators that can substitute for each other without
// changing the comparison's meaning entirely.
var swappable = map[string][]string{
	"SMA":  {"EMA", "VWAP"},
	"EMA":  {"SMA", "VWAP"},
	"VWAP": {"SMA", "EMA"},
	"RSI":  {"MACD_HIST"},
}

// Child is one mutated variant with its lineage metadata
type Child struct {
	Ruleset    *ruleset.Ruleset `json:"ruleset"`
	Type       Type             `json:"mutation_type"`
	Similarity float64          `json:"similarity"`
}

// Engine produces mutated children. The rand source is injectable so the
// evolution worker can run cycles deterministically in tests.
type Engine struct {
	rng *rand.Rand
}

// NewEngine creates an engine with the given seed
func NewEngine(seed int64) *Engine {
	return &Engine{rng: rand.New(rand.NewSource(seed))}
}

// Mutate produces n children of the parent. n is clamped to [1, 3]. Each
// child gets one mutation; a mutation that cannot apply to this parent
// (e.g. indicator-swap with no swappable indicator) falls back to a
// parameter tweak.
func (e *Engine) Mutate(parent *ruleset.Ruleset, n int) ([]Child, error) {
	if parent == nil || len(parent.Conditions) == 0 {
		return nil, fmt.Errorf("parent has no conditions to mutate")
	}
	if n < 1 {
		n = 1
	}
	if n > 3 {
		n = 3
	}

	children := make([]Child, 0, n)
	for i := 0; i < n; i++ {
		child := clone(parent)
		mt := allTypes[e.rng.Intn(len(allTypes))]
		applied := e.apply(child, mt)
		if !applied {
			mt = TypeParameterTweak
			e.apply(child, mt)
		}
		children = append(children, Child{
			Ruleset:    child,
			Type:       mt,
			Similarity: Similarity(parent, child),
		})
	}
	return children, nil
}

func clone(rs *ruleset.Ruleset) *ruleset.Ruleset {
	raw, _ := json.Marshal(rs)
	var out ruleset.Ruleset
	_ = json.Unmarshal(raw, &out)
	return &out
}

func (e *Engine) apply(rs *ruleset.Ruleset, mt Type) bool {
	switch mt {
	case TypeParameterTweak:
		return e.tweakParameter(rs)
	case TypeConditionToggle:
		return e.toggleCondition(rs)
	case TypeTimeframeShift:
		return e.shiftTimeframe(rs)
	case TypeExitRatioTweak:
		return e.tweakExit(rs)
	case TypeIndicatorSwap:
		return e.swapIndicator(rs)
	}
	return false
}

// tweakParameter perturbs one comparison's length or threshold by up to 20%
func (e *Engine) tweakParameter(rs *ruleset.Ruleset) bool {
	idx := e.comparisonIndexes(rs.Conditions)
	if len(idx) == 0 {
		return false
	}
	n := &rs.Conditions[idx[e.rng.Intn(len(idx))]]

	if n.Value != nil && e.rng.Intn(2) == 0 {
		factor := 1 + (e.rng.Float64()*0.4 - 0.2)
		v := *n.Value * factor
		n.Value = &v
		return true
	}
	if n.Length > 0 {
		delta := 1 + e.rng.Intn(maxInt(1, n.Length/5))
		if e.rng.Intn(2) == 0 {
			delta = -delta
		}
		if n.Length+delta >= 2 {
			n.Length += delta
			return true
		}
	}
	if n.Value != nil {
		factor := 1 + (e.rng.Float64()*0.4 - 0.2)
		v := *n.Value * factor
		n.Value = &v
		return true
	}
	return false
}

// toggleCondition removes one comparator, or duplicates one with a shifted
// threshold when only a single comparator remains.
func (e *Engine) toggleCondition(rs *ruleset.Ruleset) bool {
	idx := e.comparisonIndexes(rs.Conditions)
	if len(idx) == 0 {
		return false
	}
	if len(idx) > 1 {
		remove := idx[e.rng.Intn(len(idx))]
		out := make([]ruleset.Node, 0, len(rs.Conditions)-1)
		for i, n := range rs.Conditions {
			if i == remove {
				continue
			}
			out = append(out, n)
		}
		rs.Conditions = stripLeadingLogic(out)
		return true
	}

	src := rs.Conditions[idx[0]]
	if src.Value != nil {
		v := *src.Value * (1 + (e.rng.Float64()*0.2 - 0.1))
		src.Value = &v
	}
	rs.Conditions = append(rs.Conditions, ruleset.Node{Logic: ruleset.LogicAND}, src)
	return true
}

func stripLeadingLogic(nodes []ruleset.Node) []ruleset.Node {
	for len(nodes) > 0 && nodes[0].Logic != "" {
		nodes = nodes[1:]
	}
	return nodes
}

func (e *Engine) shiftTimeframe(rs *ruleset.Ruleset) bool {
	frames := []string{"1m", "5m", "15m", "1h", "4h", "1d"}
	cur := -1
	for i, f := range frames {
		if f == rs.Timeframe {
			cur = i
			break
		}
	}
	if cur == -1 {
		rs.Timeframe = "1h"
		return true
	}
	// Move one step up or down, staying in range
	next := cur + 1
	if (e.rng.Intn(2) == 0 && cur > 0) || cur == len(frames)-1 {
		next = cur - 1
	}
	rs.Timeframe = frames[next]
	return true
}

func (e *Engine) tweakExit(rs *ruleset.Ruleset) bool {
	if rs.Exit.StopLoss == 0 && rs.Exit.TakeProfit == 0 {
		return false
	}
	factor := 1 + (e.rng.Float64()*0.5 - 0.25)
	if e.rng.Intn(2) == 0 {
		rs.Exit.StopLoss *= factor
	} else {
		rs.Exit.TakeProfit *= factor
	}
	return true
}

func (e *Engine) swapIndicator(rs *ruleset.Ruleset) bool {
	idx := e.comparisonIndexes(rs.Conditions)
	e.rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	for _, i := range idx {
		n := &rs.Conditions[i]
		alts, ok := swappable[n.Indicator]
		if !ok || len(alts) == 0 {
			continue
		}
		n.Indicator = alts[e.rng.Intn(len(alts))]
		return true
	}
	return false
}

func (e *Engine) comparisonIndexes(nodes []ruleset.Node) []int {
	var out []int
	for i, n := range nodes {
		if n.Indicator != "" && n.Logic == "" && len(n.Group) == 0 {
			out = append(out, i)
		}
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
