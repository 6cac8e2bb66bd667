// Package ruleset parses and evaluates strategy rulesets. A ruleset is a
// flat-or-nested list of indicator conditions joined by running AND/OR
// markers, plus an exit specification. Evaluation is total: malformed nodes,
// unknown indicators and out-of-range indexes all evaluate to false rather
// than erroring, so a broken mutated strategy simply never trades.
package ruleset

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Relation is a comparison operator between an indicator value and a target
type Relation string

const (
	RelGT  Relation = ">"
	RelLT  Relation = "<"
	RelGTE Relation = ">="
	RelLTE Relation = "<="
	RelEQ  Relation = "=="
	RelNEQ Relation = "!="
)

// Logic joins consecutive condition results
type Logic string

const (
	LogicAND Logic = "AND"
	LogicOR  Logic = "OR"
)

// ExitStyle selects how stop and target levels are derived
type ExitStyle string

const (
	// ExitPercent places stop/target at a fraction of entry (0.02 = 2%)
	ExitPercent ExitStyle = "percent"
	// ExitATR places stop/target at a multiple of the current ATR
	ExitATR ExitStyle = "atr"
	// ExitFixed places stop/target at absolute price levels
	ExitFixed ExitStyle = "fixed"
)

// Node is one entry in a conditions list: an indicator comparison, a logic
// marker, or a nested group. Exactly one of the three shapes is populated.
type Node struct {
	// Comparison shape
	Indicator string   `json:"indicator,omitempty"`
	Length    int      `json:"length,omitempty"`
	Relation  Relation `json:"relation,omitempty"`
	Value     *float64 `json:"value,omitempty"`
	Other     string   `json:"other,omitempty"` // compare against another indicator instead of a constant
	OtherLen  int      `json:"other_length,omitempty"`

	// Logic marker shape
	Logic Logic `json:"logic,omitempty"`

	// Nested group shape
	Group []Node `json:"group,omitempty"`
}

// ExitSpec derives stop and target from an entry price. At most one style is
// honored per side; percent wins over fixed when both are set.
type ExitSpec struct {
	Style      ExitStyle `json:"style,omitempty"`
	StopLoss   float64   `json:"stop_loss,omitempty"`   // percent fraction, ATR multiple, or absolute level
	TakeProfit float64   `json:"take_profit,omitempty"` // same units as StopLoss
}

// Ruleset is a parsed, evaluable strategy definition
type Ruleset struct {
	Type       string   `json:"type,omitempty"`
	Side       string   `json:"side,omitempty"` // BUY or SELL, default BUY
	Conditions []Node   `json:"conditions"`
	Exit       ExitSpec `json:"exit"`
	Timeframe  string   `json:"timeframe,omitempty"`
}

// Parse decodes and validates a ruleset document
func Parse(raw []byte) (*Ruleset, error) {
	var rs Ruleset
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, fmt.Errorf("invalid ruleset document: %w", err)
	}
	if len(rs.Conditions) == 0 {
		return nil, fmt.Errorf("ruleset has no conditions")
	}
	if rs.Timeframe == "" {
		rs.Timeframe = "1h"
	}
	if rs.Side == "" {
		rs.Side = "BUY"
	}
	if rs.Exit.Style == "" {
		rs.Exit.Style = ExitPercent
	}
	if err := validateExit(&rs.Exit); err != nil {
		return nil, err
	}
	normalize(rs.Conditions)
	return &rs, nil
}

// validateExit rejects negative levels and fills zero percent/ATR distances
// with defaults; a zero distance would put stop and target at the entry
// price and exit every trade on its first bar.
func validateExit(e *ExitSpec) error {
	if e.StopLoss < 0 || e.TakeProfit < 0 {
		return fmt.Errorf("exit levels must not be negative")
	}
	switch e.Style {
	case ExitPercent:
		if e.StopLoss == 0 {
			e.StopLoss = 0.02
		}
		if e.TakeProfit == 0 {
			e.TakeProfit = 0.04
		}
	case ExitATR:
		if e.StopLoss == 0 {
			e.StopLoss = 1.5
		}
		if e.TakeProfit == 0 {
			e.TakeProfit = 3.0
		}
	case ExitFixed:
		if e.StopLoss == 0 || e.TakeProfit == 0 {
			return fmt.Errorf("fixed exit requires explicit stop_loss and take_profit levels")
		}
	}
	return nil
}

func normalize(nodes []Node) {
	for i := range nodes {
		nodes[i].Indicator = strings.ToUpper(strings.TrimSpace(nodes[i].Indicator))
		nodes[i].Logic = Logic(strings.ToUpper(string(nodes[i].Logic)))
		if len(nodes[i].Group) > 0 {
			normalize(nodes[i].Group)
		}
	}
}

// IndicatorKeys lists the distinct (indicator, length) pairs the ruleset
// references, used for mutation similarity and warm-up sizing.
func (rs *Ruleset) IndicatorKeys() []string {
	seen := map[string]bool{}
	var keys []string
	var walk func(nodes []Node)
	walk = func(nodes []Node) {
		for _, n := range nodes {
			if len(n.Group) > 0 {
				walk(n.Group)
				continue
			}
			if n.Indicator == "" {
				continue
			}
			key := fmt.Sprintf("%s:%d", n.Indicator, n.Length)
			if !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}
	walk(rs.Conditions)
	return keys
}

// MaxLookback returns the largest indicator length referenced, for warm-up
func (rs *Ruleset) MaxLookback() int {
	max := 0
	var walk func(nodes []Node)
	walk = func(nodes []Node) {
		for _, n := range nodes {
			if len(n.Group) > 0 {
				walk(n.Group)
			}
			if n.Length > max {
				max = n.Length
			}
			if n.OtherLen > max {
				max = n.OtherLen
			}
		}
	}
	walk(rs.Conditions)
	if max == 0 {
		max = 14
	}
	// MACD needs the slow EMA plus signal line regardless of stated lengths
	return max + 35
}
