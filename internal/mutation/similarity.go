package mutation

import (
	"fmt"

	"tradebrain/internal/ruleset"
)

// tokens flattens a ruleset into its structural vocabulary: indicator keys,
// relations, thresholds bucketed to one decimal, timeframe and exit shape.
func tokens(rs *ruleset.Ruleset) map[string]bool {
	out := make(map[string]bool)
	if rs == nil {
		return out
	}

	var walk func(nodes []ruleset.Node)
	walk = func(nodes []ruleset.Node) {
		for _, n := range nodes {
			if len(n.Group) > 0 {
				walk(n.Group)
				continue
			}
			if n.Logic != "" {
				out["logic:"+string(n.Logic)] = true
				continue
			}
			if n.Indicator == "" {
				continue
			}
			out[fmt.Sprintf("ind:%s:%d", n.Indicator, n.Length)] = true
			out["rel:"+string(n.Relation)] = true
			if n.Value != nil {
				out[fmt.Sprintf("val:%.1f", *n.Value)] = true
			}
			if n.Other != "" {
				out[fmt.Sprintf("other:%s:%d", n.Other, n.OtherLen)] = true
			}
		}
	}
	walk(rs.Conditions)

	out["tf:"+rs.Timeframe] = true
	out["side:"+rs.Side] = true
	out[fmt.Sprintf("exit:%s:%.3f:%.3f", rs.Exit.Style, rs.Exit.StopLoss, rs.Exit.TakeProfit)] = true
	return out
}

// Similarity returns the Jaccard index of the two rulesets' structural
// tokens, in [0, 1]. Identical rulesets score 1.0.
func Similarity(a, b *ruleset.Ruleset) float64 {
	ta, tb := tokens(a), tokens(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1.0
	}

	intersection := 0
	for t := range ta {
		if tb[t] {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	if union == 0 {
		return 1.0
	}
	return float64(intersection) / float64(union)
}
