// Package royalty computes and books creator royalties on profitable
// strategy trades, and runs the monthly billing cycle that settles them.
package royalty

// Royalty rate table. Rates apply to trade profit; similarity is the
// structural similarity between the traded strategy and its original
// ancestor, mutations the lineage depth between them.
//
//	similarity > 0.70, mutations < 3  → 5%
//	similarity 0.50–0.70, mutations < 3 → 3%
//	similarity 0.40–0.50, any mutations → 1.5%
//	exactly 3 mutations → 1.5%
//	similarity < 0.40 or mutations > 3 → 0%
func Rate(similarity float64, mutations int) float64 {
	if mutations > 3 {
		return 0
	}
	if mutations == 3 {
		if similarity < 0.40 {
			return 0
		}
		return 0.015
	}
	switch {
	case similarity > 0.70:
		return 0.05
	case similarity >= 0.50:
		return 0.03
	case similarity >= 0.40:
		return 0.015
	default:
		return 0
	}
}
