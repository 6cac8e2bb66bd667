package ruleset

// Levels derives stop and target prices from an entry. For the ATR style the
// caller passes the current ATR; when it is unavailable (zero) the percent
// style is used as the fallback. SELL sides mirror the levels around entry.
func (e ExitSpec) Levels(entry, atr float64, side string) (stop, target float64) {
	style := e.Style
	if style == ExitATR && atr <= 0 {
		style = ExitPercent
	}

	stopDelta, targetDelta := 0.0, 0.0
	switch style {
	case ExitATR:
		stopDelta = e.StopLoss * atr
		targetDelta = e.TakeProfit * atr
	case ExitFixed:
		// Absolute levels are taken as given for either side
		return e.StopLoss, e.TakeProfit
	default:
		stopDelta = entry * e.StopLoss
		targetDelta = entry * e.TakeProfit
	}

	if side == "SELL" {
		return entry + stopDelta, entry - targetDelta
	}
	return entry - stopDelta, entry + targetDelta
}
