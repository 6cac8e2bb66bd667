package analysis

import (
	"math"

	"tradebrain/internal/market"
)

// Volume trend labels
const (
	VolumeIncreasing = "increasing"
	VolumeDecreasing = "decreasing"
	VolumeNormal     = "normal"
	VolumeLow        = "low"
)

// Volume recommendations
const (
	VolumeConfirm = "confirm"
	VolumeCaution = "caution"
	VolumeBlock   = "block"
)

// VolumeProfile is the volume-confirmation result
type VolumeProfile struct {
	Trend           string  `json:"trend"`
	Strength        float64 `json:"strength"` // [0, 1]
	Recommendation  string  `json:"recommendation"`
	RecentRatio     float64 `json:"recent_ratio"`     // 5-bar vs prior 15-bar
	HistoricalRatio float64 `json:"historical_ratio"` // 5-bar vs 50-bar
}

// AnalyzeVolume compares the trailing 5-bar mean against the prior 15-bar
// mean and the 50-bar historical mean. Frames shorter than 20 bars yield a
// low-volume caution rather than an error.
func AnalyzeVolume(candles []market.Candle) *VolumeProfile {
	if len(candles) < 20 {
		return &VolumeProfile{
			Trend:          VolumeLow,
			Strength:       0,
			Recommendation: VolumeCaution,
		}
	}

	recent := meanVolume(candles[len(candles)-5:])
	prior := meanVolume(candles[len(candles)-20 : len(candles)-5])

	histWindow := candles
	if len(histWindow) > 50 {
		histWindow = histWindow[len(histWindow)-50:]
	}
	historical := meanVolume(histWindow)

	profile := &VolumeProfile{}
	if prior > 0 {
		profile.RecentRatio = recent / prior
	}
	if historical > 0 {
		profile.HistoricalRatio = recent / historical
	}

	switch {
	case profile.HistoricalRatio < 0.4:
		profile.Trend = VolumeLow
	case profile.RecentRatio >= 1.25:
		profile.Trend = VolumeIncreasing
	case profile.RecentRatio <= 0.75:
		profile.Trend = VolumeDecreasing
	default:
		profile.Trend = VolumeNormal
	}

	// Strength reflects how far activity deviates from the recent baseline,
	// saturating at a 2x swing.
	profile.Strength = math.Min(math.Abs(profile.RecentRatio-1), 1)

	switch profile.Trend {
	case VolumeIncreasing:
		profile.Recommendation = VolumeConfirm
	case VolumeNormal:
		profile.Recommendation = VolumeConfirm
	case VolumeDecreasing:
		profile.Recommendation = VolumeCaution
	default:
		profile.Recommendation = VolumeBlock
	}
	return profile
}

func meanVolume(candles []market.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range candles {
		sum += c.Volume
	}
	return sum / float64(len(candles))
}
