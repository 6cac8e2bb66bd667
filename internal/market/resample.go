package market

import (
	"time"
)

// Resample aggregates candles from a finer interval into a coarser one.
// Bars are bucketed on wall-clock boundaries of the target interval; a
// partial trailing bucket is emitted as-is. Used to synthesize intervals a
// vendor does not serve natively (4h from 1h).
func Resample(candles []Candle, targetInterval string) []Candle {
	minutes := IntervalMinutes(targetInterval)
	if minutes == 0 || len(candles) == 0 {
		return nil
	}
	bucket := time.Duration(minutes) * time.Minute

	out := make([]Candle, 0, len(candles))
	var cur *Candle
	var curStart time.Time

	for _, c := range candles {
		start := c.Timestamp.Truncate(bucket)
		if cur == nil || !start.Equal(curStart) {
			if cur != nil {
				out = append(out, *cur)
			}
			curStart = start
			cc := c
			cc.Timestamp = start
			cur = &cc
			continue
		}
		if c.High > cur.High {
			cur.High = c.High
		}
		if c.Low < cur.Low {
			cur.Low = c.Low
		}
		cur.Close = c.Close
		cur.Volume += c.Volume
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}
