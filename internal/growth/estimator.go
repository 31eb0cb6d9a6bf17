// Package growth estimates realized points accrual rates from sparse,
// irregularly sampled snapshot history.
package growth

import (
	"math"
	"time"
)

// TargetWindow is the nominal trailing window for realized-rate estimates.
const TargetWindow = 7 * 24 * time.Hour

// LookbackSlack extends the query window beyond the target so sparse update
// schedules still yield a usable start sample.
const LookbackSlack = 24 * time.Hour

// Sample is one (time, actual points) reading.
type Sample struct {
	Time  time.Time
	Value float64
}

// Estimate is the realized growth over the selected window.
type Estimate struct {
	Growth      float64
	RatePerDay  float64
	ElapsedDays float64
	Start       Sample
	End         Sample
}

// Dedup drops zero-valued samples and any sample whose value equals the
// immediately preceding retained sample's value. Input must be ascending by
// time. The operation is idempotent.
func Dedup(samples []Sample) []Sample {
	out := make([]Sample, 0, len(samples))
	for _, s := range samples {
		if s.Value == 0 {
			continue
		}
		if len(out) > 0 && out[len(out)-1].Value == s.Value {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Realized computes the realized growth rate from raw ascending samples.
// The end sample is the last retained reading; the start sample is the
// retained reading whose timestamp is closest to end minus the target
// window, first match winning ties in ascending order.
func Realized(samples []Sample) Estimate {
	retained := Dedup(samples)
	if len(retained) == 0 {
		return Estimate{}
	}

	end := retained[len(retained)-1]
	target := end.Time.Add(-TargetWindow)

	start := retained[0]
	best := math.Inf(1)
	for _, s := range retained {
		d := math.Abs(s.Time.Sub(target).Seconds())
		if d < best {
			best = d
			start = s
		}
	}

	elapsedDays := end.Time.Sub(start.Time).Hours() / 24
	growth := end.Value - start.Value

	est := Estimate{
		Growth:      growth,
		ElapsedDays: elapsedDays,
		Start:       start,
		End:         end,
	}
	if elapsedDays > 0 {
		est.RatePerDay = growth / elapsedDays
	}
	return est
}

// DiffPercent compares a realized rate against an expected rate as a
// percentage. When the expected rate is not positive the result is zero
// rather than undefined; callers treat the field as always numeric.
func DiffPercent(realized, expected float64) float64 {
	if expected <= 0 {
		return 0
	}
	return (realized - expected) / expected * 100
}
