// Package expect computes the expected points accrued by a strategy from its
// configured daily rate, position value and boost windows.
package expect

import (
	"context"
	"time"

	"github.com/yourorg/points-pulse/internal/model"
	"github.com/yourorg/points-pulse/internal/prices"
)

const hoursPerDay = 24

// Calculator derives expected accrual baselines. Position values are
// normalized into the rate's base asset through the price converter.
type Calculator struct {
	converter *prices.Converter
	now       func() time.Time
}

// New creates a Calculator.
func New(converter *prices.Converter) *Calculator {
	return &Calculator{converter: converter, now: time.Now}
}

// WithClock overrides the wall clock. Used by tests.
func (c *Calculator) WithClock(now func() time.Time) *Calculator {
	c.now = now
	return c
}

// ExpectedPoints computes the expected accrual for one strategy/program
// entry. Strategies without a fixed position value or without a rate spec
// have no baseline and yield zero.
func (c *Calculator) ExpectedPoints(ctx context.Context, s model.Strategy, entry model.PointsProgramEntry, program model.Program) (float64, error) {
	now := c.now()

	accrualStart := s.Start
	if program.SeasonStart != nil && program.SeasonStart.After(accrualStart) {
		accrualStart = *program.SeasonStart
	}
	accrualEnd := now
	if program.SeasonEnd != nil && program.SeasonEnd.Before(accrualEnd) {
		accrualEnd = *program.SeasonEnd
	}

	activeDays := daysBetween(accrualStart, accrualEnd)
	if activeDays <= 0 {
		return 0, nil
	}

	if s.Value == nil || entry.Rate == nil {
		return 0, nil
	}

	dailyRate := entry.Rate.Resolve(s.Start)
	valueInBase, err := c.converter.Convert(ctx, s.Value.Asset, entry.Rate.BaseAsset, s.Value.Amount)
	if err != nil {
		return 0, err
	}

	baseExpected := activeDays * dailyRate * valueInBase

	total := baseExpected
	for _, boost := range s.Boosts {
		overlapStart := s.Start
		if boost.Start.After(overlapStart) {
			overlapStart = boost.Start
		}
		overlapEnd := now
		if boost.End.Before(overlapEnd) {
			overlapEnd = boost.End
		}

		overlapDays := daysBetween(overlapStart, overlapEnd)
		if overlapDays <= 0 {
			continue
		}
		total += baseExpected * (overlapDays / activeDays) * boost.Multiplier
	}
	return total, nil
}

func daysBetween(from, to time.Time) float64 {
	return to.Sub(from).Hours() / hoursPerDay
}
