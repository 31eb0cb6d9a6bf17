package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validStrategy() Strategy {
	return Strategy{
		Name:  "test",
		Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Owner: "0x9fC3da866e7DF3a1c57adE1a97c9f00a70f010c8",
		Value: &FixedValue{Amount: 100, Asset: AssetUSD},
		Points: []PointsProgramEntry{
			{ProgramID: "prog-a"},
			{ProgramID: "prog-b"},
		},
	}
}

func TestStrategyValidate(t *testing.T) {
	t.Run("valid strategy", func(t *testing.T) {
		assert.NoError(t, validStrategy().Validate())
	})

	t.Run("duplicate program ids", func(t *testing.T) {
		s := validStrategy()
		s.Points = append(s.Points, PointsProgramEntry{ProgramID: "prog-a"})
		err := s.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate program")
	})

	t.Run("invalid owner address", func(t *testing.T) {
		s := validStrategy()
		s.Owner = "not-an-address"
		assert.Error(t, s.Validate())
	})

	t.Run("missing name", func(t *testing.T) {
		s := validStrategy()
		s.Name = ""
		assert.Error(t, s.Validate())
	})

	t.Run("no programs", func(t *testing.T) {
		s := validStrategy()
		s.Points = nil
		assert.Error(t, s.Validate())
	})

	t.Run("inverted boost window", func(t *testing.T) {
		s := validStrategy()
		s.Boosts = []Boost{{
			Name:       "bad",
			Multiplier: 1,
			Start:      time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
			End:        time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		}}
		assert.Error(t, s.Validate())
	})

	t.Run("non-positive position value", func(t *testing.T) {
		s := validStrategy()
		s.Value = &FixedValue{Amount: 0, Asset: AssetUSD}
		assert.Error(t, s.Validate())
	})
}

func TestRateSpecResolve(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	constant := RateSpec{Constant: 12.5, BaseAsset: AssetUSD}
	assert.Equal(t, 12.5, constant.Resolve(start))

	tiered := RateSpec{
		FromStart: func(s time.Time) float64 {
			if s.Year() < 2025 {
				return 20
			}
			return 10
		},
		BaseAsset: AssetUSD,
	}
	assert.Equal(t, 20.0, tiered.Resolve(start))
	assert.Equal(t, 10.0, tiered.Resolve(start.AddDate(1, 0, 0)))
}
