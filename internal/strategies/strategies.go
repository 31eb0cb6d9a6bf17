// Package strategies holds the static configuration of tracked positions.
package strategies

import (
	"time"

	"github.com/yourorg/points-pulse/internal/model"
	"github.com/yourorg/points-pulse/internal/registry"
)

// Default returns the tracked strategy set. This is configuration, not
// runtime state: validated once at startup and never mutated.
func Default() []model.Strategy {
	return []model.Strategy{
		{
			Name:  "usde-hold",
			Start: time.Date(2024, 10, 14, 0, 0, 0, 0, time.UTC),
			Owner: "0x9fC3da866e7DF3a1c57adE1a97c9f00a70f010c8",
			Value: &model.FixedValue{Amount: 25000, Asset: model.AssetUSD},
			Points: []model.PointsProgramEntry{
				{
					ProgramID: registry.ProgramEthena,
					Rate:      &model.RateSpec{Constant: 20, BaseAsset: model.AssetUSD},
				},
				{ProgramID: registry.ProgramMerkl},
			},
			Boosts: []model.Boost{
				{
					Name:       "season-3-lock",
					Multiplier: 0.5,
					Start:      time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC),
					End:        time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
				},
			},
			AppURL: "https://app.ethena.fi",
		},
		{
			Name:  "hype-spot",
			Start: time.Date(2024, 12, 2, 0, 0, 0, 0, time.UTC),
			Owner: "0x1b8E1c2aB2F2f4a6E0bC1f7E53dDd0E5BfA3C901",
			Value: &model.FixedValue{Amount: 400, Asset: model.AssetHYPE},
			Points: []model.PointsProgramEntry{
				{
					ProgramID: registry.ProgramHyperliquid,
					// points per HYPE held scale down for late entrants
					Rate: &model.RateSpec{
						FromStart: func(start time.Time) float64 {
							cutoff := time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)
							if start.Before(cutoff) {
								return 1.5
							}
							return 1.0
						},
						BaseAsset: model.AssetHYPE,
					},
				},
			},
			AppURL: "https://app.hyperliquid.xyz",
		},
		{
			Name:  "strata-vault",
			Start: time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC),
			Owner: "0x5D4a8B2c91E3F0b7A6c8D9e0F1a2B3c4D5E6F7a8",
			Value: &model.FixedValue{Amount: 5, Asset: model.AssetETH},
			Points: []model.PointsProgramEntry{
				{
					ProgramID: registry.ProgramStrata,
					Rate:      &model.RateSpec{Constant: 30, BaseAsset: model.AssetUSD},
				},
			},
			AppURL: "https://app.strata.money",
		},
	}
}
