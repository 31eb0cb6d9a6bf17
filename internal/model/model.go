// Package model defines the core data structures for points-pulse.
package model

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
)

// Asset identifies a supported denomination for position values and rates.
type Asset string

// Supported assets. USD is the pivot currency for all conversions.
const (
	AssetUSD  Asset = "USD"
	AssetETH  Asset = "ETH"
	AssetBTC  Asset = "BTC"
	AssetENA  Asset = "ENA"
	AssetPOND Asset = "POND"
	AssetHYPE Asset = "HYPE"
)

// SupportedAssets lists every asset the price converter can quote.
var SupportedAssets = []Asset{AssetUSD, AssetETH, AssetBTC, AssetENA, AssetPOND, AssetHYPE}

// FixedValue is the position size of a strategy in a given denomination.
type FixedValue struct {
	Amount float64 `json:"amount" validate:"gt=0"`
	Asset  Asset   `json:"asset" validate:"required"`
}

// RateSpec describes the expected daily accrual per unit of the base asset.
// Exactly one of Constant or FromStart is set. FromStart lets a program scale
// the rate by when the position was opened (e.g. early-depositor tiers).
type RateSpec struct {
	// Constant daily rate per unit of BaseAsset.
	Constant float64 `json:"constant,omitempty"`

	// FromStart derives the daily rate from the strategy start date.
	FromStart func(start time.Time) float64 `json:"-"`

	// BaseAsset is the denomination the rate is quoted in.
	BaseAsset Asset `json:"base_asset"`
}

// Resolve returns the daily rate for a strategy started at the given time.
func (r RateSpec) Resolve(start time.Time) float64 {
	if r.FromStart != nil {
		return r.FromStart(start)
	}
	return r.Constant
}

// PointsProgramEntry links a strategy to one points program, optionally with
// an expected daily rate used for the accrual baseline.
type PointsProgramEntry struct {
	ProgramID string    `json:"program_id" validate:"required"`
	Rate      *RateSpec `json:"rate,omitempty"`
}

// Boost is a named multiplier active between two timestamps. Overlapping
// boosts each contribute additively to expected points.
type Boost struct {
	Name       string    `json:"name" validate:"required"`
	Multiplier float64   `json:"multiplier" validate:"gt=0"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

// Strategy identifies a tracked wallet position. Strategies are static
// configuration: created at startup, never mutated at runtime.
type Strategy struct {
	Name   string               `json:"name" validate:"required"`
	Start  time.Time            `json:"start"`
	Owner  string               `json:"owner" validate:"required"`
	Value  *FixedValue          `json:"value,omitempty"`
	Points []PointsProgramEntry `json:"points" validate:"min=1,dive"`
	Boosts []Boost              `json:"boosts,omitempty" validate:"dive"`
	AppURL string               `json:"app_url,omitempty"`
}

// Program holds per-program metadata shared by all strategies: optional
// season bounds that clamp the accrual window.
type Program struct {
	ID          string     `json:"id"`
	SeasonStart *time.Time `json:"season_start,omitempty"`
	SeasonEnd   *time.Time `json:"season_end,omitempty"`
}

// SourceContribution attributes part of an actual-points total to one
// data source URL.
type SourceContribution struct {
	URL    string  `json:"url"`
	Points float64 `json:"points"`
}

// AuditSnapshot is one persisted (actual, expected) measurement for a
// (strategy, program) pair. Append-only.
type AuditSnapshot struct {
	ID        uint                 `json:"id,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
	Strategy  string               `json:"strategy"`
	ProgramID string               `json:"program_id"`
	Actual    float64              `json:"actual"`
	Expected  float64              `json:"expected"`
	Owner     string               `json:"owner"`
	RefPrice  float64              `json:"ref_price"`
	Sources   []SourceContribution `json:"sources,omitempty"`
}

// ProgramResult is the outcome of one (strategy, program) computation.
type ProgramResult struct {
	Strategy  string               `json:"strategy"`
	ProgramID string               `json:"program_id"`
	Actual    float64              `json:"actual"`
	Expected  float64              `json:"expected"`
	Sources   []SourceContribution `json:"sources"`
}

// Performance compares realized accrual against the expected rate over a
// trailing window.
type Performance struct {
	Strategy     string  `json:"strategy"`
	ProgramID    string  `json:"program_id"`
	Realized     float64 `json:"realized"`
	RealizedRate float64 `json:"realized_rate"`
	ExpectedRate float64 `json:"expected_rate"`
	DiffPercent  float64 `json:"diff_percent"`
	WindowDays   float64 `json:"window_days"`
}

var validate = validator.New()

// Validate checks a strategy's structural and cross-field invariants.
func (s Strategy) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("strategy %q: %w", s.Name, err)
	}
	if !common.IsHexAddress(s.Owner) {
		return fmt.Errorf("strategy %q: owner %q is not a hex address", s.Name, s.Owner)
	}
	seen := make(map[string]bool, len(s.Points))
	for _, p := range s.Points {
		if seen[p.ProgramID] {
			return fmt.Errorf("strategy %q: duplicate program %q", s.Name, p.ProgramID)
		}
		seen[p.ProgramID] = true
	}
	for _, b := range s.Boosts {
		if !b.End.After(b.Start) {
			return fmt.Errorf("strategy %q: boost %q has non-positive window", s.Name, b.Name)
		}
	}
	return nil
}
