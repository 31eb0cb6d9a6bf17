package expect

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/points-pulse/internal/model"
	"github.com/yourorg/points-pulse/internal/prices"
)

var now = time.Date(2025, 4, 20, 12, 0, 0, 0, time.UTC)

func fixedCalc(converter *prices.Converter) *Calculator {
	return New(converter).WithClock(func() time.Time { return now })
}

func daysAgo(n float64) time.Time {
	return now.Add(-time.Duration(n * 24 * float64(time.Hour)))
}

func TestExpectedPoints(t *testing.T) {
	calc := fixedCalc(prices.New("", ""))

	base := model.Strategy{
		Name:  "test",
		Start: daysAgo(10),
		Owner: "0x0000000000000000000000000000000000000001",
		Value: &model.FixedValue{Amount: 100, Asset: model.AssetUSD},
	}
	entry := model.PointsProgramEntry{
		ProgramID: "p",
		Rate:      &model.RateSpec{Constant: 5, BaseAsset: model.AssetUSD},
	}

	t.Run("base accrual", func(t *testing.T) {
		got, err := calc.ExpectedPoints(context.Background(), base, entry, model.Program{})
		require.NoError(t, err)
		// 10 days x 5/day x 100 units
		assert.InDelta(t, 5000, got, 1e-6)
	})

	t.Run("full-window boost adds half again", func(t *testing.T) {
		s := base
		s.Boosts = []model.Boost{{
			Name:       "launch",
			Multiplier: 0.5,
			Start:      daysAgo(10),
			End:        now.Add(24 * time.Hour),
		}}
		got, err := calc.ExpectedPoints(context.Background(), s, entry, model.Program{})
		require.NoError(t, err)
		assert.InDelta(t, 7500, got, 1e-6)
	})

	t.Run("half-window boost is proportional", func(t *testing.T) {
		s := base
		s.Boosts = []model.Boost{{
			Name:       "late",
			Multiplier: 1.0,
			Start:      daysAgo(5),
			End:        now.Add(24 * time.Hour),
		}}
		got, err := calc.ExpectedPoints(context.Background(), s, entry, model.Program{})
		require.NoError(t, err)
		// base 5000 + 5000 x (5/10) x 1.0
		assert.InDelta(t, 7500, got, 1e-6)
	})

	t.Run("expired boost contributes nothing", func(t *testing.T) {
		s := base
		s.Boosts = []model.Boost{{
			Name:       "old",
			Multiplier: 2.0,
			Start:      daysAgo(30),
			End:        daysAgo(20),
		}}
		got, err := calc.ExpectedPoints(context.Background(), s, entry, model.Program{})
		require.NoError(t, err)
		assert.InDelta(t, 5000, got, 1e-6)
	})

	t.Run("no fixed value yields zero", func(t *testing.T) {
		s := base
		s.Value = nil
		got, err := calc.ExpectedPoints(context.Background(), s, entry, model.Program{})
		require.NoError(t, err)
		assert.Zero(t, got)
	})

	t.Run("no rate spec yields zero", func(t *testing.T) {
		got, err := calc.ExpectedPoints(context.Background(), base, model.PointsProgramEntry{ProgramID: "p"}, model.Program{})
		require.NoError(t, err)
		assert.Zero(t, got)
	})
}

func TestSeasonBounds(t *testing.T) {
	calc := fixedCalc(prices.New("", ""))

	s := model.Strategy{
		Name:  "test",
		Start: daysAgo(10),
		Value: &model.FixedValue{Amount: 100, Asset: model.AssetUSD},
	}
	entry := model.PointsProgramEntry{
		ProgramID: "p",
		Rate:      &model.RateSpec{Constant: 5, BaseAsset: model.AssetUSD},
	}

	t.Run("season start clamps the window", func(t *testing.T) {
		seasonStart := daysAgo(4)
		got, err := calc.ExpectedPoints(context.Background(), s, entry, model.Program{SeasonStart: &seasonStart})
		require.NoError(t, err)
		assert.InDelta(t, 2000, got, 1e-6)
	})

	t.Run("season end clamps the window", func(t *testing.T) {
		seasonEnd := daysAgo(2)
		got, err := calc.ExpectedPoints(context.Background(), s, entry, model.Program{SeasonEnd: &seasonEnd})
		require.NoError(t, err)
		assert.InDelta(t, 4000, got, 1e-6)
	})

	t.Run("season entirely before start yields zero", func(t *testing.T) {
		seasonEnd := daysAgo(15)
		got, err := calc.ExpectedPoints(context.Background(), s, entry, model.Program{SeasonEnd: &seasonEnd})
		require.NoError(t, err)
		assert.Zero(t, got)
	})
}

func TestRateFromStartDate(t *testing.T) {
	calc := fixedCalc(prices.New("", ""))

	entry := model.PointsProgramEntry{
		ProgramID: "p",
		Rate: &model.RateSpec{
			FromStart: func(start time.Time) float64 {
				if start.Before(now.Add(-9 * 24 * time.Hour)) {
					return 10
				}
				return 5
			},
			BaseAsset: model.AssetUSD,
		},
	}
	s := model.Strategy{
		Name:  "test",
		Start: daysAgo(10),
		Value: &model.FixedValue{Amount: 100, Asset: model.AssetUSD},
	}

	got, err := calc.ExpectedPoints(context.Background(), s, entry, model.Program{})
	require.NoError(t, err)
	assert.InDelta(t, 10000, got, 1e-6)
}

func TestAssetConversion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"ETH":[{"quote":{"USD":{"price":2000}}}]}}`)
	}))
	defer srv.Close()

	calc := fixedCalc(prices.New(srv.URL, "test-key"))

	s := model.Strategy{
		Name:  "test",
		Start: daysAgo(10),
		Value: &model.FixedValue{Amount: 2, Asset: model.AssetETH},
	}
	entry := model.PointsProgramEntry{
		ProgramID: "p",
		Rate:      &model.RateSpec{Constant: 5, BaseAsset: model.AssetUSD},
	}

	got, err := calc.ExpectedPoints(context.Background(), s, entry, model.Program{})
	require.NoError(t, err)
	// 2 ETH = 4000 USD, 10 days x 5/day x 4000
	assert.InDelta(t, 200000, got, 1e-6)
}
