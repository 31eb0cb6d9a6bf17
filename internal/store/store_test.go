package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/points-pulse/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	return s
}

func snap(ts time.Time, strategy, program string, actual float64) model.AuditSnapshot {
	return model.AuditSnapshot{
		Timestamp: ts,
		Strategy:  strategy,
		ProgramID: program,
		Actual:    actual,
		Expected:  actual * 0.9,
		Owner:     "0x9fC3da866e7DF3a1c57adE1a97c9f00a70f010c8",
		RefPrice:  3200.5,
	}
}

func TestAppendAndLatest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.AppendRun(ctx, []model.AuditSnapshot{
		snap(base, "usde-hold", "ethena-sats", 100),
		snap(base.Add(6*time.Hour), "usde-hold", "ethena-sats", 140),
	}))

	latest, err := s.LatestSnapshot(ctx, "usde-hold", "ethena-sats")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.InDelta(t, 140, latest.Actual, 1e-9)
	assert.InDelta(t, 126, latest.Expected, 1e-9)
	assert.InDelta(t, 3200.5, latest.RefPrice, 1e-9)
}

func TestLatestSnapshotMissingPair(t *testing.T) {
	s := newTestStore(t)

	latest, err := s.LatestSnapshot(context.Background(), "nope", "nothing")
	require.NoError(t, err)
	assert.Nil(t, latest)

	runTime, err := s.LatestRunTime(context.Background())
	require.NoError(t, err)
	assert.Nil(t, runTime)
}

func TestSnapshotsSinceOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	// insert out of chronological order across two runs
	require.NoError(t, s.AppendRun(ctx, []model.AuditSnapshot{
		snap(base.Add(48*time.Hour), "usde-hold", "ethena-sats", 300),
	}))
	require.NoError(t, s.AppendRun(ctx, []model.AuditSnapshot{
		snap(base, "usde-hold", "ethena-sats", 100),
		snap(base.Add(24*time.Hour), "usde-hold", "ethena-sats", 200),
		snap(base.Add(24*time.Hour), "other", "ethena-sats", 999),
	}))

	got, err := s.SnapshotsSince(ctx, "usde-hold", "ethena-sats", base.Add(12*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.InDelta(t, 200, got[0].Actual, 1e-9)
	assert.InDelta(t, 300, got[1].Actual, 1e-9)
}

func TestHistoryIncludesSourceBreakdown(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	withSources := snap(ts, "usde-hold", "ethena-sats", 150)
	withSources.Sources = []model.SourceContribution{
		{URL: "https://app.ethena.fi/api/referral/get-referree?address=0xabc", Points: 100},
		{URL: "https://api.merkl.xyz/v3/rewards?user=0xabc", Points: 50},
	}
	require.NoError(t, s.AppendRun(ctx, []model.AuditSnapshot{withSources}))

	history, err := s.History(ctx, "usde-hold", "ethena-sats")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Len(t, history[0].Sources, 2)
	assert.InDelta(t, 100, history[0].Sources[0].Points, 1e-9)
}

func TestLatestRunTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.AppendRun(ctx, []model.AuditSnapshot{
		snap(base, "a", "p", 1),
		snap(base.Add(time.Hour), "b", "q", 2),
	}))

	runTime, err := s.LatestRunTime(ctx)
	require.NoError(t, err)
	require.NotNil(t, runTime)
	assert.True(t, runTime.Equal(base.Add(time.Hour)))
}

func TestAppendRunEmptyIsNoop(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AppendRun(context.Background(), nil))

	runTime, err := s.LatestRunTime(context.Background())
	require.NoError(t, err)
	assert.Nil(t, runTime)
}
