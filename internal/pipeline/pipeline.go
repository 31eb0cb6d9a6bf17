// Package pipeline orchestrates the points aggregation run: fetch actuals,
// compute expected baselines, persist audit snapshots, estimate realized
// rates.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/remeh/sizedwaitgroup"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/points-pulse/internal/expect"
	"github.com/yourorg/points-pulse/internal/fetch"
	"github.com/yourorg/points-pulse/internal/growth"
	"github.com/yourorg/points-pulse/internal/model"
	"github.com/yourorg/points-pulse/internal/otel"
	"github.com/yourorg/points-pulse/internal/prices"
	"github.com/yourorg/points-pulse/internal/registry"
)

// Store is the audit log the pipeline appends to and queries.
type Store interface {
	AppendRun(ctx context.Context, snapshots []model.AuditSnapshot) error
	LatestSnapshot(ctx context.Context, strategy, programID string) (*model.AuditSnapshot, error)
	LatestRunTime(ctx context.Context) (*time.Time, error)
	SnapshotsSince(ctx context.Context, strategy, programID string, since time.Time) ([]model.AuditSnapshot, error)
	History(ctx context.Context, strategy, programID string) ([]model.AuditSnapshot, error)
}

// Metrics holds the Prometheus instruments for the pipeline.
type Metrics struct {
	RunsTotal       *prometheus.CounterVec
	ProgramFailures *prometheus.CounterVec
	BlockedTotal    prometheus.Counter
	LastRunUnix     prometheus.Gauge
}

// NewMetrics creates and registers the pipeline metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pointspulse_runs_total",
				Help: "Persistence runs by outcome",
			},
			[]string{"status"},
		),
		ProgramFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pointspulse_program_failures_total",
				Help: "Failed program computations",
			},
			[]string{"program"},
		),
		BlockedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pointspulse_blocked_regions_total",
				Help: "Blocked-region responses detected",
			},
		),
		LastRunUnix: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pointspulse_last_run_timestamp",
				Help: "Unix time of the last persisted run",
			},
		),
	}
	reg.MustRegister(m.RunsTotal, m.ProgramFailures, m.BlockedTotal, m.LastRunUnix)
	return m
}

// Service runs the aggregation for a fixed set of strategies.
type Service struct {
	strategies  []model.Strategy
	registry    *registry.Registry
	engine      *fetch.Engine
	calc        *expect.Calculator
	converter   *prices.Converter
	store       Store
	minInterval time.Duration
	concurrency int
	metrics     *Metrics
	now         func() time.Time
}

// Options configures a Service.
type Options struct {
	Strategies  []model.Strategy
	Registry    *registry.Registry
	Engine      *fetch.Engine
	Calculator  *expect.Calculator
	Converter   *prices.Converter
	Store       Store
	MinInterval time.Duration
	Concurrency int
	Metrics     *Metrics
}

// New creates a Service and validates the configured strategies.
func New(opts Options) (*Service, error) {
	if len(opts.Strategies) == 0 {
		return nil, errors.New("no strategies configured")
	}
	for _, s := range opts.Strategies {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = 4 * time.Hour
	}
	return &Service{
		strategies:  opts.Strategies,
		registry:    opts.Registry,
		engine:      opts.Engine,
		calc:        opts.Calculator,
		converter:   opts.Converter,
		store:       opts.Store,
		minInterval: opts.MinInterval,
		concurrency: opts.Concurrency,
		metrics:     opts.Metrics,
		now:         time.Now,
	}, nil
}

// WithClock overrides the wall clock. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Strategies returns the configured strategies.
func (s *Service) Strategies() []model.Strategy { return s.strategies }

// ComputeAll computes actual and expected points for every strategy/program
// pair, optionally restricted to the given program ids. Pairs that fail keep
// the rest of the batch alive; their errors come back alongside the results,
// with blocked-region failures never reduced to a zero reading.
func (s *Service) ComputeAll(ctx context.Context, programFilter []string) ([]model.ProgramResult, []error) {
	ctx, span := otel.Tracer().Start(ctx, "pipeline.compute_all")
	defer span.End()

	filter := make(map[string]bool, len(programFilter))
	for _, id := range programFilter {
		filter[id] = true
	}

	type outcome struct {
		result model.ProgramResult
		err    error
	}
	totalPairs := 0
	for _, strat := range s.strategies {
		totalPairs += len(strat.Points)
	}
	results := make(chan outcome, totalPairs)

	swg := sizedwaitgroup.New(s.concurrency)
	for _, strat := range s.strategies {
		swg.Add()
		go func(strat model.Strategy) {
			defer swg.Done()
			for _, entry := range strat.Points {
				if len(filter) > 0 && !filter[entry.ProgramID] {
					continue
				}
				res, err := s.computeOne(ctx, strat, entry)
				results <- outcome{result: res, err: err}
			}
		}(strat)
	}
	swg.Wait()
	close(results)

	var (
		out  []model.ProgramResult
		errs []error
	)
	for o := range results {
		if o.err != nil {
			s.recordFailure(o.result.ProgramID, o.err)
			errs = append(errs, fmt.Errorf("%s/%s: %w", o.result.Strategy, o.result.ProgramID, o.err))
			continue
		}
		out = append(out, o.result)
	}
	return out, errs
}

// computeOne handles a single (strategy, program) pair.
func (s *Service) computeOne(ctx context.Context, strat model.Strategy, entry model.PointsProgramEntry) (model.ProgramResult, error) {
	result := model.ProgramResult{Strategy: strat.Name, ProgramID: entry.ProgramID}

	fetched, err := s.engine.ActualPoints(ctx, strat.Owner, entry.ProgramID)
	if err != nil {
		return result, err
	}

	program, _ := s.registry.Program(entry.ProgramID)
	expected, err := s.calc.ExpectedPoints(ctx, strat, entry, program)
	if err != nil {
		return result, err
	}

	result.Actual = fetched.Total
	result.Expected = expected
	result.Sources = fetched.Sources
	return result, nil
}

// RunReport summarizes one persistence run.
type RunReport struct {
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	Persisted int       `json:"persisted"`
	Failures  []string  `json:"failures,omitempty"`
}

// PersistRun computes all pairs and appends the snapshots as one transaction.
// Runs within the minimum interval of the previous one return
// model.ErrComputationSkipped and write nothing. The guard keys off the most
// recent stored snapshot's age, a deliberate freshness proxy.
func (s *Service) PersistRun(ctx context.Context) (RunReport, error) {
	ctx, span := otel.Tracer().Start(ctx, "pipeline.persist_run")
	defer span.End()

	last, err := s.store.LatestRunTime(ctx)
	if err != nil {
		return RunReport{}, fmt.Errorf("reading last run time: %w", err)
	}
	if last != nil && s.now().Sub(*last) < s.minInterval {
		logrus.Infof("Skipping persistence run: last run %s ago, minimum interval %s", s.now().Sub(*last).Round(time.Minute), s.minInterval)
		if s.metrics != nil {
			s.metrics.RunsTotal.WithLabelValues("skipped").Inc()
		}
		return RunReport{}, model.ErrComputationSkipped
	}

	// one batch timestamp: snapshots within a run are effectively simultaneous
	runTime := s.now()
	report := RunReport{RunID: uuid.NewString(), Timestamp: runTime}

	refPrice, err := s.converter.USDPrice(ctx, model.AssetETH)
	if err != nil {
		var cfgErr *model.ConfigurationError
		if errors.As(err, &cfgErr) {
			if s.metrics != nil {
				s.metrics.RunsTotal.WithLabelValues("failed").Inc()
			}
			return report, err
		}
		logrus.Warnf("Reference price unavailable, storing zero: %v", err)
		refPrice = 0
	}

	results, errs := s.ComputeAll(ctx, nil)
	for _, e := range errs {
		report.Failures = append(report.Failures, e.Error())
	}
	if len(results) == 0 {
		if s.metrics != nil {
			s.metrics.RunsTotal.WithLabelValues("failed").Inc()
		}
		return report, fmt.Errorf("run %s: every program computation failed", report.RunID)
	}

	byName := make(map[string]model.Strategy, len(s.strategies))
	for _, strat := range s.strategies {
		byName[strat.Name] = strat
	}

	snapshots := make([]model.AuditSnapshot, 0, len(results))
	for _, r := range results {
		snapshots = append(snapshots, model.AuditSnapshot{
			Timestamp: runTime,
			Strategy:  r.Strategy,
			ProgramID: r.ProgramID,
			Actual:    r.Actual,
			Expected:  r.Expected,
			Owner:     byName[r.Strategy].Owner,
			RefPrice:  refPrice,
			Sources:   r.Sources,
		})
	}

	if err := s.store.AppendRun(ctx, snapshots); err != nil {
		otel.RecordError(ctx, err)
		if s.metrics != nil {
			s.metrics.RunsTotal.WithLabelValues("failed").Inc()
		}
		return report, fmt.Errorf("run %s: persisting snapshots: %w", report.RunID, err)
	}

	report.Persisted = len(snapshots)
	if s.metrics != nil {
		s.metrics.RunsTotal.WithLabelValues("persisted").Inc()
		s.metrics.LastRunUnix.Set(float64(runTime.Unix()))
	}
	logrus.WithFields(logrus.Fields{
		"run_id":    report.RunID,
		"persisted": report.Persisted,
		"failures":  len(report.Failures),
	}).Info("Persistence run complete")
	return report, nil
}

// Performance estimates realized-vs-expected accrual over the trailing
// window for the named strategies (all when empty).
func (s *Service) Performance(ctx context.Context, strategyNames []string) ([]model.Performance, error) {
	ctx, span := otel.Tracer().Start(ctx, "pipeline.performance")
	defer span.End()

	wanted := make(map[string]bool, len(strategyNames))
	for _, n := range strategyNames {
		wanted[n] = true
	}

	now := s.now()
	since := now.Add(-(growth.TargetWindow + growth.LookbackSlack))

	var out []model.Performance
	for _, strat := range s.strategies {
		if len(wanted) > 0 && !wanted[strat.Name] {
			continue
		}
		for _, entry := range strat.Points {
			snaps, err := s.store.SnapshotsSince(ctx, strat.Name, entry.ProgramID, since)
			if err != nil {
				return nil, fmt.Errorf("%s/%s: loading snapshots: %w", strat.Name, entry.ProgramID, err)
			}

			samples := make([]growth.Sample, 0, len(snaps))
			for _, snap := range snaps {
				samples = append(samples, growth.Sample{Time: snap.Timestamp, Value: snap.Actual})
			}
			est := growth.Realized(samples)

			expectedRate, err := s.expectedDailyRate(ctx, strat, entry)
			if err != nil {
				return nil, err
			}

			out = append(out, model.Performance{
				Strategy:     strat.Name,
				ProgramID:    entry.ProgramID,
				Realized:     est.Growth,
				RealizedRate: est.RatePerDay,
				ExpectedRate: expectedRate,
				DiffPercent:  growth.DiffPercent(est.RatePerDay, expectedRate),
				WindowDays:   est.ElapsedDays,
			})
		}
	}
	return out, nil
}

// expectedDailyRate is the absolute expected accrual per day for one pair,
// the comparison baseline for realized rates.
func (s *Service) expectedDailyRate(ctx context.Context, strat model.Strategy, entry model.PointsProgramEntry) (float64, error) {
	if strat.Value == nil || entry.Rate == nil {
		return 0, nil
	}
	valueInBase, err := s.converter.Convert(ctx, strat.Value.Asset, entry.Rate.BaseAsset, strat.Value.Amount)
	if err != nil {
		return 0, err
	}
	return entry.Rate.Resolve(strat.Start) * valueInBase, nil
}

func (s *Service) recordFailure(programID string, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ProgramFailures.WithLabelValues(programID).Inc()
	var blocked *model.UpstreamBlockedError
	if errors.As(err, &blocked) {
		s.metrics.BlockedTotal.Inc()
	}
}
