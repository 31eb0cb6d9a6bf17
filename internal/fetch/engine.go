// Package fetch executes the registered data sources for a points program
// and sums their extracted values into an actual-points total.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/points-pulse/internal/model"
	"github.com/yourorg/points-pulse/internal/registry"
)

const (
	maxAttempts = 3
	backoffStep = 500 * time.Millisecond
)

// Engine fetches actual points for (wallet, program) pairs. All sources of a
// program run concurrently; individual source failures degrade to zero
// contributions, except blocked-region responses which abort the program.
type Engine struct {
	registry   *registry.Registry
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New creates an Engine. The limiter smooths outbound bursts across all
// providers; pass nil to disable limiting.
func New(reg *registry.Registry, timeout time.Duration, limiter *rate.Limiter) *Engine {
	return &Engine{
		registry:   reg,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
	}
}

// Result is the outcome of one program fetch.
type Result struct {
	Total   float64
	Sources []model.SourceContribution
}

// ActualPoints sums the extracted values of every data source registered for
// the program. A program with no registered sources yields a zero total and
// an empty breakdown without error.
func (e *Engine) ActualPoints(ctx context.Context, wallet, programID string) (Result, error) {
	sources := e.registry.Sources(programID)
	if len(sources) == 0 {
		return Result{}, nil
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		contribs []model.SourceContribution
		blocked  error
	)

	for _, src := range sources {
		wg.Add(1)
		go func(src registry.Source) {
			defer wg.Done()

			value, err := e.fetchSource(ctx, src, wallet, programID)
			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				var blockedErr *model.UpstreamBlockedError
				if errors.As(err, &blockedErr) && !src.Tolerant() {
					if blocked == nil {
						blocked = err
					}
					return
				}
				logrus.WithFields(logrus.Fields{
					"program": programID,
					"url":     src.URL(wallet),
				}).Warnf("Data source degraded to zero: %v", err)
				value = 0
			}
			contribs = append(contribs, model.SourceContribution{
				URL:    src.URL(wallet),
				Points: value,
			})
		}(src)
	}

	wg.Wait()

	if blocked != nil {
		return Result{}, blocked
	}

	// stable breakdown order for persistence and responses
	sort.Slice(contribs, func(i, j int) bool { return contribs[i].URL < contribs[j].URL })

	var total float64
	for _, c := range contribs {
		total += c.Points
	}
	return Result{Total: total, Sources: contribs}, nil
}

// fetchSource runs one data source with up to maxAttempts tries and a
// linearly increasing backoff between them. Blocked-region responses are
// non-retryable and returned immediately.
func (e *Engine) fetchSource(ctx context.Context, src registry.Source, wallet, programID string) (float64, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, time.Duration(attempt-1)*backoffStep); err != nil {
				return 0, err
			}
		}

		value, err := e.attemptSource(ctx, src, wallet, programID)
		if err == nil {
			return value, nil
		}
		if _, ok := err.(*model.UpstreamBlockedError); ok {
			return 0, err
		}
		logrus.Debugf("Attempt %d/%d failed for %s: %v", attempt, maxAttempts, src.URL(wallet), err)
		lastErr = err
	}
	return 0, lastErr
}

// attemptSource performs a single request+extract cycle.
func (e *Engine) attemptSource(ctx context.Context, src registry.Source, wallet, programID string) (float64, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return 0, err
		}
	}

	req, err := src.BuildRequest(ctx, wallet)
	if err != nil {
		return 0, err
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return 0, &model.UpstreamError{URL: src.URL(wallet), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, &model.UpstreamError{URL: src.URL(wallet), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if looksLikeHTML(body) {
			return 0, &model.UpstreamBlockedError{ProgramID: programID, URL: src.URL(wallet)}
		}
		return 0, &model.UpstreamError{URL: src.URL(wallet), Status: resp.StatusCode}
	}

	value, err := src.Extract(body, wallet)
	if err != nil {
		// An HTML body where JSON was expected means the provider is
		// blocking this network origin, not that the wallet has no points.
		if looksLikeHTML(body) {
			return 0, &model.UpstreamBlockedError{ProgramID: programID, URL: src.URL(wallet)}
		}
		return 0, &model.UpstreamError{URL: src.URL(wallet), Err: err}
	}
	return value, nil
}

// looksLikeHTML reports whether a body that failed JSON parsing is an HTML
// page (the blocked-region signature).
func looksLikeHTML(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && trimmed[0] == '<'
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
