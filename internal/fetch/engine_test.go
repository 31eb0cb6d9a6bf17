package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/points-pulse/internal/config"
	"github.com/yourorg/points-pulse/internal/model"
	"github.com/yourorg/points-pulse/internal/registry"
)

const wallet = "0x9fC3da866e7DF3a1c57adE1a97c9f00a70f010c8"

// stubSource is a minimal registry.Source against an httptest server.
type stubSource struct {
	target   string
	tolerant bool
}

func (s *stubSource) URL(wallet string) string { return s.target + "?address=" + wallet }

func (s *stubSource) BuildRequest(ctx context.Context, wallet string) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodGet, s.URL(wallet), nil)
}

func (s *stubSource) Extract(body []byte, wallet string) (float64, error) {
	var payload struct {
		Points float64 `json:"points"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, err
	}
	if math.IsNaN(payload.Points) || payload.Points < 0 {
		return 0, fmt.Errorf("bad points value")
	}
	return payload.Points, nil
}

func (s *stubSource) Tolerant() bool { return s.tolerant }

func newTestEngine(sources map[string][]registry.Source) *Engine {
	reg := registry.New(config.Config{})
	for program, srcs := range sources {
		for _, src := range srcs {
			reg.Register(program, src)
		}
	}
	return New(reg, 5*time.Second, nil)
}

func TestActualPointsNoSources(t *testing.T) {
	e := newTestEngine(nil)
	res, err := e.ActualPoints(context.Background(), wallet, "unknown-program")
	require.NoError(t, err)
	assert.Zero(t, res.Total)
	assert.Empty(t, res.Sources)
}

func TestActualPointsSumsSources(t *testing.T) {
	srvA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"points": 100}`)
	}))
	defer srvA.Close()
	srvB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"points": 50}`)
	}))
	defer srvB.Close()

	e := newTestEngine(map[string][]registry.Source{
		"prog": {&stubSource{target: srvA.URL}, &stubSource{target: srvB.URL}},
	})

	res, err := e.ActualPoints(context.Background(), wallet, "prog")
	require.NoError(t, err)
	assert.InDelta(t, 150, res.Total, 1e-9)
	assert.Len(t, res.Sources, 2)
}

func TestRetryThenSuccess(t *testing.T) {
	var attempts int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&attempts, 1) < 3 {
			http.Error(w, "transient", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"points": 42}`)
	}))
	defer srv.Close()

	e := newTestEngine(map[string][]registry.Source{
		"prog": {&stubSource{target: srv.URL}},
	})

	res, err := e.ActualPoints(context.Background(), wallet, "prog")
	require.NoError(t, err)
	assert.InDelta(t, 42, res.Total, 1e-9)
	assert.Equal(t, int64(3), atomic.LoadInt64(&attempts))
}

func TestExhaustedRetriesDegradeToZero(t *testing.T) {
	var attempts int64
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&attempts, 1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer failing.Close()
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"points": 7}`)
	}))
	defer healthy.Close()

	e := newTestEngine(map[string][]registry.Source{
		"prog": {&stubSource{target: failing.URL}, &stubSource{target: healthy.URL}},
	})

	res, err := e.ActualPoints(context.Background(), wallet, "prog")
	require.NoError(t, err)
	assert.InDelta(t, 7, res.Total, 1e-9)
	assert.Equal(t, int64(maxAttempts), atomic.LoadInt64(&attempts))

	// the failed source still appears in the breakdown, at zero
	require.Len(t, res.Sources, 2)
	var zeroes int
	for _, src := range res.Sources {
		if src.Points == 0 {
			zeroes++
		}
	}
	assert.Equal(t, 1, zeroes)
}

func TestHTMLBodySignalsBlockedRegion(t *testing.T) {
	var attempts int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&attempts, 1)
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>Access denied</body></html>")
	}))
	defer srv.Close()

	e := newTestEngine(map[string][]registry.Source{
		"prog": {&stubSource{target: srv.URL}},
	})

	_, err := e.ActualPoints(context.Background(), wallet, "prog")
	require.Error(t, err)

	var blocked *model.UpstreamBlockedError
	assert.ErrorAs(t, err, &blocked)
	assert.Equal(t, int64(1), atomic.LoadInt64(&attempts), "blocked responses must not be retried")
}

func TestTolerantSourceAbsorbsBlocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>maintenance</html>")
	}))
	defer srv.Close()

	e := newTestEngine(map[string][]registry.Source{
		"prog": {&stubSource{target: srv.URL, tolerant: true}},
	})

	res, err := e.ActualPoints(context.Background(), wallet, "prog")
	require.NoError(t, err)
	assert.Zero(t, res.Total)
}
