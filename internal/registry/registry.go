// Package registry describes, per points program, the data sources used to
// read a wallet's actual points balance.
package registry

import (
	"context"
	"net/http"
	"time"

	"github.com/yourorg/points-pulse/internal/config"
	"github.com/yourorg/points-pulse/internal/model"
)

// Source is one fetch+extract descriptor for a points program. A program may
// register several sources; their extracted values are summed.
type Source interface {
	// URL returns the request URL for a wallet, used for audit attribution.
	URL(wallet string) string

	// BuildRequest produces the outbound request for a wallet.
	BuildRequest(ctx context.Context, wallet string) (*http.Request, error)

	// Extract maps a raw response body to a points value. The value must be
	// finite and non-negative or the call counts as a failed attempt.
	Extract(body []byte, wallet string) (float64, error)

	// Tolerant marks a source whose failures, including blocked-region
	// signatures, always degrade to a zero contribution.
	Tolerant() bool
}

// Registry maps program ids to their data sources and season metadata.
type Registry struct {
	sources  map[string][]Source
	programs map[string]model.Program
}

// Program ids known to the registry.
const (
	ProgramEthena      = "ethena-sats"
	ProgramMerkl       = "merkl"
	ProgramHyperliquid = "hyperliquid-points"
	ProgramStrata      = "strata"
)

// New builds the static registry from configured provider base URLs.
func New(cfg config.Config) *Registry {
	ethenaS3Start := time.Date(2024, 9, 2, 0, 0, 0, 0, time.UTC)
	ethenaS3End := time.Date(2025, 3, 23, 0, 0, 0, 0, time.UTC)
	strataStart := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	return &Registry{
		sources: map[string][]Source{
			ProgramEthena:      {&EthenaSource{BaseURL: cfg.EthenaURL}},
			ProgramMerkl:       {&MerklSource{BaseURL: cfg.MerklURL, ChainID: 1}},
			ProgramHyperliquid: {&HyperliquidSource{BaseURL: cfg.HyperliquidURL}},
			ProgramStrata:      {&StrataSource{BaseURL: cfg.StrataURL}},
		},
		programs: map[string]model.Program{
			ProgramEthena:      {ID: ProgramEthena, SeasonStart: &ethenaS3Start, SeasonEnd: &ethenaS3End},
			ProgramMerkl:       {ID: ProgramMerkl},
			ProgramHyperliquid: {ID: ProgramHyperliquid},
			ProgramStrata:      {ID: ProgramStrata, SeasonStart: &strataStart},
		},
	}
}

// Sources returns the data sources registered for a program, or nil when the
// program has no integration yet.
func (r *Registry) Sources(programID string) []Source {
	return r.sources[programID]
}

// Program returns season metadata for a program id.
func (r *Registry) Program(programID string) (model.Program, bool) {
	p, ok := r.programs[programID]
	return p, ok
}

// Register adds a source for a program. Used by tests and one-off tooling.
func (r *Registry) Register(programID string, s Source) {
	r.sources[programID] = append(r.sources[programID], s)
	if _, ok := r.programs[programID]; !ok {
		r.programs[programID] = model.Program{ID: programID}
	}
}
