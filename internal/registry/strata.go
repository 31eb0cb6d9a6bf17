package registry

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
)

// StrataSource reads a wallet's points from Strata's dashboard data route.
// The route responds with a streamed component payload (text/x-component):
// one JSON value per line, each prefixed with a numeric chunk id like "1:".
type StrataSource struct {
	BaseURL string
}

func (s *StrataSource) URL(wallet string) string {
	return fmt.Sprintf("%s?wallet=%s", s.BaseURL, wallet)
}

func (s *StrataSource) BuildRequest(ctx context.Context, wallet string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL(wallet), nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "text/x-component, application/json")
	return req, nil
}

func (s *StrataSource) Extract(body []byte, wallet string) (float64, error) {
	points, err := parseComponentStream(body)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(points) || math.IsInf(points, 0) || points < 0 {
		return 0, fmt.Errorf("non-finite or negative points total: %f", points)
	}
	return points, nil
}

func (s *StrataSource) Tolerant() bool { return false }

// parseComponentStream strips the per-line numeric chunk prefixes, parses
// each remaining line as an independent JSON value, and returns the first
// top-level value exposing a totalPoints field.
func parseComponentStream(body []byte) (float64, error) {
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if i := strings.Index(line, ":"); i > 0 && isDigits(line[:i]) {
			line = line[i+1:]
		}

		var value struct {
			TotalPoints *float64 `json:"totalPoints"`
		}
		if err := json.Unmarshal([]byte(line), &value); err != nil {
			// non-JSON chunks (module references etc.) are expected
			continue
		}
		if value.TotalPoints != nil {
			return *value.TotalPoints, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("error scanning component stream: %w", err)
	}
	return 0, fmt.Errorf("no totalPoints value in component stream")
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
