package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
)

// HyperliquidSource reads a wallet's points total from the Hyperliquid info
// endpoint. The API is a single POST endpoint dispatched on a "type" field.
type HyperliquidSource struct {
	BaseURL string
}

func (s *HyperliquidSource) URL(wallet string) string {
	return fmt.Sprintf("%s#userPoints:%s", s.BaseURL, wallet)
}

func (s *HyperliquidSource) BuildRequest(ctx context.Context, wallet string) (*http.Request, error) {
	payload, err := json.Marshal(map[string]string{
		"type": "userPoints",
		"user": wallet,
	})
	if err != nil {
		return nil, fmt.Errorf("error encoding request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (s *HyperliquidSource) Extract(body []byte, wallet string) (float64, error) {
	var response struct {
		Distributed float64 `json:"distributed"`
		Pending     float64 `json:"pending"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return 0, fmt.Errorf("error decoding response: %w", err)
	}

	total := response.Distributed + response.Pending
	if math.IsNaN(total) || math.IsInf(total, 0) || total < 0 {
		return 0, fmt.Errorf("non-finite or negative points total: %f", total)
	}
	return total, nil
}

func (s *HyperliquidSource) Tolerant() bool { return false }
