package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
)

// EthenaSource reads accumulated sats for a wallet from the Ethena referral API.
type EthenaSource struct {
	BaseURL string
}

func (s *EthenaSource) URL(wallet string) string {
	return fmt.Sprintf("%s?address=%s", s.BaseURL, wallet)
}

func (s *EthenaSource) BuildRequest(ctx context.Context, wallet string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL(wallet), nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (s *EthenaSource) Extract(body []byte, wallet string) (float64, error) {
	var response struct {
		QueryWallet []struct {
			AccumulatedTotalShardsEarned float64 `json:"accumulatedTotalShardsEarned"`
		} `json:"queryWallet"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return 0, fmt.Errorf("error decoding response: %w", err)
	}
	if len(response.QueryWallet) == 0 {
		return 0, fmt.Errorf("no wallet entry for %s", wallet)
	}

	sats := response.QueryWallet[0].AccumulatedTotalShardsEarned
	if math.IsNaN(sats) || math.IsInf(sats, 0) || sats < 0 {
		return 0, fmt.Errorf("non-finite or negative sats value: %f", sats)
	}
	return sats, nil
}

func (s *EthenaSource) Tolerant() bool { return false }
