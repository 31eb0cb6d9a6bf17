package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
)

// MerklSource sums points-denominated rewards for a wallet across Merkl
// campaigns. Marked tolerant: Merkl occasionally serves maintenance pages and
// a missing reading should degrade rather than abort the whole program.
type MerklSource struct {
	BaseURL string
	ChainID int
}

func (s *MerklSource) URL(wallet string) string {
	return fmt.Sprintf("%s?user=%s&chainId=%d", s.BaseURL, wallet, s.ChainID)
}

func (s *MerklSource) BuildRequest(ctx context.Context, wallet string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL(wallet), nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (s *MerklSource) Extract(body []byte, wallet string) (float64, error) {
	// Campaign map keyed by reward token; only point-type rewards count.
	var response map[string]struct {
		Symbol     string  `json:"symbol"`
		RewardType string  `json:"rewardType"`
		Amount     float64 `json:"amount,string"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return 0, fmt.Errorf("error decoding response: %w", err)
	}

	var total float64
	for _, reward := range response {
		if reward.RewardType != "point" {
			continue
		}
		if math.IsNaN(reward.Amount) || math.IsInf(reward.Amount, 0) || reward.Amount < 0 {
			return 0, fmt.Errorf("non-finite or negative reward amount for %s", reward.Symbol)
		}
		total += reward.Amount
	}
	return total, nil
}

func (s *MerklSource) Tolerant() bool { return true }
