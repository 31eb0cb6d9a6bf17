// Package prices fetches and memoizes spot USD prices for supported assets
// and converts amounts between denominations via USD.
package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/points-pulse/internal/model"
)

// Converter converts amounts between asset denominations using memoized
// spot prices. The cache has no TTL: once an asset's price is fetched it is
// reused for the remainder of the process lifetime. That is an accepted
// staleness tradeoff for short-lived batch runs; a long-running deployment
// would want an expiry here.
type Converter struct {
	feedURL    string
	apiKey     string
	httpClient *http.Client

	mu       sync.Mutex
	inflight map[model.Asset]*priceCall
}

// priceCall is the per-asset in-flight record. A race to populate an asset's
// price collapses to a single upstream fetch: later callers wait on done.
type priceCall struct {
	done  chan struct{}
	price float64
	err   error
}

// New creates a Converter backed by the given price feed.
func New(feedURL, apiKey string) *Converter {
	return &Converter{
		feedURL:    feedURL,
		apiKey:     apiKey,
		httpClient: newRetryClient(),
		inflight:   make(map[model.Asset]*priceCall),
	}
}

// newRetryClient creates an HTTP client with retry capabilities
func newRetryClient() *http.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 3 * time.Second
	c.Logger = nil
	return c.StandardClient()
}

// Convert converts amount from one denomination to another. Identity
// conversions return immediately without touching the price feed.
func (c *Converter) Convert(ctx context.Context, from, to model.Asset, amount float64) (float64, error) {
	if from == to {
		return amount, nil
	}

	fromUSD, err := c.USDPrice(ctx, from)
	if err != nil {
		return 0, err
	}
	toUSD, err := c.USDPrice(ctx, to)
	if err != nil {
		return 0, err
	}

	usd := amount * fromUSD
	return usd / toUSD, nil
}

// USDPrice returns the memoized spot USD price for an asset, fetching it on
// first use. USD itself never triggers a fetch.
func (c *Converter) USDPrice(ctx context.Context, asset model.Asset) (float64, error) {
	if asset == model.AssetUSD {
		return 1, nil
	}

	c.mu.Lock()
	call, ok := c.inflight[asset]
	if !ok {
		call = &priceCall{done: make(chan struct{})}
		c.inflight[asset] = call
		c.mu.Unlock()

		call.price, call.err = c.fetchPrice(ctx, asset)
		if call.err != nil {
			// drop the failed entry so a later run can retry
			c.mu.Lock()
			delete(c.inflight, asset)
			c.mu.Unlock()
		}
		close(call.done)
		return call.price, call.err
	}
	c.mu.Unlock()

	select {
	case <-call.done:
		return call.price, call.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// fetchPrice performs the single upstream quote request for an asset.
func (c *Converter) fetchPrice(ctx context.Context, asset model.Asset) (float64, error) {
	if c.apiKey == "" {
		return 0, &model.ConfigurationError{
			Key:    "PRICE_FEED_API_KEY",
			Detail: fmt.Sprintf("required to quote %s", asset),
		}
	}

	url := fmt.Sprintf("%s?symbol=%s&convert=USD", c.feedURL, asset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("error creating price request: %w", err)
	}
	req.Header.Set("X-CMC_PRO_API_KEY", c.apiKey)
	req.Header.Set("Accept", "application/json")

	logrus.Debugf("Fetching %s spot price from %s", asset, c.feedURL)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &model.UpstreamError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		logrus.Warnf("Price feed error for %s: status %d, body: %s", asset, resp.StatusCode, truncate(string(body), 200))
		return 0, &model.UpstreamError{URL: url, Status: resp.StatusCode}
	}

	var quote struct {
		Data map[string][]struct {
			Quote struct {
				USD struct {
					Price float64 `json:"price"`
				} `json:"USD"`
			} `json:"quote"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return 0, &model.UpstreamError{URL: url, Err: fmt.Errorf("malformed payload: %w", err)}
	}

	entries := quote.Data[string(asset)]
	if len(entries) == 0 || entries[0].Quote.USD.Price <= 0 {
		return 0, &model.UpstreamError{URL: url, Err: fmt.Errorf("no usable %s quote in payload", asset)}
	}

	price := entries[0].Quote.USD.Price
	logrus.Debugf("Cached %s price: %f USD", asset, price)
	return price, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
