// Client for the external symbol discovery feed
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/ajitpratap0/titanfleet/internal/exchange"
	"github.com/ajitpratap0/titanfleet/internal/risk"
)

// The feed ranks perpetual tickers by short-horizon momentum and returns
// at most this many.
const maxCandidates = 25

const discoveryTimeout = 10 * time.Second

// DiscoveryClient fetches the candidate ticker list. Calls run through a
// retry wrapper inside a circuit breaker, so a flapping feed is retried
// while a dead one fails fast for thirty seconds at a time.
type DiscoveryClient struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	retry   exchange.RetryConfig
}

// NewDiscoveryClient builds a client for the given feed URL.
func NewDiscoveryClient(url string) *DiscoveryClient {
	return &DiscoveryClient{
		url:     url,
		client:  &http.Client{Timeout: discoveryTimeout},
		breaker: risk.NewDiscoveryBreaker(),
		retry:   exchange.DefaultRetryConfig(),
	}
}

// discoveryResponse mirrors the feed envelope. Only the symbol field of
// each entry is read; the rest of the payload is ignored.
type discoveryResponse struct {
	D []struct {
		S string `json:"s"`
	} `json:"d"`
}

// TopCandidates returns the ranked candidate tickers, at most 25. An open
// breaker or an exhausted retry surfaces as an error; the orchestrator
// aborts the cycle on any error from here.
func (c *DiscoveryClient) TopCandidates(ctx context.Context) ([]string, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		var symbols []string
		err := exchange.WithRetry(ctx, c.retry, func() error {
			var fetchErr error
			symbols, fetchErr = c.fetch(ctx)
			return fetchErr
		})
		return symbols, err
	})
	if err != nil {
		return nil, fmt.Errorf("discovery fetch: %w", err)
	}
	return out.([]string), nil
}

func (c *DiscoveryClient) fetch(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery endpoint status: %d", resp.StatusCode)
	}

	var payload discoveryResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode discovery payload: %w", err)
	}

	symbols := make([]string, 0, len(payload.D))
	for _, entry := range payload.D {
		if entry.S == "" {
			continue
		}
		symbols = append(symbols, entry.S)
		if len(symbols) == maxCandidates {
			break
		}
	}

	log.Debug().Int("candidates", len(symbols)).Msg("Fetched discovery candidates")
	return symbols, nil
}
