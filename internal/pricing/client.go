// Package pricing looks up the reference asset's USD price.
package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Source answers USD price lookups. A zero price means "no data": callers
// must not treat it as a real quote.
type Source interface {
	TokenPriceUSD(ctx context.Context, token string) (decimal.Decimal, error)
}

// DefaultTimeout bounds one price lookup.
const DefaultTimeout = 10 * time.Second

// GraphClient fetches token prices from a GraphQL token-data API.
type GraphClient struct {
	endpoint  string
	authToken string
	client    *http.Client
}

// NewGraphClient creates a price client for the given GraphQL endpoint.
func NewGraphClient(endpoint, authToken string) *GraphClient {
	return &GraphClient{
		endpoint:  endpoint,
		authToken: authToken,
		client:    &http.Client{Timeout: DefaultTimeout},
	}
}

// Compile-time interface check.
var _ Source = (*GraphClient)(nil)

const priceQuery = `{
  filterTokens(
    filters: { network: [1] }
    limit: 1
    tokens: [%q]
  ) {
    results {
      priceUSD
      token { address }
    }
  }
}`

// TokenPriceUSD returns the current USD price of a token, or zero with a
// non-nil error when the lookup fails.
func (c *GraphClient) TokenPriceUSD(ctx context.Context, token string) (decimal.Decimal, error) {
	payload, err := json.Marshal(map[string]string{
		"query": fmt.Sprintf(priceQuery, token),
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("marshal price query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return decimal.Zero, fmt.Errorf("create price request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", c.authToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, fmt.Errorf("read price response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("price request status %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Data struct {
			FilterTokens struct {
				Results []struct {
					PriceUSD json.Number `json:"priceUSD"`
				} `json:"results"`
			} `json:"filterTokens"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return decimal.Zero, fmt.Errorf("unmarshal price response: %w", err)
	}

	results := parsed.Data.FilterTokens.Results
	if len(results) == 0 || results[0].PriceUSD == "" {
		return decimal.Zero, fmt.Errorf("no price data for %s", token)
	}

	price, err := decimal.NewFromString(results[0].PriceUSD.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", results[0].PriceUSD, err)
	}
	return price, nil
}
