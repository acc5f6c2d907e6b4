package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/commitment-pool/internal/circuitbreaker"
	"github.com/commitment-pool/internal/config"
)

// ErrProviderUnavailable indicates the activity provider cannot be reached.
// The engine maps it to an inconclusive outcome, never a failure.
var ErrProviderUnavailable = fmt.Errorf("activity provider unavailable")

// ProviderClient counts events through the external activity provider's HTTP
// API. Requests are rate-paced and circuit-protected; a tripped breaker
// surfaces as unavailable without hitting the provider.
type ProviderClient struct {
	name     string
	baseURL  string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
	breakers *circuitbreaker.CircuitBreakerManager
}

// NewProviderClient creates a client for one activity provider
func NewProviderClient(name string, cfg *config.VerifyConfig) *ProviderClient {
	return &ProviderClient{
		name:    name,
		baseURL: cfg.ActivityProviderURL,
		apiKey:  cfg.ActivityAPIKey,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter:  rate.NewLimiter(rate.Limit(5), 10),
		breakers: circuitbreaker.NewCircuitBreakerManager(),
	}
}

type eventsResponse struct {
	Events int   `json:"events"`
	Volume int64 `json:"volume"`
}

// CountEvents returns the identity's event count and total volume in
// [from, to)
func (p *ProviderClient) CountEvents(ctx context.Context, identityRef string, from, to time.Time) (int, int64, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return 0, 0, err
	}

	var out eventsResponse
	cb := p.breakers.GetOrCreate(p.name, circuitbreaker.DefaultConfig(p.name))
	err := cb.Execute(ctx, func() error {
		q := url.Values{}
		q.Set("identity", identityRef)
		q.Set("from", from.UTC().Format(time.RFC3339))
		q.Set("to", to.UTC().Format(time.RFC3339))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/events?"+q.Encode(), nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		if p.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.apiKey)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		defer func() {
			_ = resp.Body.Close() // nolint:errcheck
		}()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%w: provider returned status %d", ErrProviderUnavailable, resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("failed to decode events: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return out.Events, out.Volume, nil
}

var _ EventsSource = (*ProviderClient)(nil)
