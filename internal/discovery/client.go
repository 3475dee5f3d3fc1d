// Package discovery consumes the external agent index. The index owns
// capability matching; this client only fetches candidates and never writes.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sid-stack/aris-registry/internal/domain"
)

// ErrNotConfigured is returned when no index URL was supplied. Discovery is an
// optional integration; the rest of the engine runs without it.
var ErrNotConfigured = errors.New("discovery index not configured")

// Partner lookups sit on the handshake path, so the timeout stays in
// single-digit seconds.
const defaultTimeout = 5 * time.Second

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

type discoverResponse struct {
	Agents []domain.AgentCandidate `json:"agents"`
}

// Discover returns the index's candidates for a capability string.
func (c *Client) Discover(ctx context.Context, capability string) ([]domain.AgentCandidate, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}
	if capability == "" {
		return nil, fmt.Errorf("capability is required")
	}

	endpoint := fmt.Sprintf("%s/api/discover?capability=%s", c.baseURL, url.QueryEscape(capability))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building discovery request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery index unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery index returned %d", resp.StatusCode)
	}

	var body discoverResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding discovery response: %w", err)
	}
	return body.Agents, nil
}
