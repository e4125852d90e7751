package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// ServiceTokenClient fetches service-to-service tokens for probing
// internal-service data sources. Tokens are cached until shortly before
// expiry so repeated probes do not hammer the token endpoint.
type ServiceTokenClient struct {
	tokenURL   string
	httpClient *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// expirySlack renews tokens this long before they actually expire.
const expirySlack = 30 * time.Second

// NewServiceTokenClient creates a service token client. An empty tokenURL
// disables it: Token returns "" without error.
func NewServiceTokenClient(tokenURL string) *ServiceTokenClient {
	return &ServiceTokenClient{
		tokenURL:   tokenURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type serviceTokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// Token returns a valid service token, fetching a fresh one when the cached
// token is missing or near expiry.
func (c *ServiceTokenClient) Token(ctx context.Context) (string, error) {
	if c.tokenURL == "" {
		return "", nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Add(expirySlack).Before(c.expiresAt) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, nil)
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token fetch failed: status %d", resp.StatusCode)
	}

	var result serviceTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if result.Token == "" {
		return "", fmt.Errorf("empty token in response")
	}

	c.token = result.Token
	c.expiresAt = time.Now().Add(time.Duration(result.ExpiresIn) * time.Second)
	return c.token, nil
}
