package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pulsehq/pulse-engine/pkg/adapters/source"
	"github.com/pulsehq/pulse-engine/pkg/models"
)

// Prober checks that a REST source's base URL is reachable.
type Prober struct {
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
}

// NewProber creates a prober from a REST source's connection config.
// Required keys: url. Optional: headers (map of header name to value).
func NewProber(config map[string]any) (*Prober, error) {
	baseURL, ok := config["url"].(string)
	if !ok || baseURL == "" {
		return nil, fmt.Errorf("url is required")
	}

	headers := make(map[string]string)
	if raw, ok := config["headers"].(map[string]any); ok {
		for key, val := range raw {
			if s, ok := val.(string); ok {
				headers[key] = s
			}
		}
	}

	return &Prober{
		baseURL:    baseURL,
		headers:    headers,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Probe issues a GET against the base URL. Any response below 500 counts as
// reachable: 4xx means the endpoint is up but the probe path needs auth or
// parameters, which a probe cannot supply.
func (p *Prober) Probe(ctx context.Context) (*models.ProbeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	for key, val := range p.headers {
		req.Header.Set(key, val)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, source.ClassifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}

	return &models.ProbeResult{
		OK:      true,
		Kind:    "rest",
		Message: fmt.Sprintf("endpoint responded with %d", resp.StatusCode),
	}, nil
}

// Close is a no-op; the prober holds no persistent connection.
func (p *Prober) Close() error {
	return nil
}

var _ source.Prober = (*Prober)(nil)
