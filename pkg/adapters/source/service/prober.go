// Package service implements the adapter for internal_service data sources:
// platform services reached over HTTP that expose a health endpoint and
// record-producing APIs consumed through REST query definitions.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pulsehq/pulse-engine/pkg/adapters/source"
	"github.com/pulsehq/pulse-engine/pkg/models"
)

// Prober checks an internal service's health endpoint.
type Prober struct {
	healthURL  string
	token      string
	httpClient *http.Client
}

// NewProber creates a prober from an internal service's connection config.
// Required keys: url. Optional: health_path (default /health), token.
func NewProber(config map[string]any) (*Prober, error) {
	baseURL, ok := config["url"].(string)
	if !ok || baseURL == "" {
		return nil, fmt.Errorf("url is required")
	}

	healthPath := "/health"
	if p, ok := config["health_path"].(string); ok && p != "" {
		healthPath = p
	}

	token, _ := config["token"].(string)

	return &Prober{
		healthURL:  strings.TrimSuffix(baseURL, "/") + healthPath,
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Probe calls the health endpoint and reports the service's self-declared
// status and version when the response carries them.
func (p *Prober) Probe(ctx context.Context) (*models.ProbeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.healthURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid health url: %w", err)
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, source.ClassifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}

	result := &models.ProbeResult{
		OK:      true,
		Kind:    "internal_service",
		Message: "healthy",
	}

	// Health payloads are advisory; a non-JSON 200 still counts as healthy.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err == nil {
		var health struct {
			Status  string `json:"status"`
			Version string `json:"version"`
		}
		if json.Unmarshal(raw, &health) == nil {
			if health.Status != "" {
				result.Message = health.Status
			}
			result.Version = health.Version
		}
	}

	return result, nil
}

// Close is a no-op; the prober holds no persistent connection.
func (p *Prober) Close() error {
	return nil
}

var _ source.Prober = (*Prober)(nil)
