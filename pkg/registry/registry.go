// Package registry announces this instance to an external service registry
// with periodic heartbeats. Everything here is best-effort: a down registry
// must never degrade the engine itself.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/auth"
	"github.com/pulsehq/pulse-engine/pkg/config"
)

// heartbeatDeadline bounds each heartbeat request.
const heartbeatDeadline = 3 * time.Second

type heartbeat struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	Hostname  string `json:"hostname"`
	Address   string `json:"address"`
	Timestamp string `json:"timestamp"`
}

// Client sends heartbeats to the registry at a fixed cadence.
type Client struct {
	cfg        *config.RegistryConfig
	version    string
	address    string
	tokens     *auth.ServiceTokenClient
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a heartbeat client. tokens may be nil when the registry does
// not require service authentication.
func New(cfg *config.RegistryConfig, version, address string, tokens *auth.ServiceTokenClient, logger *zap.Logger) *Client {
	return &Client{
		cfg:        cfg,
		version:    version,
		address:    address,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: heartbeatDeadline},
		logger:     logger,
	}
}

// Run sends heartbeats until the context is cancelled. It returns immediately
// when no registry URL is configured.
func (c *Client) Run(ctx context.Context) {
	if c.cfg.URL == "" {
		return
	}

	interval := time.Duration(c.cfg.HeartbeatSeconds) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}

	c.beat(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.beat(ctx)
		}
	}
}

func (c *Client) beat(ctx context.Context) {
	hostname, _ := os.Hostname()
	hb := heartbeat{
		Service:   c.cfg.ServiceName,
		Version:   c.version,
		Hostname:  hostname,
		Address:   c.address,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(hb)
	if err != nil {
		c.logger.Warn("Failed to encode heartbeat", zap.Error(err))
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, heartbeatDeadline)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		c.logger.Warn("Failed to build heartbeat request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	if c.tokens != nil {
		if token, err := c.tokens.Token(reqCtx); err == nil && token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Registry heartbeat failed", zap.Error(err))
		return
	}
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		c.logger.Warn("Registry rejected heartbeat",
			zap.Int("status", resp.StatusCode),
			zap.String("registry_url", c.cfg.URL))
	}
}
