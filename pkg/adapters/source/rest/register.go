package rest

import (
	"context"

	"github.com/pulsehq/pulse-engine/pkg/adapters/source"
)

func init() {
	source.Register(source.Registration{
		Info: source.AdapterInfo{
			Type:        "rest",
			DisplayName: "REST API",
			Description: "Fetch records from JSON HTTP endpoints",
		},
		ProberFactory: func(ctx context.Context, config map[string]any) (source.Prober, error) {
			return NewProber(config)
		},
		// REST sources do not execute SQL.
		RunnerFactory: nil,
	})
}
