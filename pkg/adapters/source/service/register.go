package service

import (
	"context"

	"github.com/pulsehq/pulse-engine/pkg/adapters/source"
)

func init() {
	source.Register(source.Registration{
		Info: source.AdapterInfo{
			Type:        "internal_service",
			DisplayName: "Internal Service",
			Description: "Platform services exposing health and record APIs",
		},
		ProberFactory: func(ctx context.Context, config map[string]any) (source.Prober, error) {
			return NewProber(config)
		},
		// Record retrieval from internal services goes through REST
		// query definitions, not SQL.
		RunnerFactory: nil,
	})
}
