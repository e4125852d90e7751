package postgres

import (
	"context"

	"github.com/pulsehq/pulse-engine/pkg/adapters/source"
)

func init() {
	source.Register(source.Registration{
		Info: source.AdapterInfo{
			Type:        "postgres",
			DisplayName: "PostgreSQL",
			Description: "Connect to PostgreSQL 12+, Aurora PostgreSQL, Supabase",
		},
		ProberFactory: func(ctx context.Context, config map[string]any) (source.Prober, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewAdapter(ctx, cfg)
		},
		RunnerFactory: func(ctx context.Context, config map[string]any) (source.Runner, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewAdapter(ctx, cfg)
		},
	})
}
