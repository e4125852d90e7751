package mssql

import (
	"context"

	"github.com/pulsehq/pulse-engine/pkg/adapters/source"
)

func init() {
	source.Register(source.Registration{
		Info: source.AdapterInfo{
			Type:        "sqlserver",
			DisplayName: "Microsoft SQL Server",
			Description: "Connect to SQL Server 2017+ and Azure SQL Database",
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
