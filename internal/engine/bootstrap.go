package engine

import (
	"context"
	"fmt"

	"routex/internal/telemetry"
	"routex/internal/transport"
)

type Config struct {
	GRPCPort    int
	MetricsPort int
	PipelineYml string // optional
}

func Bootstrap(ctx context.Context, cfg Config) (*Engine, error) {
	e := newEngine(ctx)

	// 1. transport server
	srv, err := transport.StartServer(cfg.GRPCPort, e)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	e.transport = srv

	// 2. boot pipeline
	if cfg.PipelineYml != "" {
		if _, err := e.DeployFile(cfg.PipelineYml); err != nil {
			srv.Stop()
			return nil, fmt.Errorf("pipeline: %w", err)
		}
	}

	// 3. metrics
	telemetry.Expose(cfg.MetricsPort)

	return e, nil
}
