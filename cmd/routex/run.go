package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"routex/internal/config"
	"routex/internal/engine"
	"routex/internal/logging"
	"routex/internal/version"
)

func runCommand() *cobra.Command {
	var (
		configPath string
		pipeline   string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the engine: control server, metrics and an optional pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWorker(configPath)
			if err != nil {
				return err
			}
			if pipeline != "" {
				cfg.Pipeline = pipeline
			}
			logging.Configure(logging.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})
			logging.L().Info("starting routex", "version", version.Version, "grpc_port", cfg.GRPCPort, "metrics_port", cfg.MetricsPort)

			ctx := cmd.Context()
			e, err := engine.Bootstrap(ctx, engine.Config{
				GRPCPort:    cfg.GRPCPort,
				MetricsPort: cfg.MetricsPort,
				PipelineYml: cfg.Pipeline,
			})
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			if err := e.Run(ctx); err != nil {
				return fmt.Errorf("engine: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "routex.yml", "worker config file")
	cmd.Flags().StringVarP(&pipeline, "pipeline", "p", "", "pipeline manifest started at boot")
	return cmd
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Version)
		},
	}
}
