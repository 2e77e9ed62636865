package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	pb "routex/api/proto/v1"
	"routex/internal/transport"
)

// control wraps a command that talks to a running engine.
func control(use, short string, args cobra.PositionalArgs, call func(context.Context, *cobra.Command, *transport.Client, []string) error) *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, argv []string) error {
			cli, err := transport.Dial(addr)
			if err != nil {
				return err
			}
			defer cli.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return call(ctx, cmd, cli, argv)
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", "localhost:7070", "control server address")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}

func pingCommand() *cobra.Command {
	return control("ping", "Check that an engine is up", cobra.NoArgs,
		func(ctx context.Context, cmd *cobra.Command, cli *transport.Client, _ []string) error {
			rep, err := cli.Ping(ctx, &pb.PingRequest{})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rep.GetStatus())
			return nil
		})
}

func deployCommand() *cobra.Command {
	return control("deploy <manifest.yml>", "Deploy and start a pipeline", cobra.ExactArgs(1),
		func(ctx context.Context, cmd *cobra.Command, cli *transport.Client, argv []string) error {
			raw, err := os.ReadFile(argv[0])
			if err != nil {
				return err
			}
			rep, err := cli.DeployPipeline(ctx, &pb.DeployRequest{Yaml: string(raw)})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rep.GetId())
			return nil
		})
}

func pauseCommand() *cobra.Command {
	return control("pause <id>", "Stop and remove a pipeline", cobra.ExactArgs(1),
		func(ctx context.Context, cmd *cobra.Command, cli *transport.Client, argv []string) error {
			_, err := cli.PausePipeline(ctx, &pb.PauseRequest{Id: argv[0]})
			return err
		})
}
