package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/coursechat/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the ask, reindex and remove_reference tools over MCP stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// stdout carries the protocol.
			cfg.Logging.Output = "stderr"

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			srv, err := mcp.NewServer(&mcp.Config{
				Name:    "coursechat",
				Version: version,
				Logger:  a.logger.Underlying(),
				Meter:   a.telemetry.Meter("coursechat/mcp"),
			}, a.service)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
}
