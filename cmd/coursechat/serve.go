package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coursechat/internal/events"
	httpserver "github.com/fyrsmithlabs/coursechat/internal/http"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, when enabled, the NATS document-event subscriber",
		Long: `Run the HTTP API and, when events.enabled is set, the NATS subscriber
that reindexes documents as the LMS publishes changes.

Stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	if cfg.Events.Enabled {
		sub, nc, err := startSubscriber(ctx, a)
		if err != nil {
			return err
		}
		defer nc.Close()
		defer func() {
			if err := sub.Stop(); err != nil {
				a.logger.Warn(ctx, "stopping event subscriber", zap.Error(err))
			}
		}()
	}

	srv, err := httpserver.NewServer(a.service, a.logger, &httpserver.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		RequestTimeout: cfg.Server.RequestTimeout.Duration(),
		Meter:          a.telemetry.Meter("coursechat/http"),
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info(context.Background(), "shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

func startSubscriber(ctx context.Context, a *app) (*events.Subscriber, *nats.Conn, error) {
	url := a.cfg.Events.URL
	nc, err := nats.Connect(url,
		nats.Name("coursechat"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	sub, err := events.NewSubscriber(nc, a.service, events.OptionsFromConfig(a.cfg.Events), a.logger)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	if err := sub.Start(ctx); err != nil {
		nc.Close()
		return nil, nil, err
	}
	a.logger.Info(ctx, "connected to NATS", zap.String("url", url))
	return sub, nc, nil
}
