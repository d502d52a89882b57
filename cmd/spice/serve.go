package main

import (
	"crypto/tls"
	"fmt"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/spice-suggest/internal/api"
	"github.com/Veraticus/spice-suggest/internal/certs"
	"github.com/Veraticus/spice-suggest/internal/learner"
	"github.com/Veraticus/spice-suggest/internal/publish"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the suggestion HTTP API",
		Long: `Serve the suggestion API together with its background workers: the model
registry refresh, the hint promotion job and, when kafka is enabled, the
outbox relay. Every worker stops when the process receives SIGINT or SIGTERM.`,
		RunE: runServe,
	}

	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	server := api.NewServer(api.Deps{
		Suggester: a.router,
		Ledger:    a.ledger,
		Registry:  a.registry,
		Promoter:  a.learner,
		Metrics:   a.metrics,
	})

	var tlsConfig *tls.Config
	if a.cfg.Server.TLS.Enabled {
		tlsConfig, err = certs.NewFileManager(a.cfg.Server.TLS.CertDir, a.cfg.Server.TLS.Hosts...).TLSConfig()
		if err != nil {
			return fmt.Errorf("failed to prepare TLS certificate: %w", err)
		}
	}

	var relay *publish.Relay
	if a.cfg.Kafka.Enabled {
		if relay, err = newRelay(a); err != nil {
			return err
		}
		defer func() { _ = relay.Close() }()
	}

	g, ctx := errgroup.WithContext(cmd.Context())

	g.Go(func() error {
		return server.Run(ctx, a.cfg.Server.Addr, tlsConfig)
	})
	g.Go(func() error {
		return a.registry.Run(ctx, a.cfg.Registry.RefreshInterval)
	})

	promotion := learner.NewPromotionJob(a.learner, a.cfg.Learner.Promotion.Interval)
	promotion.Start(ctx)
	g.Go(func() error {
		<-ctx.Done()
		promotion.Stop()
		return nil
	})

	if relay != nil {
		g.Go(func() error {
			return relay.Start(ctx)
		})
	}

	slog.Info("Suggestion service started",
		"addr", a.cfg.Server.Addr,
		"models", len(a.registry.List()),
		"tls", tlsConfig != nil,
		"kafka", a.cfg.Kafka.Enabled,
		"locks", a.cfg.Locks.Backend)

	if err := g.Wait(); err != nil && cmd.Context().Err() == nil {
		return err
	}
	return nil
}

func newRelay(a *app) (*publish.Relay, error) {
	producer, err := publish.NewProducer(a.cfg.Kafka.Brokers)
	if err != nil {
		return nil, fmt.Errorf("failed to start outbox relay: %w", err)
	}
	return publish.NewRelay(a.store, producer, a.metrics, publish.Config{
		Brokers:    a.cfg.Kafka.Brokers,
		Interval:   a.cfg.Kafka.RelayInterval,
		BatchSize:  a.cfg.Kafka.BatchSize,
		MaxRetries: a.cfg.Kafka.MaxRetries,
	}), nil
}
