// Command helmsman runs one cluster process backed by NATS JetStream KV.
//
// It loads a YAML configuration, connects to NATS, optionally provisions the
// cluster layout, and serves Prometheus metrics and a readiness check until it
// receives SIGINT or SIGTERM. Partitions are managed with the stock
// OnlineOffline model; transitions are only logged.
//
// Usage:
//
//	helmsman -config helmsman.yaml -nats nats://127.0.0.1:4222 -metrics :9090 -setup
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/arloliu/helmsman"
	"github.com/arloliu/helmsman/admin"
	"github.com/arloliu/helmsman/internal/metrics"
	"github.com/arloliu/helmsman/natsstore"
	"github.com/arloliu/helmsman/statemodel"
	"github.com/arloliu/helmsman/types"
)

type options struct {
	configPath  string
	natsURL     string
	metricsAddr string
	cluster     string
	instance    string
	setup       bool
	debug       bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Path to YAML configuration file")
	flag.StringVar(&opts.natsURL, "nats", envOr("NATS_URL", nats.DefaultURL), "NATS server URL")
	flag.StringVar(&opts.metricsAddr, "metrics", ":9090", "Metrics listen address (empty disables)")
	flag.StringVar(&opts.cluster, "cluster", "", "Cluster name (overrides config)")
	flag.StringVar(&opts.instance, "instance", "", "Instance name (overrides config)")
	flag.BoolVar(&opts.setup, "setup", false, "Create the cluster layout if missing")
	flag.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if err := run(opts); err != nil {
		log.Fatalf("helmsman: %v", err)
	}
}

func run(opts options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if opts.debug {
		level = slog.LevelDebug
	}
	logger := helmsman.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nc, err := nats.Connect(opts.natsURL,
		nats.Name("helmsman-"+cfg.InstanceName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.Timeout(cfg.ConnectTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", opts.natsURL, err)
	}
	defer nc.Close()

	reg := prometheus.NewRegistry()
	collector := helmsman.NewPrometheusMetrics(reg, "")

	store, err := natsstore.New(ctx, nc,
		natsstore.WithBucketPrefix(cfg.KVBuckets.Prefix),
		natsstore.WithReplicas(cfg.KVBuckets.Replicas),
		natsstore.WithSessionTimeout(cfg.SessionTimeout),
		natsstore.WithOperationTimeout(cfg.OperationTimeout),
		natsstore.WithLogger(logger),
		natsstore.WithMetrics(collector),
	)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer func() { _ = store.Close() }()

	if opts.setup {
		adm := admin.New(store, admin.WithLogger(logger))
		if err := adm.SetupCluster(ctx, cfg.ClusterName); err != nil {
			return err
		}
		if err := adm.AddStateModelDef(ctx, cfg.ClusterName, statemodel.OnlineOffline(nil)); err != nil {
			return err
		}
	}

	handler := types.TransitionHandlerFunc(func(_ context.Context, req types.TransitionRequest) error {
		logger.Info("transition", "entity", req.EntityKey(), "from", req.From, "to", req.To)
		return nil
	})

	mgr, err := helmsman.NewManager(&cfg, store,
		helmsman.WithLogger(logger),
		helmsman.WithMetrics(collector),
		helmsman.WithStateModel(statemodel.OnlineOffline(handler)),
		helmsman.WithHooks(&helmsman.Hooks{
			OnLeadershipChanged: func(_ context.Context, leader bool) error {
				logger.Info("leadership changed", "leader", leader)
				return nil
			},
			OnError: func(_ context.Context, err error) error {
				logger.Warn("manager error", "error", err)
				return nil
			},
		}),
	)
	if err != nil {
		return err
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout+cfg.SessionTimeout)
	err = mgr.Connect(connectCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to connect manager: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if opts.metricsAddr != "" {
		srv := metrics.NewServer(opts.metricsAddr, reg, mgr.IsConnected, logger)
		g.Go(func() error { return srv.Run(gctx) })
	}
	g.Go(func() error {
		// A fatal session error leaves the manager Failed; exit so a supervisor restarts us.
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if mgr.State() == helmsman.StateFailed {
					return errors.New("manager failed")
				}
			}
		}
	})

	logger.Info("helmsman running",
		"cluster", cfg.ClusterName,
		"instance", cfg.InstanceName,
		"instance_type", string(cfg.InstanceType),
	)
	runErr := g.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := mgr.Disconnect(shutdownCtx); err != nil && !errors.Is(err, helmsman.ErrNotStarted) {
		logger.Error("shutdown incomplete", "error", err)
	}
	logger.Info("shutdown complete")

	return runErr
}

func loadConfig(opts options) (helmsman.Config, error) {
	cfg := helmsman.DefaultConfig()
	if opts.configPath != "" {
		loaded, err := helmsman.LoadConfig(opts.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if opts.cluster != "" {
		cfg.ClusterName = opts.cluster
	}
	if opts.instance != "" {
		cfg.InstanceName = opts.instance
	}
	helmsman.SetDefaults(&cfg)

	return cfg, cfg.Validate()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}
