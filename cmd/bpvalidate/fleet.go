package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/poplexity/bpvalidate/internal/alertnotify"
	"github.com/poplexity/bpvalidate/internal/cache"
	"github.com/poplexity/bpvalidate/internal/dashboard"
	"github.com/poplexity/bpvalidate/internal/fleet"
	"github.com/poplexity/bpvalidate/internal/logger"
	"github.com/poplexity/bpvalidate/internal/metrics"
	"github.com/poplexity/bpvalidate/internal/tools"
	"github.com/poplexity/bpvalidate/internal/validator"
)

func newFleetCmd() *cobra.Command {
	var rosterPath string
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "fleet",
		Short: "Validate a roster of BPs on a timer, with a live dashboard, metrics, and alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFleet(rosterPath, interval)
		},
	}

	cmd.Flags().StringVar(&rosterPath, "roster", "", "path to the fleet roster YAML file (required)")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Minute, "how often to re-validate the whole roster")
	cmd.MarkFlagRequired("roster")

	return cmd
}

func runFleet(rosterPath string, interval time.Duration) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	roster, err := fleet.LoadRoster(rosterPath)
	if err != nil {
		return err
	}
	logger.Info("INIT", "loaded %d BPs from roster %s", len(roster.BPs), rosterPath)

	cacheStore, err := cache.Open(cfg.Cache.Dir)
	if err != nil {
		return fmt.Errorf("opening cache store: %w", err)
	}
	defer cacheStore.Close()

	engine := validator.New(
		cfg, cacheStore,
		tools.ExecWHOISRunner{}, tools.NmapTLSScanner{}, tools.ExecP2PTester{}, tools.CurlHTTP2Detector{},
		cfg.Advanced.DNS.Servers, cfg.Advanced.DNS.TimeoutDuration(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var dash *dashboard.Server
	coordinator := fleet.New(cfg, engine, roster, func(owner string, report validator.Report, err error) {
		if dash != nil {
			dash.BroadcastUpdate()
		}
	})

	dash = dashboard.NewServer(cfg, coordinator)
	dash.Start(ctx)

	exporter := metrics.NewExporter(coordinator, cfg.Advanced.Prometheus.MetricsPrefix)
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				exporter.Update()
			}
		}
	}()

	alertMgr := alertnotify.NewManager(cfg.Alerts, cfg.Advanced.StateFile, coordinator)
	alertMgr.Start(ctx)

	logger.Info("SYS", "starting fleet validation, %d BPs, recheck every %s", len(roster.BPs), interval)
	coordinator.Start(ctx, interval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("SYS", "shutting down gracefully...")
	cancel()
	time.Sleep(1 * time.Second)
	logger.Info("SYS", "shutdown complete")
	return nil
}
