// Package cli provides the dartrtctl command line interface, built on
// Cobra the way the config-driven queue systems in this codebase's
// lineage do.
//
// Command Structure:
//
//	dartrtctl
//	├── run                  # Start a runtime and block until signalled
//	│   └── --config, -c     # Specify config file
//	├── status               # Print the effective configuration
//	├── demo                 # Run a small RAW-dependency example and exit
//	├── --version
//	└── --help
package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dash-hpc/dartrt/config"
	"github.com/dash-hpc/dartrt/core"
	"github.com/dash-hpc/dartrt/observability/prometheus"
	"github.com/dash-hpc/dartrt/transport"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var configFile string

// BuildCLI assembles the dartrtctl root command and its subcommands.
func BuildCLI() *cobra.Command {
	root := &cobra.Command{
		Use:     "dartrtctl",
		Short:   "dartrtctl runs and inspects a dartrt task runtime",
		Version: "0.1.0",
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (YAML)")

	root.AddCommand(buildRunCommand())
	root.AddCommand(buildStatusCommand())
	root.AddCommand(buildDemoCommand())
	return root
}

func buildRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start a runtime and block until SIGINT/SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSystem()
		},
	}
}

func buildStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			fmt.Printf("numa_domains=%d workers_per_domain=%d backoff=%s units=%d metrics_enabled=%v metrics_addr=%s log_level=%s\n",
				cfg.Runtime.NumaDomains, cfg.Runtime.WorkersPerDomain, cfg.Runtime.Backoff,
				cfg.Transport.Units, cfg.Metrics.Enabled, cfg.Metrics.Addr, cfg.Log.Level)
			return nil
		},
	}
}

func buildDemoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run a two-task read-after-write example and print the order observed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo()
		},
	}
}

func runSystem() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	backoff := core.BackoffSleep
	switch cfg.Runtime.Backoff {
	case "poll":
		backoff = core.BackoffPoll
	case "condvar":
		backoff = core.BackoffCondvar
	}

	logger := core.NewStdLogger()
	reg := prom.NewRegistry()
	exporter, err := prometheus.NewMetricsExporter("dartrt", reg, prometheus.ExporterOptions{})
	if err != nil {
		return fmt.Errorf("new metrics exporter: %w", err)
	}

	rt := core.NewRuntime(core.RuntimeConfig{
		NumaDomains:      cfg.Runtime.NumaDomains,
		WorkersPerDomain: cfg.Runtime.WorkersPerDomain,
		Backoff:          backoff,
		Logger:           logger,
		Metrics:          exporter,
		Transport:        transport.NewLoopback(0, cfg.Transport.Units),
	})

	if cfg.Metrics.Enabled {
		poller, err := prometheus.NewSnapshotPoller(reg, time.Second)
		if err != nil {
			return fmt.Errorf("new snapshot poller: %w", err)
		}
		poller.AddRuntime("main", rt)
		pollCtx, cancelPoll := context.WithCancel(context.Background())
		defer cancelPoll()
		poller.Start(pollCtx)
		defer poller.Stop()

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server stopped", core.F("error", err))
			}
		}()
		defer server.Shutdown(context.Background())
		logger.Info("metrics server listening", core.F("addr", cfg.Metrics.Addr))
	}

	logger.Info("runtime started",
		core.F("numa_domains", cfg.Runtime.NumaDomains),
		core.F("workers_per_domain", cfg.Runtime.WorkersPerDomain))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return rt.Shutdown(ctx)
}

func runDemo() error {
	rt := core.NewRuntime(core.RuntimeConfig{
		NumaDomains:      1,
		WorkersPerDomain: 2,
	})
	defer rt.Shutdown(context.Background())

	addr := core.GlobalAddr{Unit: 0, Segment: 1, Offset: 0}
	order := make([]string, 0, 2)

	producer, err := rt.Submit(nil, func(ctx context.Context) error {
		order = append(order, "producer")
		return nil
	}, core.SubmitOptions{
		Name: "producer",
		Deps: []core.Dependency{{Addr: addr, Type: core.DepOut}},
	})
	if err != nil {
		return fmt.Errorf("submit producer: %w", err)
	}

	consumer, err := rt.Submit(nil, func(ctx context.Context) error {
		order = append(order, "consumer")
		return nil
	}, core.SubmitOptions{
		Name: "consumer",
		Deps: []core.Dependency{{Addr: addr, Type: core.DepIn}},
	})
	if err != nil {
		return fmt.Errorf("submit consumer: %w", err)
	}

	if err := rt.Wait(context.Background(), producer); err != nil {
		return err
	}
	if err := rt.Wait(context.Background(), consumer); err != nil {
		return err
	}

	fmt.Printf("execution order: %v\n", order)
	return nil
}
