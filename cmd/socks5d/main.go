// Command socks5d is the SOCKS5 proxy gateway's CLI entry point: load
// config, optionally validate-and-exit, start every configured
// listener, and wait for a shutdown signal.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/panyam/socks5gate/internal/config"
	"github.com/panyam/socks5gate/internal/logging"
	"github.com/panyam/socks5gate/internal/metrics"
	"github.com/panyam/socks5gate/internal/socks5"
)

func main() {
	var configPath string
	var testConfig bool

	root := &cobra.Command{
		Use:   "socks5d",
		Short: "SOCKS5 proxy gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, testConfig)
		},
	}
	root.Flags().StringVar(&configPath, "config", "config.yaml", "path to YAML config file")
	root.Flags().BoolVarP(&testConfig, "test", "t", false, "validate configuration and exit")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string, testConfig bool) error {
	file, plans, err := config.Load(configPath)
	if err != nil {
		if testConfig {
			return fmt.Errorf("configuration test FAILED: %w", err)
		}
		return err
	}

	if testConfig {
		fmt.Printf("configuration file %s test OK\n", configPath)
		for _, p := range plans {
			fmt.Printf("  socks5://%s\n", p.Config.ListenAddress)
		}
		return nil
	}

	logger := logging.New(file.LogLevel, file.LogFormat)
	logger.Info("starting", "listeners", len(plans), "gomaxprocs", runtime.GOMAXPROCS(0))

	var mcollector *metrics.Collector
	if file.MetricsListenAddress != "" {
		mcollector = metrics.New()
		go serveMetrics(file.MetricsListenAddress, mcollector, logger)
	}

	listeners := make([]*socks5.Listener, 0, len(plans))
	for _, p := range plans {
		if p.EnsureInterface != "" && p.Config.OutboundBindIP != nil && runtime.GOOS == "linux" {
			if err := socks5.EnsureBindAddress(p.EnsureInterface, p.Config.OutboundBindIP); err != nil {
				return fmt.Errorf("ensure outbound address: %w", err)
			}
		}

		p.Config.Logger = logger
		if mcollector != nil {
			p.Config.Metrics = mcollector
		}

		ln, err := socks5.NewListener(p.Config)
		if err != nil {
			return err
		}
		listeners = append(listeners, ln)
		logger.Info("listening", "address", ln.Addr())
	}

	server := socks5.NewServer(logger, listeners...)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err = server.Run(ctx)
	server.Shutdown()
	return err
}

func serveMetrics(addr string, c *metrics.Collector, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}
