package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"chainpulse/internal/config"
	"chainpulse/internal/handler"
	"chainpulse/internal/health"
	"chainpulse/internal/metrics"
	"chainpulse/internal/poller"
	"chainpulse/internal/rpcclient"
	"chainpulse/pkg/logger"
)

const shutdownGrace = 5 * time.Second

func main() {
	printConfig := flag.Bool("print-config", false, "print resolved settings and chain inventory, then exit")
	flag.Parse()

	settings, err := config.LoadSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(
		settings.Logging.Level,
		settings.Logging.ToFile,
		settings.Logging.FilePath,
		settings.Logging.Format,
	)

	configPath := settings.ResolveConfigPath()
	chains, err := config.LoadChains(configPath)
	if err != nil {
		log.Error("Failed to load chain configuration from %s: %v", configPath, err)
		os.Exit(1)
	}

	if *printConfig {
		dumpConfig(settings, configPath, chains)
		return
	}

	gin.SetMode(gin.ReleaseMode)

	bundle := metrics.New()
	state := health.NewState()
	pool := rpcclient.NewPool(settings.Poller.RPCRequestTimeout, bundle)
	classifier := rpcclient.NewClassifier()
	manager := poller.NewManager(settings, bundle, state, pool, classifier, log)

	bundle.Exporter.Up.Set(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if settings.Poller.WarmPollEnabled && len(chains) > 0 {
		log.Info("Performing warm poll for %d chain(s)", len(chains))
	}
	manager.Start(ctx, chains, settings.Poller.WarmPollEnabled)
	log.Info("Started %d poll loop(s)", manager.ActiveCount())

	reload := func() (handler.ReloadSummary, error) {
		newChains, err := config.LoadChains(settings.ResolveConfigPath())
		if err != nil {
			return handler.ReloadSummary{}, fmt.Errorf("%w: %v", handler.ErrInvalidConfig, err)
		}

		plan := manager.ApplyReload(newChains)
		return handler.ReloadSummary{
			Added:    len(plan.Add),
			Removed:  len(plan.Remove),
			Replaced: len(plan.Replace),
			Total:    manager.ActiveCount(),
		}, nil
	}

	healthHandler := handler.NewHealthHandler(state, settings.Health.ReadinessStaleThreshold, reload, log)

	healthServer := &http.Server{Handler: handler.HealthRouter(healthHandler)}
	metricsServer := &http.Server{Handler: handler.MetricsRouter(bundle.Registry)}

	healthListener, err := net.Listen("tcp", fmt.Sprintf(":%d", settings.Server.HealthPort))
	if err != nil {
		log.Error("Failed to bind health listener on port %d: %v", settings.Server.HealthPort, err)
		os.Exit(2)
	}
	metricsListener, err := net.Listen("tcp", fmt.Sprintf(":%d", settings.Server.MetricsPort))
	if err != nil {
		log.Error("Failed to bind metrics listener on port %d: %v", settings.Server.MetricsPort, err)
		os.Exit(2)
	}

	go func() {
		log.Info("Health listener on port %d", settings.Server.HealthPort)
		if err := healthServer.Serve(healthListener); err != nil && err != http.ErrServerClosed {
			log.Error("Health server error: %v", err)
		}
	}()
	go func() {
		log.Info("Metrics listener on port %d", settings.Server.MetricsPort)
		if err := metricsServer.Serve(metricsListener); err != nil && err != http.ErrServerClosed {
			log.Error("Metrics server error: %v", err)
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range signals {
		if sig == syscall.SIGHUP {
			log.Info("SIGHUP received, reloading configuration")
			if summary, err := reload(); err != nil {
				log.Error("Configuration reload failed: %v", err)
			} else {
				log.Info("Configuration reloaded: added=%d removed=%d replaced=%d total=%d",
					summary.Added, summary.Removed, summary.Replaced, summary.Total)
			}
			continue
		}
		break
	}

	log.Info("Shutting down...")

	bundle.Exporter.Up.Set(0)
	cancel()
	manager.StopAll(shutdownGrace)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()

	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Health server forced to shutdown: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Metrics server forced to shutdown: %v", err)
	}

	pool.Close()
	log.Info("Exporter stopped")
}

func dumpConfig(settings *config.Settings, configPath string, chains []config.ChainSpec) {
	fmt.Printf("config_path: %s\n", configPath)
	fmt.Printf("log_level: %s\n", settings.Logging.Level)
	fmt.Printf("log_format: %s\n", settings.Logging.Format)
	fmt.Printf("poll_default_interval: %s\n", settings.Poller.DefaultInterval)
	fmt.Printf("max_failure_backoff: %s\n", settings.Poller.MaxFailureBackoff)
	fmt.Printf("rpc_request_timeout: %s\n", settings.Poller.RPCRequestTimeout)
	fmt.Printf("readiness_stale_threshold: %s\n", settings.Health.ReadinessStaleThreshold)
	fmt.Printf("health_port: %d\n", settings.Server.HealthPort)
	fmt.Printf("metrics_port: %d\n", settings.Server.MetricsPort)
	fmt.Printf("warm_poll_enabled: %t\n", settings.Poller.WarmPollEnabled)
	fmt.Printf("blockchains: %d\n", len(chains))
	for _, chain := range chains {
		fmt.Printf("  - %s (%s): interval=%s accounts=%d contracts=%d lookback=%d\n",
			chain.Name, chain.RPCURL, chain.Interval(settings.Poller.DefaultInterval),
			len(chain.Accounts), len(chain.Contracts), chain.TransferLookbackBlocks)
	}
}
