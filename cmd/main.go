package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/apexproxy/apex/config"
	"github.com/apexproxy/apex/internal/healthcheck"
	"github.com/apexproxy/apex/internal/httpserver"
	"github.com/apexproxy/apex/internal/metrics"
	"github.com/apexproxy/apex/internal/proxy"
	"github.com/apexproxy/apex/pkg/logger"
)

func main() {
	configPath := flag.String("config", "apex.yaml", "path to the configuration file")
	checkOnly := flag.Bool("check", false, "validate the configuration and exit")
	flag.Parse()

	store, err := config.LoadFile(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	if *checkOnly {
		fmt.Println("configuration OK")
		return
	}

	cfg := store.Get()
	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	if cfg.Server.Workers > 0 {
		runtime.GOMAXPROCS(cfg.Server.Workers)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	collector := metrics.NewCollector(1024, log)
	collector.Start(ctx)

	service := proxy.NewService(log, collector)
	if err := service.Apply(cfg); err != nil {
		log.Error("Failed to build proxy", slog.Any("err", err))
		os.Exit(1)
	}
	defer service.Close()

	if cfg.HealthCheck.Enabled {
		interval, err := healthInterval(cfg)
		if err != nil {
			log.Error("Invalid health check interval",
				slog.String("interval", cfg.HealthCheck.Interval),
				slog.Any("err", err))
			os.Exit(1)
		}

		prober := healthcheck.NewProber(service.Backends, interval, collector, log)
		go prober.Run(ctx)
	}

	timeout := time.Duration(cfg.Server.TimeoutSecs) * time.Second

	srv, err := httpserver.New(cfg.Server.Listen, service, timeout)
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("Proxy listening", slog.String("addr", cfg.Server.Listen))
		return srv.Start()
	})

	var metricsSrv *httpserver.Server
	if cfg.Server.MetricsAddr != "" {
		metricsSrv, err = httpserver.New(cfg.Server.MetricsAddr, setupMetricsRouter(collector), timeout)
		if err != nil {
			log.Error("Failed to create metrics server", slog.Any("err", err))
			os.Exit(1)
		}

		group.Go(func() error {
			log.Info("Metrics listening", slog.String("addr", cfg.Server.MetricsAddr))
			return metricsSrv.Start()
		})
	}

	go watchReload(ctx, store, service, log)

	<-groupCtx.Done()

	log.Info("Shutting down gracefully...")
	if err := srv.Shutdown(context.Background()); err != nil {
		log.Error("Error during shutdown", slog.Any("err", err))
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(context.Background()); err != nil {
			log.Error("Error during metrics shutdown", slog.Any("err", err))
		}
	}

	if err := group.Wait(); err != nil {
		log.Error("Server error", slog.Any("err", err))
		os.Exit(1)
	}
}

// watchReload swaps the configuration in on SIGHUP. A failed reload keeps
// the previous configuration active.
func watchReload(ctx context.Context, store *config.Store, service *proxy.Service, log *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return

		case <-hup:
			if err := store.Reload(); err != nil {
				log.Error("Config reload failed, keeping previous configuration",
					slog.Any("err", err))
				continue
			}
			if err := service.Apply(store.Get()); err != nil {
				log.Error("Failed to apply reloaded configuration",
					slog.Any("err", err))
				continue
			}
			log.Info("Configuration reloaded")
		}
	}
}

func healthInterval(cfg *config.Config) (time.Duration, error) {
	return time.ParseDuration(cfg.HealthCheck.Interval)
}
