// Command fleet runs the TitanFleet trading daemon: exchange gateway,
// market router, bot fleet, selection orchestrator, control-plane API
// and the telemetry sinks, all wired from one configuration.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/titanfleet/internal/alerts"
	"github.com/ajitpratap0/titanfleet/internal/api"
	"github.com/ajitpratap0/titanfleet/internal/config"
	"github.com/ajitpratap0/titanfleet/internal/events"
	"github.com/ajitpratap0/titanfleet/internal/exchange"
	"github.com/ajitpratap0/titanfleet/internal/executor"
	"github.com/ajitpratap0/titanfleet/internal/fleet"
	"github.com/ajitpratap0/titanfleet/internal/journal"
	"github.com/ajitpratap0/titanfleet/internal/market"
	"github.com/ajitpratap0/titanfleet/internal/metrics"
	"github.com/ajitpratap0/titanfleet/internal/orchestrator"
	"github.com/ajitpratap0/titanfleet/internal/portfolio"
	"github.com/ajitpratap0/titanfleet/pkg/backtest"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to config file (env vars override)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	logger := config.NewLogger("main")

	logger.Info().
		Str("version", config.Version).
		Str("mode", cfg.Exchange.Mode).
		Msg("Starting TitanFleet")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := config.LoadSecretsFromVault(ctx, cfg); err != nil {
		logger.Fatal().Err(err).Msg("Failed to load secrets from Vault")
	}

	if err := config.NewValidator(cfg, config.DefaultValidatorOptions()).ValidateStartup(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Startup validation failed")
	}

	var gateway exchange.Gateway
	if cfg.Exchange.Mode == config.ModeLive {
		live, err := exchange.NewLiveGateway(exchange.LiveGatewayConfig{
			APIKey:          cfg.Exchange.APIKey,
			APISecret:       cfg.Exchange.APISecret,
			Testnet:         cfg.Exchange.Testnet,
			RateLimitPerSec: cfg.Exchange.RateLimitPerSec,
			RateLimitBurst:  cfg.Exchange.RateLimitBurst,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect exchange gateway")
		}
		defer live.Close()
		gateway = live
	} else {
		gateway = exchange.NewSimulatedGateway(cfg.Trading.InitialCapital)
	}

	router := market.NewRouter(gateway.Trades(), cfg.Trading.SupertrendPeriod, cfg.Trading.SupertrendMultiplier)

	// Backtest kline cache, enabled when Redis is configured.
	var cache *market.KlineCache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cache = market.NewKlineCache(rdb, 0)
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Kline cache enabled")
	}

	// Trade journal, enabled when a database DSN is configured. A DSN
	// that does not connect is fatal: an operator who asked for an audit
	// trail should not trade without one.
	var jrnl *journal.Journal
	if cfg.Database.DSN != "" {
		jrnl, err = journal.New(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect trade journal")
		}
		defer jrnl.Close()
	}

	// Event publisher, enabled when NATS is configured. Telemetry is not
	// worth refusing to trade over, so a failed connect only degrades.
	var publisher *events.Publisher
	if cfg.NATS.URL != "" {
		publisher, err = events.NewPublisher(cfg.NATS.URL)
		if err != nil {
			logger.Error().Err(err).Msg("Event publisher unavailable, continuing without it")
			publisher = nil
		} else {
			defer publisher.Close()
		}
	}

	alerters := []alerts.Alerter{alerts.NewLogAlerter()}
	if cfg.Telegram.Token != "" {
		tg, err := alerts.NewTelegramAlerter(cfg.Telegram.Token, []int64{cfg.Telegram.ChatID})
		if err != nil {
			logger.Error().Err(err).Msg("Telegram alerter unavailable, continuing without it")
		} else {
			alerters = append(alerters, tg)
			logger.Info().Int64("chat_id", cfg.Telegram.ChatID).Msg("Telegram alerts enabled")
		}
	}
	notifier := alerts.NewFleetNotifier(alerts.NewManager(alerters...), cfg.Exchange.Mode == config.ModeLive)

	// Order verdicts fan out to the journal, the event bus and alerting.
	sinks := make([]executor.Journal, 0, 3)
	if jrnl != nil {
		sinks = append(sinks, jrnl)
	}
	if publisher != nil {
		sinks = append(sinks, publisher)
	}
	sinks = append(sinks, notifier)
	orderJournal := executor.MultiJournal(sinks...)

	store := portfolio.NewStateStore(cfg.App.StateDir)

	notifiers := []fleet.Notifier{notifier}
	if publisher != nil {
		notifiers = append(notifiers, publisher)
	}
	fleetMgr := fleet.NewManager(cfg, gateway, router, store, orderJournal, notifiers...)

	history := backtest.NewHistory(gateway, cache)
	optimizer := backtest.NewOptimizer(history)

	var listeners []orchestrator.SelectionListener
	if publisher != nil {
		listeners = append(listeners, publisher)
	}
	orch := orchestrator.New(cfg, gateway, fleetMgr, optimizer, listeners...)

	apiCfg := api.Config{
		Host:    cfg.API.Host,
		Port:    cfg.API.Port,
		Mode:    cfg.Exchange.Mode,
		Fleet:   fleetMgr,
		Control: orch,
		Market:  router,
	}
	if jrnl != nil {
		apiCfg.Fills = jrnl
	}
	apiServer := api.NewServer(apiCfg)

	var metricsServer *metrics.Server
	if cfg.Monitoring.EnableMetrics {
		metricsServer = metrics.NewServer(cfg.Monitoring.MetricsPort, logger)
		if err := metricsServer.Start(); err != nil {
			logger.Error().Err(err).Msg("Failed to start metrics server")
		}
	}

	errChan := make(chan error, 2)
	go func() {
		if err := router.Run(ctx); err != nil && ctx.Err() == nil {
			errChan <- fmt.Errorf("market router: %w", err)
		}
	}()
	go func() {
		if err := apiServer.Start(); err != nil {
			errChan <- fmt.Errorf("api server: %w", err)
		}
	}()
	go orch.Run(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-errChan:
		logger.Error().Err(err).Msg("Service failed")
	}

	logger.Info().Msg("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Positions stay open across restarts: persist state, stop the
	// agents without flattening, then drain the HTTP surfaces.
	fleetMgr.SaveAll()
	fleetMgr.StopAll(shutdownCtx)

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("API server shutdown failed")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Metrics server shutdown failed")
		}
	}

	logger.Info().Msg("Shutdown complete")
}
