// Parameter sweep CLI
// Runs the SuperTrend grid over recent klines and prints a ranked report
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/titanfleet/internal/config"
	"github.com/ajitpratap0/titanfleet/internal/exchange"
	"github.com/ajitpratap0/titanfleet/internal/market"
	"github.com/ajitpratap0/titanfleet/pkg/backtest"
)

var (
	configPath = flag.String("config", "", "Path to config file (env vars override)")
	symbols    = flag.String("symbols", "", "Comma-separated tickers, e.g. BTCUSDT,ETHUSDT (default: full exchange universe)")
	outputFile = flag.String("output", "", "Write ranked results as YAML to this file (optional)")
	timeout    = flag.Duration("timeout", 10*time.Minute, "Overall sweep deadline")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
)

func main() {
	flag.Parse()

	// Logs to stderr; the report itself goes to stdout.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

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
			log.Fatal().Err(err).Msg("Failed to connect exchange gateway")
		}
		defer live.Close()
		gateway = live
	} else {
		gateway = exchange.NewSimulatedGateway(cfg.Trading.InitialCapital)
	}

	tickers := splitSymbols(*symbols)
	if len(tickers) == 0 {
		tickers, err = gateway.Instruments(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to list instruments")
		}
	}

	var cache *market.KlineCache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cache = market.NewKlineCache(rdb, 0)
	}

	optimizer := backtest.NewOptimizer(backtest.NewHistory(gateway, cache))

	log.Info().Int("tickers", len(tickers)).Msg("Starting parameter sweep")
	started := time.Now()

	var results []*backtest.Result
	for _, ticker := range tickers {
		result, err := optimizer.Optimize(ctx, ticker)
		if err != nil {
			log.Fatal().Err(err).Msg("Sweep aborted")
		}
		if result == nil {
			log.Warn().Str("ticker", ticker).Msg("No usable combination")
			continue
		}
		log.Info().
			Str("ticker", ticker).
			Int("timeframe_min", result.Params.TimeframeMin).
			Int("period", result.Params.Period).
			Float64("multiplier", result.Params.Multiplier).
			Float64("net_profit", result.Performance.NetProfit).
			Msg("Best combination")
		results = append(results, result)
	}

	log.Info().
		Dur("elapsed", time.Since(started)).
		Int("usable", len(results)).
		Msg("Sweep complete")

	fmt.Print(backtest.GenerateReport(results))

	if *outputFile != "" {
		data, err := backtest.MarshalYAML(results)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to marshal results")
		}
		if err := os.WriteFile(*outputFile, data, 0o644); err != nil {
			log.Fatal().Err(err).Msg("Failed to write output file")
		}
		log.Info().Str("file", *outputFile).Msg("Results written")
	}
}

func splitSymbols(list string) []string {
	if strings.TrimSpace(list) == "" {
		return nil
	}
	parts := strings.Split(list, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
