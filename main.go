package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"vnflow/config"
	"vnflow/internal/fetch"
	"vnflow/internal/market"
	"vnflow/internal/notify"
	"vnflow/internal/pipeline"
	"vnflow/internal/scope"
	"vnflow/internal/store"
	"vnflow/internal/universe"
	"vnflow/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	symbolsFlag := flag.String("symbols", "", "Comma-separated symbols (overrides configured scope, implies manual mode)")
	forceRefresh := flag.Bool("force-refresh", false, "Bypass the same-day universe cache")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if *symbolsFlag != "" {
		cfg.MarketScope.Mode = "manual"
		cfg.MarketScope.Symbols = splitSymbols(*symbolsFlag)
	}
	if *forceRefresh {
		cfg.MarketScope.ForceRefresh = true
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}
	if cfg.Storage.S3.Enabled && cfg.Storage.S3.Region != "" {
		logger.InitCloudWatch(cfg.Storage.S3.Region, cfg.Vnflow.Name)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Vnflow.Name,
		"version": cfg.Vnflow.Version,
		"mode":    cfg.MarketScope.Mode,
		"scope":   cfg.MarketScope.Scope,
	}).Info("starting vnflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
		cancel()
	}()

	p, err := buildPipeline(cfg)
	if err != nil {
		log.WithError(err).Error("Failed to build pipeline")
		os.Exit(1)
	}

	summary, err := p.Run(ctx)
	if err != nil {
		log.WithError(err).Error("extraction run failed")
		os.Exit(1)
	}

	log.Info("vnflow stopped")
	if summary.Succeeded == 0 && summary.TotalRequested > 0 {
		os.Exit(2)
	}
}

func buildPipeline(cfg *config.Config) (*pipeline.Pipeline, error) {
	client := fetch.NewClient(fetch.Options{
		BaseURL:           cfg.Source.BaseURL,
		Timeout:           cfg.Source.Timeout,
		UserAgent:         cfg.Source.UserAgent,
		RequestsPerSecond: cfg.Source.RateLimit.RequestsPerSecond,
		BurstSize:         cfg.Source.RateLimit.BurstSize,
		LiquidityField:    cfg.MarketScope.UpcomSortBy,
	})

	cache, err := universe.NewCache(cfg.DataPaths.Cache)
	if err != nil {
		return nil, err
	}

	coverage, err := configuredExchanges(cfg.MarketScope.Exchanges)
	if err != nil {
		return nil, err
	}
	scanner := universe.NewScanner(cache, client, universe.ScannerOptions{
		Exchanges:        scope.ScanExchanges(scope.ParseScope(cfg.MarketScope.Scope), coverage),
		ExcludeETF:       cfg.MarketScope.Filters.ExcludeETF,
		ExcludeSuspended: cfg.MarketScope.Filters.ExcludeSuspended,
	})

	saver, err := store.New(cfg)
	if err != nil {
		return nil, err
	}

	notifier := notify.NewTelegram(os.Getenv("TELEGRAM_BOT_TOKEN"), os.Getenv("TELEGRAM_CHAT_ID"))
	return pipeline.New(cfg, scanner, client, saver, notifier), nil
}

func configuredExchanges(names []string) ([]market.Exchange, error) {
	out := make([]market.Exchange, 0, len(names))
	for _, name := range names {
		ex, err := market.ParseExchange(name)
		if err != nil {
			return nil, fmt.Errorf("market_scope.exchanges: %w", err)
		}
		out = append(out, ex)
	}
	return out, nil
}

func splitSymbols(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
