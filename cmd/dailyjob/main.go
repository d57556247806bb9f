// Command dailyjob runs the extraction pipeline on a schedule instead of
// once. Intended for a long-lived deployment that pulls the market every
// trading day after the close.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
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

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	runAt := flag.String("at", "16:00", "Daily run time (HH:MM, UTC+7 market close is 15:00)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
		cancel()
	}()

	log.WithFields(logger.Fields{
		"service": cfg.Vnflow.Name,
		"run_at":  *runAt,
	}).Info("starting daily extraction scheduler")

	// Ho Chi Minh City time; the exchanges publish end-of-day data there.
	location, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	if err != nil {
		location = time.FixedZone("ICT", 7*3600)
	}

	cron := gocron.NewScheduler(location)
	cron.Every(1).Day().At(*runAt).Do(func() {
		runOnce(ctx, cfg)
	})
	cron.StartAsync()

	<-ctx.Done()
	cron.Stop()
	log.Info("daily extraction scheduler stopped")
}

func runOnce(ctx context.Context, cfg *config.Config) {
	log := logger.GetLogger().WithComponent("dailyjob")

	// Each run extracts up to the current trading day.
	runCfg := *cfg
	runCfg.Extraction.EndDate = market.Today()

	p, err := buildPipeline(&runCfg)
	if err != nil {
		log.WithError(err).Error("failed to build pipeline")
		return
	}

	summary, err := p.Run(ctx)
	if err != nil {
		log.WithError(err).Error("scheduled extraction run failed")
		return
	}
	log.WithFields(logger.Fields{
		"succeeded": summary.Succeeded,
		"failed":    summary.FailedPermanently,
	}).Info("scheduled extraction run finished")
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

	coverage := make([]market.Exchange, 0, len(cfg.MarketScope.Exchanges))
	for _, name := range cfg.MarketScope.Exchanges {
		ex, err := market.ParseExchange(name)
		if err != nil {
			return nil, fmt.Errorf("market_scope.exchanges: %w", err)
		}
		coverage = append(coverage, ex)
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
