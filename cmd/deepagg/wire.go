package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"deepagg/internal/blacklist"
	"deepagg/internal/cache"
	"deepagg/internal/config"
	"deepagg/internal/currency"
	"deepagg/internal/database"
	"deepagg/internal/enrichment"
	"deepagg/internal/fetcher"
	"deepagg/internal/healthcheck"
	"deepagg/internal/parsers"
	"deepagg/internal/proxysource"
	"deepagg/internal/search"
)

func buildCollector(cfg config.Config) *proxysource.Collector {
	return proxysource.NewCollector(cfg.Collector.Feeds, cfg.Collector.Timeout)
}

// buildChecker returns the checker and a func releasing the GeoIP database.
func buildChecker(cfg config.Config) (*healthcheck.Checker, func()) {
	opts := healthcheck.Options{
		Targets:     cfg.Checker.Targets,
		Timeout:     cfg.Checker.Timeout,
		Concurrency: cfg.Checker.Concurrency,
	}

	closeGeo := func() {}
	if cfg.Checker.GeoIPPath != "" {
		geo, err := healthcheck.OpenGeoIP(cfg.Checker.GeoIPPath)
		if err != nil {
			log.Warn("GeoIP lookup disabled", "path", cfg.Checker.GeoIPPath, "error", err)
		} else {
			opts.Geo = geo
			closeGeo = func() { _ = geo.Close() }
		}
	}
	return healthcheck.NewChecker(opts), closeGeo
}

// buildKV uses redis when REDIS_URL is set and reachable, memory otherwise.
// The returned client is nil in the memory case.
func buildKV(ctx context.Context, cfg config.Config) (cache.KV, *redis.Client) {
	if cfg.RedisURL == "" {
		log.Info("REDIS_URL not set, using in-memory cache")
		return cache.NewMemoryKV(), nil
	}
	client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Warn("redis unavailable, using in-memory cache", "error", err)
		return cache.NewMemoryKV(), nil
	}
	log.Info("Connected to redis")
	return cache.NewRedisKV(client), client
}

func buildDatabase(cfg config.Config) (*gorm.DB, error) {
	dialector, err := database.Dialector(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	db, err := database.SetupDB(database.WithDialector(dialector))
	if err != nil {
		return nil, fmt.Errorf("setup database: %w", err)
	}
	return db, nil
}

// buildFetcher assembles the provider chain in its fallback order: the paid
// APIs when keys are configured, then direct, then the headless browser.
func buildFetcher(cfg config.Config, picker fetcher.EgressPicker, reporter fetcher.EgressReporter, observer fetcher.Observer) (*fetcher.RotatingFetcher, func()) {
	adapters := make([]fetcher.Adapter, 0, 4)
	if cfg.Providers.ScraperAPIKey != "" {
		adapters = append(adapters, fetcher.NewScraperAPI(cfg.Providers.ScraperAPIKey))
	}
	if len(cfg.Providers.ScrapingBeeKeys) > 0 {
		adapters = append(adapters, fetcher.NewScrapingBee(cfg.Providers.ScrapingBeeKeys))
	}

	directOpts := fetcher.DirectOptions{
		RPS:           cfg.Providers.DirectRPS,
		RespectRobots: cfg.Providers.DirectRespectBot,
	}
	if cfg.Providers.DirectViaPool {
		directOpts.Picker = picker
		directOpts.Reporter = reporter
	}
	adapters = append(adapters, fetcher.NewDirect(directOpts))

	closeBrowser := func() {}
	if cfg.Providers.BrowserEnabled {
		browser := fetcher.NewBrowser(cfg.Providers.BrowserBin)
		adapters = append(adapters, browser)
		closeBrowser = func() { _ = browser.Close() }
	}

	chain := fetcher.NewRotatingFetcher(observer, adapters...)
	log.Info("fetch providers configured", "chain", chain.Providers())
	return chain, closeBrowser
}

func buildAggregator(cfg config.Config, pages *fetcher.RotatingFetcher, kv cache.KV, results *cache.ResultCache, observer search.Observer) *search.Aggregator {
	converter := currency.NewConverter(currency.Options{
		URL:   cfg.RatesURL,
		TTL:   cfg.RatesTTL,
		Store: cache.NewRateStore(kv),
	})
	resolver := enrichment.NewResolver(pages, converter, enrichment.Options{
		Target:  cfg.TargetCurrency,
		Primary: cfg.Providers.Primary,
		Timeout: cfg.Search.LiveTimeout,
	})

	return search.NewAggregator(pages, parsers.DefaultSources(), resolver, search.Options{
		Timeout:  cfg.Search.LiveTimeout,
		Primary:  cfg.Providers.Primary,
		Sink:     results,
		Observer: observer,
	})
}

func newBlacklist(ctx context.Context, cfg config.Config, client *redis.Client) *blacklist.Blacklist {
	list := blacklist.New(cfg.Pool.BlacklistTTL)
	if client != nil {
		if err := list.EnableRedisSynchronization(ctx, client); err != nil {
			log.Warn("blacklist sync disabled", "error", err)
		}
	}
	return list
}
