package main

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"deepagg/internal/app/server"
	"deepagg/internal/cache"
	"deepagg/internal/config"
	"deepagg/internal/database"
	"deepagg/internal/jobs/runtime"
	"deepagg/internal/metrics"
	"deepagg/internal/pool"
	"deepagg/internal/rotatingproxy"
)

const poolStopTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy pool, forward proxy and search API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), config.GetConfig())
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	kv, redisClient := buildKV(ctx, cfg)
	if redisClient != nil {
		defer redisClient.Close()
	}

	observer := metrics.New()
	poolOpts := pool.Options{
		TopN:     cfg.Pool.TopN,
		Interval: cfg.Collector.Interval,
		Observer: observer,
	}

	var history server.HistoryLister
	db, err := buildDatabase(cfg)
	if err != nil {
		log.Warn("pool history disabled", "error", err)
	} else {
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		poolHistory := database.NewPoolHistory(db, cfg.HistoryKeep)
		poolOpts.Recorder = poolHistory
		history = poolHistory
	}

	checker, closeGeo := buildChecker(cfg)
	defer closeGeo()

	proxyPool := pool.New(buildCollector(cfg), checker, poolOpts)
	egressBlacklist := newBlacklist(ctx, cfg, redisClient)
	egress := egressBlacklist.Filter(proxyPool)

	pages, closeBrowser := buildFetcher(cfg, egress, egressBlacklist, observer)
	defer closeBrowser()

	results := cache.NewResultCache(kv, cfg.Search.FallbackTTL)
	aggregator := buildAggregator(cfg, pages, kv, results, observer)

	log.Info("Building initial proxy pool", "feeds", len(cfg.Collector.Feeds))
	proxyPool.Start(ctx)

	forward := rotatingproxy.NewServer(rotatingproxy.Options{
		Host:      cfg.Forward.Host,
		Port:      cfg.Forward.Port,
		Transport: cfg.Forward.Transport,
		Picker:    egress,
		Reporter:  egressBlacklist,
	})
	if err := forward.Start(); err != nil {
		log.Error("forward proxy disabled", "port", cfg.Forward.Port, "error", err)
	} else {
		defer forward.Stop()
	}

	info := runtime.InstanceInfo{
		APIPort:     cfg.APIPort,
		ForwardPort: cfg.Forward.Port,
		Counts: func() runtime.PoolCounts {
			counts := proxyPool.Snapshot().Counts
			return runtime.PoolCounts{Raw: counts.Raw, Tested: counts.Tested, Best: counts.Best}
		},
	}
	if redisClient != nil {
		stopHeartbeat := runtime.LaunchInstanceHeartbeat(ctx, redisClient, info)
		defer stopHeartbeat()
	}

	api := server.New(server.Deps{
		Pool:       proxyPool,
		History:    history,
		Search:     aggregator,
		Fallback:   results,
		Prometheus: observer.Handler(),
		Instances: func(ctx context.Context) ([]runtime.ActiveInstance, error) {
			return runtime.ListActiveInstances(ctx, redisClient, info)
		},
		LocalInstanceID:  runtime.CurrentInstance(info).ID,
		FallbackDeadline: cfg.Search.FallbackDeadline,
	})

	err = api.ListenAndServe(ctx, cfg.APIPort)

	select {
	case <-proxyPool.Done():
	case <-time.After(poolStopTimeout):
		log.Warn("proxy pool refresh loop still running at shutdown")
	}
	log.Info("deepagg stopped")
	return err
}
