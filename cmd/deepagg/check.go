package main

import (
	"encoding/json"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"deepagg/internal/config"
	"deepagg/internal/pool"
)

type checkFlags struct {
	feeds []string
	top   int
}

// newCheckCmd runs one collect, check and rank cycle and prints the pool.
func newCheckCmd() *cobra.Command {
	flags := &checkFlags{}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Collect and check proxies once, then print the ranked pool as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.GetConfig()
			if len(flags.feeds) > 0 {
				cfg.Collector.Feeds = flags.feeds
			}
			if flags.top > 0 {
				cfg.Pool.TopN = flags.top
			}

			checker, closeGeo := buildChecker(cfg)
			defer closeGeo()

			started := time.Now()
			collector := buildCollector(cfg)
			proxyPool := pool.New(collector, checker, pool.Options{TopN: cfg.Pool.TopN})
			raw := collector.CollectRaw(cmd.Context())
			proxyPool.Refresh(cmd.Context(), raw)
			log.Info("check finished", "took", time.Since(started).Round(time.Millisecond))

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(proxyPool.Snapshot())
		},
	}

	cmd.Flags().StringSliceVar(&flags.feeds, "feed", nil, "proxy feed URL (repeatable); overrides PROXY_FEEDS")
	cmd.Flags().IntVar(&flags.top, "top", 0, "pool size; overrides PROXY_POOL_TOP_N")
	return cmd
}
