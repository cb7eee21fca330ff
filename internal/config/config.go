// Package config assembles the runtime configuration from the environment.
// A .env file in the working directory is loaded first when present.
package config

import (
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"deepagg/internal/support"
)

var DefaultProxyFeeds = []string{
	"https://api.proxyscrape.com/v3/free-proxy-list/get?request=displayproxies&protocol=http&proxy_format=ipport",
	"https://api.proxyscrape.com/v3/free-proxy-list/get?request=displayproxies&protocol=https&proxy_format=ipport",
	"https://api.proxyscrape.com/v3/free-proxy-list/get?request=displayproxies&protocol=socks4&proxy_format=ipport",
	"https://api.proxyscrape.com/v3/free-proxy-list/get?request=displayproxies&protocol=socks5&proxy_format=ipport",
	"https://raw.githubusercontent.com/TheSpeedX/PROXY-List/master/http.txt",
	"https://raw.githubusercontent.com/TheSpeedX/PROXY-List/master/https.txt",
	"https://raw.githubusercontent.com/TheSpeedX/PROXY-List/master/socks4.txt",
	"https://raw.githubusercontent.com/TheSpeedX/PROXY-List/master/socks5.txt",
	"https://raw.githubusercontent.com/roosterkid/openproxylist/main/HTTPS_RAW.txt",
}

type CollectorConfig struct {
	Feeds    []string
	Interval time.Duration
	Timeout  time.Duration
}

type CheckerConfig struct {
	Timeout     time.Duration
	Concurrency int
	Targets     []string
	GeoIPPath   string
}

type PoolConfig struct {
	TopN         int
	BlacklistTTL time.Duration
}

type ForwardProxyConfig struct {
	Host      string
	Port      int
	Transport support.ListenTransport
}

type ProviderConfig struct {
	Primary          string
	ScraperAPIKey    string
	ScrapingBeeKeys  []string
	BrowserEnabled   bool
	BrowserBin       string
	DirectRPS        float64
	DirectViaPool    bool
	DirectRespectBot bool
}

type SearchConfig struct {
	LiveTimeout      time.Duration
	FallbackDeadline time.Duration
	FallbackTTL      time.Duration
}

type Config struct {
	APIPort        int
	LogLevel       string
	RedisURL       string
	DBDriver       string
	DBDSN          string
	HistoryKeep    int
	Collector      CollectorConfig
	Checker        CheckerConfig
	Pool           PoolConfig
	Forward        ForwardProxyConfig
	Providers      ProviderConfig
	Search         SearchConfig
	RatesURL       string
	RatesTTL       time.Duration
	TargetCurrency string
}

var (
	configOnce sync.Once
	current    Config
)

// GetConfig returns the process configuration, loading it on first use.
func GetConfig() Config {
	configOnce.Do(func() {
		if err := godotenv.Load(); err != nil {
			log.Debug("config: no .env file loaded", "error", err)
		}
		current = Load()
	})
	return current
}

// Load reads the configuration from the current environment without caching.
func Load() Config {
	return Config{
		APIPort:     support.GetEnvInt("API_PORT", 9099),
		LogLevel:    strings.ToLower(support.GetEnv("LOG_LEVEL", "info")),
		RedisURL:    strings.TrimSpace(support.GetEnv("REDIS_URL", "")),
		DBDriver:    strings.ToLower(support.GetEnv("DB_DRIVER", "sqlite")),
		DBDSN:       support.GetEnv("DB_DSN", "file:deepagg.db?cache=shared&_fk=1"),
		HistoryKeep: support.GetEnvInt("POOL_HISTORY_KEEP", 10000),
		Collector: CollectorConfig{
			Feeds:    support.GetEnvList("PROXY_FEEDS", DefaultProxyFeeds),
			Interval: time.Duration(support.GetEnvInt("PROXY_COLLECT_INTERVAL_SEC", 60)) * time.Second,
			Timeout:  time.Duration(support.GetEnvInt("PROXY_FEED_TIMEOUT_MS", 15000)) * time.Millisecond,
		},
		Checker: CheckerConfig{
			Timeout:     time.Duration(support.GetEnvInt("PROXY_TEST_TIMEOUT_MS", 3500)) * time.Millisecond,
			Concurrency: support.GetEnvInt("PROXY_TEST_CONCURRENCY", 50),
			Targets:     support.GetEnvList("PROXY_TEST_TARGETS", []string{"https://api.ipify.org?format=json"}),
			GeoIPPath:   support.GetEnv("GEOIP_DB_PATH", ""),
		},
		Pool: PoolConfig{
			TopN:         support.GetEnvInt("PROXY_POOL_TOP_N", 200),
			BlacklistTTL: time.Duration(support.GetEnvInt("PROXY_BLACKLIST_TTL_SEC", 600)) * time.Second,
		},
		Forward: ForwardProxyConfig{
			Host:      support.GetEnv("FORWARD_PROXY_HOST", ""),
			Port:      support.GetEnvInt("FORWARD_PROXY_PORT", 8899),
			Transport: forwardTransport(),
		},
		Providers: ProviderConfig{
			Primary:          strings.ToLower(support.GetEnv("PROVIDER_PRIMARY", "")),
			ScraperAPIKey:    support.GetEnv("SCRAPERAPI_KEY", ""),
			ScrapingBeeKeys:  support.GetEnvList("SCRAPINGBEE_KEYS", nil),
			BrowserEnabled:   support.GetEnvBool("BROWSER_FETCH_ENABLED", false),
			BrowserBin:       support.GetEnv("BROWSER_BIN", ""),
			DirectRPS:        float64(support.GetEnvInt("DIRECT_RPS", 2)),
			DirectViaPool:    support.GetEnvBool("DIRECT_VIA_POOL", true),
			DirectRespectBot: support.GetEnvBool("DIRECT_RESPECT_ROBOTS", true),
		},
		Search: SearchConfig{
			LiveTimeout:      time.Duration(support.GetEnvInt("LIVE_TIMEOUT_MS", 10000)) * time.Millisecond,
			FallbackDeadline: time.Duration(support.GetEnvInt("FALLBACK_DEADLINE_MS", 3000)) * time.Millisecond,
			FallbackTTL:      time.Duration(support.GetEnvInt("FALLBACK_TTL_HOURS", 24)) * time.Hour,
		},
		RatesURL:       support.GetEnv("CBR_RATES_URL", "https://www.cbr.ru/scripts/XML_daily.asp"),
		RatesTTL:       time.Duration(support.GetEnvInt("RATES_TTL_HOURS", 12)) * time.Hour,
		TargetCurrency: strings.ToUpper(support.GetEnv("TARGET_CURRENCY", "RUB")),
	}
}

func forwardTransport() support.ListenTransport {
	raw := support.GetEnv("FORWARD_PROXY_TRANSPORT", string(support.ListenTCP))
	transport, ok := support.ParseListenTransport(raw)
	if !ok {
		log.Warn("unknown forward proxy transport, using tcp", "value", raw)
	}
	return transport
}
