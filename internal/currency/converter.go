package currency

import (
	"context"
	"errors"
	"fmt"
	"math"
	"maps"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultRatesURL = "https://www.cbr.ru/scripts/XML_daily.asp"
	DefaultTTL      = 12 * time.Hour
	fetchTries      = 3
	retryAfter      = 5 * time.Minute
)

var ErrRateUnavailable = errors.New("currency rates unavailable")

// DefaultRates is the last resort when neither a fresh nor a remembered table
// is available.
var DefaultRates = map[string]float64{"RUB": 1, "USD": 90, "EUR": 100}

type Tier string

const (
	TierFresh     Tier = "fresh"
	TierLastKnown Tier = "last_known"
	TierDefault   Tier = "default"
)

// RateTable maps a currency code to RUB per unit.
type RateTable struct {
	Rates     map[string]float64 `json:"rates"`
	FetchedAt time.Time          `json:"fetched_at"`
}

func (t *RateTable) fresh(ttl time.Duration, now time.Time) bool {
	return t != nil && len(t.Rates) > 0 && now.Sub(t.FetchedAt) <= ttl
}

// Store remembers the last fetched table across restarts.
type Store interface {
	LoadRates(ctx context.Context) (*RateTable, error)
	SaveRates(ctx context.Context, table *RateTable) error
}

type Options struct {
	URL     string
	TTL     time.Duration
	Timeout time.Duration
	Store   Store
}

type Converter struct {
	url    string
	ttl    time.Duration
	client *http.Client
	store  Store

	mu          sync.RWMutex
	current     *RateTable
	lastAttempt time.Time
	group       singleflight.Group
}

var (
	nowFunc    = time.Now
	newBackOff = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
)

func NewConverter(opts Options) *Converter {
	if opts.URL == "" {
		opts.URL = DefaultRatesURL
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Converter{
		url:    opts.URL,
		ttl:    opts.TTL,
		client: &http.Client{Timeout: opts.Timeout},
		store:  opts.Store,
	}
}

// Rates returns the best table available: a fresh one, else the last known
// one however old, else the defaults. It never fails.
func (c *Converter) Rates(ctx context.Context) (RateTable, Tier) {
	now := nowFunc()

	c.mu.RLock()
	current := c.current
	attempted := c.lastAttempt
	c.mu.RUnlock()

	if current.fresh(c.ttl, now) {
		return *current, TierFresh
	}

	if attempted.IsZero() || now.Sub(attempted) >= retryAfter {
		value, _, _ := c.group.Do("refresh", func() (any, error) {
			return c.refresh(ctx), nil
		})
		if table, ok := value.(*RateTable); ok && table != nil {
			return *table, TierFresh
		}
	}

	if last := c.lastKnown(ctx); last != nil {
		return *last, TierLastKnown
	}
	return RateTable{Rates: maps.Clone(DefaultRates)}, TierDefault
}

func (c *Converter) refresh(ctx context.Context) *RateTable {
	c.mu.Lock()
	c.lastAttempt = nowFunc()
	c.mu.Unlock()

	rates, err := c.fetch(ctx)
	if err != nil {
		log.Warn("currency rates refresh failed", "error", err)
		return nil
	}

	table := &RateTable{Rates: rates, FetchedAt: nowFunc()}
	c.mu.Lock()
	c.current = table
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.SaveRates(ctx, table); err != nil {
			log.Warn("currency rates not persisted", "error", err)
		}
	}
	log.Info("currency rates refreshed", "currencies", len(rates))
	return table
}

func (c *Converter) fetch(ctx context.Context) (map[string]float64, error) {
	operation := func() (map[string]float64, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("status %d", resp.StatusCode)
		}
		rates, err := ParseCBR(resp.Body)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return rates, nil
	}

	rates, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(newBackOff()),
		backoff.WithMaxTries(fetchTries),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRateUnavailable, err)
	}
	return rates, nil
}

func (c *Converter) lastKnown(ctx context.Context) *RateTable {
	c.mu.RLock()
	current := c.current
	c.mu.RUnlock()
	if current != nil && len(current.Rates) > 0 {
		return current
	}
	if c.store == nil {
		return nil
	}

	table, err := c.store.LoadRates(ctx)
	if err != nil || table == nil || len(table.Rates) == 0 {
		if err != nil {
			log.Debug("no remembered currency rates", "error", err)
		}
		return nil
	}

	c.mu.Lock()
	if c.current == nil {
		c.current = table
	}
	c.mu.Unlock()
	return table
}

// Convert converts amount from one currency into another, rounded to two
// decimals. ok is false when either currency has no known rate.
func (c *Converter) Convert(ctx context.Context, amount float64, from, to string) (float64, bool) {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if from == "" || to == "" {
		return 0, false
	}
	if from == to {
		return Round2(amount), true
	}

	table, _ := c.Rates(ctx)
	src, ok := rateFor(table.Rates, from)
	if !ok {
		return 0, false
	}
	dst, ok := rateFor(table.Rates, to)
	if !ok {
		return 0, false
	}
	return Round2(amount * (src / dst)), true
}

func rateFor(rates map[string]float64, code string) (float64, bool) {
	if rate, ok := rates[code]; ok && rate > 0 {
		return rate, true
	}
	if rate, ok := DefaultRates[code]; ok {
		return rate, true
	}
	return 0, false
}

func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
