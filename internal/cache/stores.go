package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"deepagg/internal/currency"
	"deepagg/internal/domain"
	"deepagg/internal/support"
)

const (
	ratesKey       = "rates:cbr"
	resultsKeyPart = "results:"
)

var ErrNotFound = errors.New("cache entry not found")

// RateStore remembers the last fetched rate table. Entries never expire so a
// stale table can still serve when the central bank is unreachable.
type RateStore struct {
	kv KV
}

func NewRateStore(kv KV) *RateStore {
	return &RateStore{kv: kv}
}

func (s *RateStore) LoadRates(ctx context.Context) (*currency.RateTable, error) {
	raw, ok, err := s.kv.Get(ctx, ratesKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}

	var table currency.RateTable
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, err
	}
	return &table, nil
}

func (s *RateStore) SaveRates(ctx context.Context, table *currency.RateTable) error {
	raw, err := json.Marshal(table)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, ratesKey, raw, 0)
}

type cachedResults struct {
	Query    string                `json:"q"`
	Rows     []domain.CanonicalRow `json:"rows"`
	StoredAt time.Time             `json:"stored_at"`
}

// ResultCache keeps the rows of the last completed live search per query.
type ResultCache struct {
	kv  KV
	ttl time.Duration
}

func NewResultCache(kv KV, ttl time.Duration) *ResultCache {
	return &ResultCache{kv: kv, ttl: ttl}
}

func NormalizeQuery(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}

// resultsKey hashes the normalized query so arbitrary user input maps to a
// bounded key.
func resultsKey(q string) string {
	return resultsKeyPart + support.HashString(NormalizeQuery(q))
}

func (c *ResultCache) GetResults(ctx context.Context, q string) ([]domain.CanonicalRow, bool, error) {
	raw, ok, err := c.kv.Get(ctx, resultsKey(q))
	if err != nil || !ok {
		return nil, false, err
	}

	var cached cachedResults
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, false, err
	}
	return cached.Rows, true, nil
}

func (c *ResultCache) PutResults(ctx context.Context, q string, rows []domain.CanonicalRow) error {
	if rows == nil {
		rows = []domain.CanonicalRow{}
	}
	raw, err := json.Marshal(cachedResults{Query: q, Rows: rows, StoredAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return c.kv.Set(ctx, resultsKey(q), raw, c.ttl)
}
