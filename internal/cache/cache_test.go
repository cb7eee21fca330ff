package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"deepagg/internal/currency"
	"deepagg/internal/domain"
)

func newRedisKV(t *testing.T) (*RedisKV, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisKV(client), server
}

func TestNewRedisClient_PingsServer(t *testing.T) {
	server := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), "redis://"+server.Addr()+"/0")
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	_ = client.Close()

	if _, err := NewRedisClient(context.Background(), "not a url"); err == nil {
		t.Fatal("expected error for bad url")
	}
}

func TestRedisKV_GetSetAndExpiry(t *testing.T) {
	kv, server := newRedisKV(t)
	ctx := context.Background()

	if _, ok, err := kv.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("Get(missing) = ok %v err %v, want miss", ok, err)
	}

	if err := kv.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !server.Exists(KeyPrefix + "k") {
		t.Fatal("expected prefixed key in redis")
	}
	value, ok, err := kv.Get(ctx, "k")
	if err != nil || !ok || string(value) != "v" {
		t.Fatalf("Get(k) = %q/%v/%v", value, ok, err)
	}

	server.FastForward(2 * time.Minute)
	if _, ok, _ := kv.Get(ctx, "k"); ok {
		t.Fatal("expected key to expire")
	}
}

func TestMemoryKV_Expiry(t *testing.T) {
	kv := NewMemoryKV()
	now := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	kv.now = func() time.Time { return now }

	_ = kv.Set(context.Background(), "a", []byte("1"), time.Second)
	_ = kv.Set(context.Background(), "b", []byte("2"), 0)

	now = now.Add(2 * time.Second)
	if _, ok, _ := kv.Get(context.Background(), "a"); ok {
		t.Fatal("expected a to expire")
	}
	if value, ok, _ := kv.Get(context.Background(), "b"); !ok || string(value) != "2" {
		t.Fatalf("b = %q/%v, want 2", value, ok)
	}
}

func TestRateStore_RoundTripsThroughRedis(t *testing.T) {
	kv, _ := newRedisKV(t)
	store := NewRateStore(kv)
	ctx := context.Background()

	if _, err := store.LoadRates(ctx); err == nil {
		t.Fatal("expected error when nothing stored")
	}

	fetched := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	if err := store.SaveRates(ctx, &currency.RateTable{Rates: map[string]float64{"USD": 92.5}, FetchedAt: fetched}); err != nil {
		t.Fatalf("SaveRates: %v", err)
	}

	table, err := store.LoadRates(ctx)
	if err != nil {
		t.Fatalf("LoadRates: %v", err)
	}
	if table.Rates["USD"] != 92.5 || !table.FetchedAt.Equal(fetched) {
		t.Fatalf("table = %+v", table)
	}
}

func TestResultCache_NormalizesQuery(t *testing.T) {
	cache := NewResultCache(NewMemoryKV(), time.Hour)
	ctx := context.Background()

	rows := []domain.CanonicalRow{{SourceID: "promelec", MPN: "LM317T"}}
	if err := cache.PutResults(ctx, "  LM317   T ", rows); err != nil {
		t.Fatalf("PutResults: %v", err)
	}

	got, ok, err := cache.GetResults(ctx, "lm317 t")
	if err != nil || !ok {
		t.Fatalf("GetResults = ok %v err %v", ok, err)
	}
	if len(got) != 1 || got[0].MPN != "LM317T" {
		t.Fatalf("rows = %+v", got)
	}

	if _, ok, _ := cache.GetResults(ctx, "ne555"); ok {
		t.Fatal("unexpected hit for unknown query")
	}
}
