package blacklist

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"deepagg/internal/domain"
)

type sequencePicker struct {
	candidates []domain.ProxyCandidate
	next       int
}

func (s *sequencePicker) PickCandidate() (domain.ProxyCandidate, bool) {
	if len(s.candidates) == 0 {
		return domain.ProxyCandidate{}, false
	}
	candidate := s.candidates[s.next%len(s.candidates)]
	s.next++
	return candidate, true
}

func proxy(host string) domain.ProxyCandidate {
	return domain.ProxyCandidate{Host: host, Port: 8080, Protocol: "http"}
}

func TestBlacklist_ExpiresEntries(t *testing.T) {
	list := New(time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	list.now = func() time.Time { return now }

	list.Add(context.Background(), proxy("10.0.0.1"), "error")
	if !list.Contains(proxy("10.0.0.1")) {
		t.Fatal("expected proxy to be blacklisted")
	}
	if list.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", list.Len())
	}

	now = now.Add(2 * time.Minute)
	if list.Contains(proxy("10.0.0.1")) {
		t.Fatal("expected entry to expire")
	}
	if list.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", list.Len())
	}
}

func TestFilteredPicker_SkipsBlacklisted(t *testing.T) {
	list := New(time.Minute)
	list.Add(context.Background(), proxy("10.0.0.1"), "error")

	picker := list.Filter(&sequencePicker{candidates: []domain.ProxyCandidate{proxy("10.0.0.1"), proxy("10.0.0.2")}})
	candidate, ok := picker.PickCandidate()
	if !ok || candidate.Host != "10.0.0.2" {
		t.Fatalf("PickCandidate() = %+v/%v, want 10.0.0.2", candidate, ok)
	}
}

func TestFilteredPicker_NonEmptyPoolNeverGoesDirect(t *testing.T) {
	list := New(time.Minute)
	list.Add(context.Background(), proxy("10.0.0.1"), "error")

	picker := list.Filter(&sequencePicker{candidates: []domain.ProxyCandidate{proxy("10.0.0.1")}})
	candidate, ok := picker.PickCandidate()
	if !ok || candidate.Host != "10.0.0.1" {
		t.Fatalf("PickCandidate() = %+v/%v, want blacklisted pool member 10.0.0.1", candidate, ok)
	}
	if _, ok := list.Filter(&sequencePicker{}).PickCandidate(); ok {
		t.Fatal("expected no candidate from empty source")
	}
}

func TestRedisSynchronization_SharesEntries(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	newClient := func() *redis.Client {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return client
	}

	leader := New(time.Minute)
	follower := New(time.Minute)
	if err := leader.EnableRedisSynchronization(ctx, newClient()); err != nil {
		t.Fatalf("leader sync: %v", err)
	}
	if err := follower.EnableRedisSynchronization(ctx, newClient()); err != nil {
		t.Fatalf("follower sync: %v", err)
	}

	leader.Add(ctx, proxy("10.0.0.9"), "timeout")

	deadline := time.Now().Add(2 * time.Second)
	for !follower.Contains(proxy("10.0.0.9")) {
		if time.Now().After(deadline) {
			t.Fatal("follower never received the blacklist entry")
		}
		time.Sleep(10 * time.Millisecond)
	}

	late := New(time.Minute)
	if err := late.EnableRedisSynchronization(ctx, newClient()); err != nil {
		t.Fatalf("late sync: %v", err)
	}
	if !late.Contains(proxy("10.0.0.9")) {
		t.Fatal("late node should load existing entries")
	}
}

func TestLoadCache_PrunesExpired(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	expired := time.Now().Add(-time.Minute).UnixMilli()
	if err := client.HSet(context.Background(), redisBlacklistKey, "http|10.0.0.5|8080", expired).Err(); err != nil {
		t.Fatalf("seed: %v", err)
	}

	list := New(time.Minute)
	list.client = client
	if err := list.LoadCache(context.Background()); err != nil {
		t.Fatalf("LoadCache: %v", err)
	}
	if list.Contains(proxy("10.0.0.5")) {
		t.Fatal("expired entry should not load")
	}
	if mr.HGet(redisBlacklistKey, "http|10.0.0.5|8080") != "" {
		t.Fatal("expired entry should be pruned from redis")
	}
}
