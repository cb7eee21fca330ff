// Package blacklist keeps pool proxies that recently failed as egress out of
// rotation for a while.
package blacklist

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"deepagg/internal/domain"
)

const (
	DefaultTTL         = 10 * time.Minute
	defaultPickRetries = 5
)

// Picker is the source of egress candidates being filtered.
type Picker interface {
	PickCandidate() (domain.ProxyCandidate, bool)
}

type Blacklist struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	ttl     time.Duration
	client  *redis.Client
	nodeID  string
	now     func() time.Time
}

func New(ttl time.Duration) *Blacklist {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Blacklist{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		nodeID:  generateBlacklistSyncNodeID(),
		now:     time.Now,
	}
}

// Add keeps the candidate out of rotation until the ttl elapses.
func (b *Blacklist) Add(ctx context.Context, candidate domain.ProxyCandidate, reason string) {
	key := candidate.Key()
	until := b.now().Add(b.ttl)

	b.mu.Lock()
	b.entries[key] = until
	b.mu.Unlock()

	log.Debug("Proxy blacklisted", "proxy", key, "reason", reason, "until", until.Format(time.RFC3339))

	if err := b.storeAndBroadcast(ctx, key, reason, until); err != nil {
		log.Warn("Blacklist sync: publish failed", "proxy", key, "error", err)
	}
}

func (b *Blacklist) ReportFailure(ctx context.Context, candidate domain.ProxyCandidate, reason string) {
	b.Add(ctx, candidate, reason)
}

func (b *Blacklist) Contains(candidate domain.ProxyCandidate) bool {
	key := candidate.Key()
	now := b.now()

	b.mu.RLock()
	until, ok := b.entries[key]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	if until.After(now) {
		return true
	}

	b.mu.Lock()
	if current, ok := b.entries[key]; ok && !current.After(now) {
		delete(b.entries, key)
	}
	b.mu.Unlock()
	return false
}

// Len counts the unexpired entries.
func (b *Blacklist) Len() int {
	now := b.now()
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, until := range b.entries {
		if until.After(now) {
			count++
		}
	}
	return count
}

// Filter wraps source so that blacklisted candidates are skipped. After a few
// blacklisted picks the last one is returned anyway: a non-empty pool never
// reports "no candidate".
func (b *Blacklist) Filter(source Picker) *FilteredPicker {
	return &FilteredPicker{source: source, list: b, attempts: defaultPickRetries}
}

type FilteredPicker struct {
	source   Picker
	list     *Blacklist
	attempts int
}

func (f *FilteredPicker) PickCandidate() (domain.ProxyCandidate, bool) {
	if f == nil || f.source == nil {
		return domain.ProxyCandidate{}, false
	}
	var last domain.ProxyCandidate
	for i := 0; i < max(f.attempts, 1); i++ {
		candidate, ok := f.source.PickCandidate()
		if !ok {
			return domain.ProxyCandidate{}, false
		}
		if f.list == nil || !f.list.Contains(candidate) {
			return candidate, true
		}
		last = candidate
	}
	log.Debug("every pick blacklisted, using pool candidate anyway", "proxy", last.Key())
	return last, true
}
