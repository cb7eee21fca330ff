package blacklist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	redisBlacklistChannel = "deepagg:blacklist:updates"
	redisBlacklistKey     = "deepagg:blacklist:entries"
	redisBlacklistTimeout = 5 * time.Second
)

type blacklistSyncEvent struct {
	Origin    string `json:"origin"`
	Proxy     string `json:"proxy"`
	Reason    string `json:"reason,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// EnableRedisSynchronization shares blacklist entries with other nodes. The
// current redis contents are loaded first, then updates published by other
// nodes are merged as they arrive.
func (b *Blacklist) EnableRedisSynchronization(ctx context.Context, client *redis.Client) error {
	if client == nil {
		log.Warn("Blacklist sync disabled: redis client is nil")
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	b.mu.Lock()
	if b.client != nil {
		b.mu.Unlock()
		return nil
	}
	b.client = client
	b.mu.Unlock()

	if err := b.LoadCache(ctx); err != nil {
		log.Warn("Blacklist sync: initial load failed", "error", err)
	}

	pubsub := client.Subscribe(ctx, redisBlacklistChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("blacklist: subscribe: %w", err)
	}

	go b.subscribeToBlacklistUpdates(ctx, pubsub)
	return nil
}

func (b *Blacklist) subscribeToBlacklistUpdates(ctx context.Context, pubsub *redis.PubSub) {
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) || ctx.Err() != nil {
				return
			}
			log.Error("Blacklist sync: subscription error", "error", err)
			time.Sleep(time.Second)
			continue
		}

		var event blacklistSyncEvent
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			log.Error("Blacklist sync: invalid payload", "error", err)
			continue
		}

		if event.Origin == b.nodeID {
			continue
		}

		if err := b.LoadCache(ctx); err != nil {
			log.Error("Blacklist sync: cache reload failed", "error", err)
			continue
		}
		log.Debug("Blacklist sync: cache reloaded", "proxy", event.Proxy, "reason", event.Reason)
	}
}

// LoadCache merges the unexpired redis entries into the local set and drops
// expired ones from redis.
func (b *Blacklist) LoadCache(ctx context.Context) error {
	client := b.redisClient()
	if client == nil {
		return nil
	}

	opCtx, cancel := redisTimeoutCtx(ctx)
	defer cancel()

	values, err := client.HGetAll(opCtx, redisBlacklistKey).Result()
	if err != nil {
		return fmt.Errorf("blacklist: load entries: %w", err)
	}

	now := b.now()
	expired := make([]string, 0)

	b.mu.Lock()
	for key, raw := range values {
		unixMs, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			expired = append(expired, key)
			continue
		}
		until := time.UnixMilli(unixMs)
		if !until.After(now) {
			expired = append(expired, key)
			continue
		}
		if current, ok := b.entries[key]; !ok || until.After(current) {
			b.entries[key] = until
		}
	}
	b.mu.Unlock()

	if len(expired) > 0 {
		if err := client.HDel(opCtx, redisBlacklistKey, expired...).Err(); err != nil {
			log.Debug("Blacklist sync: prune failed", "error", err)
		}
	}
	return nil
}

func (b *Blacklist) storeAndBroadcast(ctx context.Context, key, reason string, until time.Time) error {
	client := b.redisClient()
	if client == nil {
		return nil
	}

	opCtx, cancel := redisTimeoutCtx(ctx)
	defer cancel()

	if err := client.HSet(opCtx, redisBlacklistKey, key, strconv.FormatInt(until.UnixMilli(), 10)).Err(); err != nil {
		return fmt.Errorf("blacklist: store entry: %w", err)
	}

	payload, err := json.Marshal(blacklistSyncEvent{
		Origin:    b.nodeID,
		Proxy:     key,
		Reason:    reason,
		UpdatedAt: b.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return client.Publish(opCtx, redisBlacklistChannel, payload).Err()
}

func (b *Blacklist) redisClient() *redis.Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.client
}

func generateBlacklistSyncNodeID() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s-%d-%d", host, os.Getpid(), time.Now().UnixNano())
}

func redisTimeoutCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}
	if deadline, hasDeadline := ctx.Deadline(); hasDeadline && time.Until(deadline) <= redisBlacklistTimeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, redisBlacklistTimeout)
}
