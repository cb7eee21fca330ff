package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"deepagg/internal/support"
)

const (
	InstanceHeartbeatKeyPrefix = "deepagg:instance:"
	DefaultHeartbeatInterval   = 15 * time.Second
	DefaultHeartbeatTTL        = 30 * time.Second
)

type PoolCounts struct {
	Raw    int `json:"raw"`
	Tested int `json:"tested"`
	Best   int `json:"best"`
}

type ActiveInstance struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Region      string     `json:"region"`
	APIPort     int        `json:"api_port"`
	ForwardPort int        `json:"forward_port"`
	Pool        PoolCounts `json:"pool"`
	LastSeen    string     `json:"last_seen,omitempty"`
}

// InstanceInfo describes this process. Counts is read on every beat.
type InstanceInfo struct {
	APIPort     int
	ForwardPort int
	Counts      func() PoolCounts
}

var instanceID = generateInstanceID()

var nowFunc = time.Now

func generateInstanceID() string {
	if configured := strings.TrimSpace(support.GetEnv("INSTANCE_ID", "")); configured != "" {
		return configured
	}
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d-%d", hostname, os.Getpid(), time.Now().UnixNano())
}

func CurrentInstance(info InstanceInfo) ActiveInstance {
	instance := ActiveInstance{
		ID:          instanceID,
		Name:        support.GetEnv("INSTANCE_NAME", instanceID),
		Region:      support.GetEnv("INSTANCE_REGION", "Unknown"),
		APIPort:     info.APIPort,
		ForwardPort: info.ForwardPort,
		LastSeen:    nowFunc().UTC().Format(time.RFC3339),
	}
	if info.Counts != nil {
		instance.Pool = info.Counts()
	}
	return instance
}

func StartInstanceHeartbeat(ctx context.Context, client *redis.Client, keyPrefix string, interval, ttl time.Duration, info InstanceInfo) {
	if ctx == nil {
		ctx = context.Background()
	}
	heartbeatKey := keyPrefix + instanceID

	sendHeartbeat := func() {
		heartbeatValue, err := json.Marshal(CurrentInstance(info))
		if err != nil {
			log.Error("Failed to encode instance heartbeat", "error", err)
			return
		}
		if err := client.SetEx(ctx, heartbeatKey, heartbeatValue, ttl).Err(); err != nil {
			log.Error("Failed to update instance heartbeat", "key", heartbeatKey, "error", err)
		}
	}

	sendHeartbeat()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sendHeartbeat()
		}
	}
}

func LaunchInstanceHeartbeat(parent context.Context, client *redis.Client, info InstanceInfo) context.CancelFunc {
	ctx, cancel := context.WithCancel(parent)
	go StartInstanceHeartbeat(ctx, client, InstanceHeartbeatKeyPrefix, DefaultHeartbeatInterval, DefaultHeartbeatTTL, info)
	return cancel
}

// ListActiveInstances returns every node with an unexpired heartbeat, sorted
// by id. A nil client yields only the local node.
func ListActiveInstances(ctx context.Context, client *redis.Client, local InstanceInfo) ([]ActiveInstance, error) {
	if client == nil {
		return []ActiveInstance{CurrentInstance(local)}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	keys, err := client.Keys(ctx, InstanceHeartbeatKeyPrefix+"*").Result()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []ActiveInstance{}, nil
	}

	values, err := client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	result := make([]ActiveInstance, 0, len(keys))
	for idx, key := range keys {
		instance := ActiveInstance{
			ID: strings.TrimPrefix(key, InstanceHeartbeatKeyPrefix),
		}
		if instance.ID == "" {
			continue
		}

		if idx < len(values) {
			if raw, ok := values[idx].(string); ok && strings.TrimSpace(raw) != "" {
				var payload ActiveInstance
				if err := json.Unmarshal([]byte(raw), &payload); err == nil {
					if strings.TrimSpace(payload.ID) != "" {
						instance.ID = strings.TrimSpace(payload.ID)
					}
					instance.Name = strings.TrimSpace(payload.Name)
					instance.Region = strings.TrimSpace(payload.Region)
					instance.APIPort = payload.APIPort
					instance.ForwardPort = payload.ForwardPort
					instance.Pool = payload.Pool
					instance.LastSeen = payload.LastSeen
				}
			}
		}

		if instance.Name == "" {
			instance.Name = instance.ID
		}
		if instance.Region == "" {
			instance.Region = "Unknown"
		}

		result = append(result, instance)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}
