package gateway

import (
	"context"
	"encoding/json"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

const settingsRedisKey = "gateway:terminal_settings"

// SettingsStore manages the terminal settings and broadcasts changes to
// every connected client.
type SettingsStore struct {
	hub *Hub
	rdb *goredis.Client
}

// NewSettingsStore creates a SettingsStore backed by the given Hub.
func NewSettingsStore(hub *Hub, rdb *goredis.Client) *SettingsStore {
	return &SettingsStore{hub: hub, rdb: rdb}
}

// Load restores the terminal settings from Redis (if available).
// Called once during gateway startup. Returns true if settings were restored.
func (ss *SettingsStore) Load(ctx context.Context) bool {
	if ss.rdb == nil {
		return false
	}
	data, err := ss.rdb.Get(ctx, settingsRedisKey).Result()
	if err != nil {
		return false
	}
	var s TerminalSettings
	if json.Unmarshal([]byte(data), &s) != nil {
		return false
	}
	ss.hub.mu.Lock()
	ss.hub.settings = s
	ss.hub.mu.Unlock()
	log.Printf("[gateway] restored terminal settings from Redis: mode=%s window=%d", s.Mode, s.LadderWindow)
	return true
}

// Get returns the current terminal settings.
func (ss *SettingsStore) Get() TerminalSettings {
	ss.hub.mu.RLock()
	defer ss.hub.mu.RUnlock()
	return ss.hub.settings
}

// Set updates the settings, persists to Redis, and broadcasts the change to
// all connected clients.
func (ss *SettingsStore) Set(s TerminalSettings) {
	ss.hub.mu.Lock()
	ss.hub.settings = s
	ss.hub.mu.Unlock()

	if ss.rdb != nil {
		data, err := json.Marshal(s)
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := ss.rdb.Set(ctx, settingsRedisKey, data, 0).Err(); err != nil {
				log.Printf("[gateway] WARNING: failed to persist terminal settings: %v", err)
			}
		}
	}

	envelope, _ := json.Marshal(map[string]interface{}{
		"type":     "settings_update",
		"settings": s,
		"ts":       time.Now().UTC().Format(time.RFC3339Nano),
	})

	ss.hub.mu.RLock()
	defer ss.hub.mu.RUnlock()
	for client := range ss.hub.clients {
		select {
		case client.send <- envelope:
		default:
		}
	}
}
