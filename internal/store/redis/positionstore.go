package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"scalper-systemv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// PositionStore persists position book snapshots in Redis so a restart can
// restore open positions. No TTL: an open position outlives any session gap.
type PositionStore struct {
	client *goredis.Client
}

// NewPositionStore wraps the publisher's client as a position store.
func NewPositionStore(p *Publisher) *PositionStore {
	return &PositionStore{client: p.client}
}

func positionsKey(mode model.Mode) string {
	return "positions:book:" + string(mode)
}

// SavePositions overwrites the persisted snapshot for one mode.
func (s *PositionStore) SavePositions(ctx context.Context, mode model.Mode, positions []model.Position) error {
	data, err := json.Marshal(positions)
	if err != nil {
		return fmt.Errorf("marshal positions: %w", err)
	}
	if err := s.client.Set(ctx, positionsKey(mode), data, 0).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", positionsKey(mode), err)
	}
	return nil
}

// LoadPositions reads the persisted snapshot for one mode. A missing key
// means a fresh book and returns nil, nil.
func (s *PositionStore) LoadPositions(ctx context.Context, mode model.Mode) ([]model.Position, error) {
	data, err := s.client.Get(ctx, positionsKey(mode)).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis GET %s: %w", positionsKey(mode), err)
	}

	var positions []model.Position
	if err := json.Unmarshal(data, &positions); err != nil {
		return nil, fmt.Errorf("unmarshal positions: %w", err)
	}
	return positions, nil
}

// Close is a no-op; the underlying client is owned by the Publisher.
func (s *PositionStore) Close() error { return nil }
