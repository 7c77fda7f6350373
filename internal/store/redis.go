package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"stayassist/internal/types"
)

const (
	turnKeyPrefix   = "turns:"
	defaultRedisTTL = 24 * time.Hour
)

// RedisTurnStore keeps each session as a Redis list of JSON turns. Every write
// refreshes the key's TTL.
type RedisTurnStore struct {
	client   *redis.Client
	ttl      time.Duration
	maxTurns int
}

func NewRedisTurnStore(client *redis.Client, ttl time.Duration, maxTurns int) *RedisTurnStore {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &RedisTurnStore{client: client, ttl: ttl, maxTurns: maxTurns}
}

func (s *RedisTurnStore) key(sessionID string) string { return turnKeyPrefix + sessionID }

func (s *RedisTurnStore) Save(ctx context.Context, sessionID string, turn types.Turn) error {
	if err := checkSession(sessionID); err != nil {
		return err
	}
	val, err := json.Marshal(turn)
	if err != nil {
		return err
	}
	key := s.key(sessionID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, val)
		if s.maxTurns > 0 {
			pipe.LTrim(ctx, key, int64(-s.maxTurns), -1)
		}
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	return errors.Wrap(err, "redis turn store: save")
}

func (s *RedisTurnStore) GetAll(ctx context.Context, sessionID string) ([]types.Turn, error) {
	vals, err := s.client.LRange(ctx, s.key(sessionID), 0, -1).Result()
	if err == redis.Nil {
		return []types.Turn{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis turn store: load")
	}
	out := make([]types.Turn, 0, len(vals))
	for _, v := range vals {
		var t types.Turn
		if err := json.Unmarshal([]byte(v), &t); err != nil {
			return nil, errors.Wrap(err, "redis turn store: decode")
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *RedisTurnStore) Clear(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.key(sessionID)).Err()
}

func (s *RedisTurnStore) Close() error {
	return s.client.Close()
}
