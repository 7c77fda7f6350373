// Package store persists conversation turns per session for history replay.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"stayassist/internal/db"
	"stayassist/internal/types"
)

var (
	ErrInvalidStoreType = errors.New("unknown turn store driver")
	ErrInvalidConfig    = errors.New("turn store driver is missing required configuration")
	ErrEmptySession     = errors.New("session id is required")
)

// TurnStore is a key-ordered log of turns per session. GetAll returns turns in
// insertion order.
type TurnStore interface {
	Save(ctx context.Context, sessionID string, turn types.Turn) error
	GetAll(ctx context.Context, sessionID string) ([]types.Turn, error)
	Clear(ctx context.Context, sessionID string) error
	Close() error
}

type Kind string

const (
	KindMemory   Kind = "memory"
	KindFile     Kind = "file"
	KindSQLite   Kind = "sqlite"
	KindPostgres Kind = "postgres"
	KindRedis    Kind = "redis"
)

type storeConfig struct {
	maxTurns    int
	path        string
	database    *db.DB
	redisClient *redis.Client
	redisTTL    time.Duration
}

type Option func(*storeConfig)

// WithMaxTurns bounds the number of turns kept per session. Zero keeps all.
func WithMaxTurns(n int) Option { return func(c *storeConfig) { c.maxTurns = n } }

// WithPath sets the directory (file) or DSN (sqlite).
func WithPath(p string) Option { return func(c *storeConfig) { c.path = p } }

func WithDatabase(d *db.DB) Option { return func(c *storeConfig) { c.database = d } }

func WithRedisClient(client *redis.Client, ttl time.Duration) Option {
	return func(c *storeConfig) {
		c.redisClient = client
		c.redisTTL = ttl
	}
}

// NewTurnStore builds the driver named by kind.
func NewTurnStore(kind Kind, opts ...Option) (TurnStore, error) {
	cfg := &storeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	switch Kind(strings.ToLower(string(kind))) {
	case KindMemory, "":
		return NewMemoryTurnStore(cfg.maxTurns), nil
	case KindFile:
		if cfg.path == "" {
			return nil, errors.Wrap(ErrInvalidConfig, "file store needs a directory")
		}
		return NewFileTurnStore(cfg.path, cfg.maxTurns), nil
	case KindSQLite:
		if cfg.path == "" {
			return nil, errors.Wrap(ErrInvalidConfig, "sqlite store needs a dsn")
		}
		return NewSQLiteTurnStore(cfg.path, cfg.maxTurns)
	case KindPostgres:
		if cfg.database == nil {
			return nil, errors.Wrap(ErrInvalidConfig, "postgres store needs a database")
		}
		return NewDatabaseTurnStore(cfg.database, cfg.maxTurns), nil
	case KindRedis:
		if cfg.redisClient == nil {
			return nil, errors.Wrap(ErrInvalidConfig, "redis store needs a client")
		}
		return NewRedisTurnStore(cfg.redisClient, cfg.redisTTL, cfg.maxTurns), nil
	default:
		return nil, errors.Wrapf(ErrInvalidStoreType, "%q", kind)
	}
}

func checkSession(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrEmptySession
	}
	return nil
}
