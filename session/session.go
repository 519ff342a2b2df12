package session

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/glance/config"
	"github.com/mohammad-safakhou/glance/session/inmemory"
	redisstore "github.com/mohammad-safakhou/glance/session/redis"
	"github.com/mohammad-safakhou/glance/session/session_object"
)

// Store owns the mapping from session id to conversation state. It is an
// explicit service object injected into callers; lifecycle (creation, LRU
// eviction, TTL expiry) lives here rather than in ambient globals.
type Store interface {
	// GetOrCreate returns the session for id, creating it on first use.
	// An empty id allocates a fresh session with a generated id.
	GetOrCreate(ctx context.Context, id string) (*session_object.Session, error)
	// Persist writes the session's current state to durable storage, where
	// the backend has any. Called after each committed turn.
	Persist(ctx context.Context, sess *session_object.Session) error
}

type StoreType string

const (
	InMemoryStore StoreType = "inmemory"
	RedisStore    StoreType = "redis"
)

// NewStore builds the configured session backend.
func NewStore(ctx context.Context, cfg config.SessionConfig) (Store, error) {
	switch StoreType(cfg.Backend) {
	case InMemoryStore:
		return inmemory.NewStore(cfg.MaxSessions)
	case RedisStore:
		client, err := redisstore.Conn(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Timeout)
		if err != nil {
			return nil, fmt.Errorf("connect session redis: %w", err)
		}
		return redisstore.NewStore(client, cfg.Redis.TTL, cfg.MaxSessions)
	default:
		return nil, fmt.Errorf("unsupported session store type: %s", cfg.Backend)
	}
}

// CacheValidity is the default window after which a cached system prompt must
// be rewritten even if the history is retained.
const CacheValidity = 5 * time.Minute
