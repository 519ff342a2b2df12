package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/glance/session/session_object"
)

const sessionKeyPrefix = "session:"

// Conn opens and pings a redis client for the session backend.
func Conn(ctx context.Context, host, port, pass string, db int, timeout time.Duration) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%s", host, port),
		DialTimeout: timeout,
		Password:    pass,
		DB:          db,
	})

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, err
	}
	if pong != "PONG" {
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}

	return client, nil
}

// Store persists session snapshots to redis with a TTL, while keeping the
// live session objects in a process-local LRU so that the per-session turn
// lock has a stable identity. Evicted sessions come back from their redis
// snapshot on next use, so the cap bounds memory without losing history.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	mu     sync.Mutex
	live   *lru.Cache[string, *session_object.Session]
}

func NewStore(client *redis.Client, ttl time.Duration, maxLive int) (*Store, error) {
	if maxLive <= 0 {
		maxLive = 1024
	}
	live, err := lru.New[string, *session_object.Session](maxLive)
	if err != nil {
		return nil, err
	}
	return &Store{client: client, ttl: ttl, live: live}, nil
}

func (store *Store) GetOrCreate(ctx context.Context, id string) (*session_object.Session, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if id != "" {
		if sess, ok := store.live.Get(id); ok {
			return sess, nil
		}
		val, err := store.client.Get(ctx, sessionKeyPrefix+id).Result()
		if err == nil {
			var snap session_object.Snapshot
			if err := json.Unmarshal([]byte(val), &snap); err != nil {
				return nil, fmt.Errorf("decode session %s: %w", id, err)
			}
			sess := session_object.FromSnapshot(snap)
			store.live.Add(id, sess)
			return sess, nil
		}
		if !errors.Is(err, redis.Nil) {
			return nil, err
		}
	} else {
		id = uuid.NewString()
	}
	sess := session_object.New(id)
	store.live.Add(id, sess)
	return sess, nil
}

func (store *Store) Persist(ctx context.Context, sess *session_object.Session) error {
	data, err := json.Marshal(sess.Snapshot())
	if err != nil {
		return err
	}
	return store.client.Set(ctx, sessionKeyPrefix+sess.ID(), data, store.ttl).Err()
}
