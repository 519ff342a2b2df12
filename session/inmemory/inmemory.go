package inmemory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammad-safakhou/glance/session/session_object"
)

// Store keeps sessions in process memory behind an LRU cap, so long-running
// deployments do not grow without bound as sessions accumulate.
type Store struct {
	sessions *lru.Cache[string, *session_object.Session]
	mu       sync.Mutex
}

func NewStore(maxSessions int) (*Store, error) {
	cache, err := lru.New[string, *session_object.Session](maxSessions)
	if err != nil {
		return nil, err
	}
	return &Store{sessions: cache}, nil
}

func (store *Store) GetOrCreate(ctx context.Context, id string) (*session_object.Session, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if id != "" {
		if sess, ok := store.sessions.Get(id); ok {
			return sess, nil
		}
	} else {
		id = uuid.NewString()
	}
	sess := session_object.New(id)
	store.sessions.Add(id, sess)
	return sess, nil
}

// Persist is a no-op: the in-memory backend has no durable storage.
func (store *Store) Persist(ctx context.Context, sess *session_object.Session) error {
	return nil
}

// Len reports how many sessions are currently retained.
func (store *Store) Len() int {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.sessions.Len()
}
