package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	sessredis "github.com/mohammad-safakhou/glance/session/redis"
	"github.com/mohammad-safakhou/glance/session/session_models"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	t.Cleanup(func() { _ = redisC.Terminate(context.Background()) })

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}

	client, err := sessredis.Conn(ctx, host, port.Port(), "", 0, 5*time.Second)
	if err != nil {
		t.Fatalf("redis conn: %v", err)
	}
	return client
}

func TestStoreRoundTrip(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()

	store, err := sessredis.NewStore(client, time.Hour, 8)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	sess, err := store.GetOrCreate(ctx, "")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	wroteAt := time.Now().Truncate(time.Second)
	sess.WriteSystemPrompt("analyst instructions", wroteAt)
	sess.Append(session_models.Message{Role: session_models.RoleUser, Content: "how were sales"})
	sess.Append(session_models.Message{Role: session_models.RoleAssistant, Content: "sales were fine"})
	if err := store.Persist(ctx, sess); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	// A fresh store instance must reload the snapshot from redis.
	fresh, err := sessredis.NewStore(client, time.Hour, 8)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	reloaded, err := fresh.GetOrCreate(ctx, sess.ID())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	history := reloaded.History()
	if len(history) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(history))
	}
	if history[0].Role != session_models.RoleSystem || !history[0].CacheControl {
		t.Fatalf("system message not restored: %+v", history[0])
	}
	if history[0].Content != "analyst instructions" {
		t.Fatalf("system content changed: %q", history[0].Content)
	}
	if !reloaded.SystemWrittenAt().Equal(sess.SystemWrittenAt()) {
		t.Fatalf("system write time not preserved: %v vs %v", reloaded.SystemWrittenAt(), sess.SystemWrittenAt())
	}

	// Within the validity window the restored session must not rewrite.
	if reloaded.ShouldWriteSystemPrompt(wroteAt.Add(time.Minute), 5*time.Minute) {
		t.Fatalf("restored session should reuse cached prompt inside the window")
	}
	if !reloaded.ShouldWriteSystemPrompt(wroteAt.Add(10*time.Minute), 5*time.Minute) {
		t.Fatalf("restored session should rewrite after the window")
	}
}

func TestStoreEvictsLiveSessions(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()

	store, err := sessredis.NewStore(client, time.Hour, 1)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	first, err := store.GetOrCreate(ctx, "sess-a")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	first.Append(session_models.Message{Role: session_models.RoleUser, Content: "q"})
	if err := store.Persist(ctx, first); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	// Touching a second session pushes the first out of the live set.
	if _, err := store.GetOrCreate(ctx, "sess-b"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	// The evicted session must come back from its redis snapshot, not empty.
	back, err := store.GetOrCreate(ctx, "sess-a")
	if err != nil {
		t.Fatalf("GetOrCreate after eviction: %v", err)
	}
	if back == first {
		t.Fatalf("expected a reloaded session object, got the evicted one")
	}
	history := back.History()
	if len(history) != 1 || history[0].Content != "q" {
		t.Fatalf("history lost across eviction: %+v", history)
	}
}
