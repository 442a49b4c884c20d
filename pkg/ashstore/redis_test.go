package ashstore

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/3meam/ash/pkg/ash"
)

// TestRedisStore_Integration requires a running Redis. We skip if
// connection fails rather than fail the suite in environments without one.
func TestRedisStore_Integration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	store := NewRedisStore(client)
	t.Cleanup(func() { _ = store.Clear(ctx) })

	sc := ash.StoredContext{
		ID:        "ctx_redis_1",
		Binding:   "POST /orders",
		Mode:      ash.ModeBalanced,
		Protocol:  ash.ProtocolV1,
		ExpiresAt: time.Now().Add(2 * time.Second),
		Metadata:  map[string]string{"tenant": "acme"},
	}

	if err := store.Create(ctx, sc); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := store.Create(ctx, sc); err == nil {
		t.Fatal("expected ErrIDCollision on duplicate create")
	}

	got, err := store.Get(ctx, sc.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Binding != sc.Binding || got.Metadata["tenant"] != "acme" {
		t.Fatalf("unexpected context: %+v", got)
	}

	before, err := store.Consume(ctx, sc.ID)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if before.Used {
		t.Fatal("Consume must return the pre-transition state")
	}

	if _, err := store.Consume(ctx, sc.ID); err != ash.ErrAlreadyUsed {
		t.Fatalf("expected ErrAlreadyUsed on replay, got %v", err)
	}

	time.Sleep(2200 * time.Millisecond)

	if _, err := store.Get(ctx, sc.ID); err != ash.ErrNotFound {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestRedisStore_Integration_ConcurrentConsumeHasOneWinner(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	store := NewRedisStore(client)
	t.Cleanup(func() { _ = store.Clear(ctx) })

	sc := ash.StoredContext{ID: "ctx_redis_race", Binding: "GET /x", ExpiresAt: time.Now().Add(5 * time.Second)}
	if err := store.Create(ctx, sc); err != nil {
		t.Fatalf("Create: %v", err)
	}

	const attempts = 20
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			_, err := store.Consume(ctx, sc.ID)
			results <- err
		}()
	}

	successes := 0
	for i := 0; i < attempts; i++ {
		if err := <-results; err == nil {
			successes++
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one winning consume, got %d", successes)
	}
}
