package jobqueue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/TaskFox/internal/pkg/env"
	"github.com/ManuelReschke/TaskFox/internal/pkg/testinfra"
)

// queueTestRedisDB keeps queue tests away from the data of a shared dev Redis.
const queueTestRedisDB = 14

// newTestRedis returns a flushed Redis database for queue tests. CACHE_HOST
// points the tests at an existing server; without it a container is started.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := configuredRedis()
	if client == nil {
		client = testinfra.Redis(t)
	} else {
		t.Cleanup(func() { _ = client.Close() })
	}

	ctx := context.Background()
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("failed to flush test redis: %v", err)
	}
	t.Cleanup(func() { _ = client.FlushDB(context.Background()).Err() })
	return client
}

func configuredRedis() *redis.Client {
	host := env.GetEnv("CACHE_HOST", "")
	if host == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, env.GetEnv("CACHE_PORT", "6379")),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       queueTestRedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil
	}
	return client
}

// newTestQueue returns a queue on a clean Redis with a clock the test controls.
func newTestQueue(t *testing.T, now *time.Time) *Queue {
	t.Helper()
	q := newQueueWithClient(newTestRedis(t), 1)
	q.now = func() time.Time { return *now }
	return q
}
