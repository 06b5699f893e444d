// Package integration holds tests that need real backing services. They
// skip themselves in short mode and when Docker is unreachable.
package integration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vectral-ai/corpus-engine/internal/cache"
)

// setupRedisCache starts a Redis container and returns a cache client
// bound to it. Container and client are torn down with the test.
func setupRedisCache(t *testing.T) *cache.RedisClient {
	t.Helper()
	ctx := context.Background()

	container, err := redis.Run(ctx,
		"redis:7.4-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate redis container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client, err := cache.NewRedisClient(cache.RedisConfig{
		Addr:   fmt.Sprintf("%s:%s", host, port.Port()),
		Prefix: "corpus-test:",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func skipWithoutDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	if os.Getenv("CI") == "" && !isDockerAvailable() {
		t.Skip("Docker not available")
	}
}

func TestRedisCacheRoundTrip(t *testing.T) {
	skipWithoutDocker(t)
	client := setupRedisCache(t)
	ctx := context.Background()

	key := cache.SearchKey("chunks", "t1", "what is chunk overlap", 5)

	_, err := client.Get(ctx, key)
	require.ErrorIs(t, err, cache.ErrCacheMiss)

	payload := []byte(`[{"chunk_id":"doc#chunk_000","score":0.91}]`)
	require.NoError(t, client.Set(ctx, key, payload, time.Minute))

	got, err := client.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	require.NoError(t, client.Delete(ctx, key))
	_, err = client.Get(ctx, key)
	require.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestRedisCacheTenantInvalidation(t *testing.T) {
	skipWithoutDocker(t)
	client := setupRedisCache(t)
	ctx := context.Background()

	keysT1 := []string{
		cache.SearchKey("chunks", "t1", "alpha", 5),
		cache.SearchKey("headers", "t1", "alpha", 3),
		cache.SearchKey("hybrid", "t1", "beta", 3, "2"),
	}
	keyT2 := cache.SearchKey("chunks", "t2", "alpha", 5)

	for _, key := range keysT1 {
		require.NoError(t, client.Set(ctx, key, []byte("cached"), time.Minute))
	}
	require.NoError(t, client.Set(ctx, keyT2, []byte("cached"), time.Minute))

	require.NoError(t, client.DeleteByPrefix(ctx, cache.TenantPrefix("t1")))

	for _, key := range keysT1 {
		_, err := client.Get(ctx, key)
		require.ErrorIs(t, err, cache.ErrCacheMiss, "key %s should be invalidated", key)
	}

	got, err := client.Get(ctx, keyT2)
	require.NoError(t, err, "other tenants must keep their entries")
	require.Equal(t, []byte("cached"), got)
}

func TestRedisCacheTTLExpiry(t *testing.T) {
	skipWithoutDocker(t)
	client := setupRedisCache(t)
	ctx := context.Background()

	key := cache.SearchKey("chunks", "t1", "short lived", 5)
	require.NoError(t, client.Set(ctx, key, []byte("soon gone"), time.Second))

	got, err := client.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []byte("soon gone"), got)

	require.Eventually(t, func() bool {
		_, err := client.Get(ctx, key)
		return errors.Is(err, cache.ErrCacheMiss)
	}, 5*time.Second, 100*time.Millisecond, "entry should expire with its TTL")
}

// isDockerAvailable checks if Docker is available for testing.
func isDockerAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false
	}
	defer provider.Close()

	_, err = provider.Client().Ping(ctx)
	return err == nil
}
