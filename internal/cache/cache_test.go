package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryClientRoundTrip(t *testing.T) {
	c := NewMemoryClient(10)
	defer c.Close()
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClientExpiry(t *testing.T) {
	c := NewMemoryClient(10)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClientDeleteByPrefix(t *testing.T) {
	c := NewMemoryClient(10)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, TenantPrefix("t1")+"search:chunks:aaaa", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, TenantPrefix("t1")+"search:headers:bbbb", []byte("2"), time.Minute))
	require.NoError(t, c.Set(ctx, TenantPrefix("t2")+"search:chunks:cccc", []byte("3"), time.Minute))

	require.NoError(t, c.DeleteByPrefix(ctx, TenantPrefix("t1")))

	_, err := c.Get(ctx, TenantPrefix("t1")+"search:chunks:aaaa")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, TenantPrefix("t1")+"search:headers:bbbb")
	assert.ErrorIs(t, err, ErrCacheMiss)

	got, err := c.Get(ctx, TenantPrefix("t2")+"search:chunks:cccc")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), got)
}

func TestMemoryClientEviction(t *testing.T) {
	c := NewMemoryClient(2)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 2*time.Minute))
	require.NoError(t, c.Set(ctx, "c", []byte("3"), 3*time.Minute))

	// "a" expires earliest so it is the eviction victim.
	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)

	_, err = c.Get(ctx, "b")
	assert.NoError(t, err)
	_, err = c.Get(ctx, "c")
	assert.NoError(t, err)
}

func TestMemoryClientCloseIdempotent(t *testing.T) {
	c := NewMemoryClient(10)
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

func TestSearchKeyShape(t *testing.T) {
	key := SearchKey("chunks", "t1", "alpha beta", 5, "doc-1", "doc-2")

	assert.True(t, strings.HasPrefix(key, TenantPrefix("t1")), "key must live under the tenant prefix")
	assert.Contains(t, key, ":search:chunks:")

	parts := strings.Split(key, ":")
	digest := parts[len(parts)-1]
	assert.Len(t, digest, 16, "digest is 8 bytes hex encoded")
}

func TestSearchKeyDeterministic(t *testing.T) {
	a := SearchKey("chunks", "t1", "query", 5, "d1")
	b := SearchKey("chunks", "t1", "query", 5, "d1")
	assert.Equal(t, a, b)
}

func TestSearchKeyDiscriminates(t *testing.T) {
	base := SearchKey("chunks", "t1", "query", 5)

	assert.NotEqual(t, base, SearchKey("headers", "t1", "query", 5), "kind must vary the key")
	assert.NotEqual(t, base, SearchKey("chunks", "t2", "query", 5), "tenant must vary the key")
	assert.NotEqual(t, base, SearchKey("chunks", "t1", "other", 5), "query must vary the key")
	assert.NotEqual(t, base, SearchKey("chunks", "t1", "query", 6), "k must vary the key")
	assert.NotEqual(t, base, SearchKey("chunks", "t1", "query", 5, "d1"), "filters must vary the key")
}
