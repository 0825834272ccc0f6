package kv

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kverrors "github.com/orneryd/kvgraph/pkg/errors"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := OpenRedis(context.Background(), RedisOptions{
		URL:       "redis://" + mr.Addr(),
		KeyPrefix: "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, _ := newTestRedisStore(t)
		return s
	})
}

func TestRedisStore_Layout(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)

	rev, err := s.Put(ctx, "node.a", []byte(`"a"`))
	require.NoError(t, err)

	assert.Equal(t, `"a"`, mr.HGet("test:node.a", "value"))
	assert.Equal(t, "0", mr.HGet("test:node.a", "deleted"))
	got, err := mr.Get("test:__meta__:rev")
	require.NoError(t, err)
	assert.Equal(t, "1", got)
	assert.Equal(t, uint64(1), rev)

	require.NoError(t, s.Delete(ctx, "node.a"))
	assert.Equal(t, "1", mr.HGet("test:node.a", "deleted"))
}

func TestRedisStore_PrefixIsolation(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	a := NewRedisStore(client, "a")
	b := NewRedisStore(client, "b")

	_, err := a.Put(ctx, "node.x", nil)
	require.NoError(t, err)

	keys, err := Collect(b.Keys(ctx, ">"))
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = b.Get(ctx, "node.x")
	assert.True(t, kverrors.IsNotFound(err))
}

func TestOpenRedis_Errors(t *testing.T) {
	t.Run("missing url", func(t *testing.T) {
		_, err := OpenRedis(context.Background(), RedisOptions{})
		assert.True(t, kverrors.IsInvalidInput(err))
	})

	t.Run("bad url", func(t *testing.T) {
		_, err := OpenRedis(context.Background(), RedisOptions{URL: "://nope"})
		assert.True(t, kverrors.IsInvalidInput(err))
	})

	t.Run("server down", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()
		_, err := OpenRedis(context.Background(), RedisOptions{URL: "redis://" + addr})
		assert.True(t, kverrors.HasCode(err, kverrors.CodeStoreBackendFailure))
	})
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, "node.", escapeGlob("node."))
	assert.Equal(t, `a\*b\?\[c\]`, escapeGlob("a*b?[c]"))
}
