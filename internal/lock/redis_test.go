package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(client, time.Second, nil), mr
}

func TestRedis_Exclusive(t *testing.T) {
	l, _ := setupTestRedis(t)
	testExclusive(t, l)
}

func TestRedis_UnlockDeletesKey(t *testing.T) {
	l, mr := setupTestRedis(t)

	unlock, err := l.Lock(context.Background(), OrderKey("o1"))
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:order:o1"))

	unlock()
	assert.False(t, mr.Exists("lock:order:o1"))
}

func TestRedis_UnlockKeepsForeignToken(t *testing.T) {
	l, mr := setupTestRedis(t)

	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	// Another holder took over after our TTL lapsed.
	require.NoError(t, mr.Set("lock:k", "someone-else"))
	unlock()

	v, err := mr.Get("lock:k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", v)
}

func TestRedis_WaitsUntilContextDone(t *testing.T) {
	l, _ := setupTestRedis(t)

	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	assert.ErrorIs(t, err, ErrNotAcquired)
}
