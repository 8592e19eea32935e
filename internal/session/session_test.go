package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisStore(client)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "abc", []byte(`{"state":"awaiting_proceed"}`), time.Minute))
	assert.True(t, mr.Exists("import:session:abc"))

	data, err := s.Get(ctx, "abc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"awaiting_proceed"}`, string(data))

	mr.FastForward(2 * time.Minute)
	_, err = s.Get(ctx, "abc")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreDelete(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisStore(client)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "abc", []byte("x"), 0))
	require.NoError(t, s.Delete(ctx, "abc"))

	_, err := s.Get(ctx, "abc")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	buf := []byte("payload")
	require.NoError(t, s.Put(ctx, "abc", buf, time.Hour))
	buf[0] = 'X'

	data, err := s.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data), "stored bytes are copied")

	now = now.Add(2 * time.Hour)
	_, err = s.Get(ctx, "abc")
	assert.ErrorIs(t, err, ErrNotFound)
}
