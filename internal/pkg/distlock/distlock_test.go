package distlock

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

// =============================================================================
// REDIS
// =============================================================================

func TestRedisLockExclusive(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "import:1", time.Minute)
	b := NewRedisLock(client, "import:1", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("lock:import:1"))

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, b.Release(ctx), ErrNotHeld, "non-owner cannot release")
	require.NoError(t, a.Release(ctx))
	assert.False(t, mr.Exists("lock:import:1"))

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockExpiresAndExtends(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "import:2", time.Second)
	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, a.Extend(ctx, time.Minute))
	mr.FastForward(30 * time.Second)
	assert.True(t, mr.Exists(a.Key()))

	mr.FastForward(time.Minute)
	assert.ErrorIs(t, a.Extend(ctx, time.Minute), ErrNotHeld)
	assert.ErrorIs(t, a.Release(ctx), ErrNotHeld)
}

func TestKeepAliveRenewsRedisLock(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()

	const ttl = 100 * time.Millisecond
	l := NewRedisLock(client, "import:4", ttl)
	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	stop := KeepAlive(ctx, l)
	mr.FastForward(80 * time.Millisecond)
	assert.Eventually(t, func() bool { return mr.TTL(l.Key()) > 50*time.Millisecond },
		time.Second, 5*time.Millisecond, "ttl is pushed back out")

	stop()
	mr.FastForward(2 * ttl)
	assert.False(t, mr.Exists(l.Key()), "no renewal after stop")
}

func TestKeepAliveStopsWhenLockLost(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()

	l := NewRedisLock(client, "import:5", 40*time.Millisecond)
	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	stop := KeepAlive(ctx, l)
	mr.Set(l.Key(), "someone-else")
	time.Sleep(100 * time.Millisecond)
	stop()
	v, err := mr.Get(l.Key())
	require.NoError(t, err)
	assert.Equal(t, "someone-else", v)
}

func TestKeepAliveNoopForLocalLock(t *testing.T) {
	l := NewLocalLock("import:6")
	ok, err := l.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	stop := KeepAlive(context.Background(), l)
	stop()
	require.NoError(t, l.Release(context.Background()))
}

func TestRedisLockUnavailable(t *testing.T) {
	mr, client := setupRedis(t)
	mr.Close()

	_, err := NewRedisLock(client, "import:3", time.Minute).Acquire(context.Background())
	assert.Error(t, err)
}

// =============================================================================
// POSTGRES
// =============================================================================

func setupPG(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestPGAdvisoryLock(t *testing.T) {
	db, mock := setupPG(t)
	ctx := context.Background()
	lock := NewPGAdvisoryLock(db, "import:1")

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(lock.lockID).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec("SELECT pg_advisory_unlock").
		WithArgs(lock.lockID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, lock.Release(ctx))
	assert.ErrorIs(t, lock.Release(ctx), ErrNotHeld)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGAdvisoryLockBusy(t *testing.T) {
	db, mock := setupPG(t)
	lock := NewPGAdvisoryLock(db, "import:1")

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(lock.lockID).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	ok, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGAdvisoryLockIDIsStable(t *testing.T) {
	assert.Equal(t, NewPGAdvisoryLock(nil, "import:9").lockID, NewPGAdvisoryLock(nil, "import:9").lockID)
	assert.NotEqual(t, NewPGAdvisoryLock(nil, "import:9").lockID, NewPGAdvisoryLock(nil, "import:10").lockID)
}

// =============================================================================
// FACTORY / LOCAL
// =============================================================================

func TestNewLockBackends(t *testing.T) {
	_, client := setupRedis(t)
	db, _ := setupPG(t)

	assert.IsType(t, &RedisLock{}, NewLock(client, db, "k", time.Minute))
	assert.IsType(t, &PGAdvisoryLock{}, NewLock(nil, db, "k", time.Minute))
	assert.IsType(t, &LocalLock{}, NewLock(nil, nil, "k", time.Minute))
}

func TestLocalLock(t *testing.T) {
	ctx := context.Background()
	newLock := NewFactory(nil, nil, time.Minute)

	a, b := newLock("import:local"), newLock("import:local")
	ok, _ := a.Acquire(ctx)
	assert.True(t, ok)
	ok, _ = b.Acquire(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, b.Release(ctx), ErrNotHeld)

	require.NoError(t, a.Release(ctx))
	ok, _ = b.Acquire(ctx)
	assert.True(t, ok)
	require.NoError(t, b.Release(ctx))
}
