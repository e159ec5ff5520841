package distlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisLockExclusive(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "rollup", time.Minute)
	b := NewRedisLock(client, "rollup", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// b does not own the key, so its release is a no-op.
	require.NoError(t, b.Release(ctx))
	assert.True(t, mr.Exists(KeyPrefix+"rollup"))

	require.NoError(t, a.Release(ctx))
	assert.False(t, mr.Exists(KeyPrefix+"rollup"))

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockExpiresAndExtend(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "rollup", time.Second)
	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, a.Extend(ctx, time.Minute))
	mr.FastForward(30 * time.Second)
	assert.True(t, mr.Exists(KeyPrefix+"rollup"))

	mr.FastForward(time.Minute)
	assert.ErrorIs(t, a.Extend(ctx, time.Minute), ErrNotHeld)
}

func TestRunSkipsWhenHeld(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()

	holder := NewRedisLock(client, "job", time.Minute)
	ok, err := holder.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	called := false
	ran, err := Run(ctx, NewRedisLock(client, "job", time.Minute), func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, ran)
	assert.False(t, called)
}

func TestRunReleasesAfterError(t *testing.T) {
	mr, client := newRedis(t)
	boom := errors.New("boom")

	ran, err := Run(context.Background(), NewRedisLock(client, "job", time.Minute), func(context.Context) error {
		return boom
	})
	assert.True(t, ran)
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(KeyPrefix+"job"))
}

func TestPGAdvisoryLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewPGAdvisoryLock(db, "rollup")
	assert.Equal(t, NewPGAdvisoryLock(db, "rollup").lockID, l.lockID)

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(l.lockID).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec("SELECT pg_advisory_unlock").
		WithArgs(l.lockID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ran, err := Run(context.Background(), l, func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, ran)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewLockPrefersRedis(t *testing.T) {
	_, client := newRedis(t)
	_, isRedis := NewLock(client, nil, "k", time.Minute).(*RedisLock)
	assert.True(t, isRedis)

	_, isPG := NewLock(nil, nil, "k", time.Minute).(*PGAdvisoryLock)
	assert.True(t, isPG)
}
