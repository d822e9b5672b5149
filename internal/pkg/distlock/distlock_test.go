package distlock

import (
	"context"
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
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisLock_ExclusiveUntilReleased(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)

	a := NewRedisLock(client, EnrollmentKey("enr-1"), time.Minute)
	b := NewRedisLock(client, EnrollmentKey("enr-1"), time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("lock:sequence:enrollment:enr-1"))

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// b does not own the key, so its release is a no-op
	require.NoError(t, b.Release(ctx))
	assert.True(t, mr.Exists("lock:sequence:enrollment:enr-1"))

	require.NoError(t, a.Release(ctx))
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLock_ExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)

	a := NewRedisLock(client, "k", time.Second)
	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	b := NewRedisLock(client, "k", time.Second)
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.ErrorIs(t, a.Extend(ctx, time.Minute), ErrNotHeld)
}

func TestRedisLock_Extend(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)

	a := NewRedisLock(client, "k", time.Second)
	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, a.Extend(ctx, time.Minute))
	assert.Greater(t, mr.TTL(a.Key()), 30*time.Second)
}

func TestPGAdvisoryLock_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	lock := NewPGAdvisoryLock(db, EnrollmentKey("enr-1"))

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
	require.NoError(t, lock.Release(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGAdvisoryLock_NotAcquired(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	lock := NewPGAdvisoryLock(db, "busy")
	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, lock.Release(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFactory(t *testing.T) {
	assert.Nil(t, NewFactory(nil, nil, time.Minute))

	var nilFactory *Factory
	assert.Nil(t, nilFactory.ForEnrollment("enr-1"))

	_, client := setupRedis(t)
	f := NewFactory(client, nil, time.Minute)
	_, isRedis := f.ForEnrollment("enr-1").(*RedisLock)
	assert.True(t, isRedis)

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	f = NewFactory(nil, db, time.Minute)
	_, isPG := f.ForEnrollment("enr-1").(*PGAdvisoryLock)
	assert.True(t, isPG)
}
