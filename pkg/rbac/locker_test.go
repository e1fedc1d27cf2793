package rbac

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockKeys(t *testing.T) {
	assert.Equal(t, "roster:lock:assignment:id-1:system:master", AssignmentLockKey("id-1", SystemScope, RoleMaster))
	assert.Equal(t, "roster:lock:assignment:id-1:org:org-a:worker", AssignmentLockKey("id-1", "org-a", RoleWorker))
	assert.Equal(t, "roster:lock:admin:org-a", AdminLockKey("org-a"))
	assert.Equal(t, []string{"a", "b", "c"}, normalizeKeys([]string{"c", "a", "b", "a"}))
}

// exerciseLocker checks the Locker contract shared by every implementation.
func exerciseLocker(t *testing.T, locker Locker) {
	t.Helper()
	ctx := context.Background()

	t.Run("excludes holders of overlapping keys", func(t *testing.T) {
		unlock, err := locker.Lock(ctx, "k1", "k2")
		require.NoError(t, err)

		waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		_, err = locker.Lock(waitCtx, "k2", "k3")
		assert.ErrorIs(t, err, ErrLockTimeout)

		unlock()
		unlock2, err := locker.Lock(ctx, "k2", "k3")
		require.NoError(t, err)
		unlock2()
	})

	t.Run("disjoint keys do not block", func(t *testing.T) {
		unlock, err := locker.Lock(ctx, "a")
		require.NoError(t, err)
		defer unlock()

		waitCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		unlock2, err := locker.Lock(waitCtx, "b")
		require.NoError(t, err)
		unlock2()
	})

	t.Run("unlock is idempotent", func(t *testing.T) {
		unlock, err := locker.Lock(ctx, "idem")
		require.NoError(t, err)
		unlock()
		unlock()

		unlock2, err := locker.Lock(ctx, "idem")
		require.NoError(t, err)
		unlock2()
	})

	t.Run("serializes critical sections", func(t *testing.T) {
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			inside  int
			maxSeen int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock, err := locker.Lock(ctx, "shared")
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()

				time.Sleep(2 * time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				unlock()
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, maxSeen)
	})
}

func TestLocalLocker(t *testing.T) {
	locker := NewLocalLocker()
	exerciseLocker(t, locker)

	locker.mu.Lock()
	defer locker.mu.Unlock()
	assert.Empty(t, locker.slots, "released keys are forgotten")
}

func TestRedisLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	locker := NewRedisLocker(client, WithLockRetry(5*time.Millisecond), WithLockMaxWait(5*time.Second))
	exerciseLocker(t, locker)

	assert.Empty(t, mr.Keys(), "released keys are deleted")
}

func TestRedisLockerExpiresCrashedHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	locker := NewRedisLocker(client, WithLockTTL(time.Second), WithLockRetry(5*time.Millisecond))
	_, err := locker.Lock(context.Background(), "crashed")
	require.NoError(t, err)
	assert.True(t, mr.Exists("crashed"))

	mr.FastForward(2 * time.Second)

	unlock, err := locker.Lock(context.Background(), "crashed")
	require.NoError(t, err)
	unlock()
}

func TestRedisLockerDoesNotReleaseForeignToken(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	locker := NewRedisLocker(client, WithLockTTL(time.Second))
	unlock, err := locker.Lock(context.Background(), "stolen")
	require.NoError(t, err)

	// The TTL ran out and another replica took the key.
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("stolen", "someone-else"))

	unlock()
	got, err := mr.Get("stolen")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisLockerMaxWait(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	locker := NewRedisLocker(client, WithLockRetry(5*time.Millisecond), WithLockMaxWait(50*time.Millisecond))
	unlock, err := locker.Lock(context.Background(), "busy")
	require.NoError(t, err)
	defer unlock()

	start := time.Now()
	_, err = locker.Lock(context.Background(), "busy")
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}
