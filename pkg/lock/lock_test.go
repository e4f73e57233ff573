package lock_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mysocial/bridge-relayers/pkg/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestLocalLocker(t *testing.T) {
	runLockerSuite(t, lock.NewLocalLocker())
}

func TestRedisLocker(t *testing.T) {
	if testing.Short() {
		t.Skip("redis container tests are skipped in short mode")
	}
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	locker := lock.NewRedisLocker(lock.NewRedisPool(fmt.Sprintf("%s:%d", host, port.Int()), "", 0))
	require.NoError(t, locker.Ping(ctx))
	runLockerSuite(t, locker)

	t.Run("expired keys can be taken over", func(t *testing.T) {
		_, err := locker.TryAcquire(ctx, "expiring", 50*time.Millisecond)
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			release, err := locker.TryAcquire(ctx, "expiring", time.Second)
			if err != nil {
				return false
			}
			release()
			return true
		}, 2*time.Second, 20*time.Millisecond)
	})
}

func runLockerSuite(t *testing.T, locker lock.Locker) {
	ctx := context.Background()

	t.Run("try acquire rejects a second holder", func(t *testing.T) {
		release, err := locker.TryAcquire(ctx, "deposit-1", time.Minute)
		require.NoError(t, err)
		_, err = locker.TryAcquire(ctx, "deposit-1", time.Minute)
		require.ErrorIs(t, err, lock.ErrHeld)

		other, err := locker.TryAcquire(ctx, "deposit-2", time.Minute)
		require.NoError(t, err)
		other()

		release()
		release, err = locker.TryAcquire(ctx, "deposit-1", time.Minute)
		require.NoError(t, err)
		release()
	})

	t.Run("acquire serializes holders", func(t *testing.T) {
		var (
			wg      sync.WaitGroup
			inside  int32
			maxSeen int32
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				release, err := locker.Acquire(ctx, "address", time.Minute)
				if !assert.NoError(t, err) {
					return
				}
				n := atomic.AddInt32(&inside, 1)
				for {
					seen := atomic.LoadInt32(&maxSeen)
					if n <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				release()
			}()
		}
		wg.Wait()
		require.Equal(t, int32(1), maxSeen)
	})

	t.Run("acquire honours cancellation", func(t *testing.T) {
		release, err := locker.TryAcquire(ctx, "busy", time.Minute)
		require.NoError(t, err)
		defer release()

		cancelled, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err = locker.Acquire(cancelled, "busy", time.Minute)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
