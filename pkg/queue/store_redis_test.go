package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedisStore connects to a local Redis and skips the test when none
// is reachable, so the claim-contention tests run wherever a Redis exists
// without making the rest of the suite depend on one.
func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()

	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}

	prefix := "forge:test:" + t.Name() + ":"
	t.Cleanup(func() {
		keys, _ := rdb.Keys(context.Background(), prefix+"*").Result()
		if len(keys) > 0 {
			rdb.Del(context.Background(), keys...)
		}
		rdb.Close()
	})
	return NewRedisStore(rdb, prefix)
}

func TestRedisStore_ClaimNext_RemovesBothIndexEntries(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()
	now := time.Now()

	id, err := s.InsertJob(ctx, &JobRow{Queue: "reports", Task: "T", Status: StatusPending, Priority: 5, AvailableAt: now, CreatedAt: now})
	require.NoError(t, err)

	claimed, err := s.ClaimNext(ctx, "", now)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, id, claimed.ID)

	again, err := s.ClaimNext(ctx, "reports", now)
	require.NoError(t, err)
	assert.Nil(t, again, "the scoped index must not still hold a claimed job")
}

func TestRedisStore_ClaimNext_ScopedAndUnscopedNeverDoubleClaim(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()
	now := time.Now()

	const jobs = 40
	for i := 0; i < jobs; i++ {
		_, err := s.InsertJob(ctx, &JobRow{Queue: "reports", Task: "T", Status: StatusPending, Priority: 5, AvailableAt: now, CreatedAt: now})
		require.NoError(t, err)
	}

	var mu sync.Mutex
	claims := map[int64]int{}

	var wg sync.WaitGroup
	for _, queueName := range []string{"", "reports"} {
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(queueName string) {
				defer wg.Done()
				for {
					row, err := s.ClaimNext(ctx, queueName, now)
					if err != nil || row == nil {
						return
					}
					mu.Lock()
					claims[row.ID]++
					mu.Unlock()
				}
			}(queueName)
		}
	}
	wg.Wait()

	assert.Len(t, claims, jobs, "every job claimed exactly once across both scopes")
	for id, n := range claims {
		assert.Equalf(t, 1, n, "job %d claimed %d times", id, n)
	}
}
