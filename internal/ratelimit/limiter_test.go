package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/studytree-ai/internal/apperr"
	"github.com/suPer8Hu/studytree-ai/internal/auth"
	"github.com/suPer8Hu/studytree-ai/internal/store/redisstore"
	"go.uber.org/zap/zaptest"
)

type brokenCounter struct{}

func (brokenCounter) IncrWindow(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("dial tcp: connection refused")
}

func newRedisLimiter(t *testing.T, limit int) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := redisstore.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	return New(store, limit, time.Minute, true, zaptest.NewLogger(t)), mr
}

func TestAdmit_EleventhRequestDenied(t *testing.T) {
	l, mr := newRedisLimiter(t, 10)
	ctx := context.Background()
	id := auth.Identity{UserID: 5}

	for i := 1; i <= 10; i++ {
		d, err := l.Admit(ctx, id)
		require.NoError(t, err, "request %d", i)
		assert.True(t, d.Allowed)
		assert.Equal(t, 10-i, d.Remaining)
	}

	d, err := l.Admit(ctx, id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrRateLimit))
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	// other identities are unaffected
	_, err = l.Admit(ctx, auth.Identity{UserID: 6})
	require.NoError(t, err)

	// next window
	mr.FastForward(61 * time.Second)
	_, err = l.Admit(ctx, id)
	require.NoError(t, err)
}

func TestAdmit_UsesIdentityKey(t *testing.T) {
	l, mr := newRedisLimiter(t, 10)
	_, err := l.Admit(context.Background(), auth.Identity{UserID: 99})
	require.NoError(t, err)

	v, err := mr.Get("rate_limit:99")
	require.NoError(t, err)
	assert.Equal(t, "1", v)
	assert.Equal(t, time.Minute, mr.TTL("rate_limit:99"))
}

func TestAdmit_ConcurrentCallersNeverExceedCeiling(t *testing.T) {
	l, _ := newRedisLimiter(t, 10)
	ctx := context.Background()
	id := auth.Identity{UserID: 1}

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Admit(ctx, id); err == nil {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(10), allowed.Load())
}

func TestAdmit_FailOpen(t *testing.T) {
	l := New(brokenCounter{}, 10, time.Minute, true, zaptest.NewLogger(t))

	d, err := l.Admit(context.Background(), auth.Identity{UserID: 1})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.True(t, d.Degraded)
}

func TestAdmit_FailClosed(t *testing.T) {
	l := New(brokenCounter{}, 10, time.Minute, false, zaptest.NewLogger(t))

	d, err := l.Admit(context.Background(), auth.Identity{UserID: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrRateLimit))
	assert.False(t, d.Allowed)
}
