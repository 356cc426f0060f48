package resolve

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/eigen-stream/internal/config"
	"github.com/rickgao/eigen-stream/internal/model"
)

type countingUpstream struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func (u *countingUpstream) ResolveToken(_ context.Context, key string) (model.Token, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.calls == nil {
		u.calls = make(map[string]int)
	}
	u.calls[key]++
	if u.err != nil {
		return model.Token{}, u.err
	}
	return model.Token{ID: "0x" + key, Symbol: key, Decimals: 18}, nil
}

func (u *countingUpstream) count(key string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls[key]
}

func TestResolver_CachesLocally(t *testing.T) {
	up := &countingUpstream{}
	r := New(up)

	for i := 0; i < 3; i++ {
		tok, err := r.ResolveToken(context.Background(), "EIGEN")
		require.NoError(t, err)
		assert.Equal(t, "0xEIGEN", tok.ID)
	}
	_, err := r.ResolveToken(context.Background(), " eigen ")
	require.NoError(t, err)

	assert.Equal(t, 1, up.count("EIGEN"))
	assert.Equal(t, 0, up.count(" eigen "), "keys are case and space insensitive")
}

func TestResolver_TTL(t *testing.T) {
	up := &countingUpstream{}
	now := time.Unix(1000, 0)
	r := New(up, WithTTL(time.Minute))
	r.now = func() time.Time { return now }

	_, _ = r.ResolveToken(context.Background(), "EIGEN")
	now = now.Add(2 * time.Minute)
	_, _ = r.ResolveToken(context.Background(), "EIGEN")

	assert.Equal(t, 2, up.count("EIGEN"))
}

func TestResolver_ErrorsNotCached(t *testing.T) {
	up := &countingUpstream{err: errors.New("boom")}
	r := New(up)

	_, err := r.ResolveToken(context.Background(), "EIGEN")
	require.Error(t, err)
	_, err = r.ResolveToken(context.Background(), "EIGEN")
	require.Error(t, err)
	assert.Equal(t, 2, up.count("EIGEN"))
}

func TestResolver_HealthWithoutRedis(t *testing.T) {
	assert.NoError(t, New(&countingUpstream{}).Health(context.Background()))
}

func TestResolver_RedisDownFallsBack(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	up := &countingUpstream{}
	r := New(up, WithRedis(rdb))

	tok, err := r.ResolveToken(context.Background(), "EIGEN")
	require.NoError(t, err)
	assert.Equal(t, "0xEIGEN", tok.ID)
	assert.Error(t, r.Health(context.Background()))
}

func TestResolver_SharedRedis(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()

	rdb, err := ConnectRedis(ctx, config.RedisConfig{Addr: addr})
	require.NoError(t, err)
	defer rdb.Close()
	defer rdb.Del(ctx, KeyPrefix+"eigen")

	first := &countingUpstream{}
	_, err = New(first, WithRedis(rdb)).ResolveToken(ctx, "EIGEN")
	require.NoError(t, err)

	second := &countingUpstream{}
	tok, err := New(second, WithRedis(rdb)).ResolveToken(ctx, "EIGEN")
	require.NoError(t, err)
	assert.Equal(t, "0xEIGEN", tok.ID)
	assert.Equal(t, 0, second.count("EIGEN"), "second instance is served from redis")
}
