// Package resolve caches topic key to token resolution in process and,
// when configured, in Redis so that restarts and sibling instances skip
// the indexer lookup.
package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/redis/go-redis/v9"

	"github.com/rickgao/eigen-stream/internal/config"
	"github.com/rickgao/eigen-stream/internal/model"
)

// KeyPrefix namespaces cache entries in Redis.
const KeyPrefix = "eigen:token:"

// TokenResolver maps a topic key to a token.
type TokenResolver interface {
	ResolveToken(ctx context.Context, key string) (model.Token, error)
}

type entry struct {
	token    model.Token
	storedAt time.Time
}

// Resolver is a caching TokenResolver. Failed lookups are not cached.
type Resolver struct {
	upstream TokenResolver
	local    *xsync.Map[string, entry]
	rdb      *redis.Client
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRedis adds a shared Redis layer.
func WithRedis(rdb *redis.Client) Option {
	return func(r *Resolver) {
		r.rdb = rdb
	}
}

// WithTTL sets how long entries stay valid in both layers.
func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		r.ttl = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// New wraps upstream with a cache.
func New(upstream TokenResolver, opts ...Option) *Resolver {
	r := &Resolver{
		upstream: upstream,
		local:    xsync.NewMap[string, entry](),
		ttl:      5 * time.Minute,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func cacheKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// ResolveToken returns the cached token for key or looks it up.
func (r *Resolver) ResolveToken(ctx context.Context, key string) (model.Token, error) {
	k := cacheKey(key)

	if e, ok := r.local.Load(k); ok && r.now().Sub(e.storedAt) < r.ttl {
		return e.token, nil
	}

	if tok, ok := r.loadShared(ctx, k); ok {
		r.local.Store(k, entry{token: tok, storedAt: r.now()})
		return tok, nil
	}

	tok, err := r.upstream.ResolveToken(ctx, key)
	if err != nil {
		return model.Token{}, err
	}

	r.local.Store(k, entry{token: tok, storedAt: r.now()})
	r.storeShared(ctx, k, tok)
	return tok, nil
}

// Health pings Redis when configured.
func (r *Resolver) Health(ctx context.Context) error {
	if r.rdb == nil {
		return nil
	}
	return r.rdb.Ping(ctx).Err()
}

func (r *Resolver) loadShared(ctx context.Context, k string) (model.Token, bool) {
	if r.rdb == nil {
		return model.Token{}, false
	}

	raw, err := r.rdb.Get(ctx, KeyPrefix+k).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Token{}, false
	}
	if err != nil {
		r.logger.Warn("redis get failed", "key", k, "error", err)
		return model.Token{}, false
	}

	var tok model.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		r.logger.Warn("bad cached token", "key", k, "error", err)
		return model.Token{}, false
	}
	return tok, true
}

func (r *Resolver) storeShared(ctx context.Context, k string, tok model.Token) {
	if r.rdb == nil {
		return
	}
	raw, err := json.Marshal(tok)
	if err != nil {
		return
	}
	if err := r.rdb.Set(ctx, KeyPrefix+k, raw, r.ttl).Err(); err != nil {
		r.logger.Warn("redis set failed", "key", k, "error", err)
	}
}

// ConnectRedis opens and pings a Redis client. addr may be host:port or a
// redis:// URL.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	var opts *redis.Options
	if strings.Contains(cfg.Addr, "://") {
		parsed, err := redis.ParseURL(cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis at %s: %w", opts.Addr, err)
	}
	return rdb, nil
}
