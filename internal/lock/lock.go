// Package lock serializes work per key across instances with a Redis lease.
// Without Redis configured every call runs unguarded and the database
// transaction remains the only authority.
package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/fieldbill/internal/config"
	"github.com/smallbiznis/fieldbill/pkg/apperr"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("lock",
	fx.Provide(NewFromConfig),
)

const (
	keyPrefix    = "fieldbill:lock:"
	pollInterval = 50 * time.Millisecond
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var ErrBusy = apperr.Conflict("resource_busy", "another request is working on this resource")

type Locker struct {
	client  *redis.Client
	script  *redis.Script
	ttl     time.Duration
	maxWait time.Duration
	log     *zap.Logger
}

// NewFromConfig returns a disabled Locker when no Redis address is set.
func NewFromConfig(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *Locker {
	if !cfg.Redis.Enabled() {
		return New(nil, 0, log)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     strings.TrimSpace(cfg.Redis.Addr),
		Password: strings.TrimSpace(cfg.Redis.Password),
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return client.Close() },
	})
	return New(client, cfg.Redis.LockTTL, log)
}

func New(client *redis.Client, ttl time.Duration, log *zap.Logger) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{
		client:  client,
		script:  redis.NewScript(releaseScript),
		ttl:     ttl,
		maxWait: ttl,
		log:     log.Named("lock"),
	}
}

func (l *Locker) Enabled() bool {
	return l != nil && l.client != nil
}

// With runs fn while holding the lease for key. It waits up to the lease TTL
// for a competing holder and then fails with ErrBusy.
func (l *Locker) With(ctx context.Context, key string, fn func() error) error {
	if !l.Enabled() {
		return fn()
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("lock key is empty")
	}
	key = keyPrefix + key

	token, err := l.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer func() {
		// The caller's context may already be done; release on a fresh one.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := l.release(releaseCtx, key, token); err != nil {
			l.log.Warn("lock release failed", zap.String("key", key), zap.Error(err))
		}
	}()
	return fn()
}

func (l *Locker) acquire(ctx context.Context, key string) (string, error) {
	token := uuid.NewString()
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if !ok {
			return struct{}{}, ErrBusy
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(pollInterval)),
		backoff.WithMaxElapsedTime(l.maxWait),
	)
	if err != nil {
		if errors.Is(err, ErrBusy) {
			l.log.Info("lock busy", zap.String("key", key))
			return "", ErrBusy.WithReason("%s is held by another request", strings.TrimPrefix(key, keyPrefix))
		}
		return "", err
	}
	return token, nil
}

func (l *Locker) release(ctx context.Context, key, token string) error {
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}
