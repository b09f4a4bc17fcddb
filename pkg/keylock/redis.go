package keylock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Redis is a distributed Locker built on SET NX with a per-holder token.
type Redis struct {
	client *redis.Client
	logger ectologger.Logger
	prefix string
	ttl    time.Duration
	wait   time.Duration
}

type RedisConfig struct {
	Prefix string
	// TTL bounds how long a crashed holder can block a key.
	TTL time.Duration
	// Wait is how long Lock retries before giving up.
	Wait time.Duration
}

func NewRedis(client *redis.Client, logger ectologger.Logger, config RedisConfig) *Redis {
	if config.Prefix == "" {
		config.Prefix = "lock:"
	}
	if config.TTL <= 0 {
		config.TTL = 10 * time.Second
	}
	if config.Wait <= 0 {
		config.Wait = 5 * time.Second
	}
	return &Redis{
		client: client,
		logger: logger,
		prefix: config.Prefix,
		ttl:    config.TTL,
		wait:   config.Wait,
	}
}

// Connect parses url, pings the server and returns the client.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	return client, nil
}

func (l *Redis) Lock(ctx context.Context, key string) (Release, error) {
	lockKey := l.prefix + key
	token := uuid.New().String()
	deadline := time.Now().Add(l.wait)
	backoff := 5 * time.Millisecond

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > 250*time.Millisecond {
				backoff = 250 * time.Millisecond
			}
		}
	}

	l.logger.WithContext(ctx).Debugf("Acquired lock: %s", lockKey)

	return func(ctx context.Context) error {
		released, err := releaseScript.Run(ctx, l.client, []string{lockKey}, token).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			l.logger.WithContext(ctx).WithError(err).Warnf("Failed to release lock: %s", lockKey)
			return err
		}
		if released == 0 {
			l.logger.WithContext(ctx).Warnf("Lock %s expired before release", lockKey)
			return ErrLockNotHeld
		}
		return nil
	}, nil
}
