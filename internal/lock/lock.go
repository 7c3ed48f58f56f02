package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Provider hands out the exclusive run lock for scheduled jobs. At most one
// holder exists per key at any time; TryAcquire never blocks.
type Provider interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

// MutexProvider is the in-process lock used when the server runs as a single
// instance without Redis.
type MutexProvider struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewMutexProvider creates an in-process lock provider.
func NewMutexProvider() *MutexProvider {
	return &MutexProvider{held: make(map[string]bool)}
}

// TryAcquire takes the lock for key if it is free. The TTL is ignored because
// the process owning the lock is the only one that can leak it.
func (p *MutexProvider) TryAcquire(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.held[key] {
		return nil, false, nil
	}
	p.held[key] = true

	release := func() {
		p.mu.Lock()
		delete(p.held, key)
		p.mu.Unlock()
	}
	return release, true, nil
}

// RedisProvider implements the run lock on Redis so multiple server replicas
// never run the same scheduled job concurrently.
type RedisProvider struct {
	client *redis.Client
}

// NewRedisProvider creates a Redis-backed lock provider.
func NewRedisProvider(client *redis.Client) *RedisProvider {
	return &RedisProvider{client: client}
}

// releaseScript atomically checks that the lock value matches before deleting,
// preventing a client from releasing a lock it no longer owns.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end
`)

// TryAcquire takes the lock with a single SETNX attempt. The TTL bounds how
// long a crashed holder can block other replicas.
func (p *RedisProvider) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	lockID := uuid.New().String()

	ok, err := p.client.SetNX(ctx, key, lockID, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = releaseScript.Run(releaseCtx, p.client, []string{key}, lockID).Result()
	}
	return release, true, nil
}
