package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// RunLocker serializes pipeline runs per user. A held lock means a run
// for that fid is in flight; overlapping ticks skip the user instead of
// racing it. Locks are released on every exit path and carry a TTL so
// a crashed run cannot wedge a user forever. TryAcquire returns a
// per-acquire token and Release frees the lock only when the token
// still owns it, so a run that outlives its TTL cannot free a lock a
// newer run now holds.
type RunLocker interface {
	TryAcquire(ctx context.Context, fid int64, ttl time.Duration) (token string, acquired bool, err error)
	Release(ctx context.Context, fid int64, token string) error
}

// releaseScript deletes the lock key only if the caller's token still
// owns it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisRunLock implements RunLocker on Redis SET NX, for deployments
// running more than one instance.
type RedisRunLock struct {
	client *redis.Client
	prefix string
}

// NewRedisRunLock creates a run locker backed by the given Redis URL.
func NewRedisRunLock(redisURL string) (*RedisRunLock, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisRunLock{client: client, prefix: "twin:runlock:"}, nil
}

func (l *RedisRunLock) key(fid int64) string {
	return fmt.Sprintf("%s%d", l.prefix, fid)
}

func (l *RedisRunLock) TryAcquire(ctx context.Context, fid int64, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, l.key(fid), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *RedisRunLock) Release(ctx context.Context, fid int64, token string) error {
	if token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.key(fid)}, token).Err(); err != nil {
		return fmt.Errorf("release run lock: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (l *RedisRunLock) Close() error {
	return l.client.Close()
}

type memoryLock struct {
	token  string
	expiry time.Time
}

// MemoryRunLock is the single-instance fallback when REDIS_URL is not
// configured.
type MemoryRunLock struct {
	mu    sync.Mutex
	held  map[int64]memoryLock
	clock func() time.Time
}

func NewMemoryRunLock() *MemoryRunLock {
	return &MemoryRunLock{
		held:  make(map[int64]memoryLock),
		clock: time.Now,
	}
}

func (l *MemoryRunLock) TryAcquire(_ context.Context, fid int64, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if entry, ok := l.held[fid]; ok && now.Before(entry.expiry) {
		return "", false, nil
	}
	token := uuid.New().String()
	l.held[fid] = memoryLock{token: token, expiry: now.Add(ttl)}
	return token, true, nil
}

func (l *MemoryRunLock) Release(_ context.Context, fid int64, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.held[fid]; ok && entry.token == token {
		delete(l.held, fid)
	}
	return nil
}
