// Package dedup tracks content fingerprints already written during a run so
// identical images are only saved once.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanCount = 1000

// Store claims fingerprints. Claim reports true only for the first caller of
// a given fingerprint; every later claim returns false.
type Store interface {
	Claim(ctx context.Context, fingerprint string) (bool, error)
	Reset(ctx context.Context) error
	Len(ctx context.Context) (int, error)
}

// MemoryStore keeps fingerprints in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]struct{})}
}

func (m *MemoryStore) Claim(_ context.Context, fingerprint string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[fingerprint]; ok {
		return false, nil
	}
	m.seen[fingerprint] = struct{}{}
	return true, nil
}

func (m *MemoryStore) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = make(map[string]struct{})
	return nil
}

func (m *MemoryStore) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen), nil
}

// RedisStore shares fingerprints between processes through SETNX keys scoped
// to one run.
type RedisStore struct {
	cl     *redis.Client
	prefix string
	ttl    time.Duration
	log    *slog.Logger
}

// Connect parses redisURL, opens a client and pings it.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	cl := redis.NewClient(opt)
	if _, err := cl.Ping(ctx).Result(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return cl, nil
}

// NewRedisStore scopes a store to runID on an existing client. The client
// stays owned by the caller.
func NewRedisStore(cl *redis.Client, runID string, ttl time.Duration, log *slog.Logger) *RedisStore {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &RedisStore{
		cl:     cl,
		prefix: fmt.Sprintf("picget:dedup:%s:", runID),
		ttl:    ttl,
		log:    log.With(slog.String("component", "dedup")),
	}
}

func (r *RedisStore) Claim(ctx context.Context, fingerprint string) (bool, error) {
	ok, err := r.cl.SetNX(ctx, r.prefix+fingerprint, "1", r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cannot claim fingerprint: %w", err)
	}
	return ok, nil
}

func (r *RedisStore) Reset(ctx context.Context) error {
	var (
		cursor  uint64
		deleted int64
	)
	for {
		keys, next, err := r.cl.Scan(ctx, cursor, r.prefix+"*", scanCount).Result()
		if err != nil {
			return fmt.Errorf("error scanning keys: %w", err)
		}
		if len(keys) > 0 {
			n, err := r.cl.Del(ctx, keys...).Result()
			if err != nil {
				return fmt.Errorf("error deleting keys: %w", err)
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	r.log.Debug("Fingerprints cleared", slog.String("prefix", r.prefix), slog.Int64("key_count", deleted))
	return nil
}

func (r *RedisStore) Len(ctx context.Context) (int, error) {
	var (
		cursor uint64
		count  int
	)
	for {
		keys, next, err := r.cl.Scan(ctx, cursor, r.prefix+"*", scanCount).Result()
		if err != nil {
			return 0, fmt.Errorf("error scanning keys: %w", err)
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}
