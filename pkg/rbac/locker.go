package rbac

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrLockTimeout is returned when a lock could not be acquired before the context ended.
var ErrLockTimeout = errors.New("timed out acquiring role lock")

// Locker serializes state changes on the same (identity, organization, role) keys.
// Lock acquires every key or none; the returned func releases them.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (func(), error)
}

var (
	_ Locker = (*LocalLocker)(nil)
	_ Locker = (*RedisLocker)(nil)
)

// AssignmentLockKey is the lock key of one (identity, scope, role) triple.
func AssignmentLockKey(identityID string, scope Scope, role Role) string {
	return fmt.Sprintf("roster:lock:assignment:%s:%s:%s", identityID, scope, role)
}

// AdminLockKey serializes admin grants within one organization.
func AdminLockKey(organizationID string) string {
	return fmt.Sprintf("roster:lock:admin:%s", organizationID)
}

// normalizeKeys sorts and deduplicates keys so that every caller acquires
// overlapping key sets in the same order.
func normalizeKeys(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	n := 0
	for i, k := range out {
		if i > 0 && k == out[n-1] {
			continue
		}
		out[n] = k
		n++
	}
	return out[:n]
}

// LocalLocker is an in-process keyed mutex.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*lockSlot)}
}

func (l *LocalLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = normalizeKeys(keys)
	acquired := make([]string, 0, len(keys))

	release := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			l.release(acquired[i])
		}
	}

	for _, key := range keys {
		slot := l.slot(key)
		select {
		case slot.ch <- struct{}{}:
			acquired = append(acquired, key)
		case <-ctx.Done():
			l.unref(key)
			release()
			return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, ctx.Err())
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (l *LocalLocker) slot(key string) *lockSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *LocalLocker) release(key string) {
	l.mu.Lock()
	s := l.slots[key]
	l.mu.Unlock()
	<-s.ch
	l.unref(key)
}

func (l *LocalLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.slots[key]
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// unlockScript deletes the key only while it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every replica through Redis.
type RedisLocker struct {
	client  *redis.Client
	ttl     time.Duration
	retry   time.Duration
	maxWait time.Duration
}

// RedisLockerOption configures a RedisLocker.
type RedisLockerOption func(*RedisLocker)

// WithLockTTL bounds how long a crashed holder can block others.
func WithLockTTL(ttl time.Duration) RedisLockerOption {
	return func(l *RedisLocker) { l.ttl = ttl }
}

// WithLockRetry sets the polling interval while a key is held elsewhere.
func WithLockRetry(d time.Duration) RedisLockerOption {
	return func(l *RedisLocker) { l.retry = d }
}

// WithLockMaxWait caps waiting when the caller's context has no deadline.
func WithLockMaxWait(d time.Duration) RedisLockerOption {
	return func(l *RedisLocker) { l.maxWait = d }
}

func NewRedisLocker(client *redis.Client, opts ...RedisLockerOption) *RedisLocker {
	l := &RedisLocker{
		client:  client,
		ttl:     30 * time.Second,
		retry:   25 * time.Millisecond,
		maxWait: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type heldKey struct {
	key   string
	token string
}

func (l *RedisLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = normalizeKeys(keys)
	if _, ok := ctx.Deadline(); !ok && l.maxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.maxWait)
		defer cancel()
	}

	held := make([]heldKey, 0, len(keys))
	release := func() {
		// Release with a fresh context; the acquiring one may already be done.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			unlockScript.Run(rctx, l.client, []string{held[i].key}, held[i].token)
		}
	}

	for _, key := range keys {
		token := uuid.NewString()
		if err := l.acquire(ctx, key, token); err != nil {
			release()
			return nil, err
		}
		held = append(held, heldKey{key: key, token: token})
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (l *RedisLocker) acquire(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, ctx.Err())
			}
			return fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, ctx.Err())
		}
	}
}
