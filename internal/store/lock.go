package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another writer holds the record lock past the
// caller's deadline.
var ErrLockHeld = errors.New("deployment record locked by another writer")

// Locker serialises writers of the deployment record across processes.
type Locker interface {
	Lock(ctx context.Context) (unlock func() error, err error)
}

// NopLocker is for single-writer setups.
type NopLocker struct{}

func (NopLocker) Lock(context.Context) (func() error, error) {
	return func() error { return nil }, nil
}

// FileLocker takes an advisory flock on a sidecar file next to the record.
type FileLocker struct {
	path  string
	retry time.Duration
}

// NewFileLocker locks "<recordPath>.lock".
func NewFileLocker(recordPath string) *FileLocker {
	return &FileLocker{path: recordPath + ".lock", retry: 50 * time.Millisecond}
}

func (l *FileLocker) Lock(ctx context.Context) (func() error, error) {
	fl := flock.New(l.path)
	ok, err := fl.TryLockContext(ctx, l.retry)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrLockHeld, l.path, err)
		}
		return nil, fmt.Errorf("flock %s: %w", l.path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLockHeld, l.path)
	}
	return fl.Unlock, nil
}

// releaseScript deletes the lock key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker holds a SET NX PX lease in Redis, for operators that run the
// orchestrator from more than one host against a shared record.
type RedisLocker struct {
	rdb   redis.UniversalClient
	key   string
	ttl   time.Duration
	retry time.Duration
}

// NewRedisLocker builds a lease named key with the given TTL.
func NewRedisLocker(rdb redis.UniversalClient, key string, ttl time.Duration) *RedisLocker {
	return &RedisLocker{rdb: rdb, key: key, ttl: ttl, retry: 100 * time.Millisecond}
}

func (l *RedisLocker) Lock(ctx context.Context) (func() error, error) {
	token, err := randomToken()
	if err != nil {
		return nil, err
	}
	for {
		ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s", ErrLockHeld, l.key)
			}
			return nil, fmt.Errorf("redis SETNX %s: %w", l.key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrLockHeld, l.key)
		case <-time.After(l.retry):
		}
	}
	return func() error {
		// Release on a fresh context: the caller's may already be cancelled.
		return releaseScript.Run(context.Background(), l.rdb, []string{l.key}, token).Err()
	}, nil
}

func randomToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("lock token: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
