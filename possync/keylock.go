package possync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
)

// KeyLocker serializes merges of the same (entityName, entityUuid).
// Different keys never contend.
type KeyLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

func lockKey(entityName, entityUuid string) string {
	return entityName + "|" + entityUuid
}

type keyMutex struct {
	mu   sync.Mutex
	refs int
}

// LocalKeyLocker is an in-process per-key mutex map. Entries are dropped once unreferenced.
type LocalKeyLocker struct {
	mu    sync.Mutex
	locks map[string]*keyMutex
}

func NewLocalKeyLocker() *LocalKeyLocker {
	return &LocalKeyLocker{locks: make(map[string]*keyMutex)}
}

func (l *LocalKeyLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	km, ok := l.locks[key]
	if !ok {
		km = &keyMutex{}
		l.locks[key] = km
	}
	km.refs++
	l.mu.Unlock()

	acquired := make(chan struct{})
	go func() {
		km.mu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-ctx.Done():
		// The goroutine still takes the mutex; hand it back as soon as it does.
		go func() {
			<-acquired
			l.release(key, km)
		}()
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() { once.Do(func() { l.release(key, km) }) }, nil
}

func (l *LocalKeyLocker) release(key string, km *keyMutex) {
	km.mu.Unlock()
	l.mu.Lock()
	km.refs--
	if km.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

// RedisKeyLocker extends the local lock across central replicas with redislock.
type RedisKeyLocker struct {
	local  *LocalKeyLocker
	client *redislock.Client
	ttl    time.Duration
	prefix string
}

func NewRedisKeyLocker(client *redislock.Client, ttl time.Duration) *RedisKeyLocker {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &RedisKeyLocker{
		local:  NewLocalKeyLocker(),
		client: client,
		ttl:    ttl,
		prefix: "lock:sync:",
	}
}

func (l *RedisKeyLocker) Lock(ctx context.Context, key string) (func(), error) {
	unlockLocal, err := l.local.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	if l.client == nil {
		return unlockLocal, nil
	}

	retry := redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), int(l.ttl/(50*time.Millisecond)))
	lock, err := l.client.Obtain(ctx, l.prefix+key, l.ttl, &redislock.Options{RetryStrategy: retry})
	if err != nil {
		unlockLocal()
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Release on a fresh context: the caller's may already be done.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = lock.Release(releaseCtx)
			unlockLocal()
		})
	}, nil
}
