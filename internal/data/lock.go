package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"github.com/example/partition-rotator/internal/rotatorcfg"
)

// ErrLockHeld means another runner owns the tick; the caller skips this tick.
var ErrLockHeld = errors.New("rotation lock held by another runner")

// Locker provides single-flight execution around a tick. Lock never waits:
// a busy lock yields ErrLockHeld.
type Locker interface {
	Lock(ctx context.Context) (Unlock, error)
	Backend() string
}

type Unlock func(ctx context.Context) error

// LocalLocker guards one process only.
type LocalLocker struct {
	mu sync.Mutex
}

func NewLocalLocker() *LocalLocker { return &LocalLocker{} }

func (l *LocalLocker) Backend() string { return rotatorcfg.LockLocal }

func (l *LocalLocker) Lock(context.Context) (Unlock, error) {
	if !l.mu.TryLock() {
		return nil, ErrLockHeld
	}
	var once sync.Once
	return func(context.Context) error {
		once.Do(l.mu.Unlock)
		return nil
	}, nil
}

// RedisLocker is a redsync mutex over go-redis, shared by every instance
// pointing at the same Redis.
type RedisLocker struct {
	rs     *redsync.Redsync
	name   string
	expiry time.Duration
}

func NewRedisLocker(client *redis.Client, name string, expiry time.Duration) *RedisLocker {
	return &RedisLocker{rs: redsync.New(goredis.NewPool(client)), name: name, expiry: expiry}
}

func (l *RedisLocker) Backend() string { return rotatorcfg.LockRedis }

func (l *RedisLocker) Lock(ctx context.Context) (Unlock, error) {
	mutex := l.rs.NewMutex(l.name, redsync.WithExpiry(l.expiry), redsync.WithTries(1))
	lctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := mutex.LockContext(lctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			return nil, ErrLockHeld
		}
		return nil, fmt.Errorf("redis lock: %w", err)
	}
	return func(ctx context.Context) error {
		uctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		ok, err := mutex.UnlockContext(uctx)
		if err != nil {
			return fmt.Errorf("redis unlock: %w", err)
		}
		if !ok {
			return errors.New("redis unlock: lock expired before release")
		}
		return nil
	}, nil
}

// StoreLocker takes a session-owned sp_getapplock on a dedicated connection
// of the partitioned database itself.
type StoreLocker struct {
	store    *Store
	resource string
}

func NewStoreLocker(store *Store, resource string) *StoreLocker {
	return &StoreLocker{store: store, resource: resource}
}

func (l *StoreLocker) Backend() string { return rotatorcfg.LockStore }

const (
	getAppLock = `DECLARE @rc int;
EXEC @rc = sp_getapplock @Resource = @resource, @LockMode = 'Exclusive', @LockOwner = 'Session', @LockTimeout = 0;
SELECT @rc;`
	releaseAppLock = `EXEC sp_releaseapplock @Resource = @resource, @LockOwner = 'Session';`
)

func (l *StoreLocker) Lock(ctx context.Context) (Unlock, error) {
	conn, err := l.store.DB().Connx(ctx)
	if err != nil {
		return nil, err
	}
	var rc int
	if err := conn.QueryRowxContext(ctx, getAppLock, sql.Named("resource", l.resource)).Scan(&rc); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sp_getapplock: %w", err)
	}
	switch {
	case rc >= 0:
	case rc == -1:
		_ = conn.Close()
		return nil, ErrLockHeld
	default:
		_ = conn.Close()
		return nil, fmt.Errorf("sp_getapplock: return code %d", rc)
	}
	return func(ctx context.Context) error {
		defer conn.Close()
		if _, err := conn.ExecContext(ctx, releaseAppLock, sql.Named("resource", l.resource)); err != nil {
			return fmt.Errorf("sp_releaseapplock: %w", err)
		}
		return nil
	}, nil
}

// LockName is the resource name shared by all backends for one table.
func LockName(prefix, database, table string) string {
	return prefix + "rotation:" + database + ":" + table
}
