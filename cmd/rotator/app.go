package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/partition-rotator/internal/data"
	"github.com/example/partition-rotator/internal/logging"
	"github.com/example/partition-rotator/internal/rotation"
	"github.com/example/partition-rotator/internal/rotatorcfg"
)

// app holds the process-wide handles. close releases them in reverse order
// and is deferred by every command.
type app struct {
	cfg     *rotatorcfg.Config
	store   *data.Store
	redis   *redis.Client
	rot     *rotation.Rotator
	loc     *time.Location
	stopLog func()
}

func openApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := rotatorcfg.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	a := &app{cfg: cfg, stopLog: logging.Init(cfg.Logging)}
	logging.Info("rotator_start", logging.F("config", cfg.String()))
	ev := logging.NewEventLogger()

	if a.loc, err = cfg.Schedule.Location(); err != nil {
		a.close()
		return nil, err
	}
	a.store, err = data.NewStore(ctx, cfg.Database)
	if err != nil {
		ev.Infra("connect", "mssql", "failed", err.Error())
		a.close()
		return nil, fmt.Errorf("connect: %w", err)
	}
	ev.Infra("connect", "mssql", "success", "")

	lock, err := a.locker()
	if err != nil {
		a.close()
		return nil, err
	}
	a.rot, err = rotation.New(cfg.Partition, a.store, lock)
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) locker() (data.Locker, error) {
	p := a.cfg.Partition
	name := data.LockName(a.cfg.Redis.KeyPrefix, p.DatabaseName, p.TableName)
	switch a.cfg.Lock.Backend {
	case rotatorcfg.LockRedis:
		a.redis = data.NewRedisClient(a.cfg.Redis)
		return data.NewRedisLocker(a.redis, name, a.cfg.Lock.Expiry), nil
	case rotatorcfg.LockStore:
		return data.NewStoreLocker(a.store, name), nil
	case rotatorcfg.LockLocal:
		return data.NewLocalLocker(), nil
	}
	return nil, fmt.Errorf("lock: unknown backend %q", a.cfg.Lock.Backend)
}

func (a *app) close() {
	ev := logging.NewEventLogger()
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
		ev.Infra("disconnect", "mssql", "success", "")
	}
	if a.stopLog != nil {
		a.stopLog()
	}
}

// asOf resolves the as-of date for a command: --date if given, today in the
// configured zone otherwise, shifted by --offset days.
func asOf(date string, offset int, loc *time.Location, now time.Time) (time.Time, error) {
	base := now.In(loc)
	if date != "" {
		d, err := time.ParseInLocation("2006-01-02", date, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("--date: %w", err)
		}
		base = d
	}
	y, m, d := base.Date()
	return time.Date(y, m, d+offset, 0, 0, 0, 0, loc), nil
}
