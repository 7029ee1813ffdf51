package data

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/partition-rotator/internal/rotatorcfg"
)

// NewRedisClient builds the client used for the tick lock.
func NewRedisClient(cfg rotatorcfg.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		DialTimeout:  3 * time.Second,
	})
}
