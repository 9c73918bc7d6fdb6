package utils

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cppla/checkin/config"
)

var (
	redisClient *redis.Client
	redisOnce   sync.Once
)

// GetRedis returns the shared client, or nil when redis is not configured or
// did not answer the startup ping. Callers fall back to in-memory state on nil.
func GetRedis() *redis.Client {
	redisOnce.Do(func() {
		cfg := config.Get()
		if cfg.RedisHost == "" {
			return
		}
		rc := redis.NewClient(&redis.Options{
			Addr:         net.JoinHostPort(cfg.RedisHost, strconv.Itoa(cfg.RedisPort)),
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			DialTimeout:  3 * time.Second,
			ReadTimeout:  2 * time.Second,
			WriteTimeout: 2 * time.Second,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := rc.Ping(ctx).Err(); err != nil {
			Sugar.Warnf("redis unavailable at %s, using in-memory fallbacks: %v", rc.Options().Addr, err)
			_ = rc.Close()
			return
		}
		redisClient = rc
	})
	return redisClient
}

// SetRedis overrides the shared client; nil forces the in-memory fallbacks.
func SetRedis(rc *redis.Client) {
	redisOnce.Do(func() {})
	redisClient = rc
}
