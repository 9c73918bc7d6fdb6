package utils

import (
	"context"
	"encoding/json"
	"time"
)

const defaultCacheTTL = time.Minute

// CacheGetJSON loads key into out. It reports false on a miss, a decode
// error or when redis is not configured.
func CacheGetJSON(key string, out interface{}) bool {
	rc := GetRedis()
	if rc == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, err := rc.Get(ctx, key).Bytes()
	if err != nil {
		Sugar.Debugf("cache get miss key=%s err=%v", key, err)
		return false
	}
	if err := json.Unmarshal(b, out); err != nil {
		Sugar.Warnf("cache decode failed key=%s err=%v", key, err)
		return false
	}
	return true
}

// CacheSetJSON marshals v and stores it for ttl (default one minute).
func CacheSetJSON(key string, v interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	rc := GetRedis()
	if rc == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rc.Set(ctx, key, b, ttl).Err(); err != nil {
		Sugar.Warnf("cache set failed key=%s err=%v", key, err)
	}
}

// InvalidateByPrefix deletes keys that match the given prefix using SCAN.
func InvalidateByPrefix(prefix string) {
	rc := GetRedis()
	if rc == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var cursor uint64
	for i := 0; i < 10; i++ { // bounded rounds
		keys, cur, err := rc.Scan(ctx, cursor, prefix+"*", 1000).Result()
		if err != nil {
			break
		}
		cursor = cur
		if len(keys) > 0 {
			_ = rc.Del(ctx, keys...).Err()
		}
		if cursor == 0 {
			break
		}
	}
}
