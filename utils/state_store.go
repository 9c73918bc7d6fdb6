package utils

import (
	"context"
	"sync"
	"time"
)

// ttlSet is a set of keys with expiry, kept in redis when available and in
// process memory otherwise (single instance only).
type ttlSet struct {
	prefix string
	mu     sync.Mutex
	local  map[string]time.Time
}

func newTTLSet(prefix string) *ttlSet {
	return &ttlSet{prefix: prefix, local: map[string]time.Time{}}
}

func (s *ttlSet) add(key string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := rc.Set(ctx, s.prefix+key, "1", ttl).Err(); err == nil {
			return
		}
	}
	s.mu.Lock()
	s.sweepLocked()
	s.local[key] = time.Now().Add(ttl)
	s.mu.Unlock()
}

func (s *ttlSet) has(key string) bool {
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if n, err := rc.Exists(ctx, s.prefix+key).Result(); err == nil && n > 0 {
			return true
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.local[key]
	return ok && time.Now().Before(exp)
}

// take removes key and reports whether it was present and unexpired.
func (s *ttlSet) take(key string) bool {
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if v, err := rc.GetDel(ctx, s.prefix+key).Result(); err == nil && v != "" {
			return true
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.local[key]
	delete(s.local, key)
	return ok && time.Now().Before(exp)
}

func (s *ttlSet) sweepLocked() {
	now := time.Now()
	for k, exp := range s.local {
		if now.After(exp) {
			delete(s.local, k)
		}
	}
}

var oauthStates = newTTLSet("oauth:state:")

// SaveState stores an OAuth state token with TTL to mitigate CSRF.
func SaveState(state string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	oauthStates.add(state, ttl)
}

// ConsumeState validates and removes a state token; each state is single use.
func ConsumeState(state string) bool {
	if state == "" {
		return false
	}
	return oauthStates.take(state)
}
