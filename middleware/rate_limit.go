package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/cppla/checkin/utils"
)

const limiterIdleTTL = 5 * time.Minute

type visitor struct {
	limiter *rate.Limiter
	expires time.Time
}

// limiterSet holds one token bucket per caller key.
type limiterSet struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
}

func newLimiterSet(perMinute int) *limiterSet {
	perMinute = max(perMinute, 1)
	return &limiterSet{
		visitors: map[string]*visitor{},
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    max(perMinute/2, 1),
	}
}

func (s *limiterSet) allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for k, v := range s.visitors {
		if now.After(v.expires) {
			delete(s.visitors, k)
		}
	}
	v, ok := s.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.visitors[key] = v
	}
	v.expires = now.Add(limiterIdleTTL)
	return v.limiter.Allow()
}

// RateLimit applies a token bucket per authenticated user, or per client IP
// for anonymous requests.
func RateLimit(perMinute int) gin.HandlerFunc {
	set := newLimiterSet(perMinute)
	return func(ctx *gin.Context) {
		key := "ip:" + ctx.ClientIP()
		if id, ok := ctx.Get(ContextUserIDKey); ok {
			key = fmt.Sprintf("user:%v", id)
		}
		if !set.allow(key) {
			utils.Abort(ctx, http.StatusTooManyRequests, 42901, "rate limit exceeded")
			return
		}
		ctx.Next()
	}
}
