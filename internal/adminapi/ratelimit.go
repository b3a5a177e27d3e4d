package adminapi

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/alexisbeaulieu97/reconciler/internal/logger"
)

const (
	rateWindow       = time.Minute
	sweepInterval    = 5 * time.Minute
	redisCallTimeout = 250 * time.Millisecond
	redisPingTimeout = 2 * time.Second
	redisKeyPrefix   = "reconciler:ratelimit:"
)

// RateLimiter counts requests per key in fixed windows.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) Decision
	Close()
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Count     int
	WindowEnd time.Time
}

type memoryLimiter struct {
	mu      sync.Mutex
	entries map[string]Decision
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewMemoryRateLimiter returns a process-local limiter.
func NewMemoryRateLimiter() RateLimiter {
	return newMemoryLimiter(time.Now)
}

func newMemoryLimiter(now func() time.Time) *memoryLimiter {
	rl := &memoryLimiter{entries: make(map[string]Decision), now: now, stop: make(chan struct{})}
	go rl.sweep()
	return rl
}

func (rl *memoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) Decision {
	if limit <= 0 {
		return Decision{Allowed: true}
	}
	if window <= 0 {
		window = rateWindow
	}
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, ok := rl.entries[key]
	if !ok || now.After(state.WindowEnd) {
		state = Decision{Allowed: true, Count: 1, WindowEnd: now.Add(window)}
		rl.entries[key] = state
		return state
	}
	if state.Count >= limit {
		return Decision{Allowed: false, Count: state.Count, WindowEnd: state.WindowEnd}
	}
	state.Count++
	rl.entries[key] = state
	return state
}

func (rl *memoryLimiter) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := rl.now()
			rl.mu.Lock()
			for key, state := range rl.entries {
				if now.After(state.WindowEnd) {
					delete(rl.entries, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stop:
			return
		}
	}
}

func (rl *memoryLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

type redisLimiter struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisRateLimiter connects to Redis and fails if it cannot be pinged.
// Redis errors after startup fail open.
func NewRedisRateLimiter(ctx context.Context, addr, password string, db int, log *logger.Logger) (RateLimiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &redisLimiter{client: client, log: log}, nil
}

func (rl *redisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) Decision {
	if limit <= 0 {
		return Decision{Allowed: true}
	}
	if window <= 0 {
		window = rateWindow
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), redisCallTimeout)
	defer cancel()

	redisKey := redisKeyPrefix + key
	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, window)
	ttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		rl.log.Error(err, "redis rate limiter unavailable")
		return Decision{Allowed: true}
	}

	remaining := ttl.Val()
	if remaining <= 0 {
		remaining = window
	}
	count := int(incr.Val())
	return Decision{Allowed: count <= limit, Count: count, WindowEnd: time.Now().Add(remaining)}
}

func (rl *redisLimiter) Close() {
	_ = rl.client.Close()
}

func (s *Server) withRateLimit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if s.rateLimit <= 0 || s.limiter == nil {
			next(w, req)
			return
		}
		key := rateKey(req)
		decision := s.limiter.Allow(req.Context(), key, s.rateLimit, rateWindow)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(s.rateLimit))
		remaining := s.rateLimit - decision.Count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !decision.Allowed {
			s.metrics.ObserveRateLimit(route)
			if !decision.WindowEnd.IsZero() {
				retry := int(time.Until(decision.WindowEnd).Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retry))
			}
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, req)
	}
}

// rateKey limits authenticated callers by subject and everyone else by address.
func rateKey(req *http.Request) string {
	if caller, ok := callerFromContext(req.Context()); ok {
		return "sub:" + caller.Subject
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil || host == "" {
		host = req.RemoteAddr
	}
	return "ip:" + host
}
