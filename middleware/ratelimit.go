package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const sweepInterval = 30 * time.Second

// Limits configures a RateLimiter.
type Limits struct {
	// Rate and Burst size the token bucket of each client and route.
	Rate  rate.Limit
	Burst int
	// Streams caps the open streams of one client. Zero means no cap.
	Streams int
	// Idle is how long a client without open streams is remembered.
	Idle time.Duration
}

type client struct {
	routes   map[string]*rate.Limiter
	streams  int
	lastSeen time.Time
}

// RateLimiter throttles requests per client IP and route, and bounds how
// many streams a client may hold open at once.
type RateLimiter struct {
	limits Limits
	now    func() time.Time

	mu      sync.Mutex
	clients map[string]*client

	stop     chan struct{}
	stopOnce sync.Once
}

func NewRateLimiter(limits Limits) *RateLimiter {
	return &RateLimiter{
		limits:  limits,
		now:     time.Now,
		clients: make(map[string]*client),
		stop:    make(chan struct{}),
	}
}

// clientLocked returns the state of ip, creating it. rl.mu must be held.
func (rl *RateLimiter) clientLocked(ip string) *client {
	cl, ok := rl.clients[ip]
	if !ok {
		cl = &client{routes: make(map[string]*rate.Limiter)}
		rl.clients[ip] = cl
	}
	cl.lastSeen = rl.now()
	return cl
}

func (rl *RateLimiter) allow(ip, route string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cl := rl.clientLocked(ip)
	lim, ok := cl.routes[route]
	if !ok {
		lim = rate.NewLimiter(rl.limits.Rate, rl.limits.Burst)
		cl.routes[route] = lim
	}
	return lim.Allow()
}

func (rl *RateLimiter) acquireStream(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cl := rl.clientLocked(ip)
	if rl.limits.Streams > 0 && cl.streams >= rl.limits.Streams {
		return false
	}
	cl.streams++
	return true
}

func (rl *RateLimiter) releaseStream(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if cl, ok := rl.clients[ip]; ok && cl.streams > 0 {
		cl.streams--
		cl.lastSeen = rl.now()
	}
}

func (rl *RateLimiter) openStreams(ip string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if cl, ok := rl.clients[ip]; ok {
		return cl.streams
	}
	return 0
}

// sweep forgets clients idle since before now-Idle. Clients holding a stream
// are kept.
func (rl *RateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, cl := range rl.clients {
		if cl.streams == 0 && now.Sub(cl.lastSeen) > rl.limits.Idle {
			delete(rl.clients, ip)
		}
	}
}

// Run sweeps idle clients until Stop is called.
func (rl *RateLimiter) Run() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.sweep(now)
		}
	}
}

func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Handler answers 429 once a client exhausts the bucket of the route.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		if !rl.allow(c.ClientIP(), route) {
			tooMany(c, "too many requests")
			return
		}
		c.Next()
	}
}

// Streams holds one of the client's stream slots for as long as the rest of
// the chain runs, and answers 429 when none is free.
func (rl *RateLimiter) Streams() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !rl.acquireStream(ip) {
			tooMany(c, "too many open streams")
			return
		}
		defer rl.releaseStream(ip)
		c.Next()
	}
}

func tooMany(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"code":    "TOO_MANY_REQUESTS",
		"status":  http.StatusTooManyRequests,
		"message": message,
	})
}
