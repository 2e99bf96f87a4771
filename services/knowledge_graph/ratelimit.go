// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge_graph

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// idleClientTTL is how long an unused per-client limiter is kept.
const idleClientTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles API requests per client IP with a token bucket.
//
// # Description
//
// Each client gets its own rate.Limiter refilling at rps tokens per second
// up to burst. Requests without a token get 429 and a Retry-After header.
// Limiters idle for longer than ten minutes are swept on the next request
// after the sweep interval.
//
// # Thread Safety
//
// Safe for concurrent use.
type RateLimiter struct {
	rps    rate.Limit
	burst  int
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	clients   map[string]*clientLimiter
	lastSweep time.Time
}

// NewRateLimiter creates a limiter allowing rps requests per second per
// client with the given burst. A burst below one is raised to
// ceil(rps).
func NewRateLimiter(rps float64, burst int, logger *slog.Logger) *RateLimiter {
	if burst < 1 {
		burst = max(1, int(math.Ceil(rps)))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		logger:  logger,
		now:     time.Now,
		clients: make(map[string]*clientLimiter),
	}
}

// Middleware returns the gin handler enforcing the limit.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		client := c.ClientIP()
		wait, ok := rl.allow(client)
		if ok {
			c.Next()
			return
		}

		rl.logger.Warn("rate limit exceeded",
			slog.String("client_ip", client),
			slog.String("path", c.Request.URL.Path),
		)
		c.Header("Retry-After", strconv.Itoa(max(1, int(math.Ceil(wait.Seconds())))))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
			Error: "rate limit exceeded",
			Code:  "RATE_LIMITED",
		})
	}
}

// allow takes a token for client. When none is available it reports how
// long until one would be.
func (rl *RateLimiter) allow(client string) (time.Duration, bool) {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) > idleClientTTL {
		for k, cl := range rl.clients {
			if now.Sub(cl.lastSeen) > idleClientTTL {
				delete(rl.clients, k)
			}
		}
		rl.lastSweep = now
	}

	cl, ok := rl.clients[client]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.clients[client] = cl
	}
	cl.lastSeen = now

	if cl.limiter.AllowN(now, 1) {
		return 0, true
	}
	res := cl.limiter.ReserveN(now, 1)
	wait := res.DelayFrom(now)
	res.CancelAt(now)
	return wait, false
}

// clientCount reports how many client limiters are tracked.
func (rl *RateLimiter) clientCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
