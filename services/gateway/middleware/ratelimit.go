// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long an unused per-user limiter is kept.
const limiterIdleTTL = 10 * time.Minute

// RateLimit limits requests per authenticated user.
//
// # Description
//
// Each user gets a token bucket refilled at perMinute requests per minute
// with the given burst. Anonymous callers pass through untouched so the
// handler can answer 401. Over-limit requests are answered 429 with
// {"error": message}.
//
// A perMinute <= 0 disables limiting.
//
// # Limitations
//
//   - Limits are per gateway instance, not shared across replicas.
func RateLimit(perMinute, burst int, message string) gin.HandlerFunc {
	if perMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst <= 0 {
		burst = 1
	}

	every := rate.Every(time.Minute / time.Duration(perMinute))
	limiters := cache.New(limiterIdleTTL, 2*limiterIdleTTL)

	limiterFor := func(user string) *rate.Limiter {
		if v, ok := limiters.Get(user); ok {
			limiters.SetDefault(user, v)
			return v.(*rate.Limiter)
		}
		l := rate.NewLimiter(every, burst)
		if err := limiters.Add(user, l, cache.DefaultExpiration); err != nil {
			// Another request created it first.
			if v, ok := limiters.Get(user); ok {
				return v.(*rate.Limiter)
			}
		}
		return l
	}

	return func(c *gin.Context) {
		rc := GetRequestContext(c)
		if !rc.Authenticated() {
			c.Next()
			return
		}
		if !limiterFor(rc.Identity.UserID).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": message})
			return
		}
		c.Next()
	}
}
