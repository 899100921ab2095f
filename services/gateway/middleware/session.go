// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the research gateway.
//
// # Session Flow
//
// The session middleware resolves the caller once per request and stores a
// RequestContext in the Gin context. Proxy handlers read it through
// GetRequestContext and never look the session up themselves.
//
//	Request
//	   │
//	   ▼
//	Session
//	   │
//	   ├─► Token from "Authorization: Bearer <token>", else "__session" cookie
//	   │
//	   ├─► provider.Validate(ctx, token)
//	   │
//	   └─► Store RequestContext (identity may be nil)
//	           │
//	           ▼
//	       Handler (401 when Identity is nil)
//
// The middleware itself never rejects a request. Input validation in the
// handlers runs first, so a malformed request from an anonymous caller is a
// 400, not a 401.
package middleware

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianResearch/pkg/extensions"
)

// =============================================================================
// Request Context
// =============================================================================

const (
	requestContextKey = "aleutian_request_context"

	// SessionCookie is the cookie the sign-in service sets.
	SessionCookie = "__session"

	// RequestIDHeader carries the request id in both directions.
	RequestIDHeader = "X-Request-Id"
)

// RequestContext is the per-request view of the caller.
type RequestContext struct {
	// Identity is the authenticated user, or nil for an anonymous caller.
	Identity *extensions.AuthInfo

	// RequestID correlates gateway logs with the caller.
	RequestID string
}

// Authenticated reports whether the caller has a session.
func (rc *RequestContext) Authenticated() bool {
	return rc != nil && rc.Identity != nil && rc.Identity.UserID != ""
}

// SetRequestContext stores rc in the Gin context.
func SetRequestContext(c *gin.Context, rc *RequestContext) {
	c.Set(requestContextKey, rc)
}

// GetRequestContext returns the RequestContext stored by Session.
//
// # Outputs
//
//   - *RequestContext: Never nil. An anonymous context is returned when the
//     middleware did not run.
func GetRequestContext(c *gin.Context) *RequestContext {
	if v, ok := c.Get(requestContextKey); ok {
		if rc, ok := v.(*RequestContext); ok && rc != nil {
			return rc
		}
	}
	return &RequestContext{RequestID: c.GetHeader(RequestIDHeader)}
}

// =============================================================================
// Session Middleware
// =============================================================================

// Session resolves the caller with provider and stores a RequestContext.
//
// # Inputs
//
//   - provider: Validates session tokens. Must not be nil.
//   - logger: Receives rejected-token warnings. Nil uses slog.Default().
//
// # Thread Safety
//
// The returned middleware is safe for concurrent use.
func Session(provider extensions.AuthProvider, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header(RequestIDHeader, requestID)

		rc := &RequestContext{RequestID: requestID}

		token := extractSessionToken(c)
		info, err := provider.Validate(c.Request.Context(), token)
		switch {
		case err == nil:
			rc.Identity = info
		case errors.Is(err, extensions.ErrUnauthorized):
			if token != "" {
				logger.Debug("Rejected session token", "request_id", requestID, "error", err)
			}
		default:
			logger.Warn("Session provider failed", "request_id", requestID, "error", err)
		}

		SetRequestContext(c, rc)
		c.Next()
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// extractSessionToken returns the bearer token, falling back to the session
// cookie. The "Bearer" prefix is case-insensitive per RFC 7235.
func extractSessionToken(c *gin.Context) string {
	if token := extractBearerToken(c.GetHeader("Authorization")); token != "" {
		return token
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil {
		return strings.TrimSpace(cookie)
	}
	return ""
}

func extractBearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
