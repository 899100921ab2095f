// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extensions defines the pluggable session provider and audit
// logger used by the research gateway.
//
// The gateway never mints user sessions itself. It receives a session token
// from the browser or CLI and asks an AuthProvider who the caller is. The
// resulting AuthInfo is what the Backend Gateway Adapter turns into the
// X-User-Id / X-User-Email headers the research backend expects.
//
// Three providers ship in this package:
//
//   - JWTAuthProvider: validates HS256 session tokens (production)
//   - CachedAuthProvider: memoises another provider's successful results
//   - NopAuthProvider: treats every caller as "local-user" (development)
//
// Every proxied request also produces one AuditEvent; see audit.go.
package extensions

import (
	"context"
	"errors"
	"time"
)

// ErrUnauthorized is returned when a session token is missing or invalid.
// Providers wrap it with detail:
//
//	return nil, fmt.Errorf("token expired: %w", extensions.ErrUnauthorized)
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo is the identity resolved for one request.
//
// Required fields (always populated):
//   - UserID: Unique identifier for the user
//
// Optional fields (may be empty):
//   - Email: Primary email address, forwarded as X-User-Email
//   - Roles: Role memberships carried in the session token
type AuthInfo struct {
	// UserID is the unique identifier for the authenticated user.
	// This is the only required field and must never be empty.
	UserID string

	// Email is the user's primary email address.
	Email string

	// Roles contains the user's role memberships.
	Roles []string

	// ExpiresAt is when the session token stops being valid. Zero means the
	// provider sets no expiry.
	ExpiresAt time.Time
}

// HasRole checks if the user has a specific role.
func (a *AuthInfo) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates session tokens and returns user identity.
// Implementations must be safe for concurrent use by multiple goroutines.
//
// Returns:
//   - *AuthInfo: User identity information if valid
//   - error: ErrUnauthorized (or wrapped) if invalid, other errors for failures
type AuthProvider interface {
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider authenticates every caller as "local-user".
//
// It exists for running the gateway next to a local backend without an
// identity provider. It must never be configured in a shared deployment.
type NopAuthProvider struct{}

// Validate always returns the local user. The token is ignored.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID: "local-user",
		Roles:  []string{"admin"},
	}, nil
}

var _ AuthProvider = (*NopAuthProvider)(nil)
