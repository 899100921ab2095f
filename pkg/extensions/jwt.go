// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultSessionIssuer is the issuer claim expected when none is configured.
const DefaultSessionIssuer = "aleutian-research"

// SessionClaims are the claims carried by a research session token.
type SessionClaims struct {
	jwt.RegisteredClaims
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// JWTAuthProvider validates HS256 session tokens signed with a shared secret.
//
// # Description
//
// The session issuer (the sign-in service in front of the gateway) signs a
// token whose subject is the user id. The gateway only verifies. IssueToken
// is provided for tests and local tooling that need a valid session.
//
// # Thread Safety
//
// Safe for concurrent use. All fields are read-only after construction.
type JWTAuthProvider struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewJWTAuthProvider creates a provider for the given secret and issuer.
//
// # Inputs
//
//   - secret: HMAC key. Must not be empty.
//   - issuer: Expected "iss" claim. Empty uses DefaultSessionIssuer.
//
// # Outputs
//
//   - *JWTAuthProvider: Ready to validate tokens.
//   - error: Non-nil if the secret is empty.
func NewJWTAuthProvider(secret, issuer string) (*JWTAuthProvider, error) {
	if secret == "" {
		return nil, errors.New("session secret is not configured")
	}
	if issuer == "" {
		issuer = DefaultSessionIssuer
	}
	return &JWTAuthProvider{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}, nil
}

// Validate parses and verifies a session token.
//
// # Outputs
//
//   - *AuthInfo: Identity from the "sub", "email" and "roles" claims.
//   - error: Wraps ErrUnauthorized for empty, malformed, expired, wrongly
//     signed or wrongly issued tokens.
func (p *JWTAuthProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("no session token: %w", ErrUnauthorized)
	}

	parsed, err := jwt.ParseWithClaims(
		token,
		&SessionClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return p.secret, nil
		},
		jwt.WithIssuer(p.issuer),
		jwt.WithTimeFunc(p.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("validate session token: %v: %w", err, ErrUnauthorized)
	}

	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid session claims: %w", ErrUnauthorized)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("session token has no subject: %w", ErrUnauthorized)
	}

	return &AuthInfo{
		UserID:    claims.Subject,
		Email:     claims.Email,
		Roles:     claims.Roles,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// IssueToken signs a session token for the given identity.
func (p *JWTAuthProvider) IssueToken(info AuthInfo, ttl time.Duration) (string, time.Time, error) {
	now := p.now().UTC()
	exp := now.Add(ttl)

	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   info.UserID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		Email: info.Email,
		Roles: info.Roles,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, exp, nil
}

var _ AuthProvider = (*JWTAuthProvider)(nil)
