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
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultValidationTTL bounds how long a successful validation is reused.
const DefaultValidationTTL = 30 * time.Second

// CachedAuthProvider memoises successful validations of another provider.
//
// # Description
//
// The desk polls the document list and submits research through the same
// session token many times a minute. Re-verifying the signature on every
// request is cheap, but providers that call out to an identity service are
// not. Only successes are cached; failures always reach the inner provider
// so a freshly issued token is accepted immediately.
//
// Keys are SHA-256 digests of the token so raw tokens are never held as map
// keys.
//
// An entry never outlives the token: it is cached for the shorter of ttl and
// the time left until AuthInfo.ExpiresAt, and an expired entry is dropped on
// read.
//
// # Limitations
//
//   - A revoked token stays valid for up to ttl.
type CachedAuthProvider struct {
	inner AuthProvider
	cache *cache.Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewCachedAuthProvider wraps inner. A ttl <= 0 uses DefaultValidationTTL.
func NewCachedAuthProvider(inner AuthProvider, ttl time.Duration) *CachedAuthProvider {
	if ttl <= 0 {
		ttl = DefaultValidationTTL
	}
	return &CachedAuthProvider{
		inner: inner,
		cache: cache.New(ttl, 2*ttl),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Validate returns the cached identity for token or asks the inner provider.
func (p *CachedAuthProvider) Validate(ctx context.Context, token string) (*AuthInfo, error) {
	if token == "" {
		return p.inner.Validate(ctx, token)
	}

	key := tokenKey(token)
	if v, ok := p.cache.Get(key); ok {
		if info, ok := v.(*AuthInfo); ok && !p.expired(info) {
			return info, nil
		}
		p.cache.Delete(key)
	}

	info, err := p.inner.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if ttl := p.entryTTL(info); ttl > 0 {
		p.cache.Set(key, info, ttl)
	}
	return info, nil
}

func (p *CachedAuthProvider) expired(info *AuthInfo) bool {
	return !info.ExpiresAt.IsZero() && !p.now().Before(info.ExpiresAt)
}

// entryTTL is ttl capped at the time left on the token.
func (p *CachedAuthProvider) entryTTL(info *AuthInfo) time.Duration {
	if info.ExpiresAt.IsZero() {
		return p.ttl
	}
	return min(p.ttl, info.ExpiresAt.Sub(p.now()))
}

// Len reports the number of cached identities.
func (p *CachedAuthProvider) Len() int {
	return p.cache.ItemCount()
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

var _ AuthProvider = (*CachedAuthProvider)(nil)
