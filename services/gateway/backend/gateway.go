// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backend is the gateway's adapter to the research backend.
//
// # Description
//
// The research backend (plan/search/analyze/synthesize pipeline plus the
// document store) trusts the gateway with a shared service token and takes
// the end user's identity from X-User-Id and X-User-Email. This package
// resolves where the backend lives, builds those headers for an identified
// caller, and performs the forwarded call.
//
//	Proxy handler
//	   │
//	   ├─► Headers(identity, extra)   nil when the caller is anonymous
//	   │
//	   └─► Forward(ctx, Request)      base URL + path, whole body read
//	           │
//	           ▼
//	       Research backend
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianResearch/pkg/extensions"
)

// =============================================================================
// Defaults
// =============================================================================

const (
	// DefaultLegacyURL is the single-endpoint URL older deployments set.
	DefaultLegacyURL = "http://localhost:8000/research"

	// DefaultBaseURL is used when nothing else resolves.
	DefaultBaseURL = "http://localhost:8000"

	// DefaultTimeout bounds one forwarded call. Research runs are long.
	DefaultTimeout = 5 * time.Minute
)

// ErrServiceTokenMissing is returned by New when no service token is
// configured. It is a deployment error and the gateway refuses to start.
var ErrServiceTokenMissing = errors.New("BACKEND_SERVICE_TOKEN is not configured")

// =============================================================================
// Base URL
// =============================================================================

// ResolveBaseURL picks the backend base URL.
//
// # Description
//
// A configured base URL wins (trailing slashes trimmed). Otherwise the
// origin (scheme://host[:port]) of the legacy single-endpoint URL is used,
// with DefaultLegacyURL standing in for an empty one. If the legacy URL does
// not parse to an absolute URL, DefaultBaseURL is returned.
//
// # Examples
//
//	ResolveBaseURL("https://api.example.com/", "")           // "https://api.example.com"
//	ResolveBaseURL("", "http://rag:8000/research")            // "http://rag:8000"
//	ResolveBaseURL("", "")                                    // "http://localhost:8000"
//	ResolveBaseURL("", "not a url")                           // "http://localhost:8000"
func ResolveBaseURL(baseURL, legacyURL string) string {
	if b := strings.TrimRight(strings.TrimSpace(baseURL), "/"); b != "" {
		return b
	}

	legacy := strings.TrimSpace(legacyURL)
	if legacy == "" {
		legacy = DefaultLegacyURL
	}
	u, err := url.Parse(legacy)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return DefaultBaseURL
	}
	return u.Scheme + "://" + u.Host
}

// =============================================================================
// Gateway
// =============================================================================

// Config configures a Gateway.
type Config struct {
	// BaseURL is the resolved backend base URL. Empty uses ResolveBaseURL("", "").
	BaseURL string

	// ServiceToken is the shared secret sent as a bearer token. Required.
	ServiceToken string

	// HTTPClient overrides the client. Nil uses one with DefaultTimeout.
	HTTPClient *http.Client
}

// Gateway forwards authenticated calls to the research backend.
//
// # Thread Safety
//
// Safe for concurrent use. All fields are read-only after New.
type Gateway struct {
	baseURL      string
	serviceToken string
	client       *http.Client
}

// New creates a Gateway.
//
// # Outputs
//
//   - *Gateway: Ready to forward calls.
//   - error: ErrServiceTokenMissing if cfg.ServiceToken is empty.
func New(cfg Config) (*Gateway, error) {
	if strings.TrimSpace(cfg.ServiceToken) == "" {
		return nil, ErrServiceTokenMissing
	}
	base := cfg.BaseURL
	if base == "" {
		base = ResolveBaseURL("", "")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &Gateway{
		baseURL:      strings.TrimRight(base, "/"),
		serviceToken: cfg.ServiceToken,
		client:       client,
	}, nil
}

// BaseURL returns the backend base URL.
func (g *Gateway) BaseURL() string {
	return g.baseURL
}

// Headers builds the headers for a call made on behalf of identity.
//
// # Description
//
// Returns nil when identity is nil or has no user id; the caller must then
// answer 401 without contacting the backend. Otherwise returns a copy of
// extra with Authorization, X-User-Id and, when known, X-User-Email set.
// The authentication headers always override values in extra.
func (g *Gateway) Headers(identity *extensions.AuthInfo, extra http.Header) http.Header {
	if identity == nil || identity.UserID == "" {
		return nil
	}

	h := extra.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("Authorization", "Bearer "+g.serviceToken)
	h.Set("X-User-Id", identity.UserID)
	if identity.Email != "" {
		h.Set("X-User-Email", identity.Email)
	} else {
		h.Del("X-User-Email")
	}
	return h
}

// Request is one forwarded call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Response is the backend's answer, read in full.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

// JSON decodes the body as opaque JSON.
func (r *Response) JSON() (any, error) {
	var v any
	if err := json.Unmarshal(r.Body, &v); err != nil {
		return nil, fmt.Errorf("parse backend response: %w", err)
	}
	return v, nil
}

// Forward sends req to the backend.
//
// # Outputs
//
//   - *Response: The backend's status and body, whatever the status.
//   - error: Non-nil only for transport failures (unreachable backend,
//     unreadable body, cancelled context).
func (g *Gateway) Forward(ctx context.Context, req Request) (*Response, error) {
	target := g.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create backend request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call backend %s %s: %w", req.Method, req.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read backend response: %w", err)
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        raw,
	}, nil
}
