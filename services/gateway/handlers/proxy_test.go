// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianResearch/pkg/extensions"
	"github.com/AleutianAI/AleutianResearch/services/gateway/backend"
	"github.com/AleutianAI/AleutianResearch/services/gateway/middleware"
	"github.com/AleutianAI/AleutianResearch/services/gateway/observability"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

const validSession = "valid-session"

// tokenProvider accepts validSession only.
type tokenProvider struct{}

func (tokenProvider) Validate(_ context.Context, token string) (*extensions.AuthInfo, error) {
	if token != validSession {
		return nil, extensions.ErrUnauthorized
	}
	return &extensions.AuthInfo{UserID: "user_1", Email: "ada@example.com"}, nil
}

// fakeBackend is the research backend as seen by the gateway.
type fakeBackend struct {
	calls   atomic.Int32
	handler http.HandlerFunc

	mu   sync.Mutex
	last *http.Request
	body []byte
}

func (f *fakeBackend) lastRequest() (*http.Request, []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, f.body
}

type harness struct {
	router  *gin.Engine
	backend *fakeBackend
	metrics *observability.ProxyMetrics
	audit   *extensions.MemoryAuditLogger
}

func newHarness(t *testing.T, handler http.HandlerFunc) *harness {
	t.Helper()

	fb := &fakeBackend{handler: handler}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fb.calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		fb.mu.Lock()
		fb.last, fb.body = r.Clone(context.Background()), body
		fb.mu.Unlock()
		fb.handler(w, r)
	}))
	t.Cleanup(srv.Close)

	gw, err := backend.New(backend.Config{BaseURL: srv.URL, ServiceToken: "svc-token"})
	require.NoError(t, err)

	metrics := observability.NewProxyMetrics(prometheus.NewRegistry())
	audit := &extensions.MemoryAuditLogger{}
	deps := Deps{Backend: gw, Metrics: metrics, Audit: audit}

	router := gin.New()
	api := router.Group("/api", middleware.Session(tokenProvider{}, nil))
	api.GET("/documents", ListDocuments(deps))
	api.POST("/documents/upload", UploadDocument(deps))
	api.DELETE("/documents/:id", DeleteDocument(deps))
	api.DELETE("/documents", DeleteDocument(deps))
	api.POST("/research", Research(deps))
	router.GET("/health", HealthCheck)

	return &harness{router: router, backend: fb, metrics: metrics, audit: audit}
}

func (h *harness) do(req *http.Request, signedIn bool) *httptest.ResponseRecorder {
	if signedIn {
		req.Header.Set("Authorization", "Bearer "+validSession)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func jsonBackend(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func multipartRequest(t *testing.T, field, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if field != "" {
		part, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, _ = io.WriteString(part, content)
	} else {
		require.NoError(t, mw.WriteField("other", "x"))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var v map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// =============================================================================
// Unauthorized Tests
// =============================================================================

func TestDocumentsEndpoints_UnauthorizedWithoutBackendCall(t *testing.T) {
	h := newHarness(t, jsonBackend(200, `{}`))

	requests := map[string]*http.Request{
		"list":   httptest.NewRequest(http.MethodGet, "/api/documents", nil),
		"upload": multipartRequest(t, "file", "a.txt", "hello"),
		"delete": httptest.NewRequest(http.MethodDelete, "/api/documents/d1", nil),
	}

	for name, req := range requests {
		t.Run(name, func(t *testing.T) {
			w := h.do(req, false)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.JSONEq(t, `{"error":"Unauthorized"}`, w.Body.String())
		})
	}
	assert.Equal(t, int32(0), h.backend.calls.Load())
}

func TestEndpoints_BadTokenIsUnauthorized(t *testing.T) {
	h := newHarness(t, jsonBackend(200, `{}`))

	req := httptest.NewRequest(http.MethodPost, "/api/research", bytes.NewBufferString(`{"question":"q"}`))
	req.Header.Set("Authorization", "Bearer forged")
	w := h.do(req, false)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, w.Body.String())
	assert.Equal(t, int32(0), h.backend.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RequestsTotal.WithLabelValues("research", "unauthorized")))
}

// =============================================================================
// ListDocuments Tests
// =============================================================================

func TestListDocuments_ForwardsWithDefaults(t *testing.T) {
	h := newHarness(t, jsonBackend(200, `{"documents":[{"id":"d1","filename":"a.pdf"}],"total":1}`))

	w := h.do(httptest.NewRequest(http.MethodGet, "/api/documents", nil), true)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"documents":[{"id":"d1","filename":"a.pdf"}],"total":1}`, w.Body.String())

	last, _ := h.backend.lastRequest()
	require.NotNil(t, last)
	assert.Equal(t, "/documents", last.URL.Path)
	assert.Equal(t, "0", last.URL.Query().Get("skip"))
	assert.Equal(t, "50", last.URL.Query().Get("limit"))
	assert.Equal(t, "Bearer svc-token", last.Header.Get("Authorization"))
	assert.Equal(t, "user_1", last.Header.Get("X-User-Id"))
	assert.Equal(t, "ada@example.com", last.Header.Get("X-User-Email"))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RequestsTotal.WithLabelValues("list_documents", "success")))
}

func TestListDocuments_PassesPaging(t *testing.T) {
	h := newHarness(t, jsonBackend(200, `{"documents":[]}`))

	h.do(httptest.NewRequest(http.MethodGet, "/api/documents?skip=10&limit=5", nil), true)
	last, _ := h.backend.lastRequest()

	assert.Equal(t, "10", last.URL.Query().Get("skip"))
	assert.Equal(t, "5", last.URL.Query().Get("limit"))
}

func TestListDocuments_RelaysBackendStatus(t *testing.T) {
	h := newHarness(t, jsonBackend(503, `{"detail":"warming up"}`))

	w := h.do(httptest.NewRequest(http.MethodGet, "/api/documents", nil), true)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"detail":"warming up"}`, w.Body.String())
}

func TestListDocuments_UnparsableBodyIs500(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "<html>bad gateway</html>")
	})

	w := h.do(httptest.NewRequest(http.MethodGet, "/api/documents", nil), true)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Unable to load documents", body["error"])
	assert.NotEmpty(t, body["message"])
}

// =============================================================================
// UploadDocument Tests
// =============================================================================

func TestUploadDocument_MissingFile(t *testing.T) {
	h := newHarness(t, jsonBackend(200, `{}`))

	for _, signedIn := range []bool{true, false} {
		w := h.do(multipartRequest(t, "", "", ""), signedIn)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"error":"File is required"}`, w.Body.String())
	}
	assert.Equal(t, int32(0), h.backend.calls.Load())
}

func TestUploadDocument_ReencodesFile(t *testing.T) {
	h := newHarness(t, jsonBackend(200, `{"document_id":"doc-9"}`))

	w := h.do(multipartRequest(t, "file", "notes.md", "# notes"), true)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"document_id":"doc-9"}`, w.Body.String())

	last, body := h.backend.lastRequest()
	require.NotNil(t, last)
	assert.Equal(t, "/documents/upload", last.URL.Path)
	assert.Equal(t, "Bearer svc-token", last.Header.Get("Authorization"))

	_, params, err := mime.ParseMediaType(last.Header.Get("Content-Type"))
	require.NoError(t, err)
	form, err := multipart.NewReader(bytes.NewReader(body), params["boundary"]).ReadForm(1 << 20)
	require.NoError(t, err)
	require.Len(t, form.File["file"], 1)

	fh := form.File["file"][0]
	f, err := fh.Open()
	require.NoError(t, err)
	defer f.Close()
	content, _ := io.ReadAll(f)

	assert.Equal(t, "notes.md", fh.Filename)
	assert.Equal(t, "# notes", string(content))
}

// =============================================================================
// DeleteDocument Tests
// =============================================================================

func TestDeleteDocument_Forwards(t *testing.T) {
	h := newHarness(t, jsonBackend(200, `{"deleted":true}`))

	w := h.do(httptest.NewRequest(http.MethodDelete, "/api/documents/d%201", nil), true)

	assert.Equal(t, http.StatusOK, w.Code)
	last, _ := h.backend.lastRequest()
	assert.Equal(t, http.MethodDelete, last.Method)
	assert.Equal(t, "/documents/d%201", last.URL.EscapedPath())
}

func TestDeleteDocument_MissingID(t *testing.T) {
	h := newHarness(t, jsonBackend(200, `{}`))

	for _, path := range []string{"/api/documents", "/api/documents/%20"} {
		w := h.do(httptest.NewRequest(http.MethodDelete, path, nil), true)

		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.JSONEq(t, `{"error":"Document ID is required"}`, w.Body.String())
	}
	assert.Equal(t, int32(0), h.backend.calls.Load())
}

func TestDeleteDocument_RelaysNotFound(t *testing.T) {
	h := newHarness(t, jsonBackend(404, `{"detail":"not found"}`))

	w := h.do(httptest.NewRequest(http.MethodDelete, "/api/documents/missing", nil), true)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"detail":"not found"}`, w.Body.String())
}

// =============================================================================
// Research Tests
// =============================================================================

func TestResearch_QuestionRequired(t *testing.T) {
	h := newHarness(t, jsonBackend(200, `{}`))

	bodies := []string{`{}`, `{"question":""}`, `{"question":"   "}`, `{"question":42}`, `[]`, `not json`, ``}
	for _, body := range bodies {
		for _, signedIn := range []bool{true, false} {
			req := httptest.NewRequest(http.MethodPost, "/api/research", bytes.NewBufferString(body))
			w := h.do(req, signedIn)

			assert.Equal(t, http.StatusBadRequest, w.Code, body)
			assert.Contains(t, decode(t, w), "error")
		}
	}
	assert.Equal(t, int32(0), h.backend.calls.Load())
}

func TestResearch_PassesBodyAndRelaysSuccess(t *testing.T) {
	h := newHarness(t, jsonBackend(200, `{"answer":"a","plan":"p","insights":"i","metrics":[]}`))

	payload := `{"question":"RAG best practices","attachedDocumentIds":["d1"],"useChatHistory":false,"depth":2}`
	req := httptest.NewRequest(http.MethodPost, "/api/research", bytes.NewBufferString(payload))
	w := h.do(req, true)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"answer":"a","plan":"p","insights":"i","metrics":[]}`, w.Body.String())
	last, sent := h.backend.lastRequest()
	assert.Equal(t, "/research", last.URL.Path)
	assert.Equal(t, "application/json", last.Header.Get("Content-Type"))
	assert.JSONEq(t, payload, string(sent))
	assert.Equal(t, int32(1), h.backend.calls.Load())
}

func TestResearch_UpstreamErrorRelayed(t *testing.T) {
	tests := []struct {
		name    string
		backend http.HandlerFunc
		status  int
		details any
	}{
		{
			name:    "json body",
			backend: jsonBackend(502, `{"detail":"pipeline crashed"}`),
			status:  502,
			details: map[string]any{"detail": "pipeline crashed"},
		},
		{
			name: "text body",
			backend: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = io.WriteString(w, "slow down")
			},
			status:  429,
			details: "slow down",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.backend)

			req := httptest.NewRequest(http.MethodPost, "/api/research", bytes.NewBufferString(`{"question":"q"}`))
			w := h.do(req, true)

			assert.Equal(t, tt.status, w.Code)
			body := decode(t, w)
			assert.Equal(t, "Research backend returned "+strconv.Itoa(tt.status), body["error"])
			assert.Equal(t, tt.details, body["details"])
			assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RequestsTotal.WithLabelValues("research", "upstream_error")))
		})
	}
}

func TestResearch_TransportFailure(t *testing.T) {
	gw, err := backend.New(backend.Config{BaseURL: "http://127.0.0.1:1", ServiceToken: "svc"})
	require.NoError(t, err)
	h := &harness{router: gin.New()}
	h.router.POST("/api/research", middleware.Session(tokenProvider{}, nil), Research(Deps{Backend: gw}))

	req := httptest.NewRequest(http.MethodPost, "/api/research", bytes.NewBufferString(`{"question":"q"}`))
	w := h.do(req, true)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Research failed", body["error"])
	assert.NotEmpty(t, body["message"])
}

// =============================================================================
// Health Tests
// =============================================================================

func TestAudit_RecordsOutcomes(t *testing.T) {
	t.Run("denied without session", func(t *testing.T) {
		h := newHarness(t, jsonBackend(http.StatusOK, `{}`))
		h.do(httptest.NewRequest(http.MethodGet, "/api/documents", nil), false)

		events := h.audit.Events()
		require.Len(t, events, 1)
		assert.Equal(t, "documents.list", events[0].EventType)
		assert.Equal(t, "anonymous", events[0].UserID)
		assert.Equal(t, extensions.AuditDenied, events[0].Outcome)
	})

	t.Run("upload names the file", func(t *testing.T) {
		h := newHarness(t, jsonBackend(http.StatusOK, `{"document_id":"d1"}`))
		h.do(multipartRequest(t, "file", "notes.md", "# notes"), true)

		events := h.audit.Events()
		require.Len(t, events, 1)
		assert.Equal(t, "documents.upload", events[0].EventType)
		assert.Equal(t, "user_1", events[0].UserID)
		assert.Equal(t, "notes.md", events[0].ResourceID)
		assert.Equal(t, extensions.AuditSuccess, events[0].Outcome)
	})

	t.Run("research upstream failure", func(t *testing.T) {
		h := newHarness(t, jsonBackend(http.StatusBadGateway, `{"detail":"down"}`))
		h.do(httptest.NewRequest(http.MethodPost, "/api/research", bytes.NewBufferString(`{"question":"q"}`)), true)

		events := h.audit.Events()
		require.Len(t, events, 1)
		assert.Equal(t, "research.submit", events[0].EventType)
		assert.Equal(t, extensions.AuditFailure, events[0].Outcome)
		assert.Equal(t, http.StatusBadGateway, events[0].Metadata["status"])
	})

	t.Run("validation is not audited", func(t *testing.T) {
		h := newHarness(t, jsonBackend(http.StatusOK, `{}`))
		h.do(httptest.NewRequest(http.MethodPost, "/api/research", bytes.NewBufferString(`{}`)), true)
		assert.Empty(t, h.audit.Events())
	})
}

func TestHealthCheck(t *testing.T) {
	h := newHarness(t, jsonBackend(200, `{}`))

	w := h.do(httptest.NewRequest(http.MethodGet, "/health", nil), false)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}
