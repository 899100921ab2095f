// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the research gateway's proxy endpoints.
//
// # Description
//
// Each endpoint validates its input, checks the request-scoped identity,
// forwards the call to the research backend through the backend adapter
// and relays the backend's status and body. Every failure path answers
// with a JSON error object; nothing escapes as a panic or an empty reply.
//
//	400  input missing                 {"error": "..."}            no backend call
//	401  no session                    {"error": "Unauthorized"}   no backend call
//	xxx  backend answered              backend body, backend status
//	500  backend unreachable/garbled   {"error": "...", "message": "..."}
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianResearch/pkg/extensions"
	"github.com/AleutianAI/AleutianResearch/services/gateway/backend"
	"github.com/AleutianAI/AleutianResearch/services/gateway/middleware"
	"github.com/AleutianAI/AleutianResearch/services/gateway/observability"
)

var proxyTracer = otel.Tracer("aleutian.research.gateway.handlers")

// Error messages returned to clients.
const (
	msgUnauthorized     = "Unauthorized"
	msgListFailed       = "Unable to load documents"
	msgUploadFailed     = "Document upload failed"
	msgDeleteFailed     = "Document delete failed"
	msgResearchFailed   = "Research failed"
	msgFileRequired     = "File is required"
	msgDocIDRequired    = "Document ID is required"
	msgQuestionRequired = "Question is required"
)

// Backend is the part of the backend adapter the handlers use.
// Implemented by *backend.Gateway.
type Backend interface {
	Headers(identity *extensions.AuthInfo, extra http.Header) http.Header
	Forward(ctx context.Context, req backend.Request) (*backend.Response, error)
}

// Deps are the dependencies shared by the proxy handlers.
type Deps struct {
	Backend Backend
	Metrics *observability.ProxyMetrics
	Logger  *slog.Logger
	Audit   extensions.AuditLogger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d Deps) auditor() extensions.AuditLogger {
	if d.Audit != nil {
		return d.Audit
	}
	return &extensions.NopAuditLogger{}
}

// auditKind names the audit event for each endpoint.
var auditKind = map[observability.Endpoint]struct{ eventType, action, resource string }{
	observability.EndpointListDocuments:  {"documents.list", "read", "document"},
	observability.EndpointUploadDocument: {"documents.upload", "create", "document"},
	observability.EndpointDeleteDocument: {"documents.delete", "delete", "document"},
	observability.EndpointResearch:       {"research.submit", "submit", "research"},
}

// =============================================================================
// Shared Steps
// =============================================================================

// proxyCall carries one request through the shared steps.
type proxyCall struct {
	deps     Deps
	c        *gin.Context
	span     trace.Span
	endpoint observability.Endpoint
	failMsg  string
	rc       *middleware.RequestContext
	// resource is the audited document id or filename, when there is one.
	resource string
}

func startCall(deps Deps, c *gin.Context, endpoint observability.Endpoint, failMsg string) (*proxyCall, context.Context) {
	ctx, span := proxyTracer.Start(c.Request.Context(), "Proxy."+string(endpoint))
	rc := middleware.GetRequestContext(c)
	span.SetAttributes(
		attribute.String("endpoint", string(endpoint)),
		attribute.String("request_id", rc.RequestID),
	)
	return &proxyCall{
		deps:     deps,
		c:        c,
		span:     span,
		endpoint: endpoint,
		failMsg:  failMsg,
		rc:       rc,
	}, ctx
}

func (p *proxyCall) end() {
	p.span.End()
}

// badRequest answers 400 without contacting the backend.
func (p *proxyCall) badRequest(msg string) {
	p.span.SetStatus(codes.Error, msg)
	p.deps.Metrics.RecordOutcome(p.endpoint, observability.OutcomeValidation)
	p.c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// headers returns the backend headers, or answers 401 and returns nil.
func (p *proxyCall) headers(extra http.Header) http.Header {
	h := p.deps.Backend.Headers(p.rc.Identity, extra)
	if h == nil {
		p.span.SetStatus(codes.Error, msgUnauthorized)
		p.deps.Metrics.RecordOutcome(p.endpoint, observability.OutcomeUnauthorized)
		p.audit(extensions.AuditDenied, http.StatusUnauthorized)
		p.c.JSON(http.StatusUnauthorized, gin.H{"error": msgUnauthorized})
		return nil
	}
	p.span.SetAttributes(attribute.String("user_id", p.rc.Identity.UserID))
	return h
}

// forward calls the backend and answers 500 on transport failure.
func (p *proxyCall) forward(ctx context.Context, req backend.Request) (*backend.Response, bool) {
	done := p.deps.Metrics.StartUpstream(p.endpoint)
	resp, err := p.deps.Backend.Forward(ctx, req)
	done()
	if err != nil {
		p.transportFailure(err)
		return nil, false
	}
	p.span.SetAttributes(attribute.Int("backend.status", resp.StatusCode))
	return resp, true
}

// transportFailure answers 500 with the endpoint's message and err.
func (p *proxyCall) transportFailure(err error) {
	p.span.RecordError(err)
	p.span.SetStatus(codes.Error, err.Error())
	p.deps.Metrics.RecordOutcome(p.endpoint, observability.OutcomeTransportError)
	p.deps.logger().Error(p.failMsg,
		"endpoint", string(p.endpoint),
		"request_id", p.rc.RequestID,
		"error", err,
	)
	p.audit(extensions.AuditError, http.StatusInternalServerError)
	p.c.JSON(http.StatusInternalServerError, gin.H{
		"error":   p.failMsg,
		"message": err.Error(),
	})
}

// relay answers with the backend's status and JSON body.
func (p *proxyCall) relay(resp *backend.Response) {
	payload, err := resp.JSON()
	if err != nil {
		p.transportFailure(err)
		return
	}
	outcome := observability.OutcomeForStatus(resp.StatusCode)
	if outcome != observability.OutcomeSuccess {
		p.span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}
	p.deps.Metrics.RecordOutcome(p.endpoint, outcome)
	if outcome == observability.OutcomeSuccess {
		p.audit(extensions.AuditSuccess, resp.StatusCode)
	} else {
		p.audit(extensions.AuditFailure, resp.StatusCode)
	}
	p.c.JSON(resp.StatusCode, payload)
}

// audit records how the call ended. A failing audit logger is logged and
// otherwise ignored.
func (p *proxyCall) audit(outcome string, status int) {
	kind := auditKind[p.endpoint]
	userID := "anonymous"
	if p.rc.Identity != nil {
		userID = p.rc.Identity.UserID
	}
	err := p.deps.auditor().Log(p.c.Request.Context(), extensions.AuditEvent{
		EventType:    kind.eventType,
		UserID:       userID,
		Action:       kind.action,
		ResourceType: kind.resource,
		ResourceID:   p.resource,
		Outcome:      outcome,
		Metadata: map[string]any{
			"request_id": p.rc.RequestID,
			"status":     status,
		},
	})
	if err != nil {
		p.deps.logger().Warn("Audit log failed",
			"endpoint", string(p.endpoint),
			"request_id", p.rc.RequestID,
			"error", err,
		)
	}
}
