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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianResearch/pkg/extensions"
	"github.com/AleutianAI/AleutianResearch/services/gateway/backend"
	"github.com/AleutianAI/AleutianResearch/services/gateway/observability"
)

// Research proxies POST /api/research to POST /research.
//
// # Description
//
// The body must be a JSON object with a non-blank string "question". The
// remaining fields (attachedDocumentIds, useChatHistory, chatSessionId and
// any passthrough options) are forwarded untouched.
//
// A 2xx from the backend is relayed as is. A non-2xx is wrapped as
// {"error": "Research backend returned <status>", "details": <body>} with
// the backend's status, where details is the decoded JSON body or, when the
// body is not JSON, its text.
func Research(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		call, ctx := startCall(deps, c, observability.EndpointResearch, msgResearchFailed)
		defer call.end()

		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			call.badRequest(msgQuestionRequired)
			return
		}
		question, ok := questionOf(raw)
		if !ok {
			call.badRequest(msgQuestionRequired)
			return
		}

		extra := http.Header{}
		extra.Set("Content-Type", "application/json")
		headers := call.headers(extra)
		if headers == nil {
			return
		}
		call.span.SetAttributes(attribute.Int("question.length", len(question)))

		deps.logger().Info("Proxying research request",
			"request_id", call.rc.RequestID,
			"user_id", call.rc.Identity.UserID,
		)

		resp, ok := call.forward(ctx, backend.Request{
			Method: http.MethodPost,
			Path:   "/research",
			Header: headers,
			Body:   raw,
		})
		if !ok {
			return
		}

		if !resp.OK() {
			upstreamFailure(call, resp)
			return
		}
		call.relay(resp)
	}
}

// questionOf returns the body's question when it is a non-blank string.
func questionOf(raw []byte) (string, bool) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil || body == nil {
		return "", false
	}
	q, ok := body["question"].(string)
	if !ok || strings.TrimSpace(q) == "" {
		return "", false
	}
	return q, true
}

// upstreamFailure relays a non-2xx research response as {error, details}.
func upstreamFailure(call *proxyCall, resp *backend.Response) {
	var details any = string(resp.Body)
	if v, err := resp.JSON(); err == nil {
		details = v
	}

	msg := fmt.Sprintf("Research backend returned %d", resp.StatusCode)
	call.span.SetStatus(codes.Error, msg)
	call.deps.Metrics.RecordOutcome(call.endpoint, observability.OutcomeUpstreamError)
	call.audit(extensions.AuditFailure, resp.StatusCode)
	call.deps.logger().Warn(msg,
		"request_id", call.rc.RequestID,
		"status", resp.StatusCode,
	)
	call.c.JSON(resp.StatusCode, gin.H{
		"error":   msg,
		"details": details,
	})
}
