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
	"log/slog"
	"sync"
	"time"
)

// AuditEvent records one proxied action for the audit trail.
//
// # Event Types
//
// Events use "category.action" names:
//   - "documents.list", "documents.upload", "documents.delete"
//   - "research.submit"
//
// # Outcomes
//
//   - "success": the backend answered 2xx
//   - "failure": the backend answered non-2xx
//   - "denied": no session identity, no backend call
//   - "error": the backend could not be reached or parsed
//
// Example:
//
//	event := AuditEvent{
//	    EventType:    "documents.delete",
//	    UserID:       identity.UserID,
//	    Action:       "delete",
//	    ResourceType: "document",
//	    ResourceID:   documentID,
//	    Outcome:      "success",
//	}
type AuditEvent struct {
	// EventType categorizes the event.
	EventType string

	// Timestamp is when the event occurred. Zero means now.
	Timestamp time.Time

	// UserID is the session identity, or "anonymous" when there is none.
	UserID string

	// Action is "read", "create", "delete" or "submit".
	Action string

	// ResourceType is "document" or "research".
	ResourceType string

	// ResourceID is the document id for deletes, the filename for uploads.
	ResourceID string

	// Outcome is how the action ended.
	Outcome string

	// Metadata holds event-specific data such as "request_id" and "status".
	Metadata map[string]any
}

// Audit outcomes.
const (
	AuditSuccess = "success"
	AuditFailure = "failure"
	AuditDenied  = "denied"
	AuditError   = "error"
)

// AuditLogger records audit events.
//
// # Description
//
// Log is called once per proxied request, after the response status is
// known. It must return quickly; a failed Log is reported by the caller
// but never changes the client's response.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
}

// NopAuditLogger discards every event.
type NopAuditLogger struct{}

// Log discards the event.
func (l *NopAuditLogger) Log(_ context.Context, _ AuditEvent) error {
	return nil
}

// SlogAuditLogger writes each event as one structured log record.
//
// # Description
//
// Records are emitted at Info level with message "audit" so they can be
// routed by a log shipper alongside the service logs.
type SlogAuditLogger struct {
	logger *slog.Logger
}

// NewSlogAuditLogger returns an audit logger writing to logger, or to
// slog.Default() when logger is nil.
func NewSlogAuditLogger(logger *slog.Logger) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditLogger{logger: logger.With("component", "audit")}
}

// Log writes the event.
func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	attrs := []any{
		"event_type", event.EventType,
		"timestamp", ts.Format(time.RFC3339Nano),
		"user_id", event.UserID,
		"action", event.Action,
		"resource_type", event.ResourceType,
		"outcome", event.Outcome,
	}
	if event.ResourceID != "" {
		attrs = append(attrs, "resource_id", event.ResourceID)
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, k, v)
	}
	l.logger.InfoContext(ctx, "audit", attrs...)
	return nil
}

// MemoryAuditLogger keeps events in memory. Used by tests and local
// diagnostics.
type MemoryAuditLogger struct {
	mu     sync.Mutex
	events []AuditEvent
}

// Log appends the event, stamping it when Timestamp is zero.
func (l *MemoryAuditLogger) Log(_ context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

// Events returns a copy of the recorded events in order.
func (l *MemoryAuditLogger) Events() []AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Compile-time interface compliance checks.
var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*SlogAuditLogger)(nil)
	_ AuditLogger = (*MemoryAuditLogger)(nil)
)
