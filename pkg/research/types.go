// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package research holds the client-side state of a research desk: the
// submission and staged-progress state machine (Session) and the document
// attachment lifecycle (Tracker).
//
// # Overview
//
// The research backend runs a plan → search → analyze → synthesize pipeline
// and answers one request with the whole result. It does not stream
// per-stage progress. Session therefore drives a fixed-schedule, purely
// presentational stage animation alongside the single network call and
// attaches the real per-stage metrics once the response is in.
//
// Tracker follows uploads from the moment a file is chosen until the
// backend assigns a document id, and mirrors the backend's document list.
// The two sets are reconciled by MergeDocumentIDs into the ids that travel
// with the next research request.
//
// # Thread Safety
//
// Session and Tracker are safe for concurrent use. State is replaced
// copy-on-write under a mutex; snapshots handed to callers are never
// mutated afterwards.
package research

import (
	"context"
	"errors"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrEmptyQuestion is returned by Submit when the question is blank.
	ErrEmptyQuestion = errors.New("question is empty")

	// ErrAlreadyRunning is returned by Submit while a run is in flight.
	ErrAlreadyRunning = errors.New("research is already running")

	// ErrClosed is returned after Close has torn the session down.
	ErrClosed = errors.New("session is closed")
)

// =============================================================================
// Stages
// =============================================================================

// StageID identifies one step of the research pipeline.
type StageID string

const (
	StagePlan       StageID = "plan"
	StageSearch     StageID = "search"
	StageAnalyze    StageID = "analyze"
	StageSynthesize StageID = "synthesize"

	// StageValidate is shown by some workspaces as a label only. It is never
	// part of the animated sequence.
	StageValidate StageID = "validate"
)

// StageStatus is the display status of a stage.
type StageStatus string

const (
	StatusPending   StageStatus = "pending"
	StatusActive    StageStatus = "active"
	StatusCompleted StageStatus = "completed"
)

// Stage is one row of the pipeline display.
//
// Latency and Score are nil until the stage completes with a metric from a
// resolved response.
type Stage struct {
	ID          StageID
	DisplayName string
	Description string
	Status      StageStatus
	Latency     *float64
	Score       *float64
	Content     string
}

// DefaultStages returns the fixed pipeline, all pending.
func DefaultStages() []Stage {
	return []Stage{
		{ID: StagePlan, DisplayName: "Strategic Planning", Description: "Crafting research methodology", Status: StatusPending},
		{ID: StageSearch, DisplayName: "Source Discovery", Description: "Gathering relevant information", Status: StatusPending},
		{ID: StageAnalyze, DisplayName: "Deep Analysis", Description: "Extracting critical insights", Status: StatusPending},
		{ID: StageSynthesize, DisplayName: "Synthesis", Description: "Composing comprehensive answer", Status: StatusPending},
	}
}

// StageLabel returns a display name for any stage id, including the
// label-only validate stage.
func StageLabel(id StageID) string {
	for _, s := range DefaultStages() {
		if s.ID == id {
			return s.DisplayName
		}
	}
	if id == StageValidate {
		return "Validation"
	}
	return string(id)
}

// =============================================================================
// Results
// =============================================================================

// StepMetric is the backend's quality report for one pipeline step.
//
// At most one score field is expected per step. Score reads them with the
// precedence quality → relevance → completeness → grounded.
type StepMetric struct {
	Step              string   `json:"step"`
	Latency           float64  `json:"latency"`
	QualityScore      *float64 `json:"quality_score,omitempty"`
	RelevanceScore    *float64 `json:"relevance_score,omitempty"`
	CompletenessScore *float64 `json:"completeness_score,omitempty"`
	GroundedScore     *float64 `json:"grounded_score,omitempty"`
	NumSources        *int     `json:"num_sources,omitempty"`
	AvgConfidence     *float64 `json:"avg_confidence,omitempty"`
	Reasoning         string   `json:"reasoning,omitempty"`
}

// Score returns the step's score and whether any score field is present.
func (m StepMetric) Score() (float64, bool) {
	for _, s := range []*float64{m.QualityScore, m.RelevanceScore, m.CompletenessScore, m.GroundedScore} {
		if s != nil {
			return *s, true
		}
	}
	return 0, false
}

// Source is a cited source.
type Source struct {
	Title      string   `json:"title"`
	URL        string   `json:"url"`
	Snippet    string   `json:"snippet"`
	Confidence *float64 `json:"confidence,omitempty"`
	SourceType string   `json:"source_type,omitempty"`
	Domain     string   `json:"domain,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// ResearchResult is the backend's answer to one research request.
type ResearchResult struct {
	Answer   string       `json:"answer"`
	Plan     string       `json:"plan"`
	Insights string       `json:"insights"`
	Metrics  []StepMetric `json:"metrics"`
	Sources  []Source     `json:"sources,omitempty"`
	TraceID  string       `json:"trace_id,omitempty"`
	TraceURL string       `json:"trace_url,omitempty"`
}

// MetricFor returns the metric reported for a stage, if any.
func (r *ResearchResult) MetricFor(id StageID) (StepMetric, bool) {
	if r == nil {
		return StepMetric{}, false
	}
	for _, m := range r.Metrics {
		if m.Step == string(id) {
			return m, true
		}
	}
	return StepMetric{}, false
}

// =============================================================================
// Requests
// =============================================================================

// Request is the body of one research submission.
//
// Extra carries passthrough options. Keys that collide with the named
// fields are ignored when the request is encoded.
type Request struct {
	Question            string         `json:"question"`
	AttachedDocumentIDs []string       `json:"attachedDocumentIds"`
	UseChatHistory      bool           `json:"useChatHistory"`
	ChatSessionID       string         `json:"chatSessionId,omitempty"`
	Extra               map[string]any `json:"-"`
}

// Body flattens the request into the JSON object sent to /api/research.
func (r Request) Body() map[string]any {
	body := make(map[string]any, len(r.Extra)+4)
	for k, v := range r.Extra {
		body[k] = v
	}
	ids := r.AttachedDocumentIDs
	if ids == nil {
		ids = []string{}
	}
	body["question"] = r.Question
	body["attachedDocumentIds"] = ids
	body["useChatHistory"] = r.UseChatHistory
	if r.ChatSessionID != "" {
		body["chatSessionId"] = r.ChatSessionID
	} else {
		delete(body, "chatSessionId")
	}
	return body
}

// Researcher submits research requests. Implemented by gatewayclient.Client.
type Researcher interface {
	Research(ctx context.Context, req Request) (*ResearchResult, error)
}

// =============================================================================
// Documents
// =============================================================================

// AttachmentStatus is the lifecycle state of a client-side upload.
type AttachmentStatus string

const (
	AttachmentUploading AttachmentStatus = "uploading"
	AttachmentReady     AttachmentStatus = "ready"
	AttachmentError     AttachmentStatus = "error"
)

// Attachment is a locally tracked upload. ClientID is generated locally and
// never sent to the backend.
type Attachment struct {
	ClientID     string
	Filename     string
	Status       AttachmentStatus
	DocumentID   string
	ErrorMessage string
}

// StoredDocument is the backend's record of an uploaded document.
type StoredDocument struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	FileSize   *int64 `json:"file_size,omitempty"`
	FileType   string `json:"file_type,omitempty"`
	NumChunks  *int   `json:"num_chunks,omitempty"`
	UploadedAt string `json:"uploaded_at,omitempty"`
	Status     string `json:"status,omitempty"`
}

// DocumentAPI is the document half of the gateway. Implemented by
// gatewayclient.Client.
type DocumentAPI interface {
	UploadDocument(ctx context.Context, filename string, content []byte) (string, error)
	DeleteDocument(ctx context.Context, documentID string) error
	ListDocuments(ctx context.Context, skip, limit int) ([]StoredDocument, error)
}
