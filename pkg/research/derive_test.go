// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package research

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

// =============================================================================
// Score Tests
// =============================================================================

func TestStepMetric_ScorePrecedence(t *testing.T) {
	tests := []struct {
		name   string
		metric StepMetric
		want   float64
		ok     bool
	}{
		{"none", StepMetric{Step: "search"}, 0, false},
		{"quality", StepMetric{QualityScore: ptr(8.0)}, 8, true},
		{"relevance", StepMetric{RelevanceScore: ptr(6.5)}, 6.5, true},
		{"completeness", StepMetric{CompletenessScore: ptr(7.0)}, 7, true},
		{"grounded", StepMetric{GroundedScore: ptr(9.0)}, 9, true},
		{"quality beats relevance", StepMetric{QualityScore: ptr(3.0), RelevanceScore: ptr(9.0)}, 3, true},
		{"relevance beats grounded", StepMetric{RelevanceScore: ptr(4.0), GroundedScore: ptr(9.0)}, 4, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.metric.Score()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// Derived Value Tests
// =============================================================================

func TestAverageScore_ExcludesUnscoredSteps(t *testing.T) {
	metrics := []StepMetric{
		{Step: "plan", Latency: 1, QualityScore: ptr(8.0)},
		{Step: "search", Latency: 2},
	}

	avg, ok := AverageScore(metrics)
	require.True(t, ok)
	assert.Equal(t, 8.0, avg)
	assert.Equal(t, 3.0, TotalLatency(metrics))
}

func TestAverageScore_MixedFields(t *testing.T) {
	metrics := []StepMetric{
		{Step: "plan", QualityScore: ptr(8.0)},
		{Step: "search", RelevanceScore: ptr(6.0)},
		{Step: "analyze", CompletenessScore: ptr(7.0)},
		{Step: "synthesize", GroundedScore: ptr(9.0)},
	}

	avg, ok := AverageScore(metrics)
	require.True(t, ok)
	assert.InDelta(t, 7.5, avg, 1e-9)
}

func TestAverageScore_NoScores(t *testing.T) {
	_, ok := AverageScore([]StepMetric{{Step: "plan", Latency: 1}})
	assert.False(t, ok)

	_, ok = AverageScore(nil)
	assert.False(t, ok)
	assert.Zero(t, TotalLatency(nil))
}

// =============================================================================
// Export Tests
// =============================================================================

func TestExportMarkdown(t *testing.T) {
	result := &ResearchResult{
		Answer:   "RAG works best with **reranking**.",
		Plan:     "1. Survey papers",
		Insights: "Chunk size matters",
		Metrics: []StepMetric{
			{Step: "plan", Latency: 1, QualityScore: ptr(8.0)},
			{Step: "search", Latency: 2.5, RelevanceScore: ptr(7.5)},
			{Step: "analyze", Latency: 0.123},
		},
	}

	got := ExportMarkdown("RAG best practices", result)

	want := strings.Join([]string{
		"# Research: RAG best practices",
		"",
		"## Answer",
		"",
		"RAG works best with **reranking**.",
		"",
		"## Plan",
		"",
		"1. Survey papers",
		"",
		"## Insights",
		"",
		"Chunk size matters",
		"",
		"## Metrics",
		"",
		"- **plan**: 1.00s (score: 8/10)",
		"- **search**: 2.50s (score: 7.5/10)",
		"- **analyze**: 0.12s (score: n/a)",
	}, "\n")
	assert.Equal(t, want, got)
}

func TestExportMarkdown_NilResult(t *testing.T) {
	assert.Empty(t, ExportMarkdown("q", nil))
}

func TestExportFilename(t *testing.T) {
	ts := time.UnixMilli(1718000000123)
	assert.Equal(t, "research-1718000000123.md", ExportFilename(ts))
}

// =============================================================================
// MergeDocumentIDs Tests
// =============================================================================

func TestMergeDocumentIDs_Dedupes(t *testing.T) {
	attachments := []Attachment{
		{ClientID: "a", Status: AttachmentReady, DocumentID: "d1"},
	}
	documents := []StoredDocument{{ID: "d1"}}

	assert.Equal(t, []string{"d1"}, MergeDocumentIDs(attachments, documents))
}

func TestMergeDocumentIDs_OnlyReadyAttachments(t *testing.T) {
	attachments := []Attachment{
		{ClientID: "a", Status: AttachmentUploading},
		{ClientID: "b", Status: AttachmentError, ErrorMessage: "quota exceeded"},
		{ClientID: "c", Status: AttachmentReady, DocumentID: "d3"},
		{ClientID: "d", Status: AttachmentReady, DocumentID: "d1"},
	}
	documents := []StoredDocument{{ID: "d1"}, {ID: "d2"}, {ID: "d2"}}

	assert.Equal(t, []string{"d3", "d1", "d2"}, MergeDocumentIDs(attachments, documents))
}

func TestMergeDocumentIDs_Empty(t *testing.T) {
	ids := MergeDocumentIDs(nil, nil)
	assert.NotNil(t, ids)
	assert.Empty(t, ids)
}

// =============================================================================
// Request Tests
// =============================================================================

func TestRequestBody_NamedFieldsWin(t *testing.T) {
	req := Request{
		Question:       "LLM evaluation methods",
		UseChatHistory: true,
		Extra: map[string]any{
			"question":      "overridden",
			"chatSessionId": "stale",
			"depth":         3,
		},
	}

	body := req.Body()

	assert.Equal(t, "LLM evaluation methods", body["question"])
	assert.Equal(t, []string{}, body["attachedDocumentIds"])
	assert.Equal(t, true, body["useChatHistory"])
	assert.Equal(t, 3, body["depth"])
	assert.NotContains(t, body, "chatSessionId")
}

func TestStageLabel(t *testing.T) {
	assert.Equal(t, "Deep Analysis", StageLabel(StageAnalyze))
	assert.Equal(t, "Validation", StageLabel(StageValidate))
	assert.Equal(t, "other", StageLabel("other"))
}
