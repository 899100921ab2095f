// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/AleutianAI/AleutianResearch/pkg/research"
	"github.com/AleutianAI/AleutianResearch/pkg/ux"
)

// fakeAPI is an in-memory gateway.
type fakeAPI struct {
	mu sync.Mutex

	result      *research.ResearchResult
	researchErr error
	gate        chan struct{}
	requests    []research.Request

	docs      []research.StoredDocument
	listErr   error
	uploadErr error
	deleteErr error
	deleted   []string
	nextID    int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		result: &research.ResearchResult{
			Answer:   "The answer is **42**.",
			Plan:     "1. look it up",
			Insights: "it is 42",
			Metrics: []research.StepMetric{
				{Step: "plan", Latency: 1, QualityScore: ptr(8.0)},
				{Step: "search", Latency: 2},
			},
			Sources: []research.Source{{Title: "Guide", URL: "https://example.com/guide"}},
		},
	}
}

func ptr[T any](v T) *T { return &v }

func (f *fakeAPI) Research(ctx context.Context, req research.Request) (*research.ResearchResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.researchErr != nil {
		return nil, f.researchErr
	}
	return f.result, nil
}

func (f *fakeAPI) UploadDocument(_ context.Context, filename string, _ []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.nextID++
	id := fmt.Sprintf("doc-%d", f.nextID)
	f.docs = append(f.docs, research.StoredDocument{ID: id, Filename: filename})
	return id, nil
}

func (f *fakeAPI) DeleteDocument(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, documentID)
	f.docs = slices.DeleteFunc(f.docs, func(d research.StoredDocument) bool { return d.ID == documentID })
	return nil
}

func (f *fakeAPI) ListDocuments(_ context.Context, _, _ int) ([]research.StoredDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return slices.Clone(f.docs), nil
}

func (f *fakeAPI) researchRequests() []research.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.requests)
}

func (f *fakeAPI) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.deleted)
}

// plainOutput makes rendered output deterministic for the test.
func plainOutput(t *testing.T) {
	t.Helper()
	orig := ux.Level()
	ux.SetLevel(ux.OutputPlain)
	t.Cleanup(func() { ux.SetLevel(orig) })
}
