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
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Doubles
// =============================================================================

const (
	testTimeout = time.Second
	testTick    = time.Millisecond
)

type uploadOutcome struct {
	documentID string
	err        error
}

// mockDocumentAPI gates uploads per filename and records deletes.
type mockDocumentAPI struct {
	mu        sync.Mutex
	gates     map[string]chan uploadOutcome
	uploads   map[string]uploadOutcome
	documents []StoredDocument
	listErr   error
	deleteErr error
	deleted   []string

	listCalls atomic.Int32
}

func newMockDocumentAPI() *mockDocumentAPI {
	return &mockDocumentAPI{
		gates:   map[string]chan uploadOutcome{},
		uploads: map[string]uploadOutcome{},
	}
}

// gate makes the upload of filename block until an outcome is sent.
func (m *mockDocumentAPI) gate(filename string) chan uploadOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan uploadOutcome, 1)
	m.gates[filename] = ch
	return ch
}

func (m *mockDocumentAPI) UploadDocument(ctx context.Context, filename string, _ []byte) (string, error) {
	m.mu.Lock()
	gate, gated := m.gates[filename]
	outcome := m.uploads[filename]
	m.mu.Unlock()

	if gated {
		select {
		case outcome = <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if outcome.err != nil {
		return "", outcome.err
	}
	m.mu.Lock()
	m.documents = append(m.documents, StoredDocument{ID: outcome.documentID, Filename: filename})
	m.mu.Unlock()
	return outcome.documentID, nil
}

func (m *mockDocumentAPI) DeleteDocument(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, documentID)
	return m.deleteErr
}

func (m *mockDocumentAPI) ListDocuments(context.Context, int, int) ([]StoredDocument, error) {
	m.listCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]StoredDocument(nil), m.documents...), nil
}

func (m *mockDocumentAPI) deletedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

func sequentialIDs() func() string {
	var n atomic.Int32
	return func() string {
		return fmt.Sprintf("client-%d", n.Add(1))
	}
}

// =============================================================================
// Attach Tests
// =============================================================================

func TestTracker_Attach_OptimisticThenReady(t *testing.T) {
	api := newMockDocumentAPI()
	gate := api.gate("report.pdf")
	tr := NewTracker(api, WithIDGenerator(sequentialIDs()))
	defer tr.Close()

	id := tr.Attach(context.Background(), "report.pdf", []byte("%PDF"))

	a, ok := tr.Attachment(id)
	require.True(t, ok)
	assert.Equal(t, AttachmentUploading, a.Status)
	assert.Equal(t, "report.pdf", a.Filename)
	assert.True(t, tr.Uploading())

	gate <- uploadOutcome{documentID: "d1"}
	tr.Wait()

	a, ok = tr.Attachment(id)
	require.True(t, ok)
	assert.Equal(t, AttachmentReady, a.Status)
	assert.Equal(t, "d1", a.DocumentID)
	assert.Empty(t, a.ErrorMessage)
	assert.False(t, tr.Uploading())

	assert.Equal(t, int32(1), api.listCalls.Load())
	require.Len(t, tr.Documents(), 1)
	assert.Equal(t, "d1", tr.Documents()[0].ID)
}

func TestTracker_Attach_OutOfOrderResolution(t *testing.T) {
	api := newMockDocumentAPI()
	gateA := api.gate("a.txt")
	gateB := api.gate("b.txt")
	tr := NewTracker(api, WithIDGenerator(sequentialIDs()))
	defer tr.Close()

	idA := tr.Attach(context.Background(), "a.txt", nil)
	idB := tr.Attach(context.Background(), "b.txt", nil)

	gateB <- uploadOutcome{documentID: "doc-b"}
	require.Eventually(t, func() bool {
		b, _ := tr.Attachment(idB)
		return b.Status == AttachmentReady
	}, testTimeout, testTick)

	a, _ := tr.Attachment(idA)
	b, _ := tr.Attachment(idB)
	assert.Equal(t, AttachmentUploading, a.Status)
	assert.Empty(t, a.DocumentID)
	assert.Equal(t, "doc-b", b.DocumentID)

	gateA <- uploadOutcome{err: errors.New("too large")}
	tr.Wait()

	a, _ = tr.Attachment(idA)
	b, _ = tr.Attachment(idB)
	assert.Equal(t, AttachmentError, a.Status)
	assert.Equal(t, "too large", a.ErrorMessage)
	assert.Equal(t, AttachmentReady, b.Status)

	// Order of the tracked set follows Attach, not resolution.
	all := tr.Attachments()
	require.Len(t, all, 2)
	assert.Equal(t, idA, all[0].ClientID)
	assert.Equal(t, idB, all[1].ClientID)
}

func TestTracker_Observer_SeesStatesInCommitOrder(t *testing.T) {
	api := newMockDocumentAPI()
	gateA := api.gate("a.txt")
	gateB := api.gate("b.txt")

	var (
		mu      sync.Mutex
		last    TrackerState
		stalled = make(chan struct{})
		once    sync.Once
	)
	observer := func(s TrackerState) {
		if len(s.Attachments) == 2 && s.Attachments[0].Status == AttachmentError {
			once.Do(func() {
				close(stalled)
				time.Sleep(100 * time.Millisecond)
			})
		}
		mu.Lock()
		last = s
		mu.Unlock()
	}
	tr := NewTracker(api, WithIDGenerator(sequentialIDs()), WithTrackerObserver(observer))
	defer tr.Close()

	tr.Attach(context.Background(), "a.txt", nil)
	tr.Attach(context.Background(), "b.txt", nil)

	gateA <- uploadOutcome{err: errors.New("quota exceeded")}
	select {
	case <-stalled:
	case <-time.After(testTimeout):
		t.Fatal("observer never saw the failed upload")
	}
	gateB <- uploadOutcome{documentID: "doc-b"}
	tr.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, tr.Attachments(), last.Attachments)
	assert.Equal(t, tr.Documents(), last.Documents)
	require.Len(t, last.Attachments, 2)
	assert.Equal(t, AttachmentError, last.Attachments[0].Status)
	assert.Equal(t, AttachmentReady, last.Attachments[1].Status)
}

func TestTracker_Attach_FailureMessage(t *testing.T) {
	api := newMockDocumentAPI()
	api.uploads["big.csv"] = uploadOutcome{err: errors.New("quota exceeded")}
	tr := NewTracker(api)
	defer tr.Close()

	id := tr.Attach(context.Background(), "big.csv", nil)
	tr.Wait()

	a, ok := tr.Attachment(id)
	require.True(t, ok)
	assert.Equal(t, AttachmentError, a.Status)
	assert.Equal(t, "quota exceeded", a.ErrorMessage)
	assert.Empty(t, a.DocumentID)
	assert.Empty(t, tr.ReadyDocumentIDs())
	assert.Equal(t, int32(0), api.listCalls.Load())
}

func TestTracker_Attach_EmptyErrorUsesFallback(t *testing.T) {
	api := newMockDocumentAPI()
	api.uploads["x"] = uploadOutcome{err: errors.New("")}
	tr := NewTracker(api)
	defer tr.Close()

	id := tr.Attach(context.Background(), "x", nil)
	tr.Wait()

	a, _ := tr.Attachment(id)
	assert.Equal(t, DefaultUploadError, a.ErrorMessage)
}

func TestTracker_Attach_UniqueClientIDs(t *testing.T) {
	api := newMockDocumentAPI()
	tr := NewTracker(api)
	defer tr.Close()

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		id := tr.Attach(context.Background(), "same.txt", nil)
		assert.False(t, seen[id])
		seen[id] = true
	}
	tr.Wait()
	assert.Len(t, tr.Attachments(), 20)
}

// =============================================================================
// Remove / Delete Tests
// =============================================================================

func TestTracker_Remove_DeletesBackendDocument(t *testing.T) {
	api := newMockDocumentAPI()
	api.uploads["a.txt"] = uploadOutcome{documentID: "d1"}
	tr := NewTracker(api)
	defer tr.Close()

	id := tr.Attach(context.Background(), "a.txt", nil)
	tr.Wait()
	require.Len(t, tr.Documents(), 1)

	tr.Remove(context.Background(), id, "")
	_, ok := tr.Attachment(id)
	assert.False(t, ok, "removal is immediate")

	tr.Wait()
	assert.Equal(t, []string{"d1"}, api.deletedIDs())
	assert.Empty(t, tr.Documents())
}

func TestTracker_Remove_DeleteFailureDoesNotResurrect(t *testing.T) {
	api := newMockDocumentAPI()
	api.uploads["a.txt"] = uploadOutcome{documentID: "d1"}
	tr := NewTracker(api)
	defer tr.Close()

	id := tr.Attach(context.Background(), "a.txt", nil)
	tr.Wait()

	api.deleteErr = errors.New("backend down")
	tr.Remove(context.Background(), id, "d1")
	tr.Wait()

	assert.Empty(t, tr.Attachments())
	require.Len(t, tr.Documents(), 1, "failed delete leaves the document cached")
	assert.Equal(t, []string{"d1"}, tr.ReadyDocumentIDs())
}

func TestTracker_Remove_WithoutDocumentIsLocalOnly(t *testing.T) {
	api := newMockDocumentAPI()
	api.uploads["bad"] = uploadOutcome{err: errors.New("nope")}
	tr := NewTracker(api)
	defer tr.Close()

	id := tr.Attach(context.Background(), "bad", nil)
	tr.Wait()
	tr.Remove(context.Background(), id, "")
	tr.Wait()

	assert.Empty(t, tr.Attachments())
	assert.Empty(t, api.deletedIDs())
}

func TestTracker_DeleteDocument_PrunesDocumentAndAttachments(t *testing.T) {
	api := newMockDocumentAPI()
	api.uploads["a.txt"] = uploadOutcome{documentID: "d1"}
	api.uploads["b.txt"] = uploadOutcome{documentID: "d2"}
	tr := NewTracker(api)
	defer tr.Close()

	tr.Attach(context.Background(), "a.txt", nil)
	tr.Attach(context.Background(), "b.txt", nil)
	tr.Wait()
	require.NoError(t, tr.Refresh(context.Background()))

	require.NoError(t, tr.DeleteDocument(context.Background(), "d1"))

	assert.Equal(t, []string{"d2"}, tr.ReadyDocumentIDs())
	require.Len(t, tr.Attachments(), 1)
	assert.Equal(t, "d2", tr.Attachments()[0].DocumentID)
}

func TestTracker_DeleteDocument_FailureLeavesState(t *testing.T) {
	api := newMockDocumentAPI()
	api.uploads["a.txt"] = uploadOutcome{documentID: "d1"}
	tr := NewTracker(api)
	defer tr.Close()

	tr.Attach(context.Background(), "a.txt", nil)
	tr.Wait()

	api.deleteErr = errors.New("forbidden")
	err := tr.DeleteDocument(context.Background(), "d1")

	assert.Error(t, err)
	assert.Len(t, tr.Attachments(), 1)
	assert.Len(t, tr.Documents(), 1)
}

// =============================================================================
// Refresh Tests
// =============================================================================

func TestTracker_Refresh_Idempotent(t *testing.T) {
	api := newMockDocumentAPI()
	api.documents = []StoredDocument{{ID: "d1", Filename: "a"}, {ID: "d2", Filename: "b"}}
	tr := NewTracker(api)
	defer tr.Close()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, tr.Refresh(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, api.documents, tr.Documents())
	assert.Equal(t, []string{"d1", "d2"}, tr.ReadyDocumentIDs())
}

func TestTracker_Refresh_FailureKeepsCache(t *testing.T) {
	api := newMockDocumentAPI()
	api.documents = []StoredDocument{{ID: "d1"}}
	tr := NewTracker(api)
	defer tr.Close()

	require.NoError(t, tr.Refresh(context.Background()))
	api.listErr = errors.New("timeout")

	assert.Error(t, tr.Refresh(context.Background()))
	assert.Len(t, tr.Documents(), 1)
}

func TestTracker_ReadyDocumentIDs_Dedupes(t *testing.T) {
	api := newMockDocumentAPI()
	api.uploads["a.txt"] = uploadOutcome{documentID: "d1"}
	tr := NewTracker(api)
	defer tr.Close()

	tr.Attach(context.Background(), "a.txt", nil)
	tr.Wait()

	require.Len(t, tr.Documents(), 1)
	assert.Equal(t, []string{"d1"}, tr.ReadyDocumentIDs())
}

// =============================================================================
// Teardown Tests
// =============================================================================

func TestTracker_Close_DropsLateUpload(t *testing.T) {
	var changes atomic.Int32
	api := newMockDocumentAPI()
	gate := api.gate("slow.bin")
	tr := NewTracker(api, WithTrackerObserver(func(TrackerState) { changes.Add(1) }))

	id := tr.Attach(context.Background(), "slow.bin", nil)
	require.Equal(t, int32(1), changes.Load())

	tr.Close()
	gate <- uploadOutcome{documentID: "late"}
	tr.Wait()

	a, ok := tr.Attachment(id)
	require.True(t, ok)
	assert.Equal(t, AttachmentUploading, a.Status)
	assert.Equal(t, int32(1), changes.Load())

	// Attach after Close still returns an id but tracks nothing.
	tr.Attach(context.Background(), "after.bin", nil)
	assert.Len(t, tr.Attachments(), 1)
}
