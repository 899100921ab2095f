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
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
)

const (
	// DefaultUploadError is shown when a failed upload carries no message.
	DefaultUploadError = "Upload failed"

	// DefaultDocumentPageSize is the limit used by Refresh.
	DefaultDocumentPageSize = 50
)

// TrackerState is an immutable snapshot of a Tracker.
type TrackerState struct {
	Attachments []Attachment
	Documents   []StoredDocument
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithTrackerObserver registers a callback invoked after every change.
func WithTrackerObserver(fn func(TrackerState)) TrackerOption {
	return func(t *Tracker) {
		t.onChange = fn
	}
}

// WithTrackerLogger sets the logger. Defaults to slog.Default().
func WithTrackerLogger(logger *slog.Logger) TrackerOption {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithIDGenerator replaces the client id generator (uuid by default).
func WithIDGenerator(fn func() string) TrackerOption {
	return func(t *Tracker) {
		t.newID = fn
	}
}

// WithPageSize sets the document list limit used by Refresh.
func WithPageSize(limit int) TrackerOption {
	return func(t *Tracker) {
		if limit > 0 {
			t.pageSize = limit
		}
	}
}

// Tracker follows client-side uploads and mirrors the stored document list.
//
// # Description
//
// Attachments are optimistic local state: an attachment is tracked as
// uploading as soon as it is added and moves to ready or error when its
// upload resolves. Stored documents are a cache of the backend list,
// replaced wholesale on every Refresh. ReadyDocumentIDs reconciles the two.
//
// Uploads run concurrently. Every resolution is applied by client id to the
// latest state, so uploads finishing out of order never overwrite each other.
//
// Delete and list failures are best effort: they are logged and leave the
// state as it was. A failed backend delete after Remove leaves a document on
// the server that the next Refresh will show again.
//
// # Thread Safety
//
// Safe for concurrent use. Updates after Close are dropped. The observer
// is called one snapshot at a time in commit order, so the last snapshot it
// receives is the current state. It may read the tracker but must not
// mutate it.
type Tracker struct {
	api      DocumentAPI
	logger   *slog.Logger
	newID    func() string
	pageSize int
	onChange func(TrackerState)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// publishMu is held across commit and notify so observers see states in
	// commit order. mu alone guards the fields below.
	publishMu sync.Mutex

	mu          sync.Mutex
	attachments []Attachment
	documents   []StoredDocument
	closed      bool
}

// NewTracker creates an empty tracker backed by api.
func NewTracker(api DocumentAPI, opts ...TrackerOption) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		api:      api,
		logger:   slog.Default(),
		newID:    func() string { return uuid.New().String() },
		pageSize: DefaultDocumentPageSize,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Attach starts tracking and uploading a file and returns its client id.
//
// The attachment is visible as uploading before Attach returns. A successful
// upload marks it ready with the backend document id and refreshes the
// stored document list; a failed one marks it error with the failure's
// message, or DefaultUploadError when there is none.
func (t *Tracker) Attach(ctx context.Context, filename string, content []byte) string {
	clientID := t.newID()

	if !t.update(func(a []Attachment, d []StoredDocument) ([]Attachment, []StoredDocument) {
		return append(a, Attachment{
			ClientID: clientID,
			Filename: filename,
			Status:   AttachmentUploading,
		}), d
	}) {
		return clientID
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		upCtx, cancel := linkContext(t.ctx, ctx)
		defer cancel()

		documentID, err := t.api.UploadDocument(upCtx, filename, content)
		if err != nil {
			msg := err.Error()
			if msg == "" {
				msg = DefaultUploadError
			}
			t.logger.Warn("Document upload failed", "filename", filename, "error", err)
			t.updateAttachment(clientID, func(a *Attachment) {
				a.Status = AttachmentError
				a.ErrorMessage = msg
			})
			return
		}

		t.logger.Info("Document uploaded", "filename", filename, "document_id", documentID)
		if !t.updateAttachment(clientID, func(a *Attachment) {
			a.Status = AttachmentReady
			a.DocumentID = documentID
		}) {
			return
		}
		_ = t.Refresh(upCtx)
	}()

	return clientID
}

// Remove stops tracking an attachment.
//
// If the attachment has a backend document (documentID, or the
// attachment's own id when documentID is empty) a background delete is
// issued and, on success, the document is pruned from the cache. A failed
// delete is logged and the attachment stays removed.
func (t *Tracker) Remove(ctx context.Context, clientID, documentID string) {
	var removed Attachment
	t.update(func(a []Attachment, d []StoredDocument) ([]Attachment, []StoredDocument) {
		return slices.DeleteFunc(a, func(x Attachment) bool {
			if x.ClientID == clientID {
				removed = x
				return true
			}
			return false
		}), d
	})

	if documentID == "" {
		documentID = removed.DocumentID
	}
	if documentID == "" {
		return
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		delCtx, cancel := linkContext(t.ctx, ctx)
		defer cancel()

		if err := t.api.DeleteDocument(delCtx, documentID); err != nil {
			t.logger.Warn("Document delete failed", "document_id", documentID, "error", err)
			return
		}
		t.update(func(a []Attachment, d []StoredDocument) ([]Attachment, []StoredDocument) {
			return a, pruneDocument(d, documentID)
		})
	}()
}

// DeleteDocument deletes a stored document and waits for the result.
//
// On success the document and every attachment pointing at it are removed.
// On failure the error is logged and returned and the state is untouched.
func (t *Tracker) DeleteDocument(ctx context.Context, documentID string) error {
	if err := t.api.DeleteDocument(ctx, documentID); err != nil {
		t.logger.Warn("Document delete failed", "document_id", documentID, "error", err)
		return err
	}
	t.update(func(a []Attachment, d []StoredDocument) ([]Attachment, []StoredDocument) {
		a = slices.DeleteFunc(a, func(x Attachment) bool { return x.DocumentID == documentID })
		return a, pruneDocument(d, documentID)
	})
	return nil
}

// Refresh replaces the stored document cache with the backend's list.
//
// Concurrent refreshes may resolve in any order; the last to resolve wins.
// A failed refresh is logged and leaves the cache as it was.
func (t *Tracker) Refresh(ctx context.Context) error {
	docs, err := t.api.ListDocuments(ctx, 0, t.pageSize)
	if err != nil {
		t.logger.Warn("Unable to load documents", "error", err)
		return err
	}
	docs = slices.Clone(docs)
	t.update(func(a []Attachment, _ []StoredDocument) ([]Attachment, []StoredDocument) {
		return a, docs
	})
	return nil
}

// Attachments returns the tracked attachments in the order they were added.
func (t *Tracker) Attachments() []Attachment {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.attachments)
}

// Attachment returns the attachment with the given client id.
func (t *Tracker) Attachment(clientID string) (Attachment, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, a := range t.attachments {
		if a.ClientID == clientID {
			return a, true
		}
	}
	return Attachment{}, false
}

// Documents returns the cached stored documents.
func (t *Tracker) Documents() []StoredDocument {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.documents)
}

// ReadyDocumentIDs returns the ids to send with the next research request.
func (t *Tracker) ReadyDocumentIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return MergeDocumentIDs(t.attachments, t.documents)
}

// Uploading reports whether any attachment is still uploading.
func (t *Tracker) Uploading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.ContainsFunc(t.attachments, func(a Attachment) bool {
		return a.Status == AttachmentUploading
	})
}

// Wait blocks until background uploads and deletes have finished.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// Close cancels background work and drops later updates.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.cancel()
}

// ===== Updates =====

// update produces the next state from fresh copies of the current one and
// publishes it before the next update can commit. It reports false when the
// tracker is closed.
func (t *Tracker) update(fn func([]Attachment, []StoredDocument) ([]Attachment, []StoredDocument)) bool {
	t.publishMu.Lock()
	defer t.publishMu.Unlock()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	t.attachments, t.documents = fn(slices.Clone(t.attachments), slices.Clone(t.documents))
	state := TrackerState{Attachments: t.attachments, Documents: t.documents}
	t.mu.Unlock()

	if t.onChange != nil {
		t.onChange(TrackerState{
			Attachments: slices.Clone(state.Attachments),
			Documents:   slices.Clone(state.Documents),
		})
	}
	return true
}

// updateAttachment applies fn to the attachment with clientID. It reports
// false when the attachment is gone or the tracker is closed.
func (t *Tracker) updateAttachment(clientID string, fn func(*Attachment)) bool {
	found := false
	ok := t.update(func(a []Attachment, d []StoredDocument) ([]Attachment, []StoredDocument) {
		for i := range a {
			if a[i].ClientID == clientID {
				fn(&a[i])
				found = true
				break
			}
		}
		return a, d
	})
	return ok && found
}

func pruneDocument(docs []StoredDocument, documentID string) []StoredDocument {
	return slices.DeleteFunc(docs, func(d StoredDocument) bool { return d.ID == documentID })
}
