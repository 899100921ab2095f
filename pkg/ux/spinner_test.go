// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// syncBuffer is a bytes.Buffer safe for the spinner goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSpinner_PlainPrintsOnce(t *testing.T) {
	withLevel(t, OutputPlain)

	var buf syncBuffer
	s := NewSpinner(&buf, "Uploading")
	s.Start()
	s.Start()
	s.Stop()
	s.Stop()

	assert.Equal(t, "PROGRESS: Uploading\n", buf.String())
}

func TestSpinner_RichAnimatesAndClears(t *testing.T) {
	withLevel(t, OutputRich)

	var buf syncBuffer
	s := NewSpinner(&buf, "Working")
	s.Start()
	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(buf.String()), []byte("Working"))
	}, time.Second, 10*time.Millisecond)

	s.UpdateMessage("Still working")
	s.Stop()
	assert.Contains(t, buf.String(), "\r\033[K")
}

func TestSpinner_StopWithoutStart(t *testing.T) {
	var buf syncBuffer
	NewSpinner(&buf, "idle").Stop()
	assert.Empty(t, buf.String())
}

func TestWithSpinner(t *testing.T) {
	withLevel(t, OutputPlain)

	t.Run("success", func(t *testing.T) {
		var buf syncBuffer
		err := WithSpinner(&buf, "Listing", func() error { return nil })
		assert.NoError(t, err)
		assert.Contains(t, buf.String(), "OK: Listing")
	})

	t.Run("failure", func(t *testing.T) {
		var buf syncBuffer
		boom := errors.New("boom")
		err := WithSpinner(&buf, "Listing", func() error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, buf.String(), "ERROR: Listing: boom")
	})
}
