// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package gatewayclient is the CLI's HTTP client for the research gateway.

The gateway exposes four proxy endpoints under /api. The client speaks to
them with the user's session token and decodes their payloads into the
types of package research, so a Client can be handed directly to
research.NewSession and research.NewTracker.

# Errors

  - 401 from any endpoint is reported as ErrUnauthorized. The desk shows its
    sign-in gate on this error.
  - Any other non-2xx is an *APIError carrying the status, the message from
    the body's "error" field (or a generic one) and the raw body.
  - Transport failures are returned wrapped.

# Usage

	client := gatewayclient.New("http://localhost:3000", token)
	session := research.NewSession(client)
	tracker := research.NewTracker(client)
*/
package gatewayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianResearch/pkg/research"
)

// ErrUnauthorized is returned when the gateway rejects the session token.
var ErrUnauthorized = errors.New("not signed in")

// DefaultTimeout bounds a single gateway call.
const DefaultTimeout = 5 * time.Minute

// APIError is a non-2xx, non-401 answer from the gateway.
type APIError struct {
	// StatusCode is the HTTP status returned by the gateway.
	StatusCode int

	// Message is the body's "error" field, or a generic message.
	Message string

	// Body is the raw response body.
	Body []byte
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// Client calls the research gateway.
//
// # Thread Safety
//
// Safe for concurrent use once constructed. Fields must not change while
// calls are in flight.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// New creates a client with DefaultTimeout.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// Research submits a research request and returns the backend's result.
func (c *Client) Research(ctx context.Context, req research.Request) (*research.ResearchResult, error) {
	payload, err := json.Marshal(req.Body())
	if err != nil {
		return nil, fmt.Errorf("encode research request: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/api/research", nil, "application/json",
		bytes.NewReader(payload), "Research failed")
	if err != nil {
		return nil, err
	}

	var result research.ResearchResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode research result: %w", err)
	}
	return &result, nil
}

// UploadDocument uploads a file and returns the backend document id.
func (c *Client) UploadDocument(ctx context.Context, filename string, content []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/api/documents/upload", nil,
		mw.FormDataContentType(), &buf, research.DefaultUploadError)
	if err != nil {
		return "", err
	}

	var resp struct {
		DocumentID string `json:"document_id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	return resp.DocumentID, nil
}

// DeleteDocument deletes a stored document.
func (c *Client) DeleteDocument(ctx context.Context, documentID string) error {
	if strings.TrimSpace(documentID) == "" {
		return errors.New("document id is required")
	}
	_, err := c.do(ctx, http.MethodDelete, "/api/documents/"+url.PathEscape(documentID), nil,
		"", nil, "Delete failed")
	return err
}

// ListDocuments returns a page of stored documents. A payload without a
// "documents" array is treated as an empty list.
func (c *Client) ListDocuments(ctx context.Context, skip, limit int) ([]research.StoredDocument, error) {
	q := url.Values{}
	q.Set("skip", strconv.Itoa(skip))
	q.Set("limit", strconv.Itoa(limit))

	body, err := c.do(ctx, http.MethodGet, "/api/documents", q, "", nil, "Unable to load documents")
	if err != nil {
		return nil, err
	}

	var resp struct {
		Documents json.RawMessage `json:"documents"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode document list: %w", err)
	}

	var docs []research.StoredDocument
	if len(resp.Documents) == 0 || json.Unmarshal(resp.Documents, &docs) != nil || docs == nil {
		return []research.StoredDocument{}, nil
	}
	return docs, nil
}

// do sends one request and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, method, path string, query url.Values,
	contentType string, body io.Reader, fallback string) ([]byte, error) {

	target := c.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(raw, fallback),
			Body:       raw,
		}
	}
	return raw, nil
}

// errorMessage reads the "error" field of a JSON body.
func errorMessage(raw []byte, fallback string) string {
	var payload struct {
		Error any `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		if msg, ok := payload.Error.(string); ok && msg != "" {
			return msg
		}
	}
	return fallback
}

var (
	_ research.Researcher  = (*Client)(nil)
	_ research.DocumentAPI = (*Client)(nil)
)
