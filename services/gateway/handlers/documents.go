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
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianResearch/services/gateway/backend"
	"github.com/AleutianAI/AleutianResearch/services/gateway/observability"
)

// ListDocuments proxies GET /api/documents?skip&limit to GET /documents.
// skip and limit default to 0 and 50.
func ListDocuments(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		call, ctx := startCall(deps, c, observability.EndpointListDocuments, msgListFailed)
		defer call.end()

		headers := call.headers(nil)
		if headers == nil {
			return
		}

		query := url.Values{}
		query.Set("skip", c.DefaultQuery("skip", "0"))
		query.Set("limit", c.DefaultQuery("limit", "50"))

		resp, ok := call.forward(ctx, backend.Request{
			Method: http.MethodGet,
			Path:   "/documents",
			Query:  query,
			Header: headers,
		})
		if !ok {
			return
		}
		call.relay(resp)
	}
}

// UploadDocument proxies the multipart "file" field to POST /documents/upload.
func UploadDocument(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		call, ctx := startCall(deps, c, observability.EndpointUploadDocument, msgUploadFailed)
		defer call.end()

		fh, err := c.FormFile("file")
		if err != nil || fh == nil {
			call.badRequest(msgFileRequired)
			return
		}
		call.resource = fh.Filename

		headers := call.headers(nil)
		if headers == nil {
			return
		}

		body, contentType, err := encodeUpload(fh)
		if err != nil {
			call.transportFailure(err)
			return
		}
		headers.Set("Content-Type", contentType)
		call.span.SetAttributes(
			attribute.String("file.name", fh.Filename),
			attribute.Int64("file.size", fh.Size),
		)

		resp, ok := call.forward(ctx, backend.Request{
			Method: http.MethodPost,
			Path:   "/documents/upload",
			Header: headers,
			Body:   body,
		})
		if !ok {
			return
		}
		call.relay(resp)
	}
}

// DeleteDocument proxies DELETE /api/documents/:id to DELETE /documents/:id.
func DeleteDocument(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		call, ctx := startCall(deps, c, observability.EndpointDeleteDocument, msgDeleteFailed)
		defer call.end()

		id := strings.TrimSpace(c.Param("id"))
		if id == "" {
			call.badRequest(msgDocIDRequired)
			return
		}
		call.resource = id

		headers := call.headers(nil)
		if headers == nil {
			return
		}
		call.span.SetAttributes(attribute.String("document_id", id))

		resp, ok := call.forward(ctx, backend.Request{
			Method: http.MethodDelete,
			Path:   "/documents/" + url.PathEscape(id),
			Header: headers,
		})
		if !ok {
			return
		}
		call.relay(resp)
	}
}

// encodeUpload re-encodes an uploaded file as a single-field multipart body.
func encodeUpload(fh *multipart.FileHeader) ([]byte, string, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, "", fmt.Errorf("open uploaded file: %w", err)
	}
	defer src.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", fh.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, src); err != nil {
		return nil, "", fmt.Errorf("copy uploaded file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}
