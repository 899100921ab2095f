// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianResearch/pkg/extensions"
	"github.com/AleutianAI/AleutianResearch/services/gateway/handlers"
	"github.com/AleutianAI/AleutianResearch/services/gateway/middleware"
)

// Options configures the route table.
type Options struct {
	Deps         handlers.Deps
	AuthProvider extensions.AuthProvider

	// ResearchPerMinute limits research submissions per user. Zero disables.
	ResearchPerMinute int
	ResearchBurst     int
}

// SetupRoutes registers the proxy endpoints and the health check.
func SetupRoutes(router *gin.Engine, opts Options) {
	router.GET("/health", handlers.HealthCheck)

	api := router.Group("/api")
	api.Use(middleware.Session(opts.AuthProvider, opts.Deps.Logger))
	{
		api.GET("/documents", handlers.ListDocuments(opts.Deps))
		api.POST("/documents/upload", handlers.UploadDocument(opts.Deps))
		api.DELETE("/documents/:id", handlers.DeleteDocument(opts.Deps))
		// A delete without an id answers 400 instead of falling through to 404.
		api.DELETE("/documents", handlers.DeleteDocument(opts.Deps))
		api.POST("/research",
			middleware.RateLimit(opts.ResearchPerMinute, opts.ResearchBurst, "Too many research requests"),
			handlers.Research(opts.Deps),
		)
	}
}
