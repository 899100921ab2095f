// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the research CLI's YAML configuration.
package config

import (
	"github.com/AleutianAI/AleutianResearch/pkg/research"
)

// DefaultGatewayURL is the gateway a fresh install talks to.
const DefaultGatewayURL = "http://localhost:3000"

// ResearchConfig is ~/.aleutian-research/research.yaml.
type ResearchConfig struct {
	// GatewayURL is the research gateway base URL.
	GatewayURL string `yaml:"gateway_url" validate:"required,url"`

	// SessionToken is sent as the bearer token. Empty means signed out.
	SessionToken string `yaml:"session_token,omitempty"`

	// UseChatHistory is forwarded with every research request.
	UseChatHistory bool `yaml:"use_chat_history"`

	// ChatSessionID is forwarded when set.
	ChatSessionID string `yaml:"chat_session_id,omitempty"`

	// Animation is the stage animation schedule.
	Animation research.Schedule `yaml:"animation"`

	// WatchDir, when set, is watched by the desk for files to attach.
	WatchDir string `yaml:"watch_dir,omitempty"`

	// LogDir receives the CLI log file.
	LogDir string `yaml:"log_dir"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() ResearchConfig {
	return ResearchConfig{
		GatewayURL: DefaultGatewayURL,
		Animation:  research.DefaultSchedule(),
		LogDir:     "~/.aleutian-research/logs",
	}
}

// SignedIn reports whether a session token is configured.
func (c ResearchConfig) SignedIn() bool {
	return c.SessionToken != ""
}
