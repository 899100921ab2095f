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
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// OutputLevel defines the richness of CLI output
type OutputLevel string

const (
	// OutputRich enables colors, icons, boxes and rendered markdown
	OutputRich OutputLevel = "rich"

	// OutputMinimal uses icons and basic formatting only
	OutputMinimal OutputLevel = "minimal"

	// OutputPlain outputs plain text suitable for scripting and piping
	OutputPlain OutputLevel = "plain"
)

// OutputEnvVar overrides terminal detection.
const OutputEnvVar = "ALEUTIAN_RESEARCH_OUTPUT"

var (
	currentLevel = OutputRich
	levelMu      sync.RWMutex
)

// Level returns the current output level
func Level() OutputLevel {
	levelMu.RLock()
	defer levelMu.RUnlock()
	return currentLevel
}

// SetLevel updates the output level
func SetLevel(level OutputLevel) {
	levelMu.Lock()
	defer levelMu.Unlock()
	currentLevel = level
}

// ParseLevel converts a string to OutputLevel. Unknown values yield rich.
func ParseLevel(s string) OutputLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimal", "min", "m":
		return OutputMinimal
	case "plain", "machine", "quiet", "q":
		return OutputPlain
	default:
		return OutputRich
	}
}

// InitLevel picks the output level from the environment, then from whether
// stdout is a terminal.
func InitLevel() {
	if env := os.Getenv(OutputEnvVar); env != "" {
		SetLevel(ParseLevel(env))
		return
	}
	if !IsTerminal(os.Stdout) {
		SetLevel(OutputPlain)
		return
	}
	SetLevel(OutputRich)
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// IsPlain reports whether output should carry no styling.
func IsPlain() bool {
	return Level() == OutputPlain
}

// IsInteractive reports whether prompts and the TUI can be shown.
func IsInteractive() bool {
	return !IsPlain() && IsTerminal(os.Stdin) && IsTerminal(os.Stdout)
}
