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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want OutputLevel
	}{
		{"rich", OutputRich},
		{"", OutputRich},
		{"unknown", OutputRich},
		{"minimal", OutputMinimal},
		{"MIN", OutputMinimal},
		{"plain", OutputPlain},
		{"machine", OutputPlain},
		{" q ", OutputPlain},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestSetLevel_AndGet(t *testing.T) {
	withLevel(t, OutputMinimal)
	assert.Equal(t, OutputMinimal, Level())
	assert.False(t, IsPlain())

	SetLevel(OutputPlain)
	assert.True(t, IsPlain())
}

func TestInitLevel_EnvOverride(t *testing.T) {
	withLevel(t, OutputRich)
	t.Setenv(OutputEnvVar, "minimal")

	InitLevel()
	assert.Equal(t, OutputMinimal, Level())
}

func TestInitLevel_NonTerminalIsPlain(t *testing.T) {
	withLevel(t, OutputRich)
	t.Setenv(OutputEnvVar, "")

	// go test pipes stdout, so it is never a terminal here.
	if IsTerminal(os.Stdout) {
		t.Skip("stdout is a terminal")
	}
	InitLevel()
	assert.Equal(t, OutputPlain, Level())
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, IsTerminal(nil))

	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	assert.False(t, IsTerminal(f))
}
