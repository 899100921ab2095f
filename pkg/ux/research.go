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
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianResearch/pkg/research"
)

// =============================================================================
// Stages
// =============================================================================

// StageLine renders one pipeline stage.
//
// # Inputs
//
//   - stage: The stage to render.
//   - spinner: Glyph shown in place of the active icon. Empty uses IconActive.
//
// # Outputs
//
//   - string: "<icon> <name>  <description>" followed by latency and score
//     once the stage has completed and carries them.
func StageLine(stage research.Stage, spinner string) string {
	var icon string
	switch stage.Status {
	case research.StatusCompleted:
		icon = IconSuccess.Render()
	case research.StatusActive:
		icon = IconActive.Render()
		if spinner != "" {
			icon = spinner
		}
	default:
		icon = IconPending.Render()
	}

	name := stage.DisplayName
	if stage.Status == research.StatusActive {
		name = style(Styles.Highlight, name)
	}
	line := fmt.Sprintf("%s %s  %s", icon, name, style(Styles.Muted, stage.Description))

	var extras []string
	if stage.Latency != nil {
		extras = append(extras, fmt.Sprintf("%.2fs", *stage.Latency))
	}
	if stage.Score != nil {
		extras = append(extras, fmt.Sprintf("%s/10", research.FormatScore(*stage.Score)))
	}
	if len(extras) > 0 {
		line += "  " + style(Styles.Subtitle, strings.Join(extras, " · "))
	}
	return line
}

// StagePipeline renders every stage, one per line.
func StagePipeline(stages []research.Stage, spinner string) string {
	lines := make([]string, 0, len(stages))
	for _, st := range stages {
		lines = append(lines, StageLine(st, spinner))
	}
	return strings.Join(lines, "\n")
}

// =============================================================================
// Results
// =============================================================================

// Stats renders the header figures of a finished run: total latency,
// average score and source count.
func Stats(result *research.ResearchResult) string {
	if result == nil {
		return ""
	}
	avg := "n/a"
	if v, ok := research.AverageScore(result.Metrics); ok {
		avg = fmt.Sprintf("%.1f/10", v)
	}
	return fmt.Sprintf("%s %.2fs   %s %s   %s %d",
		style(Styles.Muted, "latency"), research.TotalLatency(result.Metrics),
		style(Styles.Muted, "avg score"), avg,
		style(Styles.Muted, "sources"), len(result.Sources),
	)
}

// MetricsTable renders one row per step metric with its label, latency and
// score.
func MetricsTable(metrics []research.StepMetric) string {
	if len(metrics) == 0 {
		return style(Styles.Muted, "No metrics reported.")
	}
	var b strings.Builder
	for i, m := range metrics {
		if i > 0 {
			b.WriteString("\n")
		}
		score := "n/a"
		if v, ok := m.Score(); ok {
			score = research.FormatScore(v) + "/10"
		}
		fmt.Fprintf(&b, "%-14s %8.2fs  %s", research.StageLabel(research.StageID(m.Step)), m.Latency, score)
		if m.NumSources != nil {
			fmt.Fprintf(&b, "  %s", style(Styles.Muted, fmt.Sprintf("%d sources", *m.NumSources)))
		}
		if m.Reasoning != "" {
			fmt.Fprintf(&b, "\n  %s", style(Styles.Muted, m.Reasoning))
		}
	}
	return b.String()
}

// SourcesList renders cited sources.
func SourcesList(sources []research.Source) string {
	if len(sources) == 0 {
		return style(Styles.Muted, "No sources cited.")
	}
	var b strings.Builder
	for i, src := range sources {
		if i > 0 {
			b.WriteString("\n")
		}
		title := src.Title
		if title == "" {
			title = src.URL
		}
		fmt.Fprintf(&b, "%d. %s", i+1, style(Styles.Bold, title))
		if src.Confidence != nil {
			fmt.Fprintf(&b, " %s", style(Styles.Muted, fmt.Sprintf("(%.0f%%)", *src.Confidence*100)))
		}
		if src.URL != "" && src.URL != title {
			fmt.Fprintf(&b, "\n   %s", style(Styles.Subtitle, src.URL))
		}
		if src.Snippet != "" {
			fmt.Fprintf(&b, "\n   %s", src.Snippet)
		}
	}
	return b.String()
}

// =============================================================================
// Documents
// =============================================================================

// AttachmentLine renders an attached file with its upload status.
func AttachmentLine(a research.Attachment) string {
	switch a.Status {
	case research.AttachmentReady:
		return fmt.Sprintf("%s %s", IconSuccess.Render(), a.Filename)
	case research.AttachmentError:
		return fmt.Sprintf("%s %s %s", IconError.Render(), a.Filename, style(Styles.Error, "("+a.ErrorMessage+")"))
	default:
		return fmt.Sprintf("%s %s %s", IconPending.Render(), a.Filename, style(Styles.Muted, "uploading…"))
	}
}

// DocumentLine renders a stored document with its size and chunk count
// when known.
func DocumentLine(d research.StoredDocument) string {
	var meta []string
	if d.FileSize != nil {
		meta = append(meta, HumanBytes(*d.FileSize))
	}
	if d.NumChunks != nil {
		meta = append(meta, fmt.Sprintf("%d chunks", *d.NumChunks))
	}
	if d.Status != "" {
		meta = append(meta, d.Status)
	}
	line := fmt.Sprintf("%s %s", IconBullet.Render(), d.Filename)
	if len(meta) > 0 {
		line += "  " + style(Styles.Muted, strings.Join(meta, ", "))
	}
	return line
}

// HumanBytes formats a byte count using binary units.
func HumanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
