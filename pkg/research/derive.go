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
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TotalLatency sums the latency of every metric, in seconds.
func TotalLatency(metrics []StepMetric) float64 {
	var total float64
	for _, m := range metrics {
		total += m.Latency
	}
	return total
}

// AverageScore is the mean score over metrics that carry one.
//
// Unscored steps are excluded rather than counted as zero. The bool is
// false when no metric has a score.
func AverageScore(metrics []StepMetric) (float64, bool) {
	var sum float64
	var n int
	for _, m := range metrics {
		if s, ok := m.Score(); ok {
			sum += s
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// ExportMarkdown formats a result as a markdown document.
func ExportMarkdown(question string, result *ResearchResult) string {
	if result == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Research: %s\n\n", question)
	fmt.Fprintf(&b, "## Answer\n\n%s\n\n", result.Answer)
	fmt.Fprintf(&b, "## Plan\n\n%s\n\n", result.Plan)
	fmt.Fprintf(&b, "## Insights\n\n%s\n\n", result.Insights)
	b.WriteString("## Metrics\n\n")

	lines := make([]string, 0, len(result.Metrics))
	for _, m := range result.Metrics {
		score := "n/a"
		if s, ok := m.Score(); ok {
			score = FormatScore(s) + "/10"
		}
		lines = append(lines, fmt.Sprintf("- **%s**: %.2fs (score: %s)", m.Step, m.Latency, score))
	}
	b.WriteString(strings.Join(lines, "\n"))
	return b.String()
}

// ExportFilename returns the file name used for a markdown export.
func ExportFilename(now time.Time) string {
	return fmt.Sprintf("research-%d.md", now.UnixMilli())
}

// FormatScore prints a score without trailing zeros ("8", "7.5").
func FormatScore(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}

// MergeDocumentIDs is the deduplicated union of ready attachment document
// ids and stored document ids, in first-seen order (attachments first).
func MergeDocumentIDs(attachments []Attachment, documents []StoredDocument) []string {
	seen := make(map[string]struct{}, len(attachments)+len(documents))
	ids := make([]string, 0, len(attachments)+len(documents))

	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	for _, a := range attachments {
		if a.Status == AttachmentReady {
			add(a.DocumentID)
		}
	}
	for _, d := range documents {
		add(d.ID)
	}
	return ids
}
