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

	"github.com/charmbracelet/lipgloss"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New()

// RenderAnswer renders a markdown answer for the terminal.
//
// # Description
//
// The answer is parsed with goldmark and written back as styled text:
// headings, emphasis, inline code, lists (nested, ordered and unordered),
// block quotes, code blocks, links and thematic breaks. Raw HTML is
// dropped. In plain output the structure is kept but no styling is
// applied, so the result is stable for piping.
//
// # Inputs
//
//   - src: Markdown source.
//   - width: Wrap paragraphs at this many cells. Zero or plain output
//     disables wrapping.
//
// # Outputs
//
//   - string: Rendered text without a trailing newline.
func RenderAnswer(src string, width int) string {
	source := []byte(src)
	doc := markdown.Parser().Parse(text.NewReader(source))
	r := &mdRenderer{source: source, width: width, plain: IsPlain()}
	return strings.TrimRight(r.blocks(doc), "\n")
}

type mdRenderer struct {
	source []byte
	width  int
	plain  bool
}

func (r *mdRenderer) styled(s lipgloss.Style, text string) string {
	if r.plain {
		return text
	}
	return s.Render(text)
}

// blocks renders the block children of n separated by blank lines.
func (r *mdRenderer) blocks(n ast.Node) string {
	var parts []string
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if out := r.block(c); out != "" {
			parts = append(parts, out)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (r *mdRenderer) block(n ast.Node) string {
	switch node := n.(type) {
	case *ast.Heading:
		content := r.inlines(node)
		if r.plain {
			return strings.Repeat("#", node.Level) + " " + content
		}
		if node.Level <= 2 {
			return Styles.Title.Render(content)
		}
		return Styles.Bold.Render(content)

	case *ast.Paragraph, *ast.TextBlock:
		return r.wrap(r.inlines(node))

	case *ast.List:
		return r.list(node)

	case *ast.Blockquote:
		inner := r.blocks(node)
		lines := strings.Split(inner, "\n")
		for i, l := range lines {
			lines[i] = r.styled(Styles.Quote, "│ "+l)
		}
		return strings.Join(lines, "\n")

	case *ast.FencedCodeBlock, *ast.CodeBlock:
		var lines []string
		segs := n.Lines()
		for i := 0; i < segs.Len(); i++ {
			seg := segs.At(i)
			line := strings.TrimRight(string(seg.Value(r.source)), "\n")
			lines = append(lines, "    "+r.styled(Styles.Code, line))
		}
		return strings.Join(lines, "\n")

	case *ast.ThematicBreak:
		return r.styled(Styles.Muted, strings.Repeat("─", 24))

	case *ast.HTMLBlock:
		return ""

	default:
		return r.blocks(n)
	}
}

func (r *mdRenderer) list(list *ast.List) string {
	var items []string
	num := list.Start
	if num == 0 {
		num = 1
	}
	for c := list.FirstChild(); c != nil; c = c.NextSibling() {
		marker := IconBullet.Render()
		if list.IsOrdered() {
			marker = fmt.Sprintf("%d.", num)
			num++
		}
		pad := strings.Repeat(" ", lipgloss.Width(marker)+1)

		var parts []string
		for b := c.FirstChild(); b != nil; b = b.NextSibling() {
			if out := r.block(b); out != "" {
				parts = append(parts, out)
			}
		}
		lines := strings.Split(strings.Join(parts, "\n"), "\n")
		for i := range lines {
			if i == 0 {
				lines[i] = marker + " " + lines[i]
			} else {
				lines[i] = pad + lines[i]
			}
		}
		items = append(items, strings.Join(lines, "\n"))
	}
	return strings.Join(items, "\n")
}

// inlines renders the inline children of n.
func (r *mdRenderer) inlines(n ast.Node) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		b.WriteString(r.inline(c))
	}
	return b.String()
}

func (r *mdRenderer) inline(n ast.Node) string {
	switch node := n.(type) {
	case *ast.Text:
		s := string(node.Segment.Value(r.source))
		switch {
		case node.HardLineBreak():
			s += "\n"
		case node.SoftLineBreak():
			s += " "
		}
		return s

	case *ast.String:
		return string(node.Value)

	case *ast.Emphasis:
		content := r.inlines(node)
		if node.Level >= 2 {
			return r.styled(Styles.Bold, content)
		}
		return r.styled(lipgloss.NewStyle().Italic(true), content)

	case *ast.CodeSpan:
		content := r.inlines(node)
		if r.plain {
			return "`" + content + "`"
		}
		return Styles.Code.Render(content)

	case *ast.Link:
		label := r.inlines(node)
		dest := string(node.Destination)
		if dest == "" || dest == label {
			return r.styled(Styles.Subtitle, label)
		}
		return label + " " + r.styled(Styles.Muted, "("+dest+")")

	case *ast.AutoLink:
		return r.styled(Styles.Subtitle, string(node.URL(r.source)))

	case *ast.Image:
		return r.inlines(node)

	case *ast.RawHTML:
		return ""

	default:
		return r.inlines(n)
	}
}

func (r *mdRenderer) wrap(s string) string {
	if r.plain || r.width <= 0 {
		return s
	}
	return lipgloss.NewStyle().Width(r.width).Render(s)
}
