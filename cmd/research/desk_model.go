// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/AleutianResearch/pkg/gatewayclient"
	"github.com/AleutianAI/AleutianResearch/pkg/research"
	"github.com/AleutianAI/AleutianResearch/pkg/ux"
)

// =============================================================================
// Messages
// =============================================================================

// Messages arriving on the updates channel. Each one re-arms the listener.
type (
	sessionMsg research.SessionState
	trackerMsg research.TrackerState
	watchMsg   string
)

// One-shot command results.
type (
	refreshDoneMsg struct{ err error }
	deleteDoneMsg  struct {
		filename string
		err      error
	}
	exportedMsg struct {
		path string
		err  error
	}
)

// waitForUpdate delivers the next message from ch.
func waitForUpdate(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

// =============================================================================
// Keys
// =============================================================================

type deskKeyMap struct {
	Submit  key.Binding
	Focus   key.Binding
	Attach  key.Binding
	Detach  key.Binding
	Tab     key.Binding
	Export  key.Binding
	Delete  key.Binding
	Refresh key.Binding
	Up      key.Binding
	Down    key.Binding
	Blur    key.Binding
	Quit    key.Binding
}

func defaultDeskKeys() deskKeyMap {
	return deskKeyMap{
		Submit:  key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "research")),
		Focus:   key.NewBinding(key.WithKeys("ctrl+k"), key.WithHelp("ctrl+k", "question")),
		Attach:  key.NewBinding(key.WithKeys("ctrl+o"), key.WithHelp("ctrl+o", "attach path")),
		Detach:  key.NewBinding(key.WithKeys("ctrl+x"), key.WithHelp("ctrl+x", "detach last")),
		Tab:     key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "answer/sources/metrics")),
		Export:  key.NewBinding(key.WithKeys("ctrl+e"), key.WithHelp("ctrl+e", "export")),
		Delete:  key.NewBinding(key.WithKeys("ctrl+d"), key.WithHelp("ctrl+d", "delete doc")),
		Refresh: key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "reload docs")),
		Up:      key.NewBinding(key.WithKeys("up"), key.WithHelp("↑/↓", "select doc")),
		Down:    key.NewBinding(key.WithKeys("down")),
		Blur:    key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "leave input")),
		Quit:    key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
	}
}

// ShortHelp implements help.KeyMap.
func (k deskKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Submit, k.Focus, k.Attach, k.Tab, k.Export, k.Delete, k.Blur, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k deskKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Submit, k.Focus, k.Blur, k.Quit},
		{k.Attach, k.Detach, k.Delete, k.Refresh, k.Up},
		{k.Tab, k.Export},
	}
}

// =============================================================================
// Model
// =============================================================================

type deskTab int

const (
	tabAnswer deskTab = iota
	tabSources
	tabMetrics
)

var deskTabNames = []string{"Answer", "Sources", "Metrics"}

// deskConfig wires the workspace to its state machines.
type deskConfig struct {
	Session        *research.Session
	Tracker        *research.Tracker
	Updates        <-chan tea.Msg
	SignedIn       bool
	UseChatHistory bool
	ChatSessionID  string
	ExportDir      string
	Now            func() time.Time
}

// deskModel is the interactive research workspace.
//
// # Description
//
// The model renders snapshots pushed by the Session and Tracker observers;
// it never mutates research state itself. Key bindings exist only while
// the program runs, and quitting lets the caller close both state machines
// so results arriving afterwards are ignored.
type deskModel struct {
	ctx context.Context
	cfg deskConfig

	input    textarea.Model
	spinner  spinner.Model
	viewport viewport.Model
	help     help.Model
	keys     deskKeyMap

	state     research.SessionState
	docs      research.TrackerState
	tab       deskTab
	selected  int
	signedOut bool
	status    string

	width  int
	height int
}

func newDeskModel(ctx context.Context, cfg deskConfig) deskModel {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	input := textarea.New()
	input.Placeholder = "Ask a research question…"
	input.ShowLineNumbers = false
	input.CharLimit = 4000
	input.SetHeight(3)
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Spinner{Frames: ux.SpinnerFrames, FPS: time.Second / 12}
	spin.Style = ux.Styles.Highlight

	m := deskModel{
		ctx:       ctx,
		cfg:       cfg,
		input:     input,
		spinner:   spin,
		viewport:  viewport.New(80, 10),
		help:      help.New(),
		keys:      defaultDeskKeys(),
		state:     cfg.Session.Snapshot(),
		signedOut: !cfg.SignedIn,
		width:     80,
		height:    32,
	}
	m.resize()
	m.refreshViewport()
	return m
}

// Init starts the blink, the spinner, the update listener and the first
// document load.
func (m deskModel) Init() tea.Cmd {
	if m.signedOut {
		return nil
	}
	return tea.Batch(
		textarea.Blink,
		m.spinner.Tick,
		waitForUpdate(m.cfg.Updates),
		m.refreshCmd(),
	)
}

// Update handles one message.
func (m deskModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		m.refreshViewport()
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			return m, tea.Quit
		}
		if m.signedOut {
			return m, nil
		}
		return m.handleKey(msg)

	case sessionMsg:
		m.state = research.SessionState(msg)
		if m.state.Phase == research.PhaseFailed {
			if errors.Is(m.state.Err, gatewayclient.ErrUnauthorized) {
				m.signedOut = true
			} else {
				m.status = "Research failed: " + m.state.Err.Error()
			}
		}
		m.refreshViewport()
		return m, waitForUpdate(m.cfg.Updates)

	case trackerMsg:
		m.docs = research.TrackerState(msg)
		m.clampSelection()
		return m, waitForUpdate(m.cfg.Updates)

	case watchMsg:
		m.attachFile(string(msg))
		return m, waitForUpdate(m.cfg.Updates)

	case refreshDoneMsg:
		if errors.Is(msg.err, gatewayclient.ErrUnauthorized) {
			m.signedOut = true
		}
		return m, nil

	case deleteDoneMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("Could not delete %s: %v", msg.filename, msg.err)
		} else {
			m.status = "Deleted " + msg.filename
		}
		return m, nil

	case exportedMsg:
		if msg.err != nil {
			m.status = "Export failed: " + msg.err.Error()
		} else {
			m.status = "Exported to " + msg.path
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	if m.input.Focused() {
		m.input, cmd = m.input.Update(msg)
	}
	return m, cmd
}

func (m deskModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Submit):
		return m.submit(), nil

	case key.Matches(msg, m.keys.Focus):
		return m, m.input.Focus()

	case key.Matches(msg, m.keys.Blur):
		m.input.Blur()
		return m, nil

	case key.Matches(msg, m.keys.Attach):
		path := strings.TrimSpace(m.input.Value())
		if path != "" && m.attachFile(path) {
			m.input.Reset()
		}
		return m, nil

	case key.Matches(msg, m.keys.Detach):
		if n := len(m.docs.Attachments); n > 0 {
			last := m.docs.Attachments[n-1]
			m.cfg.Tracker.Remove(m.ctx, last.ClientID, last.DocumentID)
			m.status = "Detached " + last.Filename
		}
		return m, nil

	case key.Matches(msg, m.keys.Tab):
		m.tab = (m.tab + 1) % deskTab(len(deskTabNames))
		m.refreshViewport()
		return m, nil

	case key.Matches(msg, m.keys.Export):
		return m, m.exportCmd()

	case key.Matches(msg, m.keys.Delete):
		return m, m.deleteCmd()

	case key.Matches(msg, m.keys.Refresh):
		return m, m.refreshCmd()
	}

	if m.input.Focused() {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.Up):
		if m.selected > 0 {
			m.selected--
		}
		return m, nil
	case key.Matches(msg, m.keys.Down):
		if m.selected < len(m.docs.Documents)-1 {
			m.selected++
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// submit starts a run. Blank questions and submissions while a run is in
// flight are ignored.
func (m deskModel) submit() deskModel {
	err := m.cfg.Session.Submit(m.ctx, m.input.Value(), research.Request{
		AttachedDocumentIDs: m.cfg.Tracker.ReadyDocumentIDs(),
		UseChatHistory:      m.cfg.UseChatHistory,
		ChatSessionID:       m.cfg.ChatSessionID,
	})
	switch {
	case errors.Is(err, research.ErrEmptyQuestion), errors.Is(err, research.ErrAlreadyRunning):
		return m
	case err != nil:
		m.status = err.Error()
		return m
	}
	m.state = m.cfg.Session.Snapshot()
	m.status = ""
	m.tab = tabAnswer
	m.refreshViewport()
	return m
}

// attachFile reads path and hands it to the tracker. It reports whether the
// file was read.
func (m *deskModel) attachFile(path string) bool {
	path = expandHome(path)
	content, err := os.ReadFile(path)
	if err != nil {
		m.status = "Cannot attach: " + err.Error()
		return false
	}
	name := filepath.Base(path)
	m.cfg.Tracker.Attach(m.ctx, name, content)
	m.status = "Attaching " + name
	return true
}

func (m deskModel) refreshCmd() tea.Cmd {
	tracker, ctx := m.cfg.Tracker, m.ctx
	return func() tea.Msg {
		return refreshDoneMsg{err: tracker.Refresh(ctx)}
	}
}

func (m deskModel) deleteCmd() tea.Cmd {
	if len(m.docs.Documents) == 0 {
		return nil
	}
	doc := m.docs.Documents[m.selected]
	tracker, ctx := m.cfg.Tracker, m.ctx
	return func() tea.Msg {
		return deleteDoneMsg{filename: doc.Filename, err: tracker.DeleteDocument(ctx, doc.ID)}
	}
}

func (m deskModel) exportCmd() tea.Cmd {
	if m.state.Result == nil {
		return func() tea.Msg { return exportedMsg{err: errors.New("nothing to export yet")} }
	}
	path := filepath.Join(m.cfg.ExportDir, research.ExportFilename(m.cfg.Now()))
	md := research.ExportMarkdown(m.state.Question, m.state.Result)
	return func() tea.Msg {
		if err := os.WriteFile(path, []byte(md), 0o644); err != nil {
			return exportedMsg{err: err}
		}
		return exportedMsg{path: path}
	}
}

func (m *deskModel) clampSelection() {
	if m.selected >= len(m.docs.Documents) {
		m.selected = len(m.docs.Documents) - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
}

func (m *deskModel) resize() {
	inner := max(m.width-4, 20)
	m.input.SetWidth(inner)
	m.help.Width = m.width
	m.viewport.Width = inner
	// Header, pipeline, input, panes, tabs, status and help take ~24 rows.
	m.viewport.Height = max(m.height-24, 5)
}

// refreshViewport fills the result pane for the current tab and phase.
func (m *deskModel) refreshViewport() {
	m.viewport.SetContent(m.tabContent())
	m.viewport.GotoTop()
}

func (m deskModel) tabContent() string {
	res := m.state.Result
	switch m.tab {
	case tabSources:
		if res == nil {
			return ux.Styles.Muted.Render("Sources appear when research completes.")
		}
		return ux.SourcesList(res.Sources)
	case tabMetrics:
		if res == nil {
			return ux.Styles.Muted.Render("Metrics appear when research completes.")
		}
		return ux.MetricsTable(res.Metrics)
	}

	switch m.state.Phase {
	case research.PhaseCompleted:
		return ux.RenderAnswer(res.Answer, m.viewport.Width)
	case research.PhaseFailed:
		return ux.Styles.Error.Render("Research failed. Edit the question and press ctrl+s to retry.")
	case research.PhaseRunning:
		var parts []string
		for _, st := range m.state.Stages {
			if st.Content != "" {
				parts = append(parts, ux.Styles.Subtitle.Render(st.DisplayName), ux.RenderAnswer(st.Content, m.viewport.Width))
			}
		}
		if len(parts) == 0 {
			return ux.Styles.Muted.Render("Researching…")
		}
		return strings.Join(parts, "\n\n")
	default:
		return ux.Styles.Muted.Render("Type a question above and press ctrl+s.")
	}
}

// =============================================================================
// View
// =============================================================================

// View renders the workspace.
func (m deskModel) View() string {
	if m.signedOut {
		body := "You are signed out.\n\nRun `research login` to sign in, then reopen the desk."
		return lipgloss.JoinVertical(lipgloss.Left,
			ux.Styles.ErrorBox.Width(min(m.width-2, 60)).Render(ux.Styles.Title.Render("Sign in required")+"\n"+body),
			m.help.ShortHelpView([]key.Binding{m.keys.Quit}),
		)
	}

	header := ux.Styles.Title.Render("Aleutian Research Desk")
	if stats := ux.Stats(m.state.Result); stats != "" {
		header += "   " + stats
	}

	frame := ""
	if m.state.Running {
		frame = m.spinner.View()
	}
	pipeline := ux.StagePipeline(m.state.Stages, frame)

	inputBox := ux.Styles.Box
	if m.input.Focused() {
		inputBox = ux.Styles.FocusBox
	}

	half := max((m.width-6)/2, 20)
	panes := lipgloss.JoinHorizontal(lipgloss.Top,
		ux.Styles.Box.Width(half).Render(m.attachmentsView()),
		ux.Styles.Box.Width(half).Render(m.documentsView()),
	)

	tabs := make([]string, len(deskTabNames))
	for i, name := range deskTabNames {
		if deskTab(i) == m.tab {
			tabs[i] = ux.Styles.Highlight.Render("[" + name + "]")
		} else {
			tabs[i] = ux.Styles.Muted.Render(" " + name + " ")
		}
	}

	status := ""
	if m.status != "" {
		status = ux.Styles.Subtitle.Render(m.status)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		"",
		pipeline,
		inputBox.Render(m.input.View()),
		panes,
		strings.Join(tabs, " "),
		m.viewport.View(),
		status,
		m.help.View(m.keys),
	)
}

func (m deskModel) attachmentsView() string {
	lines := []string{ux.Styles.Bold.Render("Attachments")}
	if len(m.docs.Attachments) == 0 {
		lines = append(lines, ux.Styles.Muted.Render("none yet (ctrl+o attaches the path in the input)"))
	}
	for _, a := range m.docs.Attachments {
		lines = append(lines, ux.AttachmentLine(a))
	}
	return strings.Join(lines, "\n")
}

func (m deskModel) documentsView() string {
	lines := []string{ux.Styles.Bold.Render("Library")}
	if len(m.docs.Documents) == 0 {
		lines = append(lines, ux.Styles.Muted.Render("no stored documents"))
	}
	for i, d := range m.docs.Documents {
		marker := "  "
		if i == m.selected && !m.input.Focused() {
			marker = ux.Styles.Highlight.Render("> ")
		}
		lines = append(lines, marker+ux.DocumentLine(d))
	}
	return strings.Join(lines, "\n")
}
