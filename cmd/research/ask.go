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
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianResearch/pkg/gatewayclient"
	"github.com/AleutianAI/AleutianResearch/pkg/research"
	"github.com/AleutianAI/AleutianResearch/pkg/ux"
)

// exportAuto asks for the generated export filename.
const exportAuto = "auto"

var (
	askAttach    []string
	askExport    string
	askNoAnimate bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Research a question and print the answer",
	Long: `Uploads any attached files, submits the question with every ready
document and prints stage progress, the answer, its sources and metrics.

--export writes the run as markdown; without a value the file is named
research-<unix-millis>.md in the current directory.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringSliceVarP(&askAttach, "attach", "a", nil, "file to upload and attach (repeatable)")
	askCmd.Flags().StringVar(&askExport, "export", "", "write the result as markdown to this path")
	askCmd.Flags().Lookup("export").NoOptDefVal = exportAuto
	askCmd.Flags().BoolVar(&askNoAnimate, "no-animate", false, "skip the stage animation")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	if !settings.SignedIn() {
		return errNotSignedIn
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	schedule := settings.Animation
	if askNoAnimate {
		schedule = research.Schedule{}
	}
	return ask(ctx, cmd.OutOrStdout(), newClient(), askOptions{
		Question: strings.Join(args, " "),
		Attach:   askAttach,
		Export:   askExport,
		Schedule: schedule,
		Now:      time.Now,
	})
}

var errNotSignedIn = errors.New("not signed in; run `research login`")

// askOptions is one non-interactive research run.
type askOptions struct {
	Question string
	Attach   []string
	Export   string
	Schedule research.Schedule
	Now      func() time.Time
}

// researchAPI is what ask needs from the gateway.
type researchAPI interface {
	research.Researcher
	research.DocumentAPI
}

// ask uploads attachments, runs the session to completion and prints the
// outcome.
func ask(ctx context.Context, out io.Writer, api researchAPI, opts askOptions) error {
	log := logger.Slog()

	tracker := research.NewTracker(api, research.WithTrackerLogger(log))
	defer tracker.Close()

	if err := tracker.Refresh(ctx); errors.Is(err, gatewayclient.ErrUnauthorized) {
		return errNotSignedIn
	}

	for _, path := range opts.Attach {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		tracker.Attach(ctx, filepath.Base(path), content)
	}
	if len(opts.Attach) > 0 {
		tracker.Wait()
		for _, a := range tracker.Attachments() {
			fmt.Fprintln(out, ux.AttachmentLine(a))
		}
	}

	reporter := &stageReporter{w: out, seen: map[research.StageID]research.StageStatus{}}
	session := research.NewSession(api,
		research.WithSchedule(opts.Schedule),
		research.WithObserver(reporter.observe),
		research.WithSessionLogger(log),
	)
	defer session.Close()

	ux.Title(out, "Researching: "+strings.TrimSpace(opts.Question))
	err := session.Submit(ctx, opts.Question, research.Request{
		AttachedDocumentIDs: tracker.ReadyDocumentIDs(),
		UseChatHistory:      settings.UseChatHistory,
		ChatSessionID:       settings.ChatSessionID,
	})
	if err != nil {
		return err
	}
	session.Wait()

	state := session.Snapshot()
	if state.Phase == research.PhaseFailed {
		if errors.Is(state.Err, gatewayclient.ErrUnauthorized) {
			return errNotSignedIn
		}
		return fmt.Errorf("research failed: %w", state.Err)
	}
	printResult(out, state.Result)

	if opts.Export != "" {
		path := opts.Export
		if path == exportAuto {
			path = research.ExportFilename(opts.Now())
		}
		md := research.ExportMarkdown(state.Question, state.Result)
		if err := os.WriteFile(path, []byte(md), 0o644); err != nil {
			return fmt.Errorf("export: %w", err)
		}
		ux.Success(out, "Exported to "+path)
	}
	return nil
}

func printResult(out io.Writer, result *research.ResearchResult) {
	fmt.Fprintln(out)
	ux.Box(out, "Answer", ux.RenderAnswer(result.Answer, 68))
	fmt.Fprintln(out, ux.Stats(result))
	if len(result.Sources) > 0 {
		fmt.Fprintln(out)
		ux.Title(out, "Sources")
		fmt.Fprintln(out, ux.SourcesList(result.Sources))
	}
	fmt.Fprintln(out)
	ux.Title(out, "Metrics")
	fmt.Fprintln(out, ux.MetricsTable(result.Metrics))
	if result.TraceURL != "" {
		ux.Info(out, "Trace: "+result.TraceURL)
	}
}

// stageReporter prints a line whenever a stage changes status.
type stageReporter struct {
	mu   sync.Mutex
	w    io.Writer
	seen map[research.StageID]research.StageStatus
}

func (r *stageReporter) observe(state research.SessionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range state.Stages {
		if r.seen[st.ID] == st.Status {
			continue
		}
		r.seen[st.ID] = st.Status
		if st.Status != research.StatusPending {
			fmt.Fprintln(r.w, ux.StageLine(st, ""))
		}
	}
}
