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
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianResearch/pkg/research"
	"github.com/AleutianAI/AleutianResearch/pkg/ux"
)

var deskWatch string

var deskCmd = &cobra.Command{
	Use:   "desk",
	Short: "Open the interactive research workspace",
	Long: `Opens a terminal workspace with a question box, the stage pipeline,
attachments, the document library and the answer, sources and metrics.

With --watch (or watch_dir in the config) files created in that directory
are attached automatically.`,
	Args: cobra.NoArgs,
	RunE: runDesk,
}

func init() {
	deskCmd.Flags().StringVar(&deskWatch, "watch", "", "attach files created in this directory")
	rootCmd.AddCommand(deskCmd)
}

func runDesk(cmd *cobra.Command, _ []string) error {
	if !ux.IsInteractive() {
		return errors.New("the desk needs an interactive terminal; use `research ask` instead")
	}
	log := logger.Slog()

	ctx, cancel := context.WithCancel(cmd.Context())
	updates := make(chan tea.Msg, 64)
	send := func(msg tea.Msg) {
		select {
		case updates <- msg:
		case <-ctx.Done():
		}
	}

	client := newClient()
	session := research.NewSession(client,
		research.WithSchedule(settings.Animation),
		research.WithObserver(func(s research.SessionState) { send(sessionMsg(s)) }),
		research.WithSessionLogger(log),
	)
	tracker := research.NewTracker(client,
		research.WithTrackerObserver(func(s research.TrackerState) { send(trackerMsg(s)) }),
		research.WithTrackerLogger(log),
	)
	// Cancel first so no observer stays blocked on the channel, then close
	// both machines so late results are dropped.
	defer func() {
		cancel()
		session.Close()
		tracker.Close()
	}()

	dir := deskWatch
	if dir == "" {
		dir = settings.WatchDir
	}
	if dir != "" {
		w, err := startWatcher(ctx, expandHome(dir), log, func(path string) { send(watchMsg(path)) })
		if err != nil {
			return err
		}
		defer w.Close()
	}

	exportDir, err := os.Getwd()
	if err != nil {
		exportDir = "."
	}

	model := newDeskModel(ctx, deskConfig{
		Session:        session,
		Tracker:        tracker,
		Updates:        updates,
		SignedIn:       settings.SignedIn(),
		UseChatHistory: settings.UseChatHistory,
		ChatSessionID:  settings.ChatSessionID,
		ExportDir:      exportDir,
	})

	_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
