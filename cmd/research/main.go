// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command research is the research desk client.
//
// # Usage
//
//	research login                         # sign in to a gateway
//	research ask "question" --attach a.pdf # one-shot research
//	research docs list|upload|delete       # manage stored documents
//	research desk --watch ~/inbox          # interactive workspace
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianResearch/cmd/research/config"
	"github.com/AleutianAI/AleutianResearch/pkg/gatewayclient"
	"github.com/AleutianAI/AleutianResearch/pkg/logging"
	"github.com/AleutianAI/AleutianResearch/pkg/ux"
)

var (
	configPath   string
	gatewayFlag  string
	tokenFlag    string
	verboseFlag  bool
	settings     config.ResearchConfig
	logger       = logging.New(logging.Config{Quiet: true})
	skipSettings = map[string]bool{"help": true, "completion": true}
)

var rootCmd = &cobra.Command{
	Use:           "research",
	Short:         "Research desk: ask questions over your documents",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if skipSettings[cmd.Name()] {
			return nil
		}
		return loadSettings()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.aleutian-research/research.yaml)")
	rootCmd.PersistentFlags().StringVar(&gatewayFlag, "gateway", "", "gateway URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "session token (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "log debug output to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		ux.Error(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// loadSettings reads the config file, applies flag overrides and sets up
// logging. The TUI owns the terminal, so logs go to a file unless
// --verbose is set.
func loadSettings() error {
	if err := config.Load(configPath); err != nil {
		return err
	}
	settings = config.Global
	if gatewayFlag != "" {
		settings.GatewayURL = gatewayFlag
	}
	if tokenFlag != "" {
		settings.SessionToken = tokenFlag
	}

	ux.InitLevel()

	level := logging.LevelInfo
	if verboseFlag {
		level = logging.LevelDebug
	}
	logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  settings.LogDir,
		Service: "research",
		Quiet:   !verboseFlag,
	})
	logger.SetDefault()
	return nil
}

// newClient builds a gateway client from the current settings.
func newClient() *gatewayclient.Client {
	return gatewayclient.New(settings.GatewayURL, settings.SessionToken)
}
