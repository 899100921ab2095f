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
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianResearch/cmd/research/config"
	"github.com/AleutianAI/AleutianResearch/pkg/gatewayclient"
	"github.com/AleutianAI/AleutianResearch/pkg/ux"
)

var logoutFlag bool

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to a research gateway",
	Long: `Saves the gateway URL and session token to the config file.

Without --token an interactive form asks for both. The token is checked
against the gateway before it is saved.`,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().BoolVar(&logoutFlag, "logout", false, "forget the saved session token")
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, _ []string) error {
	path, err := resolvedConfigPath()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if logoutFlag {
		settings.SessionToken = ""
		if err := config.Save(path, settings); err != nil {
			return err
		}
		ux.Success(out, "Signed out")
		return nil
	}

	if tokenFlag == "" {
		if !ux.IsInteractive() {
			return errors.New("no terminal for the sign-in form; pass --token")
		}
		if err := loginForm(&settings).Run(); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return nil
			}
			return err
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()
	if err := verifySession(ctx, newClient()); err != nil {
		return err
	}

	if err := config.Save(path, settings); err != nil {
		return err
	}
	ux.Success(out, fmt.Sprintf("Signed in to %s", settings.GatewayURL))
	return nil
}

// loginForm asks for the gateway URL and session token, writing into cfg.
func loginForm(cfg *config.ResearchConfig) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Gateway URL").
				Value(&cfg.GatewayURL).
				Validate(validateGatewayURL),
			huh.NewInput().
				Title("Session token").
				Description("Paste the token issued by your gateway").
				EchoMode(huh.EchoModePassword).
				Value(&cfg.SessionToken).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("token is required")
					}
					return nil
				}),
		),
	)
}

func validateGatewayURL(s string) error {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("enter an http(s) URL")
	}
	return nil
}

// verifySession lists one document to prove the token is accepted.
func verifySession(ctx context.Context, client *gatewayclient.Client) error {
	_, err := client.ListDocuments(ctx, 0, 1)
	if errors.Is(err, gatewayclient.ErrUnauthorized) {
		return errors.New("the gateway rejected this session token")
	}
	if err != nil {
		return fmt.Errorf("could not reach the gateway: %w", err)
	}
	return nil
}

func resolvedConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.DefaultPath()
}
