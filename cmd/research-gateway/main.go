// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command research-gateway starts the research gateway HTTP server.
//
// It reads configuration from environment variables, validates it and
// serves until interrupted.
//
// # Environment Variables
//
//   - GATEWAY_PORT: HTTP server port (default: 3000)
//   - PYTHON_BACKEND_BASE_URL: research backend base URL
//   - PYTHON_BACKEND_URL: legacy single-endpoint URL; its origin is used
//     when PYTHON_BACKEND_BASE_URL is unset
//   - BACKEND_SERVICE_TOKEN: service credential for the backend (required)
//   - SESSION_AUTH_MODE: "jwt" or "none" (default: jwt)
//   - SESSION_JWT_SECRET: HMAC secret for session tokens (required for jwt)
//   - SESSION_JWT_ISSUER: expected token issuer (optional)
//   - RESEARCH_RATE_LIMIT: research submissions per user per minute (default: 0, off)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (optional)
//   - LOG_LEVEL: debug, info, warn, error (default: info)
//   - GIN_MODE: debug, release, test (default: release)
//
// # Usage
//
//	# Run
//	BACKEND_SERVICE_TOKEN=... SESSION_JWT_SECRET=... ./research-gateway
//
//	# Mint a development session token
//	SESSION_JWT_SECRET=... ./research-gateway token --user alice --email alice@example.com
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianResearch/pkg/extensions"
	"github.com/AleutianAI/AleutianResearch/pkg/logging"
	"github.com/AleutianAI/AleutianResearch/services/gateway"
)

// sessionCacheTTL bounds how long a validated session token is trusted
// without re-verification.
const sessionCacheTTL = time.Minute

// envConfig is the process environment, validated before anything starts.
type envConfig struct {
	Port              int    `validate:"gte=1,lte=65535"`
	BackendBaseURL    string `validate:"omitempty,url"`
	LegacyBackendURL  string
	ServiceToken      string
	AuthMode          string `validate:"oneof=jwt none"`
	JWTSecret         string `validate:"required_if=AuthMode jwt"`
	JWTIssuer         string
	ResearchPerMinute int    `validate:"gte=0"`
	OTelEndpoint      string `validate:"omitempty,hostname_port"`
	LogLevel          string `validate:"oneof=debug info warn error"`
	GinMode           string `validate:"oneof=debug release test"`
}

func loadEnv() envConfig {
	return envConfig{
		Port:              getEnvInt("GATEWAY_PORT", 3000),
		BackendBaseURL:    os.Getenv("PYTHON_BACKEND_BASE_URL"),
		LegacyBackendURL:  os.Getenv("PYTHON_BACKEND_URL"),
		ServiceToken:      os.Getenv("BACKEND_SERVICE_TOKEN"),
		AuthMode:          getEnvString("SESSION_AUTH_MODE", "jwt"),
		JWTSecret:         os.Getenv("SESSION_JWT_SECRET"),
		JWTIssuer:         os.Getenv("SESSION_JWT_ISSUER"),
		ResearchPerMinute: getEnvInt("RESEARCH_RATE_LIMIT", 0),
		OTelEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:          getEnvString("LOG_LEVEL", "info"),
		GinMode:           getEnvString("GIN_MODE", "release"),
	}
}

func (e envConfig) validate() error {
	return validator.New().Struct(e)
}

// authProvider builds the session validator for the configured mode.
func (e envConfig) authProvider() (extensions.AuthProvider, error) {
	if e.AuthMode == "none" {
		return &extensions.NopAuthProvider{}, nil
	}
	jwtProvider, err := extensions.NewJWTAuthProvider(e.JWTSecret, e.JWTIssuer)
	if err != nil {
		return nil, err
	}
	return extensions.NewCachedAuthProvider(jwtProvider, sessionCacheTTL), nil
}

var rootCmd = &cobra.Command{
	Use:          "research-gateway",
	Short:        "Serve the research gateway",
	SilenceUsage: true,
	RunE:         runServe,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a session token signed with SESSION_JWT_SECRET",
	RunE:  runToken,
}

var (
	tokenUser  string
	tokenEmail string
	tokenRoles []string
	tokenTTL   time.Duration
)

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id (required)")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "user email")
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "role", nil, "role to grant (repeatable)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	env := loadEnv()
	if err := env.validate(); err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}

	level, _ := logging.ParseLevel(env.LogLevel)
	logger := logging.New(logging.Config{
		Level:   level,
		Service: "research-gateway",
		JSON:    true,
	})
	defer logger.Close()
	logger.SetDefault()

	provider, err := env.authProvider()
	if err != nil {
		return err
	}

	svc, err := gateway.New(gateway.Config{
		Port:              env.Port,
		BackendBaseURL:    env.BackendBaseURL,
		LegacyBackendURL:  env.LegacyBackendURL,
		ServiceToken:      env.ServiceToken,
		AuthProvider:      provider,
		ResearchPerMinute: env.ResearchPerMinute,
		OTelEndpoint:      env.OTelEndpoint,
		GinMode:           env.GinMode,
		Logger:            logger.Slog(),
	})
	if err != nil {
		// A missing service token lands here and stops the process.
		log.Printf("Failed to create research gateway: %v", err)
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return svc.Run(ctx)
}

func runToken(cmd *cobra.Command, _ []string) error {
	secret := os.Getenv("SESSION_JWT_SECRET")
	provider, err := extensions.NewJWTAuthProvider(secret, os.Getenv("SESSION_JWT_ISSUER"))
	if err != nil {
		return err
	}
	token, expires, err := provider.IssueToken(extensions.AuthInfo{
		UserID: tokenUser,
		Email:  tokenEmail,
		Roles:  tokenRoles,
	}, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.Format(time.RFC3339))
	return nil
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
