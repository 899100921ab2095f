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
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianResearch/pkg/gatewayclient"
	"github.com/AleutianAI/AleutianResearch/pkg/research"
	"github.com/AleutianAI/AleutianResearch/pkg/ux"
)

var (
	docsSkip  int
	docsLimit int
)

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage documents stored for research",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		if !settings.SignedIn() {
			return errNotSignedIn
		}
		return nil
	},
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return listDocuments(cmd.Context(), cmd.OutOrStdout(), newClient(), docsSkip, docsLimit)
	},
}

var docsUploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload files for research",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return uploadDocuments(cmd.Context(), cmd.OutOrStdout(), newClient(), args)
	},
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete <document-id>...",
	Short: "Delete stored documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return deleteDocuments(cmd.Context(), cmd.OutOrStdout(), newClient(), args)
	},
}

func init() {
	docsListCmd.Flags().IntVar(&docsSkip, "skip", 0, "documents to skip")
	docsListCmd.Flags().IntVar(&docsLimit, "limit", research.DefaultDocumentPageSize, "maximum documents to list")
	docsCmd.AddCommand(docsListCmd, docsUploadCmd, docsDeleteCmd)
	rootCmd.AddCommand(docsCmd)
}

func listDocuments(ctx context.Context, out io.Writer, api research.DocumentAPI, skip, limit int) error {
	docs, err := api.ListDocuments(ctx, skip, limit)
	if err != nil {
		return friendly(err)
	}
	if len(docs) == 0 {
		ux.Info(out, "No documents stored.")
		return nil
	}
	for _, d := range docs {
		if ux.IsPlain() {
			fmt.Fprintf(out, "%s\t%s\n", d.ID, d.Filename)
			continue
		}
		fmt.Fprintf(out, "%s  %s\n", ux.DocumentLine(d), ux.Styles.Muted.Render(d.ID))
	}
	return nil
}

func uploadDocuments(ctx context.Context, out io.Writer, api research.DocumentAPI, paths []string) error {
	var failed int
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		name := filepath.Base(path)
		var id string
		err = ux.WithSpinner(out, "Uploading "+name, func() error {
			id, err = api.UploadDocument(ctx, name, content)
			return err
		})
		if errors.Is(err, gatewayclient.ErrUnauthorized) {
			return errNotSignedIn
		}
		if err != nil {
			failed++
			continue
		}
		ux.Info(out, fmt.Sprintf("%s %s", name, id))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, len(paths))
	}
	return nil
}

func deleteDocuments(ctx context.Context, out io.Writer, api research.DocumentAPI, ids []string) error {
	for _, id := range ids {
		if err := api.DeleteDocument(ctx, id); err != nil {
			return friendly(fmt.Errorf("delete %s: %w", id, err))
		}
		ux.Success(out, "Deleted "+id)
	}
	return nil
}

// friendly maps a sign-in failure to the login hint.
func friendly(err error) error {
	if errors.Is(err, gatewayclient.ErrUnauthorized) {
		return errNotSignedIn
	}
	return err
}
