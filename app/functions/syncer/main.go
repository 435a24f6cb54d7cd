// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package main is the syncer binary. It pushes a list of work items to the
// remote endpoint in chunks, either once from the command line or as a
// long running HTTP control plane.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "syncer",
		Short:        "Push work items to a remote endpoint in chunks",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the configuration file (environment only when empty)")
	rootCmd.AddCommand(newRunCmd(), newServeCmd(), newVersionCmd())
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
