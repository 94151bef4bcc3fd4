// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the phira-mp CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "phira-mp",
		Short: "phira-mp - multiplayer server plugin host",
		Long: `phira-mp hosts WebAssembly plugins for the multiplayer server:
dependency-ordered lifecycle management, per-plugin sandboxing,
hot reload, and the event and command buses plugins build on.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(NewServeCmd())

	return cmd
}
