// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GymKeeper Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/gymkeeper/gymkeeper/internal/config"
)

// Global flags available to all subcommands.
var (
	configFile string
	envFile    string
)

// NewRootCmd creates the root command for the GymKeeper CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gymkeeper",
		Short: "GymKeeper - gym membership API",
		Long: `GymKeeper serves the gym membership API: CAPTCHA-gated registration
and login, session tokens and account administration.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/gymkeeper/config.yaml)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// configOptions collects the config sources selected on the command line.
func configOptions(cmd *cobra.Command) config.Options {
	return config.Options{
		ConfigFile: configFile,
		EnvFile:    envFile,
		Flags:      cmd.Flags(),
	}
}
