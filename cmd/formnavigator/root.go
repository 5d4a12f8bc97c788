// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package main

import (
	"io"

	"github.com/Azure/appconfiguration-formnavigator/internal/logging"
	"github.com/spf13/cobra"
)

func newRootCmd(out io.Writer) *cobra.Command {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "formnavigator",
		Short: "Resolve form navigator entry keys",
		Long: `formnavigator resolves the ordered entry keys configured for a form navigator
category, reading form navigator configurations from a YAML file or from an
Azure App Configuration store.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.SetLevel(logLevel)
		},
	}

	rootCmd.SetOut(out)
	rootCmd.SetVersionTemplate(`{{printf "formnavigator version %s\n" .Version}}`)
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warning", "Log level (debug, info, warning, error)")

	rootCmd.AddCommand(newKeysCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}
