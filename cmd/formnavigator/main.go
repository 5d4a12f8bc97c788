// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package main

import (
	"os"
)

var version = "dev"

func main() {
	rootCmd := newRootCmd(os.Stdout)
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		// Cobra prints the error, we just exit non-zero
		os.Exit(1)
	}
}
