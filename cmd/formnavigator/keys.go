// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	formnavigator "github.com/Azure/appconfiguration-formnavigator"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/spf13/cobra"
)

var errNoEntryKeys = errors.New("no entry keys configured")

type keysOptions struct {
	formNavigatorID  string
	category         string
	navContext       string
	file             string
	endpoint         string
	connectionString string
	labels           []string
	timeout          time.Duration
}

// newAdmin is replaced in tests
var newAdmin = func(opts keysOptions) (formnavigator.ConfigurationAdmin, error) {
	switch {
	case opts.file != "":
		return formnavigator.NewFileConfigurationAdmin(opts.file), nil
	case opts.connectionString != "":
		return formnavigator.NewAppConfigurationAdmin(formnavigator.AuthenticationOptions{
			ConnectionString: opts.connectionString,
		}, &formnavigator.Options{Labels: opts.labels})
	case opts.endpoint != "":
		credential, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure credential: %w", err)
		}
		return formnavigator.NewAppConfigurationAdmin(formnavigator.AuthenticationOptions{
			Endpoint:   opts.endpoint,
			Credential: credential,
		}, &formnavigator.Options{
			Labels:          opts.labels,
			KeyVaultOptions: formnavigator.KeyVaultOptions{Credential: credential},
		})
	default:
		return nil, errors.New("one of --file, --endpoint or --connection-string is required")
	}
}

func newKeysCmd() *cobra.Command {
	opts := keysOptions{}

	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Print the entry keys of a form navigator category, one per line",
		Example: `  formnavigator keys --file formnavigator.yaml --form form1 --category general --context add
  formnavigator keys --endpoint https://example.azconfig.io --form form1 --category general`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, err := newAdmin(opts)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if opts.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.timeout)
				defer cancel()
			}

			retriever := formnavigator.NewRetriever(admin)
			keys, found, err := retriever.GetFormNavigatorEntryKeys(ctx, opts.formNavigatorID, opts.category, opts.navContext)
			if err != nil {
				return err
			}

			if !found {
				return errNoEntryKeys
			}

			for _, key := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), key)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&opts.formNavigatorID, "form", "", "Form navigator id")
	cmd.Flags().StringVar(&opts.category, "category", "", "Category key, e.g. general")
	cmd.Flags().StringVar(&opts.navContext, "context", "", "Context, e.g. add or update")
	cmd.Flags().StringVar(&opts.file, "file", "", "YAML file holding form navigator configurations")
	cmd.Flags().StringVar(&opts.endpoint, "endpoint", "", "Azure App Configuration endpoint")
	cmd.Flags().StringVar(&opts.connectionString, "connection-string", "", "Azure App Configuration connection string")
	cmd.Flags().StringSliceVar(&opts.labels, "label", nil, "Labels to load configurations from, in order")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Timeout for the lookup")
	_ = cmd.MarkFlagRequired("form")
	_ = cmd.MarkFlagRequired("category")
	cmd.MarkFlagsMutuallyExclusive("file", "endpoint", "connection-string")

	return cmd
}
