// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package formnavigator resolves the ordered entry keys that drive a form navigator.
//
// Form navigator configurations are listed from a ConfigurationAdmin. Each configuration names
// the form navigator it applies to and carries lines such as "add.general=details,categorization"
// that map a context and a category to the keys of the navigator entries to display.
//
// Configurations can be served from memory, from a YAML file, or from Azure App Configuration
// with optional Key Vault references and change detection.
package formnavigator

import (
	"context"
	"fmt"

	"github.com/Azure/appconfiguration-formnavigator/internal/logging"
	"github.com/sirupsen/logrus"
)

// A Retriever looks up form navigator entry keys in the configurations listed by a ConfigurationAdmin.
// It keeps no state besides the admin and is safe for concurrent use.
type Retriever struct {
	admin  ConfigurationAdmin
	filter string
	logger *logrus.Entry
}

// RetrieverOption customizes a Retriever.
type RetrieverOption func(*Retriever)

// WithLogger sets the logger used by the Retriever.
func WithLogger(logger *logrus.Entry) RetrieverOption {
	return func(r *Retriever) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRetriever returns a Retriever backed by admin.
func NewRetriever(admin ConfigurationAdmin, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		admin:  admin,
		filter: FactoryFilter,
		logger: logging.Component("formnavigator"),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// GetFormNavigatorEntryKeys returns the entry keys configured for a form navigator category.
//
// Parameters:
// - ctx: The context passed to the ConfigurationAdmin
// - formNavigatorID: The form navigator the keys belong to
// - categoryKey: The category, e.g. "general"
// - navContext: The context, e.g. "add" or "update". Empty means no context.
//
// A line with a context only matches that context; a line without one matches every context,
// but a context specific line in the same configuration takes precedence. When several lines or
// configurations match, the last one wins.
//
// Returns:
// - The configured keys, and true, when a line matched. The list may be empty.
// - nil and false when nothing matched or no configuration exists.
// - An error if the ConfigurationAdmin fails.
func (r *Retriever) GetFormNavigatorEntryKeys(ctx context.Context, formNavigatorID, categoryKey, navContext string) ([]string, bool, error) {
	configurations, err := r.admin.ListConfigurations(ctx, r.filter)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list form navigator configurations: %w", err)
	}

	if len(configurations) == 0 {
		return nil, false, nil
	}

	var result []string
	found := false
	for _, configuration := range configurations {
		if configuration.FormNavigatorID != formNavigatorID {
			continue
		}

		table, malformed := parseEntryKeyLines(configuration.FormNavigatorEntryKeys)
		for _, line := range malformed {
			r.logger.WithField("formNavigatorId", formNavigatorID).Debugf("Ignoring malformed entry keys line '%s'", line)
		}

		if keys, ok := table.lookup(categoryKey, navContext); ok {
			result = keys
			found = true
		}
	}

	if !found {
		return nil, false, nil
	}

	r.logger.WithFields(logrus.Fields{
		"formNavigatorId": formNavigatorID,
		"category":        categoryKey,
		"context":         navContext,
	}).Debugf("Resolved %d form navigator entry keys", len(result))

	return append(make([]string, 0, len(result)), result...), true, nil
}
