// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package formnavigator

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// FactoryPID is the factory identifier under which form navigator configurations are registered.
const FactoryPID = "com.liferay.frontend.taglib.form.navigator.configuration.FormNavigatorConfiguration"

// FactoryFilter is the filter the Retriever passes to ConfigurationAdmin.ListConfigurations.
var FactoryFilter = FactoryFilterFor(FactoryPID)

const factoryPIDProperty = "service.factoryPid"

// ErrInvalidFilter is returned when a filter is not a "(service.factoryPid=<pid>)" expression.
var ErrInvalidFilter = errors.New("invalid configuration filter")

// A Configuration is one form navigator configuration object.
type Configuration struct {
	// FormNavigatorID identifies the form navigator the configuration applies to.
	FormNavigatorID string `json:"formNavigatorId" yaml:"formNavigatorId"`

	// FormNavigatorEntryKeys holds lines of the form "[context.]category=key1,key2".
	// A single element may contain several newline separated lines.
	FormNavigatorEntryKeys []string `json:"formNavigatorEntryKeys" yaml:"formNavigatorEntryKeys"`
}

// ConfigurationAdmin lists the configuration objects registered under a factory.
//
// ListConfigurations may return a nil slice and a nil error when nothing is registered.
type ConfigurationAdmin interface {
	ListConfigurations(ctx context.Context, filter string) ([]Configuration, error)
}

// FactoryFilterFor builds the filter selecting the configurations of factoryPID.
func FactoryFilterFor(factoryPID string) string {
	return "(" + factoryPIDProperty + "=" + factoryPID + ")"
}

// ParseFactoryFilter returns the factory pid selected by filter.
func ParseFactoryFilter(filter string) (string, error) {
	trimmed := strings.TrimSpace(filter)
	if !strings.HasPrefix(trimmed, "(") || !strings.HasSuffix(trimmed, ")") {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilter, filter)
	}

	attribute, value, found := strings.Cut(trimmed[1:len(trimmed)-1], "=")
	if !found || strings.TrimSpace(attribute) != factoryPIDProperty {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilter, filter)
	}

	value = strings.TrimSpace(value)
	if value == "" || strings.ContainsAny(value, "()*") {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilter, filter)
	}

	return value, nil
}

func copyConfigurations(configurations []Configuration) []Configuration {
	result := make([]Configuration, len(configurations))
	for i, configuration := range configurations {
		result[i] = Configuration{
			FormNavigatorID:        configuration.FormNavigatorID,
			FormNavigatorEntryKeys: append([]string(nil), configuration.FormNavigatorEntryKeys...),
		}
	}

	return result
}
