// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package formnavigator

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// configurationFile is the YAML layout read by FileConfigurationAdmin:
//
//	factories:
//	  <factory pid>:
//	    - formNavigatorId: form1
//	      formNavigatorEntryKeys:
//	        - add.general=details,categorization
//
// formNavigatorEntryKeys may also be a single string holding one or more lines.
type configurationFile struct {
	Factories map[string][]yamlConfiguration `yaml:"factories"`
}

// yamlConfiguration decodes a Configuration whose entry keys are either a list or a single string
type yamlConfiguration struct {
	FormNavigatorID        string    `yaml:"formNavigatorId"`
	FormNavigatorEntryKeys yaml.Node `yaml:"formNavigatorEntryKeys"`
}

func (c yamlConfiguration) configuration() (Configuration, error) {
	configuration := Configuration{FormNavigatorID: c.FormNavigatorID}

	node := c.FormNavigatorEntryKeys
	switch {
	case node.Kind == 0 || node.ShortTag() == "!!null":
	case node.Kind == yaml.ScalarNode:
		var line string
		if err := node.Decode(&line); err != nil {
			return Configuration{}, err
		}
		configuration.FormNavigatorEntryKeys = []string{line}
	default:
		if err := node.Decode(&configuration.FormNavigatorEntryKeys); err != nil {
			return Configuration{}, err
		}
	}

	return configuration, nil
}

// FileConfigurationAdmin is a ConfigurationAdmin reading configurations from a YAML file.
// The file is read again on every call.
type FileConfigurationAdmin struct {
	path string
}

// NewFileConfigurationAdmin returns a FileConfigurationAdmin reading the YAML file at path.
func NewFileConfigurationAdmin(path string) *FileConfigurationAdmin {
	return &FileConfigurationAdmin{path: path}
}

// ListConfigurations returns the configurations of the filter's factory. A missing file lists nothing.
func (f *FileConfigurationAdmin) ListConfigurations(ctx context.Context, filter string) ([]Configuration, error) {
	factoryPID, err := ParseFactoryFilter(filter)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read configuration file %s: %w", f.path, err)
	}

	var file configurationFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %s: %w", f.path, err)
	}

	entries := file.Factories[factoryPID]
	if len(entries) == 0 {
		return nil, nil
	}

	configurations := make([]Configuration, 0, len(entries))
	for _, entry := range entries {
		configuration, err := entry.configuration()
		if err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %s: %w", f.path, err)
		}
		configurations = append(configurations, configuration)
	}

	return configurations, nil
}
