// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package logging

import (
	"github.com/sirupsen/logrus"
)

// Component returns a logger tagged with the name of the component that owns it.
func Component(name string) *logrus.Entry {
	return logrus.WithField("component", name)
}

// SetLevel parses level and applies it to the standard logger.
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}

	logrus.SetLevel(lvl)
	return nil
}
