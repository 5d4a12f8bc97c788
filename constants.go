// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package formnavigator

import "time"

const (
	moduleName    = "appconfiguration-formnavigator"
	moduleVersion = "0.1.0"
)

// Configuration client constants
const (
	endpointKey string = "Endpoint"
	secretKey   string = "Secret"
	idKey       string = "Id"
)

// General configuration constants
const (
	defaultLabel                      = "\x00"
	wildCard                          = "*"
	factoryKeySeparator               = "/"
	secretReferenceContentType string = "application/vnd.microsoft.appconfig.keyvaultref+json;charset=utf-8"
	featureFlagContentType     string = "application/vnd.microsoft.appconfig.ff+json;charset=utf-8"
)

// Refresh interval constants
const (
	// minimalRefreshInterval is the minimum allowed interval between sentinel checks
	minimalRefreshInterval time.Duration = time.Second
	// defaultRefreshInterval is used when refresh is enabled without an interval
	defaultRefreshInterval time.Duration = 30 * time.Second
)

// Failover constants
const (
	maxBackoffDuration time.Duration = time.Minute * 10
	minBackoffDuration time.Duration = time.Second * 30
	jitterRatio        float64       = 0.25
	safeShiftLimit     int           = 63
)
