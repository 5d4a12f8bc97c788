// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package tracing

import (
	"net/http"
	"os"
	"strconv"
	"strings"
)

type RequestType string
type HostType string

const (
	RequestTypeStartUp RequestType = "StartUp"
	RequestTypeWatch   RequestType = "Watch"

	HostTypeAzureFunction HostType = "AzureFunction"
	HostTypeAzureWebApp   HostType = "AzureWebApp"
	HostTypeContainerApp  HostType = "ContainerApp"
	HostTypeKubernetes    HostType = "Kubernetes"
	HostTypeServiceFabric HostType = "ServiceFabric"

	EnvVarTracingDisabled = "AZURE_APP_CONFIGURATION_TRACING_DISABLED"
	EnvVarAzureFunction   = "FUNCTIONS_EXTENSION_VERSION"
	EnvVarAzureWebApp     = "WEBSITE_SITE_NAME"
	EnvVarContainerApp    = "CONTAINER_APP_NAME"
	EnvVarKubernetes      = "KUBERNETES_PORT"
	EnvVarServiceFabric   = "Fabric_NodeName"

	RequestTypeKey        = "RequestType"
	HostTypeKey           = "Host"
	ReplicaCountKey       = "ReplicaCount"
	KeyVaultConfiguredTag = "UsesKeyVault"
	RefreshEnabledTag     = "UsesRefresh"

	DelimiterComma           = ","
	CorrelationContextHeader = "Correlation-Context"
)

// Options describes the request and environment reported in the Correlation-Context header.
type Options struct {
	Enabled             bool
	InitialLoadFinished bool
	Host                HostType
	KeyVaultConfigured  bool
	RefreshEnabled      bool
	ReplicaCount        int
}

// Enabled reports whether tracing is on, i.e. not disabled through the environment.
func Enabled() bool {
	value, exist := os.LookupEnv(EnvVarTracingDisabled)
	if !exist {
		return true
	}

	disabled, _ := strconv.ParseBool(value)
	return !disabled
}

func GetHostType() HostType {
	if _, ok := os.LookupEnv(EnvVarAzureFunction); ok {
		return HostTypeAzureFunction
	} else if _, ok := os.LookupEnv(EnvVarAzureWebApp); ok {
		return HostTypeAzureWebApp
	} else if _, ok := os.LookupEnv(EnvVarContainerApp); ok {
		return HostTypeContainerApp
	} else if _, ok := os.LookupEnv(EnvVarKubernetes); ok {
		return HostTypeKubernetes
	} else if _, ok := os.LookupEnv(EnvVarServiceFabric); ok {
		return HostTypeServiceFabric
	}
	return ""
}

func CreateCorrelationContextHeader(options Options) http.Header {
	header := http.Header{}
	output := make([]string, 0, 5)

	if !options.InitialLoadFinished {
		output = append(output, RequestTypeKey+"="+string(RequestTypeStartUp))
	} else {
		output = append(output, RequestTypeKey+"="+string(RequestTypeWatch))
	}

	if options.Host != "" {
		output = append(output, HostTypeKey+"="+string(options.Host))
	}

	if options.ReplicaCount > 0 {
		output = append(output, ReplicaCountKey+"="+strconv.Itoa(options.ReplicaCount))
	}

	if options.KeyVaultConfigured {
		output = append(output, KeyVaultConfiguredTag)
	}

	if options.RefreshEnabled {
		output = append(output, RefreshEnabledTag)
	}

	header.Add(CorrelationContextHeader, strings.Join(output, DelimiterComma))

	return header
}
