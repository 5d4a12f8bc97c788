// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package formnavigator

import (
	"context"
	"net/url"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azappconfig"
)

// Options contains optional parameters to configure an AppConfigurationAdmin.
type Options struct {
	// Labels selects which labels configurations are loaded from, in order.
	// Configurations of later labels come after those of earlier labels and therefore win.
	// If not provided, only key-values with no label are loaded.
	Labels []string

	// ReplicaEndpoints lists replicas of the store to fail over to, in order.
	ReplicaEndpoints []string

	// RefreshOptions contains optional parameters to configure change detection
	RefreshOptions RefreshOptions

	// KeyVaultOptions configures how Key Vault references are resolved.
	KeyVaultOptions KeyVaultOptions

	// ClientOptions provides options for configuring the underlying Azure App Configuration client.
	ClientOptions *azappconfig.ClientOptions
}

// AuthenticationOptions contains parameters for authenticating with the Azure App Configuration service.
// Either a connection string or an endpoint with credential must be provided.
type AuthenticationOptions struct {
	// Credential is a token credential for Azure EntraID Authentication.
	// Required when Endpoint is provided.
	Credential azcore.TokenCredential

	// Endpoint is the URL of the Azure App Configuration service.
	Endpoint string

	// ConnectionString is the connection string for the Azure App Configuration service.
	ConnectionString string
}

// RefreshOptions contains optional parameters to configure change detection.
//
// When enabled, listed configurations are kept and served until Interval elapses. The sentinel
// setting is then checked and the configurations are reloaded only if it changed.
type RefreshOptions struct {
	// Sentinel is the key-value setting whose change triggers a reload
	Sentinel WatchedSetting

	// Interval specifies the minimum time between sentinel checks.
	// Must be at least 1 second. If not provided, 30 seconds is used.
	Interval time.Duration

	Enabled bool
}

// WatchedSetting specifies the key and label of a key-value setting to watch for changes
type WatchedSetting struct {
	Key   string
	Label string
}

// SecretResolver resolves Key Vault references.
// Implement this interface to provide custom secret resolution logic.
type SecretResolver interface {
	// ResolveSecret resolves a URL in the format "https://{keyVaultName}.vault.azure.net/secrets/{secretName}/{secretVersion}"
	// to the secret value.
	ResolveSecret(ctx context.Context, keyVaultReference url.URL) (string, error)
}

// KeyVaultOptions configures the resolution of configurations stored as Key Vault references.
// The referenced secret holds the JSON form of the configuration.
type KeyVaultOptions struct {
	// Credential authenticates to Azure Key Vault when no SecretResolver is provided.
	Credential azcore.TokenCredential

	// SecretResolver takes precedence over Credential when provided.
	SecretResolver SecretResolver
}
