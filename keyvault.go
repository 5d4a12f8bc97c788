// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package formnavigator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

type secretClient interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
}

// keyVaultReferenceResolver resolves Key Vault references, keeping one secret client per vault
type keyVaultReferenceResolver struct {
	clients        sync.Map
	secretResolver SecretResolver
	credential     azcore.TokenCredential
}

type keyVaultReference struct {
	URI string `json:"uri"`
}

func (r *keyVaultReferenceResolver) configured() bool {
	return r.secretResolver != nil || r.credential != nil
}

func (r *keyVaultReferenceResolver) resolveSecret(ctx context.Context, reference string) (string, error) {
	uri, err := r.extractKeyVaultURI(reference)
	if err != nil {
		return "", err
	}

	secretURL, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid Key Vault URI: %w", err)
	}

	if r.secretResolver != nil {
		return r.secretResolver.ResolveSecret(ctx, *secretURL)
	}

	// Format is /secrets/{secretName}[/{version}]
	pathParts := strings.Split(strings.Trim(secretURL.Path, "/"), "/")
	if len(pathParts) < 2 || pathParts[0] != "secrets" || pathParts[1] == "" {
		return "", fmt.Errorf("invalid Key Vault secret path: %s", secretURL.Path)
	}

	secretName := pathParts[1]
	var version string
	if len(pathParts) > 2 {
		version = pathParts[2]
	}

	client, err := r.getSecretClient(secretURL)
	if err != nil {
		return "", err
	}

	response, err := client.GetSecret(ctx, secretName, version, nil)
	if err != nil {
		return "", fmt.Errorf("failed to get secret from Key Vault: %w", err)
	}

	if response.Value == nil {
		return "", errors.New("secret value is nil")
	}

	return *response.Value, nil
}

func (r *keyVaultReferenceResolver) extractKeyVaultURI(reference string) (string, error) {
	var kvRef keyVaultReference
	if err := json.Unmarshal([]byte(reference), &kvRef); err != nil || kvRef.URI == "" {
		return "", fmt.Errorf("invalid Key Vault reference format: %s", reference)
	}

	return kvRef.URI, nil
}

func (r *keyVaultReferenceResolver) getSecretClient(secretURL *url.URL) (secretClient, error) {
	vaultURL := fmt.Sprintf("%s://%s", secretURL.Scheme, secretURL.Host)
	if client, ok := r.clients.Load(vaultURL); ok {
		return client.(secretClient), nil
	}

	if r.credential == nil {
		return nil, errors.New("no credential provided for Key Vault authentication")
	}

	client, err := azsecrets.NewClient(vaultURL, r.credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Key Vault secret client: %w", err)
	}

	actual, _ := r.clients.LoadOrStore(vaultURL, client)
	return actual.(secretClient), nil
}
