// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package formnavigator

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azappconfig"
)

// configurationClientManager holds the client of the primary store followed by the clients of its replicas
type configurationClientManager struct {
	mu      sync.Mutex
	clients []*configurationClientWrapper
}

// configurationClientWrapper wraps an Azure App Configuration client with its backoff state
type configurationClientWrapper struct {
	endpoint       string
	client         *azappconfig.Client
	backOffEndTime time.Time
	failedAttempts int
}

func newConfigurationClientManager(authOptions AuthenticationOptions, options *Options) (*configurationClientManager, error) {
	clientOptions := setTelemetry(options.ClientOptions)

	var (
		staticClient *azappconfig.Client
		endpoint     string
		secret       string
		id           string
		err          error
	)

	if authOptions.ConnectionString != "" {
		connectionString := authOptions.ConnectionString
		if endpoint, err = parseConnectionString(connectionString, endpointKey); err != nil {
			return nil, err
		}

		if secret, err = parseConnectionString(connectionString, secretKey); err != nil {
			return nil, err
		}

		if id, err = parseConnectionString(connectionString, idKey); err != nil {
			return nil, err
		}

		if staticClient, err = azappconfig.NewClientFromConnectionString(connectionString, clientOptions); err != nil {
			return nil, fmt.Errorf("failed to initialize configuration client: %w", err)
		}
	} else {
		endpoint = authOptions.Endpoint
		if staticClient, err = azappconfig.NewClient(endpoint, authOptions.Credential, clientOptions); err != nil {
			return nil, fmt.Errorf("failed to initialize configuration client: %w", err)
		}
	}

	manager := &configurationClientManager{
		clients: []*configurationClientWrapper{{endpoint: endpoint, client: staticClient}},
	}

	for _, replicaEndpoint := range options.ReplicaEndpoints {
		if strings.EqualFold(strings.TrimSuffix(replicaEndpoint, "/"), strings.TrimSuffix(endpoint, "/")) {
			continue
		}

		client, err := newReplicaClient(replicaEndpoint, authOptions.Credential, secret, id, clientOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to create client for replica %s: %w", replicaEndpoint, err)
		}

		manager.clients = append(manager.clients, &configurationClientWrapper{
			endpoint: replicaEndpoint,
			client:   client,
		})
	}

	return manager, nil
}

func newReplicaClient(endpoint string, credential azcore.TokenCredential, secret string, id string, clientOptions *azappconfig.ClientOptions) (*azappconfig.Client, error) {
	if credential != nil {
		return azappconfig.NewClient(endpoint, credential, clientOptions)
	}

	connectionStr := buildConnectionString(endpoint, secret, id)
	if connectionStr == "" {
		return nil, fmt.Errorf("failed to build connection string for replica client")
	}

	return azappconfig.NewClientFromConnectionString(connectionStr, clientOptions)
}

// getClients returns the clients not currently backing off, primary first
func (manager *configurationClientManager) getClients() []*configurationClientWrapper {
	manager.mu.Lock()
	defer manager.mu.Unlock()

	currentTime := time.Now()
	clients := make([]*configurationClientWrapper, 0, len(manager.clients))
	for _, clientWrapper := range manager.clients {
		if currentTime.After(clientWrapper.backOffEndTime) {
			clients = append(clients, clientWrapper)
		}
	}

	return clients
}

// allClients returns every client regardless of backoff, primary first
func (manager *configurationClientManager) allClients() []*configurationClientWrapper {
	manager.mu.Lock()
	defer manager.mu.Unlock()

	return append([]*configurationClientWrapper(nil), manager.clients...)
}

func (manager *configurationClientManager) replicaCount() int {
	return len(manager.clients) - 1
}

func (manager *configurationClientManager) updateBackoffStatus(client *configurationClientWrapper, success bool) {
	manager.mu.Lock()
	defer manager.mu.Unlock()

	client.updateBackoffStatus(success)
}

func buildConnectionString(endpoint string, secret string, id string) string {
	if secret == "" || id == "" {
		return ""
	}

	return fmt.Sprintf("%s=%s;%s=%s;%s=%s",
		endpointKey, endpoint,
		idKey, id,
		secretKey, secret)
}

// parseConnectionString extracts a named value from a connection string
func parseConnectionString(connectionString string, token string) (string, error) {
	if connectionString == "" {
		return "", fmt.Errorf("connectionString cannot be empty")
	}

	for _, segment := range strings.Split(connectionString, ";") {
		name, value, found := strings.Cut(segment, "=")
		if found && name == token {
			return value, nil
		}
	}

	return "", fmt.Errorf("missing %s in connection string", token)
}

func setTelemetry(options *azappconfig.ClientOptions) *azappconfig.ClientOptions {
	if options == nil {
		options = &azappconfig.ClientOptions{}
	}

	if !options.Telemetry.Disabled && options.Telemetry.ApplicationID == "" {
		options.Telemetry = policy.TelemetryOptions{
			ApplicationID: fmt.Sprintf("%s/%s", moduleName, moduleVersion),
		}
	}

	return options
}

func (client *configurationClientWrapper) updateBackoffStatus(success bool) {
	if success {
		client.failedAttempts = 0
		client.backOffEndTime = time.Time{}
	} else {
		client.failedAttempts++
		client.backOffEndTime = time.Now().Add(client.getBackoffDuration())
	}
}

func (client *configurationClientWrapper) getBackoffDuration() time.Duration {
	if client.failedAttempts <= 1 {
		return minBackoffDuration
	}

	// Cap the exponent to prevent overflow
	exponent := math.Min(float64(client.failedAttempts-1), float64(safeShiftLimit))
	calculatedMilliseconds := float64(minBackoffDuration.Milliseconds()) * math.Pow(2, exponent)
	if calculatedMilliseconds > float64(maxBackoffDuration.Milliseconds()) || calculatedMilliseconds <= 0 {
		calculatedMilliseconds = float64(maxBackoffDuration.Milliseconds())
	}

	return jitter(time.Duration(calculatedMilliseconds) * time.Millisecond)
}

func jitter(duration time.Duration) time.Duration {
	jitter := float64(duration) * jitterRatio
	randomJitter := rand.Float64()*(2*jitter) - jitter

	return duration + time.Duration(randomJitter)
}
