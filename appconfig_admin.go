// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package formnavigator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Azure/appconfiguration-formnavigator/internal/logging"
	"github.com/Azure/appconfiguration-formnavigator/internal/refreshtimer"
	"github.com/Azure/appconfiguration-formnavigator/internal/tracing"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azappconfig"
	decoder "github.com/go-viper/mapstructure/v2"
	"golang.org/x/sync/errgroup"
)

var logger = logging.Component("formnavigator/appconfig")

// An AppConfigurationAdmin is a ConfigurationAdmin backed by Azure App Configuration.
//
// Each configuration is stored as one key-value whose key is "<factory pid>/<name>" and whose
// value is the JSON form of a Configuration, for example:
//
//	{"formNavigatorId": "form1", "formNavigatorEntryKeys": ["add.general=details,categorization"]}
//
// The value may also be a Key Vault reference to a secret holding that JSON.
type AppConfigurationAdmin struct {
	labels        []string
	clientManager *configurationClientManager
	resolver      *keyVaultReferenceResolver

	tracingMu      sync.Mutex
	tracingOptions tracing.Options

	refreshEnabled  bool
	refreshInterval time.Duration
	sentinel        WatchedSetting

	refreshMu sync.Mutex
	snapshots map[string]*configurationSnapshot

	// settings clients used for testing
	factoryClient  settingsClient
	sentinelClient func(onlyIfChanged *azcore.ETag) settingsClient
}

// configurationSnapshot holds the configurations listed for a factory while refresh is enabled.
type configurationSnapshot struct {
	configurations []Configuration
	sentinelETag   *azcore.ETag
	timer          refreshtimer.RefreshCondition
}

// NewAppConfigurationAdmin creates an AppConfigurationAdmin. No request is sent until configurations are listed.
//
// Parameters:
// - authentication: Authentication options for connecting to the Azure App Configuration service
// - options: Optional parameters such as labels, replicas, refresh and Key Vault resolution
//
// Returns:
// - An error if the options are invalid or the clients cannot be created
func NewAppConfigurationAdmin(authentication AuthenticationOptions, options *Options) (*AppConfigurationAdmin, error) {
	if err := verifyAuthenticationOptions(authentication); err != nil {
		return nil, err
	}

	if err := verifyOptions(options); err != nil {
		return nil, err
	}

	if options == nil {
		options = &Options{}
	}

	clientManager, err := newConfigurationClientManager(authentication, options)
	if err != nil {
		return nil, err
	}

	admin := &AppConfigurationAdmin{
		labels:        normalizeLabels(options.Labels),
		clientManager: clientManager,
		resolver: &keyVaultReferenceResolver{
			secretResolver: options.KeyVaultOptions.SecretResolver,
			credential:     options.KeyVaultOptions.Credential,
		},
		snapshots: make(map[string]*configurationSnapshot),
	}
	admin.tracingOptions = configureTracingOptions(options, clientManager.replicaCount())

	if options.RefreshOptions.Enabled {
		admin.refreshEnabled = true
		admin.refreshInterval = options.RefreshOptions.Interval
		if admin.refreshInterval <= 0 {
			admin.refreshInterval = defaultRefreshInterval
		}
		admin.sentinel = options.RefreshOptions.Sentinel
		if admin.sentinel.Label == "" {
			admin.sentinel.Label = defaultLabel
		}
	}

	return admin, nil
}

// ListConfigurations lists the configurations of the factory selected by filter.
//
// With refresh enabled, a listing is reused until the refresh interval elapses and the
// sentinel key-value changes. If the sentinel cannot be checked, the previous listing is kept.
func (a *AppConfigurationAdmin) ListConfigurations(ctx context.Context, filter string) ([]Configuration, error) {
	factoryPID, err := ParseFactoryFilter(filter)
	if err != nil {
		return nil, err
	}

	if !a.refreshEnabled {
		return a.loadConfigurations(ctx, factoryPID)
	}

	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	snapshot, ok := a.snapshots[factoryPID]
	if !ok {
		snapshot, err = a.loadSnapshot(ctx, factoryPID)
		if err != nil {
			return nil, err
		}
		a.snapshots[factoryPID] = snapshot
		return snapshotConfigurations(snapshot), nil
	}

	if !snapshot.timer.ShouldRefresh() {
		return snapshotConfigurations(snapshot), nil
	}

	changed, err := a.sentinelChanged(ctx, snapshot.sentinelETag)
	if err != nil {
		logger.Warnf("Failed to check sentinel key '%s', keeping the listed configurations: %v", a.sentinel.Key, err)
		return snapshotConfigurations(snapshot), nil
	}

	if !changed {
		snapshot.timer.Reset()
		return snapshotConfigurations(snapshot), nil
	}

	reloaded, err := a.loadSnapshot(ctx, factoryPID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload configurations: %w", err)
	}
	a.snapshots[factoryPID] = reloaded

	return snapshotConfigurations(reloaded), nil
}

func (a *AppConfigurationAdmin) loadSnapshot(ctx context.Context, factoryPID string) (*configurationSnapshot, error) {
	var (
		configurations []Configuration
		sentinelETag   *azcore.ETag
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		configurations, err = a.loadConfigurations(egCtx, factoryPID)
		return err
	})
	eg.Go(func() error {
		response, err := a.executeFailoverPolicy(egCtx, a.newSentinelClient(nil))
		if err != nil {
			return err
		}
		if len(response.settings) > 0 {
			sentinelETag = response.settings[0].ETag
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return &configurationSnapshot{
		configurations: configurations,
		sentinelETag:   sentinelETag,
		timer:          refreshtimer.New(a.refreshInterval),
	}, nil
}

func (a *AppConfigurationAdmin) sentinelChanged(ctx context.Context, eTag *azcore.ETag) (bool, error) {
	response, err := a.executeFailoverPolicy(ctx, a.newSentinelClient(eTag))
	if err != nil {
		return false, err
	}

	if response.notModified {
		return false, nil
	}

	if len(response.settings) == 0 {
		// The sentinel was deleted
		return eTag != nil, nil
	}

	current := response.settings[0].ETag
	if eTag == nil || current == nil {
		return eTag != current, nil
	}

	return *eTag != *current, nil
}

func (a *AppConfigurationAdmin) loadConfigurations(ctx context.Context, factoryPID string) ([]Configuration, error) {
	client := a.factoryClient
	if client == nil {
		client = &factorySettingsClient{
			factoryPID:     factoryPID,
			labels:         a.labels,
			tracingOptions: a.currentTracingOptions(),
		}
	}

	response, err := a.executeFailoverPolicy(ctx, client)
	if err != nil {
		return nil, err
	}

	configurations, err := a.decodeSettings(ctx, response.settings)
	if err != nil {
		return nil, err
	}

	a.tracingMu.Lock()
	a.tracingOptions.InitialLoadFinished = true
	a.tracingMu.Unlock()

	if len(configurations) == 0 {
		return nil, nil
	}

	return configurations, nil
}

// decodeSettings turns key-values into configurations, keeping their order
func (a *AppConfigurationAdmin) decodeSettings(ctx context.Context, settings []azappconfig.Setting) ([]Configuration, error) {
	payloads := make([]*string, len(settings))
	keyVaultRefs := make(map[int]string)
	for i, setting := range settings {
		if setting.Key == nil || setting.Value == nil {
			continue
		}

		contentType := ""
		if setting.ContentType != nil {
			contentType = strings.TrimSpace(strings.ToLower(*setting.ContentType))
		}

		switch {
		case contentType == featureFlagContentType:
			continue
		case contentType == secretReferenceContentType:
			keyVaultRefs[i] = *setting.Value
		case contentType == "" || isJsonContentType(setting.ContentType):
			payloads[i] = setting.Value
		default:
			logger.Debugf("Ignoring setting '%s' with content type '%s'", *setting.Key, *setting.ContentType)
		}
	}

	if len(keyVaultRefs) > 0 {
		if !a.resolver.configured() {
			return nil, fmt.Errorf("no Key Vault credential or SecretResolver configured")
		}

		var mu sync.Mutex
		eg, egCtx := errgroup.WithContext(ctx)
		for i, kvRef := range keyVaultRefs {
			i, kvRef := i, kvRef
			eg.Go(func() error {
				resolvedSecret, err := a.resolver.resolveSecret(egCtx, kvRef)
				if err != nil {
					return fmt.Errorf("fail to resolve the Key Vault reference '%s': %w", *settings[i].Key, err)
				}
				mu.Lock()
				payloads[i] = &resolvedSecret
				mu.Unlock()
				return nil
			})
		}

		if err := eg.Wait(); err != nil {
			return nil, err
		}
	}

	configurations := make([]Configuration, 0, len(settings))
	for i, payload := range payloads {
		if payload == nil {
			continue
		}

		configuration, err := decodeConfiguration(*payload)
		if err != nil {
			logger.Warnf("Failed to decode configuration: key=%s, error=%s", *settings[i].Key, err.Error())
			continue
		}
		configurations = append(configurations, configuration)
	}

	return configurations, nil
}

func decodeConfiguration(payload string) (Configuration, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return Configuration{}, err
	}

	var configuration Configuration
	config := &decoder.DecoderConfig{
		Result:           &configuration,
		WeaklyTypedInput: true,
		TagName:          "json",
	}

	d, err := decoder.NewDecoder(config)
	if err != nil {
		return Configuration{}, err
	}

	if err := d.Decode(raw); err != nil {
		return Configuration{}, err
	}

	if configuration.FormNavigatorID == "" {
		return Configuration{}, fmt.Errorf("missing formNavigatorId")
	}

	return configuration, nil
}

func (a *AppConfigurationAdmin) executeFailoverPolicy(ctx context.Context, client settingsClient) (*settingsResponse, error) {
	clients := a.clientManager.getClients()
	if len(clients) == 0 {
		// Every client is backing off, try them all rather than failing without a request
		logger.Debugf("All app configuration clients are backing off, trying every client")
		clients = a.clientManager.allClients()
	}

	var lastErr error
	for _, clientWrapper := range clients {
		response, err := client.getSettings(ctx, clientWrapper.client)
		if err != nil {
			if isFailoverable(err) {
				a.clientManager.updateBackoffStatus(clientWrapper, false)
				logger.Debugf("Request to %s failed, trying the next replica: %v", clientWrapper.endpoint, err)
				lastErr = err
				continue
			}
			return nil, err
		}

		a.clientManager.updateBackoffStatus(clientWrapper, true)
		return response, nil
	}

	return nil, fmt.Errorf("all app configuration clients failed to get settings: %w", lastErr)
}

func (a *AppConfigurationAdmin) newSentinelClient(onlyIfChanged *azcore.ETag) settingsClient {
	if a.sentinelClient != nil {
		return a.sentinelClient(onlyIfChanged)
	}

	return &sentinelSettingsClient{
		sentinel:       a.sentinel,
		onlyIfChanged:  onlyIfChanged,
		tracingOptions: a.currentTracingOptions(),
	}
}

func (a *AppConfigurationAdmin) currentTracingOptions() tracing.Options {
	a.tracingMu.Lock()
	defer a.tracingMu.Unlock()

	return a.tracingOptions
}

func snapshotConfigurations(snapshot *configurationSnapshot) []Configuration {
	if len(snapshot.configurations) == 0 {
		return nil
	}

	return copyConfigurations(snapshot.configurations)
}

func configureTracingOptions(options *Options, replicaCount int) tracing.Options {
	tracingOption := tracing.Options{
		Enabled: tracing.Enabled(),
	}

	if !tracingOption.Enabled {
		return tracingOption
	}

	tracingOption.Host = tracing.GetHostType()
	tracingOption.ReplicaCount = replicaCount
	tracingOption.RefreshEnabled = options.RefreshOptions.Enabled
	if options.KeyVaultOptions.SecretResolver != nil || options.KeyVaultOptions.Credential != nil {
		tracingOption.KeyVaultConfigured = true
	}

	return tracingOption
}
