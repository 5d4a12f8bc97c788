// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package formnavigator

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azappconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const jsonContentType = "application/json"

type mockSettingsClient struct {
	mock.Mock
}

func (m *mockSettingsClient) getSettings(ctx context.Context, client *azappconfig.Client) (*settingsResponse, error) {
	args := m.Called(ctx, client)
	response, _ := args.Get(0).(*settingsResponse)
	return response, args.Error(1)
}

// fakeSettingsClient returns a fixed response and records the ETags it was created with
type fakeSettingsClient struct {
	mu       sync.Mutex
	response *settingsResponse
	err      error
	calls    int
}

func (f *fakeSettingsClient) getSettings(context.Context, *azappconfig.Client) (*settingsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.response, f.err
}

type mockRefreshCondition struct {
	shouldRefresh bool
	resetCalled   bool
}

func (m *mockRefreshCondition) ShouldRefresh() bool {
	return m.shouldRefresh
}

func (m *mockRefreshCondition) Reset() {
	m.resetCalled = true
}

func toPtr(s string) *string {
	return &s
}

func jsonSetting(key string, value string) azappconfig.Setting {
	return azappconfig.Setting{Key: toPtr(key), Value: toPtr(value), ContentType: toPtr(jsonContentType)}
}

func newResponseError(statusCode int) error {
	return runtime.NewResponseError(&http.Response{
		StatusCode: statusCode,
		Status:     http.StatusText(statusCode),
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("")),
		Request:    httptest.NewRequest(http.MethodGet, "https://primary.azconfig.io/kv", nil),
	})
}

func newTestAdmin(clients ...*azappconfig.Client) *AppConfigurationAdmin {
	if len(clients) == 0 {
		clients = []*azappconfig.Client{{}}
	}

	manager := &configurationClientManager{}
	for i, client := range clients {
		manager.clients = append(manager.clients, &configurationClientWrapper{
			endpoint: "https://replica" + string(rune('0'+i)) + ".azconfig.io",
			client:   client,
		})
	}

	return &AppConfigurationAdmin{
		labels:        []string{defaultLabel},
		clientManager: manager,
		resolver:      &keyVaultReferenceResolver{},
		snapshots:     make(map[string]*configurationSnapshot),
	}
}

func TestListConfigurations_Success(t *testing.T) {
	mockClient := new(mockSettingsClient)
	mockClient.On("getSettings", mock.Anything, mock.Anything).Return(&settingsResponse{
		settings: []azappconfig.Setting{
			jsonSetting(FactoryPID+"/first", `{"formNavigatorId": "form1", "formNavigatorEntryKeys": ["add.general=k1,k2,k3"]}`),
			jsonSetting(FactoryPID+"/second", `{"formNavigatorId": "form1", "formNavigatorEntryKeys": ["update.general=k1,k4,k5"]}`),
		},
	}, nil)

	admin := newTestAdmin()
	admin.factoryClient = mockClient

	configurations, err := admin.ListConfigurations(context.Background(), FactoryFilter)

	require.NoError(t, err)
	assert.Equal(t, []Configuration{
		config("form1", "add.general=k1,k2,k3"),
		config("form1", "update.general=k1,k4,k5"),
	}, configurations)
	assert.True(t, admin.currentTracingOptions().InitialLoadFinished)

	r := NewRetriever(admin)
	assert.Equal(t, []string{"k1", "k4", "k5"}, getKeys(t, r, "form1", "general", "update"))
	mockClient.AssertExpectations(t)
}

func TestListConfigurations_NoSettings(t *testing.T) {
	mockClient := new(mockSettingsClient)
	mockClient.On("getSettings", mock.Anything, mock.Anything).Return(&settingsResponse{}, nil)

	admin := newTestAdmin()
	admin.factoryClient = mockClient

	configurations, err := admin.ListConfigurations(context.Background(), FactoryFilter)

	assert.NoError(t, err)
	assert.Nil(t, configurations)
}

func TestListConfigurations_InvalidFilter(t *testing.T) {
	admin := newTestAdmin()

	_, err := admin.ListConfigurations(context.Background(), "(service.pid=x)")

	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestDecodeSettings(t *testing.T) {
	settings := []azappconfig.Setting{
		jsonSetting("pid/valid", `{"formNavigatorId": "form1", "formNavigatorEntryKeys": ["add.general=k1"]}`),
		jsonSetting("pid/single-line", `{"formNavigatorId": "form2", "formNavigatorEntryKeys": "general=k2"}`),
		{Key: toPtr("pid/no-content-type"), Value: toPtr(`{"formNavigatorId": "form3", "formNavigatorEntryKeys": ["update.general=k3"]}`)},
		jsonSetting("pid/invalid-json", `{"formNavigatorId": invalid}`),
		jsonSetting("pid/missing-id", `{"formNavigatorEntryKeys": ["add.general=k1"]}`),
		{Key: toPtr("pid/text"), Value: toPtr("add.general=k1"), ContentType: toPtr("text/plain")},
		{Key: toPtr("pid/flag"), Value: toPtr(`{"id": "flag"}`), ContentType: toPtr(featureFlagContentType)},
		{Key: toPtr("pid/no-value"), ContentType: toPtr(jsonContentType)},
		{Value: toPtr(`{"formNavigatorId": "no-key"}`), ContentType: toPtr(jsonContentType)},
	}

	configurations, err := newTestAdmin().decodeSettings(context.Background(), settings)

	require.NoError(t, err)
	assert.Equal(t, []Configuration{
		config("form1", "add.general=k1"),
		config("form2", "general=k2"),
		config("form3", "update.general=k3"),
	}, configurations)
}

func TestDecodeSettings_WithKeyVaultReferences(t *testing.T) {
	mockResolver := new(mockSecretResolver)
	expectedURL, _ := url.Parse("https://myvault.vault.azure.net/secrets/formnavigator")
	mockResolver.On("ResolveSecret", mock.Anything, *expectedURL).
		Return(`{"formNavigatorId": "form1", "formNavigatorEntryKeys": ["add.general=secret"]}`, nil)

	admin := newTestAdmin()
	admin.resolver = &keyVaultReferenceResolver{secretResolver: mockResolver}

	settings := []azappconfig.Setting{
		jsonSetting("pid/plain", `{"formNavigatorId": "form1", "formNavigatorEntryKeys": ["add.general=plain"]}`),
		{
			Key:         toPtr("pid/secret"),
			Value:       toPtr(`{"uri":"https://myvault.vault.azure.net/secrets/formnavigator"}`),
			ContentType: toPtr(secretReferenceContentType),
		},
	}

	configurations, err := admin.decodeSettings(context.Background(), settings)

	require.NoError(t, err)
	assert.Equal(t, []Configuration{
		config("form1", "add.general=plain"),
		config("form1", "add.general=secret"),
	}, configurations)
	mockResolver.AssertExpectations(t)
}

func TestDecodeSettings_KeyVaultNotConfigured(t *testing.T) {
	settings := []azappconfig.Setting{
		{
			Key:         toPtr("pid/secret"),
			Value:       toPtr(`{"uri":"https://myvault.vault.azure.net/secrets/formnavigator"}`),
			ContentType: toPtr(secretReferenceContentType),
		},
	}

	_, err := newTestAdmin().decodeSettings(context.Background(), settings)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no Key Vault credential or SecretResolver configured")
}

func TestDecodeSettings_KeyVaultFailure(t *testing.T) {
	mockResolver := new(mockSecretResolver)
	mockResolver.On("ResolveSecret", mock.Anything, mock.Anything).Return("", errors.New("forbidden"))

	admin := newTestAdmin()
	admin.resolver = &keyVaultReferenceResolver{secretResolver: mockResolver}

	settings := []azappconfig.Setting{
		{
			Key:         toPtr("pid/secret"),
			Value:       toPtr(`{"uri":"https://myvault.vault.azure.net/secrets/formnavigator"}`),
			ContentType: toPtr(secretReferenceContentType),
		},
	}

	_, err := admin.decodeSettings(context.Background(), settings)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "fail to resolve the Key Vault reference 'pid/secret'")
}

func TestDecodeSettings_KeyVaultErrorIsWrapped(t *testing.T) {
	forbidden := newResponseError(http.StatusForbidden)
	mockResolver := new(mockSecretResolver)
	mockResolver.On("ResolveSecret", mock.Anything, mock.Anything).Return("", forbidden)

	admin := newTestAdmin()
	admin.resolver = &keyVaultReferenceResolver{secretResolver: mockResolver}

	settings := []azappconfig.Setting{
		{
			Key:         toPtr("pid/secret"),
			Value:       toPtr(`{"uri":"https://myvault.vault.azure.net/secrets/formnavigator"}`),
			ContentType: toPtr(secretReferenceContentType),
		},
	}

	_, err := admin.decodeSettings(context.Background(), settings)

	var respErr *azcore.ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, http.StatusForbidden, respErr.StatusCode)
}

func TestExecuteFailoverPolicy_FailsOverToReplica(t *testing.T) {
	primary, replica := &azappconfig.Client{}, &azappconfig.Client{}
	expected := &settingsResponse{settings: []azappconfig.Setting{jsonSetting("pid/a", "{}")}}

	mockClient := new(mockSettingsClient)
	mockClient.On("getSettings", mock.Anything, mock.MatchedBy(func(c *azappconfig.Client) bool { return c == primary })).
		Return(nil, newResponseError(http.StatusServiceUnavailable)).Once()
	mockClient.On("getSettings", mock.Anything, mock.MatchedBy(func(c *azappconfig.Client) bool { return c == replica })).
		Return(expected, nil).Once()

	admin := newTestAdmin(primary, replica)

	response, err := admin.executeFailoverPolicy(context.Background(), mockClient)

	require.NoError(t, err)
	assert.Same(t, expected, response)
	mockClient.AssertExpectations(t)

	primaryWrapper := admin.clientManager.clients[0]
	assert.Equal(t, 1, primaryWrapper.failedAttempts)
	assert.True(t, primaryWrapper.backOffEndTime.After(time.Now()))
	assert.Len(t, admin.clientManager.getClients(), 1)
}

func TestExecuteFailoverPolicy_NetworkError(t *testing.T) {
	primary, replica := &azappconfig.Client{}, &azappconfig.Client{}

	mockClient := new(mockSettingsClient)
	mockClient.On("getSettings", mock.Anything, mock.MatchedBy(func(c *azappconfig.Client) bool { return c == primary })).
		Return(nil, &net.DNSError{Err: "timeout", IsTimeout: true}).Once()
	mockClient.On("getSettings", mock.Anything, mock.MatchedBy(func(c *azappconfig.Client) bool { return c == replica })).
		Return(&settingsResponse{}, nil).Once()

	_, err := newTestAdmin(primary, replica).executeFailoverPolicy(context.Background(), mockClient)

	assert.NoError(t, err)
	mockClient.AssertExpectations(t)
}

func TestExecuteFailoverPolicy_NonFailoverableError(t *testing.T) {
	primary, replica := &azappconfig.Client{}, &azappconfig.Client{}
	unauthorized := newResponseError(http.StatusUnauthorized)

	mockClient := new(mockSettingsClient)
	mockClient.On("getSettings", mock.Anything, mock.MatchedBy(func(c *azappconfig.Client) bool { return c == primary })).
		Return(nil, unauthorized).Once()

	_, err := newTestAdmin(primary, replica).executeFailoverPolicy(context.Background(), mockClient)

	assert.ErrorIs(t, err, unauthorized)
	mockClient.AssertExpectations(t)
	mockClient.AssertNumberOfCalls(t, "getSettings", 1)
}

func TestExecuteFailoverPolicy_NonFailoverableErrorDoesNotBackOff(t *testing.T) {
	mockClient := new(mockSettingsClient)
	mockClient.On("getSettings", mock.Anything, mock.Anything).Return(nil, newResponseError(http.StatusForbidden))

	admin := newTestAdmin()

	_, err := admin.executeFailoverPolicy(context.Background(), mockClient)
	require.Error(t, err)

	assert.Equal(t, 0, admin.clientManager.clients[0].failedAttempts)
	assert.True(t, admin.clientManager.clients[0].backOffEndTime.IsZero())
	assert.Len(t, admin.clientManager.getClients(), 1)
}

func TestExecuteFailoverPolicy_AllClientsFail(t *testing.T) {
	mockClient := new(mockSettingsClient)
	mockClient.On("getSettings", mock.Anything, mock.Anything).Return(nil, newResponseError(http.StatusTooManyRequests))

	admin := newTestAdmin(&azappconfig.Client{}, &azappconfig.Client{})

	_, err := admin.executeFailoverPolicy(context.Background(), mockClient)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all app configuration clients failed to get settings")
	assert.Empty(t, admin.clientManager.getClients())

	// Clients backing off are still tried when no other client is available
	_, err = admin.executeFailoverPolicy(context.Background(), mockClient)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all app configuration clients failed to get settings")
	mockClient.AssertNumberOfCalls(t, "getSettings", 4)
}

func TestExecuteFailoverPolicy_RecoversAfterTransientError(t *testing.T) {
	mockClient := new(mockSettingsClient)
	mockClient.On("getSettings", mock.Anything, mock.Anything).
		Return(nil, newResponseError(http.StatusServiceUnavailable)).Once()
	mockClient.On("getSettings", mock.Anything, mock.Anything).Return(&settingsResponse{
		settings: []azappconfig.Setting{
			jsonSetting("pid/a", `{"formNavigatorId": "form1", "formNavigatorEntryKeys": ["add.general=k1"]}`),
		},
	}, nil)

	admin := newTestAdmin()
	admin.factoryClient = mockClient
	r := NewRetriever(admin)

	_, _, err := r.GetFormNavigatorEntryKeys(context.Background(), "form1", "general", "add")
	require.Error(t, err)
	assert.Empty(t, admin.clientManager.getClients())

	for i := 0; i < 2; i++ {
		keys, found, err := r.GetFormNavigatorEntryKeys(context.Background(), "form1", "general", "add")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, []string{"k1"}, keys)
	}

	mockClient.AssertNumberOfCalls(t, "getSettings", 3)
	assert.Equal(t, 0, admin.clientManager.clients[0].failedAttempts)
	assert.Len(t, admin.clientManager.getClients(), 1)
}

func TestListConfigurations_ListingErrorPropagates(t *testing.T) {
	mockClient := new(mockSettingsClient)
	mockClient.On("getSettings", mock.Anything, mock.Anything).Return(nil, newResponseError(http.StatusForbidden))

	admin := newTestAdmin()
	admin.factoryClient = mockClient

	_, _, err := NewRetriever(admin).GetFormNavigatorEntryKeys(context.Background(), "form1", "general", "add")

	var respErr *azcore.ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, http.StatusForbidden, respErr.StatusCode)
}

func newRefreshAdmin(factoryClient settingsClient, sentinel *fakeSettingsClient) (*AppConfigurationAdmin, *[]*azcore.ETag) {
	admin := newTestAdmin()
	admin.refreshEnabled = true
	admin.refreshInterval = time.Minute
	admin.sentinel = WatchedSetting{Key: "sentinel", Label: defaultLabel}
	admin.factoryClient = factoryClient

	var requested []*azcore.ETag
	admin.sentinelClient = func(onlyIfChanged *azcore.ETag) settingsClient {
		requested = append(requested, onlyIfChanged)
		return sentinel
	}

	return admin, &requested
}

func sentinelResponse(eTag string) *settingsResponse {
	value := azcore.ETag(eTag)
	return &settingsResponse{
		settings: []azappconfig.Setting{{Key: toPtr("sentinel"), Value: toPtr("1"), ETag: &value}},
	}
}

func TestListConfigurations_Refresh(t *testing.T) {
	factoryClient := &fakeSettingsClient{response: &settingsResponse{
		settings: []azappconfig.Setting{
			jsonSetting("pid/a", `{"formNavigatorId": "form1", "formNavigatorEntryKeys": ["add.general=k1"]}`),
		},
	}}
	sentinel := &fakeSettingsClient{response: sentinelResponse("etag-1")}
	admin, requested := newRefreshAdmin(factoryClient, sentinel)
	ctx := context.Background()

	t.Run("first listing loads the snapshot", func(t *testing.T) {
		configurations, err := admin.ListConfigurations(ctx, FactoryFilter)

		require.NoError(t, err)
		assert.Equal(t, []Configuration{config("form1", "add.general=k1")}, configurations)
		assert.Equal(t, 1, factoryClient.calls)
		assert.Equal(t, 1, sentinel.calls)
		assert.Equal(t, azcore.ETag("etag-1"), *admin.snapshots[FactoryPID].sentinelETag)
	})

	t.Run("snapshot is reused before the interval elapses", func(t *testing.T) {
		configurations, err := admin.ListConfigurations(ctx, FactoryFilter)

		require.NoError(t, err)
		assert.Len(t, configurations, 1)
		assert.Equal(t, 1, factoryClient.calls)
		assert.Equal(t, 1, sentinel.calls)
	})

	t.Run("unchanged sentinel keeps the snapshot", func(t *testing.T) {
		timer := &mockRefreshCondition{shouldRefresh: true}
		admin.snapshots[FactoryPID].timer = timer
		sentinel.response = &settingsResponse{notModified: true}

		_, err := admin.ListConfigurations(ctx, FactoryFilter)

		require.NoError(t, err)
		assert.True(t, timer.resetCalled)
		assert.Equal(t, 1, factoryClient.calls)
		assert.Equal(t, azcore.ETag("etag-1"), *(*requested)[len(*requested)-1])
	})

	t.Run("changed sentinel reloads", func(t *testing.T) {
		admin.snapshots[FactoryPID].timer = &mockRefreshCondition{shouldRefresh: true}
		sentinel.response = sentinelResponse("etag-2")
		factoryClient.response = &settingsResponse{
			settings: []azappconfig.Setting{
				jsonSetting("pid/a", `{"formNavigatorId": "form1", "formNavigatorEntryKeys": ["add.general=k2"]}`),
			},
		}

		configurations, err := admin.ListConfigurations(ctx, FactoryFilter)

		require.NoError(t, err)
		assert.Equal(t, []Configuration{config("form1", "add.general=k2")}, configurations)
		assert.Equal(t, 2, factoryClient.calls)
		assert.Equal(t, azcore.ETag("etag-2"), *admin.snapshots[FactoryPID].sentinelETag)
	})

	t.Run("sentinel failure keeps the snapshot", func(t *testing.T) {
		timer := &mockRefreshCondition{shouldRefresh: true}
		admin.snapshots[FactoryPID].timer = timer
		sentinel.response = nil
		sentinel.err = newResponseError(http.StatusUnauthorized)

		configurations, err := admin.ListConfigurations(ctx, FactoryFilter)

		require.NoError(t, err)
		assert.Equal(t, []Configuration{config("form1", "add.general=k2")}, configurations)
		assert.False(t, timer.resetCalled)
		assert.Equal(t, 2, factoryClient.calls)
	})
}

func TestListConfigurations_RefreshReturnsCopies(t *testing.T) {
	factoryClient := &fakeSettingsClient{response: &settingsResponse{
		settings: []azappconfig.Setting{
			jsonSetting("pid/a", `{"formNavigatorId": "form1", "formNavigatorEntryKeys": ["add.general=k1"]}`),
		},
	}}
	admin, _ := newRefreshAdmin(factoryClient, &fakeSettingsClient{response: &settingsResponse{}})

	first, err := admin.ListConfigurations(context.Background(), FactoryFilter)
	require.NoError(t, err)
	first[0].FormNavigatorEntryKeys[0] = "changed"

	second, err := admin.ListConfigurations(context.Background(), FactoryFilter)
	require.NoError(t, err)
	assert.Equal(t, "add.general=k1", second[0].FormNavigatorEntryKeys[0])
}

func TestSentinelChanged(t *testing.T) {
	etag1 := azcore.ETag("etag-1")

	tests := []struct {
		name     string
		previous *azcore.ETag
		response *settingsResponse
		expected bool
	}{
		{name: "not modified", previous: &etag1, response: &settingsResponse{notModified: true}, expected: false},
		{name: "same etag", previous: &etag1, response: sentinelResponse("etag-1"), expected: false},
		{name: "new etag", previous: &etag1, response: sentinelResponse("etag-2"), expected: true},
		{name: "sentinel deleted", previous: &etag1, response: &settingsResponse{}, expected: true},
		{name: "sentinel still missing", previous: nil, response: &settingsResponse{}, expected: false},
		{name: "sentinel created", previous: nil, response: sentinelResponse("etag-1"), expected: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			admin, _ := newRefreshAdmin(nil, &fakeSettingsClient{response: test.response})

			changed, err := admin.sentinelChanged(context.Background(), test.previous)

			require.NoError(t, err)
			assert.Equal(t, test.expected, changed)
		})
	}
}

func TestNewAppConfigurationAdmin(t *testing.T) {
	connectionString := "Endpoint=https://example.azconfig.io;Id=test-id;Secret=c2VjcmV0"

	t.Run("missing authentication", func(t *testing.T) {
		_, err := NewAppConfigurationAdmin(AuthenticationOptions{}, nil)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "either connection string or endpoint and credential must be provided")
	})

	t.Run("invalid options", func(t *testing.T) {
		_, err := NewAppConfigurationAdmin(AuthenticationOptions{ConnectionString: connectionString}, &Options{
			Labels: []string{"prod*"},
		})

		assert.Error(t, err)
	})

	t.Run("connection string with replicas", func(t *testing.T) {
		t.Setenv("AZURE_APP_CONFIGURATION_TRACING_DISABLED", "false")

		admin, err := NewAppConfigurationAdmin(AuthenticationOptions{ConnectionString: connectionString}, &Options{
			Labels:           []string{"", "prod"},
			ReplicaEndpoints: []string{"https://example-replica.azconfig.io", "https://example.azconfig.io/"},
			RefreshOptions: RefreshOptions{
				Enabled:  true,
				Sentinel: WatchedSetting{Key: "sentinel"},
			},
		})

		require.NoError(t, err)
		assert.Equal(t, []string{defaultLabel, "prod"}, admin.labels)
		assert.Len(t, admin.clientManager.clients, 2)
		assert.Equal(t, "https://example-replica.azconfig.io", admin.clientManager.clients[1].endpoint)
		assert.True(t, admin.refreshEnabled)
		assert.Equal(t, defaultRefreshInterval, admin.refreshInterval)
		assert.Equal(t, WatchedSetting{Key: "sentinel", Label: defaultLabel}, admin.sentinel)
		assert.True(t, admin.tracingOptions.Enabled)
		assert.True(t, admin.tracingOptions.RefreshEnabled)
		assert.Equal(t, 1, admin.tracingOptions.ReplicaCount)
	})

	t.Run("tracing disabled", func(t *testing.T) {
		t.Setenv("AZURE_APP_CONFIGURATION_TRACING_DISABLED", "true")

		admin, err := NewAppConfigurationAdmin(AuthenticationOptions{ConnectionString: connectionString}, nil)

		require.NoError(t, err)
		assert.False(t, admin.tracingOptions.Enabled)
		assert.False(t, admin.refreshEnabled)
	})
}
