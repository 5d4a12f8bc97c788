// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package formnavigator

import (
	"context"
	"net/http"

	"github.com/Azure/appconfiguration-formnavigator/internal/tracing"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azappconfig"
)

type settingsResponse struct {
	settings    []azappconfig.Setting
	notModified bool
}

type settingsClient interface {
	getSettings(ctx context.Context, client *azappconfig.Client) (*settingsResponse, error)
}

// factorySettingsClient lists the key-values of one factory, label by label
type factorySettingsClient struct {
	factoryPID     string
	labels         []string
	tracingOptions tracing.Options
}

// sentinelSettingsClient reads the sentinel key-value, only if it changed when an ETag is known
type sentinelSettingsClient struct {
	sentinel       WatchedSetting
	onlyIfChanged  *azcore.ETag
	tracingOptions tracing.Options
}

func (s *factorySettingsClient) getSettings(ctx context.Context, client *azappconfig.Client) (*settingsResponse, error) {
	if s.tracingOptions.Enabled {
		ctx = policy.WithHTTPHeader(ctx, tracing.CreateCorrelationContextHeader(s.tracingOptions))
	}

	settings := make([]azappconfig.Setting, 0)
	for _, label := range s.labels {
		selector := azappconfig.SettingSelector{
			KeyFilter:   to.Ptr(s.factoryPID + factoryKeySeparator + wildCard),
			LabelFilter: to.Ptr(label),
			Fields:      azappconfig.AllSettingFields(),
		}

		pager := client.NewListSettingsPager(selector, nil)
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return nil, err
			} else if page.Settings != nil {
				settings = append(settings, page.Settings...)
			}
		}
	}

	return &settingsResponse{
		settings: settings,
	}, nil
}

func (c *sentinelSettingsClient) getSettings(ctx context.Context, client *azappconfig.Client) (*settingsResponse, error) {
	if c.tracingOptions.Enabled {
		ctx = policy.WithHTTPHeader(ctx, tracing.CreateCorrelationContextHeader(c.tracingOptions))
	}

	response, err := client.GetSetting(ctx, c.sentinel.Key, &azappconfig.GetSettingOptions{
		Label:         to.Ptr(c.sentinel.Label),
		OnlyIfChanged: c.onlyIfChanged,
	})
	if err != nil {
		if isStatusCode(err, http.StatusNotModified) {
			return &settingsResponse{notModified: true}, nil
		}

		if isStatusCode(err, http.StatusNotFound) {
			logger.Warnf("Sentinel key '%s' with %s label does not exist", c.sentinel.Key, labelName(c.sentinel.Label))
			return &settingsResponse{}, nil
		}

		return nil, err
	}

	return &settingsResponse{
		settings: []azappconfig.Setting{response.Setting},
	}, nil
}
