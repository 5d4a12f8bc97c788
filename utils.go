// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package formnavigator

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

var jsonContentTypeRegexp = regexp.MustCompile(`^application/(?:[^/]+\+)?json(;.*)?$`)

func verifyAuthenticationOptions(authOptions AuthenticationOptions) error {
	if authOptions.ConnectionString == "" &&
		!(authOptions.Endpoint != "" && authOptions.Credential != nil) {
		return fmt.Errorf("either connection string or endpoint and credential must be provided")
	}

	return nil
}

func verifyOptions(options *Options) error {
	if options == nil {
		return nil
	}

	if err := verifyLabels(options.Labels); err != nil {
		return err
	}

	for _, endpoint := range options.ReplicaEndpoints {
		if !strings.HasPrefix(strings.ToLower(endpoint), "https://") {
			return fmt.Errorf("replica endpoint '%s' must be an https URL", endpoint)
		}
	}

	if options.RefreshOptions.Enabled {
		if options.RefreshOptions.Interval != 0 &&
			options.RefreshOptions.Interval < minimalRefreshInterval {
			return fmt.Errorf("refresh interval cannot be less than %s", minimalRefreshInterval)
		}

		sentinel := options.RefreshOptions.Sentinel
		if sentinel.Key == "" {
			return fmt.Errorf("sentinel key cannot be empty")
		}

		if strings.Contains(sentinel.Key, "*") || strings.Contains(sentinel.Key, ",") {
			return fmt.Errorf("sentinel key cannot contain '*' or ','")
		}

		if strings.Contains(sentinel.Label, "*") || strings.Contains(sentinel.Label, ",") {
			return fmt.Errorf("sentinel label cannot contain '*' or ','")
		}
	}

	return nil
}

func verifyLabels(labels []string) error {
	for _, label := range labels {
		if strings.Contains(label, "*") || strings.Contains(label, ",") {
			return fmt.Errorf("label '%s' cannot contain '*' or ','", label)
		}
	}

	return nil
}

// normalizeLabels deduplicates labels keeping the last occurrence, and maps the empty label to the null label.
func normalizeLabels(labels []string) []string {
	if len(labels) == 0 {
		return []string{defaultLabel}
	}

	seen := make(map[string]struct{}, len(labels))
	result := make([]string, 0, len(labels))
	for i := len(labels) - 1; i >= 0; i-- {
		label := labels[i]
		if label == "" {
			label = defaultLabel
		}

		if _, exists := seen[label]; exists {
			continue
		}
		seen[label] = struct{}{}
		result = append(result, label)
	}

	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}

	return result
}

func isJsonContentType(contentType *string) bool {
	if contentType == nil {
		return false
	}

	return jsonContentTypeRegexp.MatchString(strings.ToLower(strings.TrimSpace(*contentType)))
}

func isFailoverable(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) &&
		(respErr.StatusCode == http.StatusTooManyRequests ||
			respErr.StatusCode == http.StatusRequestTimeout ||
			respErr.StatusCode >= http.StatusInternalServerError) {
		return true
	}

	return false
}

func isStatusCode(err error, statusCodes ...int) bool {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return false
	}

	for _, statusCode := range statusCodes {
		if respErr.StatusCode == statusCode {
			return true
		}
	}

	return false
}

func labelName(label string) string {
	if label == "" || label == defaultLabel {
		return "no"
	}

	return "'" + label + "'"
}
