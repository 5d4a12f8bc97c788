// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package formnavigator

import (
	"strings"
)

// selector identifies the target of a line. An empty context means the line
// applies to the category regardless of context.
type selector struct {
	navContext string
	category   string
}

// entryKeysTable maps a selector to the entry keys of the last line that used it.
type entryKeysTable map[selector][]string

// parsedLine is one "selector=key1,key2" line.
type parsedLine struct {
	selector selector
	keys     []string
}

// parseEntryKeyLines parses every physical line of the given property values.
// A single value may hold several lines separated by newlines.
func parseEntryKeyLines(values []string) (entryKeysTable, []string) {
	table := make(entryKeysTable)
	var malformed []string
	for _, value := range values {
		for _, line := range strings.Split(value, "\n") {
			line = strings.TrimSuffix(line, "\r")
			if isBlankOrComment(line) {
				continue
			}

			parsed, ok := parseLine(line)
			if !ok {
				malformed = append(malformed, line)
				continue
			}

			table[parsed.selector] = parsed.keys
		}
	}

	return table, malformed
}

func parseLine(line string) (parsedLine, bool) {
	rawSelector, rawKeys, found := strings.Cut(line, "=")
	if !found {
		return parsedLine{}, false
	}

	navContext, category := splitSelector(rawSelector)
	return parsedLine{
		selector: selector{navContext: navContext, category: category},
		keys:     parseKeys(rawKeys),
	}, true
}

// parseKeys splits a comma separated key list, trimming each key. Keys that are
// empty once trimmed are dropped, so an empty list is returned for "".
func parseKeys(rawKeys string) []string {
	keys := make([]string, 0)
	for _, token := range strings.Split(rawKeys, ",") {
		key := strings.TrimSpace(token)
		if key == "" {
			continue
		}
		keys = append(keys, key)
	}

	return keys
}

// splitSelector splits a selector on its first '.' into context and category.
func splitSelector(rawSelector string) (string, string) {
	if navContext, category, found := strings.Cut(rawSelector, "."); found {
		return navContext, category
	}

	return "", rawSelector
}

func isBlankOrComment(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "!")
}

// lookup resolves the keys for a category in one configuration. A context
// specific line wins over a bare category line.
func (t entryKeysTable) lookup(category string, navContext string) ([]string, bool) {
	if navContext != "" {
		if keys, ok := t[selector{navContext: navContext, category: category}]; ok {
			return keys, true
		}
	}

	keys, ok := t[selector{category: category}]
	return keys, ok
}
