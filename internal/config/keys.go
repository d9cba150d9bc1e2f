// SPDX-License-Identifier: MIT

package config

import (
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// normalizeKeys rewrites camelCase mapping keys to the canonical snake_case
// spelling in place, so a single strict decode accepts both forms. The
// contents of `metadata` mappings are opaque and left untouched.
func normalizeKeys(node *yaml.Node) {
	if node == nil {
		return
	}
	switch node.Kind {
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, child := range node.Content {
			normalizeKeys(child)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i]
			val := node.Content[i+1]
			if key.Kind != yaml.ScalarNode {
				continue
			}
			key.Value = camelToSnake(key.Value)
			if key.Value == "metadata" {
				continue
			}
			normalizeKeys(val)
		}
	}
}

// camelToSnake converts a camelCase identifier to snake_case. Keys that are
// already snake_case pass through unchanged. Uppercase runs collapse to a
// single segment so "rtmpURL" and "rtmpUrl" both become "rtmp_url".
func camelToSnake(s string) string {
	if !strings.ContainsFunc(s, unicode.IsUpper) {
		return s
	}
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if i > 0 && runes[i-1] != '_' && (prevLower || nextLower) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
