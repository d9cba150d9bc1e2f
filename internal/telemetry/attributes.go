// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared across spans.
const (
	ConfigDestinationsKey = "config.destinations"
	ConfigEnabledKey      = "config.enabled_destinations"

	IngestEnabledKey = "ingest.enabled"
	IngestPortKey    = "ingest.port"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// ConfigAttributes describes a configuration document on apply/reload spans.
func ConfigAttributes(destinations, enabled int, ingestEnabled bool, ingestPort int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(ConfigDestinationsKey, destinations),
		attribute.Int(ConfigEnabledKey, enabled),
		attribute.Bool(IngestEnabledKey, ingestEnabled),
		attribute.Int(IngestPortKey, ingestPort),
	}
}

// ErrorAttributes marks a span as failed with a classified error type.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
