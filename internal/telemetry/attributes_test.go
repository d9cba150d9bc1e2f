// SPDX-License-Identifier: MIT

package telemetry

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func findAttr(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestConfigAttributes(t *testing.T) {
	attrs := ConfigAttributes(4, 2, true, 1935)
	if len(attrs) != 4 {
		t.Fatalf("expected 4 attributes, got %d", len(attrs))
	}

	if v, ok := findAttr(attrs, ConfigDestinationsKey); !ok || v.AsInt64() != 4 {
		t.Errorf("expected %s=4, got %v", ConfigDestinationsKey, v.Emit())
	}
	if v, ok := findAttr(attrs, ConfigEnabledKey); !ok || v.AsInt64() != 2 {
		t.Errorf("expected %s=2, got %v", ConfigEnabledKey, v.Emit())
	}
	if v, ok := findAttr(attrs, IngestEnabledKey); !ok || !v.AsBool() {
		t.Errorf("expected %s=true", IngestEnabledKey)
	}
	if v, ok := findAttr(attrs, IngestPortKey); !ok || v.AsInt64() != 1935 {
		t.Errorf("expected %s=1935, got %v", IngestPortKey, v.Emit())
	}
}

func TestErrorAttributes(t *testing.T) {
	attrs := ErrorAttributes("reconfigure")
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if v, ok := findAttr(attrs, ErrorKey); !ok || !v.AsBool() {
		t.Errorf("expected %s=true", ErrorKey)
	}
	if v, ok := findAttr(attrs, ErrorTypeKey); !ok || v.AsString() != "reconfigure" {
		t.Errorf("expected %s=reconfigure, got %q", ErrorTypeKey, v.AsString())
	}
}
