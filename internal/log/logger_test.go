// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func TestWithComponentAnnotatesEntries(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "streamfan-test"})

	l := WithComponent("relay")
	l.Info().Str(FieldEvent, "relay.start").Msg("started")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if entry["component"] != "relay" {
		t.Errorf("expected component relay, got %v", entry["component"])
	}
	if entry["service"] != "streamfan-test" {
		t.Errorf("expected service streamfan-test, got %v", entry["service"])
	}
	if entry["event"] != "relay.start" {
		t.Errorf("expected event relay.start, got %v", entry["event"])
	}
}

func TestWithContextAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "streamfan-test"})

	ctx := ContextWithRequestID(context.Background(), "req-1")
	l := WithContext(ctx, Base())
	l.Info().Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if entry["request_id"] != "req-1" {
		t.Errorf("expected request_id req-1, got %v", entry["request_id"])
	}

	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty request id on bare context, got %q", got)
	}
}
