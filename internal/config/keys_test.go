// SPDX-License-Identifier: MIT

package config

import "testing"

func TestCamelToSnake(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"streamManager", "stream_manager"},
		{"rtmpServer", "rtmp_server"},
		{"appName", "app_name"},
		{"streamKey", "stream_key"},
		{"rtmpUrl", "rtmp_url"},
		{"rtmpURL", "rtmp_url"},
		{"autoReconnect", "auto_reconnect"},
		{"maxReconnectAttempts", "max_reconnect_attempts"},
		{"displayName", "display_name"},
		{"already_snake", "already_snake"},
		{"host", "host"},
		{"version", "version"},
	}
	for _, tt := range tests {
		if got := camelToSnake(tt.in); got != tt.want {
			t.Errorf("camelToSnake(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
