// SPDX-License-Identifier: MIT

package netutil

import (
	"testing"
)

func TestRewriteBindAll(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"rtmp://0.0.0.0:1935/live", "rtmp://localhost:1935/live"},
		{"0.0.0.0", "localhost"},
		{"rtmp://127.0.0.1:1935/live", "rtmp://127.0.0.1:1935/live"},
		{"rtmp://192.168.1.20:1935/live", "rtmp://192.168.1.20:1935/live"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := RewriteBindAll(tt.input); got != tt.want {
			t.Errorf("RewriteBindAll(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestJoinHostPort(t *testing.T) {
	if got := JoinHostPort("0.0.0.0", 1935); got != "0.0.0.0:1935" {
		t.Errorf("JoinHostPort = %q", got)
	}
	if got := JoinHostPort("::1", 8080); got != "[::1]:8080" {
		t.Errorf("JoinHostPort v6 = %q", got)
	}
}

func TestSplitPort(t *testing.T) {
	if got := SplitPort("localhost:1935"); got != 1935 {
		t.Errorf("SplitPort = %d, want 1935", got)
	}
	if got := SplitPort("localhost"); got != 0 {
		t.Errorf("SplitPort without port = %d, want 0", got)
	}
}
