// SPDX-License-Identifier: MIT

package config

import (
	"fmt"

	"github.com/streamfan/streamfan/internal/validate"
)

// Validate checks a complete configuration and returns a
// validate.ValidationError carrying the full field list on failure.
func Validate(cfg *Config) error {
	v := validate.New()

	ing := cfg.StreamManager.Ingest
	v.Port("stream_manager.rtmp_server.port", ing.Port)
	v.NotEmpty("stream_manager.rtmp_server.host", ing.Host)
	v.NotEmpty("stream_manager.rtmp_server.app_name", ing.App)

	v.Port("ui.port", cfg.UI.Port)
	v.NotEmpty("ui.host", cfg.UI.Host)

	if cfg.StreamManager.OBS.Port != 0 {
		v.Port("stream_manager.obs.port", cfg.StreamManager.OBS.Port)
	}

	v.NonNegative("stream_manager.reconnect_delay", cfg.StreamManager.ReconnectDelay)
	v.NonNegative("stream_manager.max_reconnect_attempts", cfg.StreamManager.MaxReconnectAttempts)

	seen := make(map[string]int, len(cfg.StreamManager.Destinations))
	for i, d := range cfg.StreamManager.Destinations {
		field := func(name string) string {
			return fmt.Sprintf("stream_manager.platforms[%d].%s", i, name)
		}
		v.NotEmpty(field("name"), d.Name)
		v.URL(field("rtmp_url"), d.URL, []string{"rtmp", "rtmps"})
		if d.ID != "" {
			v.Match(field("id"), d.ID, "must match ^[A-Za-z0-9_-]{1,100}$", IDPattern.MatchString)
			if prev, dup := seen[d.ID]; dup {
				v.AddError(field("id"), fmt.Sprintf("duplicate id, first used by platforms[%d]", prev), d.ID)
			} else {
				seen[d.ID] = i
			}
		}
	}

	return v.Err()
}
