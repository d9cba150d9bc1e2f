// SPDX-License-Identifier: MIT

package config

// Default returns the built-in configuration used when no file exists and as
// the base every loaded document is merged onto.
func Default() Config {
	return Config{
		Version: "1.0",
		StreamManager: StreamManager{
			OBS: OBSConfig{
				Host: "localhost",
				Port: 4455,
			},
			Ingest: IngestConfig{
				Host:      "0.0.0.0",
				Port:      1935,
				App:       "live",
				StreamKey: "obs",
				Enabled:   true,
			},
			AutoReconnect:        true,
			ReconnectDelay:       5000,
			MaxReconnectAttempts: 10,
			Destinations:         []Destination{},
		},
		UI: UIConfig{
			Host:  "127.0.0.1",
			Port:  8080,
			Debug: false,
		},
	}
}
