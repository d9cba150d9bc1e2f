// SPDX-License-Identifier: MIT

// Package config provides the persisted configuration document, its loader
// and the cached on-disk store.
package config

import (
	"regexp"
	"strconv"
)

// IDPattern constrains destination identifiers wherever they cross a
// process boundary (config file, API path parameters).
var IDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

// Config is the root persisted document. Canonical on-disk keys are
// snake_case; camelCase spellings are accepted on load.
type Config struct {
	Version       string        `yaml:"version" json:"version"`
	StreamManager StreamManager `yaml:"stream_manager" json:"streamManager"`
	UI            UIConfig      `yaml:"ui" json:"ui"`
}

// StreamManager groups the ingest listener, the fan-out destinations and the
// reserved reconnection policy knobs.
type StreamManager struct {
	OBS                  OBSConfig     `yaml:"obs" json:"obs"`
	Ingest               IngestConfig  `yaml:"rtmp_server" json:"rtmpServer"`
	AutoReconnect        bool          `yaml:"auto_reconnect" json:"autoReconnect"`
	ReconnectDelay       int           `yaml:"reconnect_delay" json:"reconnectDelay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts" json:"maxReconnectAttempts"`
	Destinations         []Destination `yaml:"platforms" json:"platforms"`
}

// OBSConfig points at a local OBS websocket endpoint. Reserved for
// studio-integration features; the core only persists it.
type OBSConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
}

// IngestConfig describes the inbound RTMP listener.
type IngestConfig struct {
	Host      string `yaml:"host" json:"host"`
	Port      int    `yaml:"port" json:"port"`
	App       string `yaml:"app_name" json:"appName"`
	StreamKey string `yaml:"stream_key" json:"streamKey"`
	Enabled   bool   `yaml:"enabled" json:"enabled"`
}

// Tuple returns the fields whose change requires an ingest restart.
func (c IngestConfig) Tuple() [4]string {
	return [4]string{c.Host, strconv.Itoa(c.Port), c.App, c.StreamKey}
}

// UIConfig binds the control plane listener.
type UIConfig struct {
	Host  string `yaml:"host" json:"host"`
	Port  int    `yaml:"port" json:"port"`
	Debug bool   `yaml:"debug" json:"debug"`
}

// Destination is one outbound fan-out target.
type Destination struct {
	ID          string         `yaml:"id,omitempty" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	DisplayName string         `yaml:"display_name,omitempty" json:"displayName,omitempty"`
	URL         string         `yaml:"rtmp_url" json:"rtmpUrl"`
	StreamKey   string         `yaml:"stream_key" json:"streamKey"`
	Enabled     bool           `yaml:"enabled" json:"enabled"`
	Metadata    map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Clone returns a deep copy of the configuration. Callers receive clones so
// no two components ever share a mutable document.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.StreamManager.Destinations = make([]Destination, len(c.StreamManager.Destinations))
	for i, d := range c.StreamManager.Destinations {
		out.StreamManager.Destinations[i] = d.Clone()
	}
	return &out
}

// Clone returns a deep copy of the destination.
func (d Destination) Clone() Destination {
	out := d
	if d.Metadata != nil {
		out.Metadata = make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// FindDestination looks a destination up by id first, then by name.
// Name lookups return the first match in document order.
func (c *Config) FindDestination(idOrName string) (Destination, bool) {
	for _, d := range c.StreamManager.Destinations {
		if d.ID == idOrName {
			return d, true
		}
	}
	for _, d := range c.StreamManager.Destinations {
		if d.Name == idOrName {
			return d, true
		}
	}
	return Destination{}, false
}

// EnabledDestinations returns the subset of destinations that may be started.
func (c *Config) EnabledDestinations() []Destination {
	out := make([]Destination, 0, len(c.StreamManager.Destinations))
	for _, d := range c.StreamManager.Destinations {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out
}
