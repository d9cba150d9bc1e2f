// SPDX-License-Identifier: MIT

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/streamfan/streamfan/internal/log"
)

// Loader reads the configuration with precedence: ENV > file > defaults.
type Loader struct {
	configPath      string
	ConsumedEnvKeys map[string]struct{} // mechanical tracking of consumed keys
	logger          zerolog.Logger
}

// NewLoader creates a loader bound to the given file path. An empty path
// means defaults plus environment only.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath:      configPath,
		ConsumedEnvKeys: make(map[string]struct{}),
		logger:          log.WithComponent("config"),
	}
}

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

// Load reads the file (when present), applies environment overrides,
// filters unusable destinations, assigns missing ids and validates.
// An absent file is not an error; defaults apply.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.configPath != "" {
		data, err := os.ReadFile(filepath.Clean(l.configPath))
		switch {
		case errors.Is(err, fs.ErrNotExist):
			l.logger.Info().
				Str(log.FieldEvent, "config.file_absent").
				Str("path", l.configPath).
				Msg("config file not found, using defaults")
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := parseInto(&cfg, data); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", l.configPath, err)
			}
		}
	}

	l.applyEnv(&cfg)
	l.finalize(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// parseInto strictly decodes a YAML document onto the prefilled defaults.
// Mapping keys are normalized to snake_case first so camelCase documents
// decode identically; unknown keys are rejected.
func parseInto(cfg *Config, data []byte) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("yaml parse: %w", err)
	}
	if doc.Kind == 0 {
		// Empty document: keep defaults.
		return nil
	}
	normalizeKeys(&doc)

	normalized, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("yaml renormalize: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(normalized))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("unrecognized config key: %w", err)
		}
		return fmt.Errorf("strict config parse: %w", err)
	}
	// A config document is exactly one YAML document.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("config file contains multiple documents or trailing content")
	}
	return nil
}

// applyEnv overlays the recognized environment variables; they take
// precedence over file values.
func (l *Loader) applyEnv(cfg *Config) {
	cfg.StreamManager.OBS.Host = l.envString(EnvOBSHost, cfg.StreamManager.OBS.Host)
	cfg.StreamManager.OBS.Port = l.envInt(EnvOBSPort, cfg.StreamManager.OBS.Port)
	cfg.StreamManager.OBS.Password = l.envString(EnvOBSPassword, cfg.StreamManager.OBS.Password)
	cfg.UI.Host = l.envString(EnvUIHost, cfg.UI.Host)
	cfg.UI.Port = l.envInt(EnvUIPort, cfg.UI.Port)
	cfg.UI.Debug = l.envBool(EnvUIDebug, cfg.UI.Debug)
}

// finalize drops destinations that can never publish and assigns ids where
// the document omitted them. Filtering is silent apart from a debug entry.
func (l *Loader) finalize(cfg *Config) {
	kept := cfg.StreamManager.Destinations[:0]
	for _, d := range cfg.StreamManager.Destinations {
		if strings.TrimSpace(d.URL) == "" || strings.TrimSpace(d.StreamKey) == "" {
			l.logger.Debug().
				Str(log.FieldEvent, "config.destination_filtered").
				Str("name", d.Name).
				Msg("dropping destination with empty url or stream key")
			continue
		}
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		kept = append(kept, d)
	}
	cfg.StreamManager.Destinations = kept
}

// ResolvePath picks the config file location: explicit flag first, then the
// CONFIG_PATH environment variable, then ./config.yaml.
func ResolvePath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	return "config.yaml"
}
