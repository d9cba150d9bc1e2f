// SPDX-License-Identifier: MIT

package api

import (
	"net/http"

	"github.com/streamfan/streamfan/internal/config"
)

// maskedValue replaces secrets in API responses. Incoming documents carrying
// it verbatim keep the stored secret, so masked GETs round-trip through POST.
const maskedValue = "***"

// PlatformView is the API projection of one configured destination.
type PlatformView struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	DisplayName string         `json:"displayName,omitempty"`
	URL         string         `json:"rtmpUrl"`
	StreamKey   string         `json:"streamKey"`
	Enabled     bool           `json:"enabled"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func includeKeys(r *http.Request) bool {
	return r.URL.Query().Get("includeKeys") == "true"
}

func maskSecret(v string) string {
	if v == "" {
		return ""
	}
	return maskedValue
}

func platformView(d config.Destination, withKeys bool) PlatformView {
	key := d.StreamKey
	if !withKeys {
		key = maskSecret(key)
	}
	return PlatformView{
		ID:          d.ID,
		Name:        d.Name,
		DisplayName: d.DisplayName,
		URL:         d.URL,
		StreamKey:   key,
		Enabled:     d.Enabled,
		Metadata:    d.Metadata,
	}
}

func platformViews(dests []config.Destination, withKeys bool) []PlatformView {
	out := make([]PlatformView, 0, len(dests))
	for _, d := range dests {
		out = append(out, platformView(d, withKeys))
	}
	return out
}

// maskedConfig returns a clone with every secret replaced by the mask.
func maskedConfig(cfg *config.Config) *config.Config {
	out := cfg.Clone()
	out.StreamManager.OBS.Password = maskSecret(out.StreamManager.OBS.Password)
	out.StreamManager.Ingest.StreamKey = maskSecret(out.StreamManager.Ingest.StreamKey)
	for i := range out.StreamManager.Destinations {
		out.StreamManager.Destinations[i].StreamKey = maskSecret(out.StreamManager.Destinations[i].StreamKey)
	}
	return out
}

// restoreMaskedSecrets rewrites masked fields in next with the values held in
// current. Destination keys restore by id; a masked key on a new destination
// (no stored counterpart) is stored as given and flagged by its platform
// driver on the next configure.
func restoreMaskedSecrets(next, current *config.Config) {
	if next.StreamManager.OBS.Password == maskedValue {
		next.StreamManager.OBS.Password = current.StreamManager.OBS.Password
	}
	if next.StreamManager.Ingest.StreamKey == maskedValue {
		next.StreamManager.Ingest.StreamKey = current.StreamManager.Ingest.StreamKey
	}
	for i := range next.StreamManager.Destinations {
		d := &next.StreamManager.Destinations[i]
		if d.StreamKey != maskedValue {
			continue
		}
		if stored, ok := findByID(current, d.ID); ok {
			d.StreamKey = stored.StreamKey
		}
	}
}

func findByID(cfg *config.Config, id string) (config.Destination, bool) {
	if id == "" {
		return config.Destination{}, false
	}
	for _, d := range cfg.StreamManager.Destinations {
		if d.ID == id {
			return d, true
		}
	}
	return config.Destination{}, false
}
