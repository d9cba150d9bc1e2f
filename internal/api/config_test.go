// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigGetMasksSecrets(t *testing.T) {
	f := newFixture(t)

	resp, body := f.get("/api/config")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	doc := decodeJSON[map[string]any](t, body)
	sm := doc["streamManager"].(map[string]any)
	assert.Equal(t, maskedValue, sm["rtmpServer"].(map[string]any)["streamKey"])
	for _, p := range sm["platforms"].([]any) {
		assert.Equal(t, maskedValue, p.(map[string]any)["streamKey"])
	}

	resp, body = f.get("/api/config?includeKeys=true")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	doc = decodeJSON[map[string]any](t, body)
	sm = doc["streamManager"].(map[string]any)
	assert.Equal(t, "ingest-secret", sm["rtmpServer"].(map[string]any)["streamKey"])
}

// A masked GET posted back verbatim must not clobber stored secrets.
func TestConfigUpdateRoundTripsMaskedSecrets(t *testing.T) {
	f := newFixture(t)

	_, body := f.get("/api/config")
	doc := decodeJSON[map[string]any](t, body)

	resp, _ := f.post("/api/config", doc)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cfg, err := f.store.Load()
	require.NoError(t, err)
	assert.Equal(t, "ingest-secret", cfg.StreamManager.Ingest.StreamKey)
	d, ok := cfg.FindDestination("twitch-main")
	require.True(t, ok)
	assert.Equal(t, "twitch-key", d.StreamKey)
}

// Partial documents only change the fields they carry.
func TestConfigUpdateMergesPartialDocument(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.post("/api/config", map[string]any{
		"ui": map[string]any{"debug": true},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cfg, err := f.store.Load()
	require.NoError(t, err)
	assert.True(t, cfg.UI.Debug)
	assert.Equal(t, 8080, cfg.UI.Port, "absent fields must keep stored values")
	assert.Equal(t, "127.0.0.1", cfg.UI.Host)
	assert.Len(t, cfg.StreamManager.Destinations, 2)
	assert.Equal(t, "ingest-secret", cfg.StreamManager.Ingest.StreamKey)
}

func TestConfigUpdateValidationError(t *testing.T) {
	f := newFixture(t)

	resp, body := f.post("/api/config", map[string]any{
		"ui": map[string]any{"port": -5},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	out := decodeJSON[errResp](t, body)
	assert.Equal(t, "invalid configuration", out.Error)
	require.NotEmpty(t, out.Details)
	assert.Equal(t, "ui.port", out.Details[0].Field)

	cfg, err := f.store.Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.UI.Port, "invalid document must not be persisted")
}

// Disabling a destination through POST /config stops its live session.
func TestConfigUpdateStopsDisabledSessions(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.post("/api/platforms/twitch-main/connect", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"twitch-main"}, f.sup.ActiveIDs())

	_, body := f.get("/api/config")
	doc := decodeJSON[map[string]any](t, body)
	platforms := doc["streamManager"].(map[string]any)["platforms"].([]any)
	platforms[0].(map[string]any)["enabled"] = false

	resp, _ = f.post("/api/config", doc)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, f.sup.ActiveIDs())

	cfg, err := f.store.Load()
	require.NoError(t, err)
	d, ok := cfg.FindDestination("twitch-main")
	require.True(t, ok)
	assert.False(t, d.Enabled)
	assert.Equal(t, "twitch-key", d.StreamKey, "masked key survives the round trip")
}
