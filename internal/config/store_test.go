// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	cfg := Default()
	cfg.StreamManager.Destinations = []Destination{
		{
			ID:        "tw-main",
			Name:      "twitch",
			URL:       "rtmp://live.twitch.tv/app",
			StreamKey: "sk_live_1",
			Enabled:   true,
		},
		{
			ID:        "yt-backup",
			Name:      "youtube",
			URL:       "rtmps://a.rtmps.youtube.com/live2",
			StreamKey: "yt-key",
			Enabled:   false,
			Metadata:  map[string]any{"region": "eu"},
		},
	}
	return &cfg
}

func TestSaveLoadRoundTrip(t *testing.T) {
	// The parent directory does not exist yet; Save must create it.
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	store := NewStore(path)

	want := testConfig()
	require.NoError(t, store.Save(context.Background(), want))

	got, err := store.Load()
	require.NoError(t, err)

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-saved +loaded):\n%s", diff)
	}

	// Stream keys are stored in the clear; masking happens only at the API.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "sk_live_1")
	assert.Contains(t, string(data), "stream_key")
}

func TestLoadServesCachedSnapshotWithoutParsing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	store := NewStore(path)
	require.NoError(t, store.Save(context.Background(), testConfig()))

	_, err := store.Load()
	require.NoError(t, err)
	first := store.parses

	_, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, first, store.parses, "second load within TTL must not parse")
}

func TestSaveInvalidatesCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	store := NewStore(path)
	require.NoError(t, store.Save(context.Background(), testConfig()))

	cfg, err := store.Load()
	require.NoError(t, err)
	before := store.parses

	cfg.UI.Port = 9999
	require.NoError(t, store.Save(context.Background(), cfg))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, got.UI.Port)
	assert.Greater(t, store.parses, before, "load after save must re-parse")
}

func TestSaveRejectsInvalidConfig(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "config.yaml"))
	cfg := testConfig()
	cfg.UI.Port = -1
	err := store.Save(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ui.port")
}

func TestLoadReturnsPrivateCopies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	store := NewStore(path)
	require.NoError(t, store.Save(context.Background(), testConfig()))

	a, err := store.Load()
	require.NoError(t, err)
	a.StreamManager.Destinations[0].StreamKey = "mutated"

	b, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "sk_live_1", b.StreamManager.Destinations[0].StreamKey)
}

func TestWatchObservesExternalChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	store := NewStore(path)
	require.NoError(t, store.Save(context.Background(), testConfig()))
	_, err := store.Load()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *Config, 4)
	store.Watch(ctx, func(cfg *Config) {
		changed <- cfg
	})

	// Ensure a later mtime even on filesystems with coarse timestamps.
	time.Sleep(1100 * time.Millisecond)
	next := testConfig()
	next.StreamManager.Destinations = append(next.StreamManager.Destinations, Destination{
		ID:        "kick-1",
		Name:      "kick",
		URL:       "rtmps://fa723fc1b171.global-contribute.live-video.net",
		StreamKey: "sk_abc",
		Enabled:   true,
	})
	require.NoError(t, store.Save(context.Background(), next))

	select {
	case cfg := <-changed:
		assert.Len(t, cfg.StreamManager.Destinations, 3)
	case <-time.After(3 * time.Second):
		t.Fatal("watch callback not invoked within deadline")
	}
}
