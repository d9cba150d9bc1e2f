// SPDX-License-Identifier: MIT

package drivers

import (
	"fmt"
	"strings"

	"github.com/streamfan/streamfan/internal/config"
)

// NewTwitch validates destinations pointed at Twitch ingest edges.
func NewTwitch() Driver {
	return newPlatformDriver("twitch", matchTwitch, func(d config.Destination) error {
		if err := checkCommon(d); err != nil {
			return err
		}
		if h := host(d.URL); h != "twitch.tv" && !strings.HasSuffix(h, ".twitch.tv") {
			return fmt.Errorf("host %q is not a twitch ingest", h)
		}
		return nil
	})
}

// NewYouTube validates destinations pointed at YouTube Live ingest.
func NewYouTube() Driver {
	return newPlatformDriver("youtube", matchYouTube, func(d config.Destination) error {
		if err := checkCommon(d); err != nil {
			return err
		}
		if h := host(d.URL); !strings.Contains(h, "youtube.com") {
			return fmt.Errorf("host %q is not a youtube ingest", h)
		}
		return nil
	})
}

// NewKick validates destinations pointed at Kick, which publishes over
// RTMPS via IVS edges.
func NewKick() Driver {
	return newPlatformDriver("kick", matchKick, func(d config.Destination) error {
		if err := checkCommon(d); err != nil {
			return err
		}
		if !strings.HasPrefix(strings.TrimSpace(d.URL), "rtmps://") {
			return fmt.Errorf("kick requires an rtmps url")
		}
		return nil
	})
}

// NewGeneric validates every destination no named platform claims.
func NewGeneric() Driver {
	return newPlatformDriver("rtmp", func(d config.Destination) bool {
		return !matchTwitch(d) && !matchYouTube(d) && !matchKick(d)
	}, checkCommon)
}

// All returns the full driver set in registration order.
func All() []Driver {
	return []Driver{NewTwitch(), NewYouTube(), NewKick(), NewGeneric()}
}

func matchTwitch(d config.Destination) bool {
	if normName(d) == "twitch" {
		return true
	}
	h := host(d.URL)
	return h == "twitch.tv" || strings.HasSuffix(h, ".twitch.tv")
}

func matchYouTube(d config.Destination) bool {
	if normName(d) == "youtube" {
		return true
	}
	return strings.Contains(host(d.URL), "youtube.com")
}

func matchKick(d config.Destination) bool {
	if normName(d) == "kick" {
		return true
	}
	return strings.HasSuffix(host(d.URL), ".live-video.net")
}

func normName(d config.Destination) string {
	return strings.ToLower(strings.TrimSpace(d.Name))
}
