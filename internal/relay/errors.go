// SPDX-License-Identifier: MIT

package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrTranscoderMissing indicates the transcoder binary is not on PATH.
	ErrTranscoderMissing = errors.New("transcoder binary not found")

	// ErrUnknownDestination indicates the id or name matches no configured
	// destination.
	ErrUnknownDestination = errors.New("unknown destination")

	// ErrDestinationDisabled indicates the destination exists but is
	// switched off in the configuration.
	ErrDestinationDisabled = errors.New("destination is disabled")
)

// TranscoderMissingError wraps ErrTranscoderMissing with install guidance
// for the named binary.
func TranscoderMissingError(binary string) error {
	return fmt.Errorf("%w: %q is required to relay streams\ninstall it via your package manager (apt install ffmpeg, brew install ffmpeg) or from https://ffmpeg.org/download.html", ErrTranscoderMissing, binary)
}
