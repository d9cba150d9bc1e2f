// SPDX-License-Identifier: MIT

package relay

import "strings"

// rtmpsProtocolWhitelist is passed to the transcoder for secure outputs so
// the TLS leg and any HTTP redirect hops stay permitted.
const rtmpsProtocolWhitelist = "rtmp,rtmps,file,http,https,tcp,tls"

// ComposeOutputURL joins a destination's base URL and stream key into the
// final publish URL. Secure endpoints that omit an application path get the
// conventional "/app" segment inserted.
func ComposeOutputURL(baseURL, streamKey string) string {
	url := strings.TrimSpace(baseURL)
	key := strings.TrimSpace(streamKey)

	if strings.HasPrefix(url, "rtmps://") {
		switch {
		case strings.HasSuffix(url, "/app"):
			return url + "/" + key
		case strings.HasSuffix(url, "/app/"):
			return url + key
		default:
			return strings.TrimRight(url, "/") + "/app/" + key
		}
	}
	return strings.TrimRight(url, "/") + "/" + key
}

// BuildArgs assembles the transcoder argv for one relay leg. The media is
// never re-encoded: both elementary streams are copied into an FLV container.
// Secure outputs additionally carry the protocol whitelist and reconnect
// tuning.
func BuildArgs(inputURL, outputURL string) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "info",
		"-threads", "2",
		"-i", inputURL,
		"-c:v", "copy",
		"-c:a", "copy",
		"-f", "flv",
	}

	if strings.HasPrefix(outputURL, "rtmps://") {
		args = append(args,
			"-protocol_whitelist", rtmpsProtocolWhitelist,
			"-reconnect_at_eof", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "2",
			"-bufsize", "384k",
		)
	}

	return append(args, outputURL)
}
