// SPDX-License-Identifier: MIT

// Package stats parses transcoder diagnostic output into structured
// statistics and provides small aggregation helpers over them.
package stats

import (
	"regexp"
	"strconv"
	"strings"
)

// Stats is one parsed statistics snapshot from a relay child.
type Stats struct {
	Frame       int     `json:"frame"`
	FPS         float64 `json:"fps"`
	Quality     float64 `json:"quality"`
	SizeKB      float64 `json:"size"`
	TimeSeconds float64 `json:"timeSeconds"`
	BitrateKbps float64 `json:"bitrate"`
	Speed       float64 `json:"speed"`
	Resolution  string  `json:"resolution,omitempty"`
	Codec       string  `json:"codec,omitempty"`
}

// The fused progress line and its per-field fallbacks. All patterns are
// compiled once at package load.
var (
	fusedRe = regexp.MustCompile(
		`frame=\s*(\d+)\s+fps=\s*([\d.]+)\s+q=\s*(-?[\d.]+)\s+size=\s*(\d+)kB\s+time=(\d+):(\d+):([\d.]+)\s+bitrate=\s*([\d.]+)kbits/s.*?speed=\s*([\d.]+)x`)

	frameRe      = regexp.MustCompile(`frame=\s*(\d+)`)
	fpsRe        = regexp.MustCompile(`fps=\s*([\d.]+)`)
	qualityRe    = regexp.MustCompile(`q=\s*(-?[\d.]+)`)
	sizeRe       = regexp.MustCompile(`size=\s*(\d+)kB`)
	timeRe       = regexp.MustCompile(`time=(\d+):(\d+):([\d.]+)`)
	bitrateRe    = regexp.MustCompile(`bitrate=\s*([\d.]+)kbits/s`)
	speedRe      = regexp.MustCompile(`speed=\s*([\d.]+)x`)
	resolutionRe = regexp.MustCompile(`(\d{2,5})x(\d{2,5})`)
	codecRe      = regexp.MustCompile(`Video:\s*(\w+)`)
)

// Parse extracts statistics from one line of transcoder output. It prefers
// the fused progress line and falls back to individual fields. Returns nil
// when the line carries nothing recognizable.
func Parse(line string) *Stats {
	if line == "" {
		return nil
	}

	if m := fusedRe.FindStringSubmatch(line); m != nil {
		s := &Stats{
			Frame:       atoi(m[1]),
			FPS:         atof(m[2]),
			Quality:     atof(m[3]),
			SizeKB:      atof(m[4]),
			TimeSeconds: clockToSeconds(m[5], m[6], m[7]),
			BitrateKbps: atof(m[8]),
			Speed:       atof(m[9]),
		}
		s.Resolution, s.Codec = media(line)
		return s
	}

	// Cheap pre-check before the fallback scans, mirroring the fused keys.
	if !strings.Contains(line, "frame=") &&
		!strings.Contains(line, "time=") &&
		!strings.Contains(line, "bitrate=") &&
		!strings.Contains(line, "Video:") {
		return nil
	}

	s := &Stats{}
	found := false
	if m := frameRe.FindStringSubmatch(line); m != nil {
		s.Frame = atoi(m[1])
		found = true
	}
	if m := fpsRe.FindStringSubmatch(line); m != nil {
		s.FPS = atof(m[1])
		found = true
	}
	if m := qualityRe.FindStringSubmatch(line); m != nil {
		s.Quality = atof(m[1])
		found = true
	}
	if m := sizeRe.FindStringSubmatch(line); m != nil {
		s.SizeKB = atof(m[1])
		found = true
	}
	if m := timeRe.FindStringSubmatch(line); m != nil {
		s.TimeSeconds = clockToSeconds(m[1], m[2], m[3])
		found = true
	}
	if m := bitrateRe.FindStringSubmatch(line); m != nil {
		s.BitrateKbps = atof(m[1])
		found = true
	}
	if m := speedRe.FindStringSubmatch(line); m != nil {
		s.Speed = atof(m[1])
		found = true
	}
	if res, codec := media(line); res != "" || codec != "" {
		s.Resolution, s.Codec = res, codec
		found = true
	}

	if !found {
		return nil
	}
	return s
}

// media pulls the stream description fields that only appear on the
// input/output banner lines.
func media(line string) (resolution, codec string) {
	if m := codecRe.FindStringSubmatch(line); m != nil {
		codec = m[1]
		if r := resolutionRe.FindStringSubmatch(line); r != nil {
			resolution = r[0]
		}
	}
	return resolution, codec
}

func clockToSeconds(h, m, s string) float64 {
	return atof(h)*3600 + atof(m)*60 + atof(s)
}

func atoi(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}

func atof(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
