// SPDX-License-Identifier: MIT

package stats

// Latest returns the most recent snapshot of the sequence, or nil for an
// empty sequence.
func Latest(seq []*Stats) *Stats {
	for i := len(seq) - 1; i >= 0; i-- {
		if seq[i] != nil {
			out := *seq[i]
			return &out
		}
	}
	return nil
}

// Mean averages the rate fields (fps, bitrate, speed) over the sequence.
// Counters and descriptive fields (frame, time, size, quality, resolution,
// codec) carry the latest value forward instead of being averaged.
func Mean(seq []*Stats) *Stats {
	latest := Latest(seq)
	if latest == nil {
		return nil
	}

	var fps, bitrate, speed float64
	n := 0
	for _, s := range seq {
		if s == nil {
			continue
		}
		fps += s.FPS
		bitrate += s.BitrateKbps
		speed += s.Speed
		n++
	}

	out := *latest
	out.FPS = fps / float64(n)
	out.BitrateKbps = bitrate / float64(n)
	out.Speed = speed / float64(n)
	return &out
}
