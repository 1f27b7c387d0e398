// Package audio provides the PCM plumbing between the telephony leg and the
// live model: G.711 μ-law transcoding and streaming sample-rate conversion.
package audio

// Resampler converts 16-bit mono PCM between sample rates using linear
// interpolation while preserving state across chunks. Feeding a stream
// through Process chunk by chunk yields the same output as a single call
// with the concatenated stream, which keeps frame boundaries glitch-free.
//
// Not safe for concurrent use; create one per direction per stream.
type Resampler struct {
	srcRate int
	dstRate int

	pos    float64 // fractional read position into the pending sample window
	last   int16   // final sample of the previous chunk
	primed bool
}

// NewResampler creates a resampler converting srcRate to dstRate.
func NewResampler(srcRate, dstRate int) *Resampler {
	return &Resampler{srcRate: srcRate, dstRate: dstRate}
}

// Reset clears carried state. Call when a new audio stream begins on the
// same resampler, e.g. after a live-session swap.
func (r *Resampler) Reset() {
	r.pos = 0
	r.last = 0
	r.primed = false
}

// Process resamples one chunk of little-endian 16-bit mono PCM. The output
// length varies chunk to chunk so that the cumulative sample count tracks
// len(input) * dstRate / srcRate. A trailing odd byte is dropped.
func (r *Resampler) Process(pcm []byte) []byte {
	if r.srcRate <= 0 || r.dstRate <= 0 || r.srcRate == r.dstRate {
		return pcm
	}
	n := len(pcm) / 2
	if n == 0 {
		return nil
	}

	// Window is the previous chunk's last sample (when primed) followed by
	// this chunk's samples. r.pos indexes into this window.
	window := make([]int16, 0, n+1)
	if r.primed {
		window = append(window, r.last)
	}
	for i := range n {
		window = append(window, int16(pcm[i*2])|int16(pcm[i*2+1])<<8)
	}

	ratio := float64(r.srcRate) / float64(r.dstRate)
	out := make([]byte, 0, (n*r.dstRate/r.srcRate+2)*2)

	for {
		idx := int(r.pos)
		if idx+1 >= len(window) {
			break
		}
		frac := r.pos - float64(idx)
		s0 := float64(window[idx])
		s1 := float64(window[idx+1])
		s := int16(s0*(1-frac) + s1*frac)
		out = append(out, byte(s), byte(s>>8))
		r.pos += ratio
	}

	// Carry the tail sample and the fractional overshoot into the next chunk.
	r.pos -= float64(len(window) - 1)
	r.last = window[len(window)-1]
	r.primed = true

	return out
}
