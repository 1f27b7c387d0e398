package audio

// G.711 μ-law codec for telephony audio. Carrier streams are 8-bit μ-law at
// 8 kHz; the rest of the pipeline works in little-endian 16-bit linear PCM.

const (
	ulawBias = 0x84 // 132, standard G.711 bias
	ulawClip = 32635
)

// EncodeMulawSample compresses one 16-bit linear sample to an 8-bit μ-law byte.
func EncodeMulawSample(s int16) byte {
	x := int32(s)
	var sign byte
	if x < 0 {
		x = -x
		sign = 0x80
	}
	if x > ulawClip {
		x = ulawClip
	}
	x += ulawBias

	exponent := byte(7)
	for mask := int32(0x4000); x&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(x>>(exponent+3)) & 0x0F

	return ^(sign | exponent<<4 | mantissa)
}

// DecodeMulawSample expands one μ-law byte back to a 16-bit linear sample.
func DecodeMulawSample(u byte) int16 {
	u = ^u
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F

	x := ((int32(mantissa) << 3) + ulawBias) << exponent
	x -= ulawBias

	if u&0x80 != 0 {
		x = -x
	}
	return int16(x)
}

// EncodeMulaw compresses little-endian 16-bit PCM to μ-law, one byte per
// sample. A trailing odd byte is ignored.
func EncodeMulaw(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i := range out {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = EncodeMulawSample(s)
	}
	return out
}

// DecodeMulaw expands μ-law bytes to little-endian 16-bit PCM.
func DecodeMulaw(ulaw []byte) []byte {
	out := make([]byte, len(ulaw)*2)
	for i, u := range ulaw {
		s := DecodeMulawSample(u)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}
