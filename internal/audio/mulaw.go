package audio

// G.711 mu-law, as carried by telephony media streams.

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// MulawEncode compresses one PCM16 sample.
func MulawEncode(s int16) byte {
	sample := int32(s)
	sign := byte(0)
	if sample < 0 {
		sample = -sample
		sign = 0x80
	}
	if sample > mulawClip {
		sample = mulawClip
	}
	sample += mulawBias
	exponent := byte(7)
	for mask := int32(0x4000); sample&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(sample>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}

// MulawDecode expands one mu-law byte.
func MulawDecode(u byte) int16 {
	u = ^u
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F
	sample := (int32(mantissa)<<3 + mulawBias) << exponent
	sample -= mulawBias
	if u&0x80 != 0 {
		return int16(-sample)
	}
	return int16(sample)
}

// MulawToSamples expands a mu-law payload.
func MulawToSamples(payload []byte) []int16 {
	out := make([]int16, len(payload))
	for i, b := range payload {
		out[i] = MulawDecode(b)
	}
	return out
}

// SamplesToMulaw compresses PCM16 samples.
func SamplesToMulaw(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = MulawEncode(s)
	}
	return out
}
