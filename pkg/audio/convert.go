package audio

import "encoding/binary"

// Float32ToInt16 converts a float32 sample block in the range [-1, 1] to
// int16 PCM. Samples outside the range are clamped first. Negative values
// scale by 32768 and non-negative values by 32767 so that -1.0 maps exactly
// to -32768 and 1.0 exactly to 32767.
func Float32ToInt16(block []float32) []int16 {
	out := make([]int16, len(block))
	for i, s := range block {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		if s < 0 {
			out[i] = int16(s * 32768)
		} else {
			out[i] = int16(s * 32767)
		}
	}
	return out
}

// Int16ToFloat32 converts int16 PCM samples to float32 by dividing by 32768.
// -32768 maps exactly to -1.0; 32767 maps to just under 1.0.
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}

// BytesToInt16 reinterprets little-endian PCM bytes as int16 samples.
// A trailing odd byte is ignored.
func BytesToInt16(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

// Int16ToBytes serialises int16 samples as little-endian PCM bytes.
func Int16ToBytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}
