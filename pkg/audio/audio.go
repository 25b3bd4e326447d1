// Package audio defines the shared audio types and pure codec functions used
// by the Sous voice pipeline.
//
// The package covers three concerns:
//
//   - [Format] and [Frame] — the data model for PCM audio moving between the
//     capture, transport, and playback stages.
//   - The streaming WAV header ([EncodeStreamHeader]) and container
//     classification ([IsContainer], [DecodeWAV]) used by the wire protocol.
//   - Sample conversion between int16 PCM and float32 ([Int16ToFloat32],
//     [Float32ToInt16]) with exact clamping semantics at the boundaries.
//
// Everything here is side-effect free. Capture and playback devices live in
// the capture/ and playback/ subpackages.
package audio

import "time"

// Default session format: 16 kHz mono PCM16. The transport negotiates
// nothing — this format is constant for the lifetime of a session.
const (
	DefaultSampleRate    = 16000
	DefaultChannels      = 1
	DefaultBitsPerSample = 16
)

// Format describes the sample rate, channel count, and bit depth of a PCM
// audio stream.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DefaultFormat returns the fixed session format: 16 kHz, mono, 16-bit.
func DefaultFormat() Format {
	return Format{
		SampleRate:    DefaultSampleRate,
		Channels:      DefaultChannels,
		BitsPerSample: DefaultBitsPerSample,
	}
}

// ByteRate returns the number of bytes consumed per second of audio.
func (f Format) ByteRate() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// BlockAlign returns the number of bytes per sample frame across all channels.
func (f Format) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// Frame is a single buffer of captured audio. Data holds little-endian int16
// PCM samples. A Frame is owned by exactly one pipeline stage at a time: the
// producer hands it off and never touches it again.
type Frame struct {
	// Data is little-endian int16 PCM.
	Data []byte

	// Format describes the samples in Data.
	Format Format

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback duration of the frame.
func (f Frame) Duration() time.Duration {
	br := f.Format.ByteRate()
	if br <= 0 {
		return 0
	}
	return time.Duration(len(f.Data)) * time.Second / time.Duration(br)
}
