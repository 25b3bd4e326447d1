package audio

import (
	"encoding/binary"
	"fmt"
)

// StreamHeaderSize is the size of the RIFF/WAVE descriptor sent as the first
// frame of every voice session.
const StreamHeaderSize = 44

// minContainerSize is the smallest buffer that can carry both RIFF and WAVE
// magic tags (bytes 0–3 and 8–11).
const minContainerSize = 12

// EncodeStreamHeader builds the 44-byte RIFF/WAVE header that opens an
// outbound audio stream. Because the total stream length is unknown when the
// header is written, both the RIFF chunk size (offset 4) and the data chunk
// size (offset 40) are zero.
func EncodeStreamHeader(f Format) []byte {
	h := make([]byte, StreamHeaderSize)

	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], 0) // total length unknown
	copy(h[8:12], "WAVE")

	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(h[20:22], 1)  // PCM tag
	binary.LittleEndian.PutUint16(h[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(f.ByteRate()))
	binary.LittleEndian.PutUint16(h[32:34], uint16(f.BlockAlign()))
	binary.LittleEndian.PutUint16(h[34:36], uint16(f.BitsPerSample))

	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], 0) // data length unknown

	return h
}

// IsContainer reports whether buf is a self-contained RIFF/WAVE container, as
// opposed to raw headerless PCM samples. Classification checks the two magic
// tags at bytes 0–3 ("RIFF") and 8–11 ("WAVE"). Buffers shorter than 12 bytes
// cannot carry both tags and classify as raw; that is a policy choice, not an
// error.
func IsContainer(buf []byte) bool {
	if len(buf) < minContainerSize {
		return false
	}
	return string(buf[0:4]) == "RIFF" && string(buf[8:12]) == "WAVE"
}

// DecodeWAV decodes a complete PCM WAV container into int16 samples and the
// format described by its header. It accepts only uncompressed PCM data
// (format tag 1).
func DecodeWAV(data []byte) ([]int16, Format, error) {
	if len(data) < StreamHeaderSize {
		return nil, Format{}, fmt.Errorf("audio: wav too short: %d bytes", len(data))
	}
	if !IsContainer(data) {
		return nil, Format{}, fmt.Errorf("audio: missing RIFF/WAVE magic")
	}
	if string(data[12:16]) != "fmt " {
		return nil, Format{}, fmt.Errorf("audio: missing fmt chunk")
	}
	if tag := binary.LittleEndian.Uint16(data[20:22]); tag != 1 {
		return nil, Format{}, fmt.Errorf("audio: unsupported format tag %d", tag)
	}

	f := Format{
		Channels:      int(binary.LittleEndian.Uint16(data[22:24])),
		SampleRate:    int(binary.LittleEndian.Uint32(data[24:28])),
		BitsPerSample: int(binary.LittleEndian.Uint16(data[34:36])),
	}
	if f.BitsPerSample != 16 {
		return nil, Format{}, fmt.Errorf("audio: unsupported bit depth %d", f.BitsPerSample)
	}

	// Walk chunks starting after the fmt chunk to find "data". Streaming
	// headers write a zero data length, so fall back to the remaining bytes.
	fmtSize := int(binary.LittleEndian.Uint32(data[16:20]))
	off := 20 + fmtSize
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		if id == "data" {
			payload := data[off+8:]
			if size > 0 && size <= len(payload) {
				payload = payload[:size]
			}
			return BytesToInt16(payload), f, nil
		}
		off += 8 + size
	}
	return nil, Format{}, fmt.Errorf("audio: missing data chunk")
}
