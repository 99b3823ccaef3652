package audio

import (
	"encoding/binary"
	"errors"
)

// ErrNotWAV is returned by [DecodeWAV] for data that is not 16-bit PCM in a
// RIFF/WAVE container.
var ErrNotWAV = errors.New("audio: not a 16-bit PCM WAV file")

const wavHeaderSize = 44

// EncodeWAV wraps pcm in a minimal RIFF/WAVE container.
func EncodeWAV(pcm []byte, f Format) []byte {
	blockAlign := f.Channels * 2
	buf := make([]byte, wavHeaderSize+len(pcm))

	copy(buf[0:], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], uint32(36+len(pcm)))
	copy(buf[8:], "WAVE")

	copy(buf[12:], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16)
	binary.LittleEndian.PutUint16(buf[20:], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:], uint32(f.SampleRate*blockAlign))
	binary.LittleEndian.PutUint16(buf[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:], 16)

	copy(buf[36:], "data")
	binary.LittleEndian.PutUint32(buf[40:], uint32(len(pcm)))
	copy(buf[wavHeaderSize:], pcm)
	return buf
}

// DecodeWAV walks the RIFF chunks of data and returns the format and the
// samples of its data chunk. Chunks other than "fmt " and "data" are
// skipped.
func DecodeWAV(data []byte) (Format, []byte, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Format{}, nil, ErrNotWAV
	}
	var (
		f      Format
		hasFmt bool
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := data[off+8:]
		switch id {
		case "fmt ":
			if size < 16 || len(body) < 16 || binary.LittleEndian.Uint16(body[14:16]) != 16 {
				return Format{}, nil, ErrNotWAV
			}
			f = Format{
				Channels:   int(binary.LittleEndian.Uint16(body[2:4])),
				SampleRate: int(binary.LittleEndian.Uint32(body[4:8])),
			}
			hasFmt = true
		case "data":
			if !hasFmt {
				return Format{}, nil, ErrNotWAV
			}
			// Streaming servers write a zero or oversized length.
			if size == 0 || size > len(body) {
				size = len(body)
			}
			return f, body[:size&^1], nil
		}
		off += 8 + size + size%2
	}
	return Format{}, nil, ErrNotWAV
}
