package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// WAVHeaderSize is the size of the canonical PCM WAV header written by EncodeWAV.
const WAVHeaderSize = 44

var ErrInvalidWAV = errors.New("invalid WAV data")

// EncodeWAV wraps 16-bit mono PCM in a canonical 44-byte WAV header.
func EncodeWAV(pcm []byte, sampleRateHz int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	byteRate := sampleRateHz * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	buf := make([]byte, WAVHeaderSize+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], channels)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRateHz))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[WAVHeaderSize:], pcm)
	return buf
}

// WAVFormat describes the fmt chunk of a PCM WAV stream.
type WAVFormat struct {
	SampleRateHz  int
	Channels      int
	BitsPerSample int
	DataSize      int64
}

// ReadWAVHeader consumes the RIFF header and chunks up to the start of the data
// chunk, leaving r positioned at the first PCM byte. Only 16-bit PCM is accepted.
func ReadWAVHeader(r io.Reader) (WAVFormat, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return WAVFormat{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return WAVFormat{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var format WAVFormat
	fmtFound := false
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return WAVFormat{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
		}
		id := string(chunk[0:4])
		size := int64(binary.LittleEndian.Uint32(chunk[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return WAVFormat{}, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return WAVFormat{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
			}
			if f := binary.LittleEndian.Uint16(body[0:2]); f != 1 {
				return WAVFormat{}, fmt.Errorf("%w: unsupported audio format %d", ErrInvalidWAV, f)
			}
			format.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			format.SampleRateHz = int(binary.LittleEndian.Uint32(body[4:8]))
			format.BitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			if format.BitsPerSample != 16 {
				return WAVFormat{}, fmt.Errorf("%w: unsupported bits per sample %d", ErrInvalidWAV, format.BitsPerSample)
			}
			fmtFound = true
		case "data":
			if !fmtFound {
				return WAVFormat{}, fmt.Errorf("%w: data before fmt", ErrInvalidWAV)
			}
			format.DataSize = size
			return format, nil
		default:
			if _, err := io.CopyN(io.Discard, r, size); err != nil {
				return WAVFormat{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
			}
		}
	}
}
