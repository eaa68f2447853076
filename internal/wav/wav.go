// Package wav wraps raw PCM sample data into RIFF/WAVE containers and
// normalizes base64 audio data URLs returned by the speech generation service.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	// HeaderSize is the size of the canonical RIFF/WAVE header written by Encapsulate.
	HeaderSize = 44

	formatTagPCM = 1
	fmtChunkSize = 16
)

var ErrInvalidHeader = errors.New("invalid wav header")

// Format describes the layout of interleaved PCM samples.
type Format struct {
	Channels   uint
	SampleRate uint
	BitDepth   uint
}

// DefaultFormat is the layout of raw PCM returned by the speech service:
// mono, 24 kHz, 16-bit little endian.
var DefaultFormat = Format{Channels: 1, SampleRate: 24000, BitDepth: 16}

// ByteRate returns sampleRate*channels*bitDepth/8.
func (f Format) ByteRate() uint {
	return f.SampleRate * f.Channels * f.BitDepth / 8
}

// BlockAlign returns channels*bitDepth/8.
func (f Format) BlockAlign() uint {
	return f.Channels * f.BitDepth / 8
}

// Duration returns the playback length of n bytes of sample data.
// A zero byte rate yields zero.
func (f Format) Duration(n int) time.Duration {
	br := f.ByteRate()
	if br == 0 || n <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(br))
}

// Encapsulate returns pcm wrapped in a canonical RIFF/WAVE container.
// The samples are copied verbatim; a length that is not a multiple of the
// block alignment is passed through unchanged.
func Encapsulate(pcm []byte, channels, sampleRate, bitDepth uint) []byte {
	f := Format{Channels: channels, SampleRate: sampleRate, BitDepth: bitDepth}

	out := make([]byte, HeaderSize+len(pcm))
	le := binary.LittleEndian

	copy(out[0:4], "RIFF")
	le.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	le.PutUint32(out[16:20], fmtChunkSize)
	le.PutUint16(out[20:22], formatTagPCM)
	le.PutUint16(out[22:24], uint16(channels))
	le.PutUint32(out[24:28], uint32(sampleRate))
	le.PutUint32(out[28:32], uint32(f.ByteRate()))
	le.PutUint16(out[32:34], uint16(f.BlockAlign()))
	le.PutUint16(out[34:36], uint16(bitDepth))

	copy(out[36:40], "data")
	le.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[HeaderSize:], pcm)

	return out
}

// EncapsulateFormat is Encapsulate with the layout taken from f.
func EncapsulateFormat(pcm []byte, f Format) []byte {
	return Encapsulate(pcm, f.Channels, f.SampleRate, f.BitDepth)
}

// DecodeHeader reads back a canonical header written by Encapsulate and
// returns the sample layout and the declared data length.
func DecodeHeader(b []byte) (Format, int, error) {
	if len(b) < HeaderSize {
		return Format{}, 0, fmt.Errorf("%w: %d bytes", ErrInvalidHeader, len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return Format{}, 0, fmt.Errorf("%w: missing RIFF/WAVE magic", ErrInvalidHeader)
	}
	if string(b[12:16]) != "fmt " || string(b[36:40]) != "data" {
		return Format{}, 0, fmt.Errorf("%w: non-canonical chunk layout", ErrInvalidHeader)
	}

	le := binary.LittleEndian
	if tag := le.Uint16(b[20:22]); tag != formatTagPCM {
		return Format{}, 0, fmt.Errorf("%w: format tag %d", ErrInvalidHeader, tag)
	}

	f := Format{
		Channels:   uint(le.Uint16(b[22:24])),
		SampleRate: uint(le.Uint32(b[24:28])),
		BitDepth:   uint(le.Uint16(b[34:36])),
	}
	return f, int(le.Uint32(b[40:44])), nil
}
