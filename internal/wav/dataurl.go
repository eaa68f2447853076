package wav

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidDataURL = errors.New("invalid data url")

const (
	MIMEWAV = "audio/wav"
	MIMEPCM = "audio/pcm"
	MIMERaw = "audio/x-raw"
)

// DataURL is the parsed form of data:<mime>[;params][;base64],<payload>.
type DataURL struct {
	MIME    string
	Header  string
	Payload string
	Base64  bool
}

// ParseDataURL splits s at the first comma. The mime type is the header
// without its "data:" prefix, cut at the first ';'.
func ParseDataURL(s string) (DataURL, error) {
	header, payload, ok := strings.Cut(s, ",")
	if !ok {
		return DataURL{}, ErrInvalidDataURL
	}

	meta := strings.TrimPrefix(header, "data:")
	mime, params, _ := strings.Cut(meta, ";")

	return DataURL{
		MIME:    strings.TrimSpace(mime),
		Header:  header,
		Payload: payload,
		Base64:  strings.Contains(";"+params, ";base64"),
	}, nil
}

// Bytes decodes the payload.
func (d DataURL) Bytes() ([]byte, error) {
	if !d.Base64 {
		return []byte(d.Payload), nil
	}
	b, err := base64.StdEncoding.DecodeString(d.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	return b, nil
}

// IsRawPCM reports whether mime names unwrapped PCM samples.
func IsRawPCM(mime string) bool {
	return mime == MIMEPCM || mime == MIMERaw
}

// NormalizeAudio wraps raw PCM data URLs into a WAV data URL using
// DefaultFormat. Every other mime type is returned untouched.
func NormalizeAudio(dataURL string) (string, error) {
	return NormalizeAudioFormat(dataURL, DefaultFormat)
}

// NormalizeAudioFormat is NormalizeAudio with an explicit PCM layout.
func NormalizeAudioFormat(dataURL string, f Format) (string, error) {
	d, err := ParseDataURL(dataURL)
	if err != nil {
		return "", err
	}
	if !IsRawPCM(d.MIME) {
		return dataURL, nil
	}

	pcm, err := d.Bytes()
	if err != nil {
		return "", err
	}

	return EncodeDataURL(MIMEWAV, EncapsulateFormat(pcm, f)), nil
}

// EncodeDataURL builds data:<mime>;base64,<payload>.
func EncodeDataURL(mime string, b []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(b)
}
