package normalize

import (
	"bytes"
	"mime"
	"strings"
)

// PCM is decoded audio, one float slice per channel, samples in [-1, 1].
type PCM struct {
	SampleRate int
	Channels   [][]float64
}

func (p *PCM) Frames() int {
	if len(p.Channels) == 0 {
		return 0
	}
	return len(p.Channels[0])
}

type format string

const (
	formatFLAC format = "flac"
	formatWAV  format = "wav"
	formatMP3  format = "mp3"
)

var mimeFormats = map[string]format{
	"audio/flac":     formatFLAC,
	"audio/x-flac":   formatFLAC,
	"audio/wav":      formatWAV,
	"audio/x-wav":    formatWAV,
	"audio/wave":     formatWAV,
	"audio/vnd.wave": formatWAV,
	"audio/mpeg":     formatMP3,
	"audio/mp3":      formatMP3,
}

// Decode picks a decoder from mimeType, falling back to the leading bytes
// when the type is missing or unknown.
func Decode(data []byte, mimeType string) (*PCM, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Err: ErrEmptyInput}
	}
	f, ok := formatFor(mimeType)
	if !ok {
		f, ok = sniff(data)
	}
	if !ok {
		return nil, &DecodeError{Format: mimeType, Err: ErrUnsupportedFormat}
	}

	var pcm *PCM
	var err error
	switch f {
	case formatFLAC:
		pcm, err = decodeFLAC(data)
	case formatWAV:
		pcm, err = decodeWAV(data)
	case formatMP3:
		pcm, err = decodeMP3(data)
	}
	if err != nil {
		return nil, &DecodeError{Format: string(f), Err: err}
	}
	if pcm.Frames() == 0 {
		return nil, &DecodeError{Format: string(f), Err: ErrEmptyInput}
	}
	return pcm, nil
}

func formatFor(mimeType string) (format, bool) {
	if mimeType == "" {
		return "", false
	}
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	}
	f, ok := mimeFormats[mt]
	return f, ok
}

func sniff(data []byte) (format, bool) {
	switch {
	case bytes.HasPrefix(data, []byte("fLaC")):
		return formatFLAC, true
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return formatWAV, true
	case bytes.HasPrefix(data, []byte("ID3")):
		return formatMP3, true
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return formatMP3, true
	}
	return "", false
}

// dequantize maps a signed integer sample of the given width onto [-1, 1]
// with the same asymmetric scale used when quantizing.
func dequantize(v int64, bits uint) float64 {
	neg := float64(int64(1) << (bits - 1))
	if v < 0 {
		return float64(v) / neg
	}
	return float64(v) / (neg - 1)
}
