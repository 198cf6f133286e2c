package normalize

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
)

type wavFormat struct {
	tag        uint16
	channels   int
	sampleRate int
	bits       int
}

// decodeWAV walks the RIFF chunks rather than assuming a 44-byte header, so
// files carrying LIST or fact chunks decode too.
func decodeWAV(data []byte) (*PCM, error) {
	if len(data) < 12 || string(data[:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, errors.New("missing RIFF/WAVE header")
	}

	var fmtChunk *wavFormat
	var body []byte
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4:]))
		start := pos + 8
		end := start + size
		if end > len(data) || end < start {
			if id != "data" {
				return nil, fmt.Errorf("chunk %q overruns file", id)
			}
			// streaming writers leave the data size unset
			end = len(data)
		}
		switch id {
		case "fmt ":
			f, err := parseWAVFormat(data[start:end])
			if err != nil {
				return nil, err
			}
			fmtChunk = f
		case "data":
			body = data[start:end]
		}
		pos = end + (size & 1)
		if body != nil && fmtChunk != nil {
			break
		}
	}
	if fmtChunk == nil {
		return nil, errors.New("missing fmt chunk")
	}
	if body == nil {
		return nil, errors.New("missing data chunk")
	}
	return decodeWAVSamples(fmtChunk, body)
}

func parseWAVFormat(b []byte) (*wavFormat, error) {
	if len(b) < 16 {
		return nil, fmt.Errorf("fmt chunk is %d bytes", len(b))
	}
	f := &wavFormat{
		tag:        binary.LittleEndian.Uint16(b[0:]),
		channels:   int(binary.LittleEndian.Uint16(b[2:])),
		sampleRate: int(binary.LittleEndian.Uint32(b[4:])),
		bits:       int(binary.LittleEndian.Uint16(b[14:])),
	}
	if f.tag == wavFormatExtensible {
		if len(b) < 26 {
			return nil, errors.New("short extensible fmt chunk")
		}
		// first two bytes of the subformat GUID carry the real tag
		f.tag = binary.LittleEndian.Uint16(b[24:])
	}
	if f.channels == 0 || f.sampleRate == 0 {
		return nil, fmt.Errorf("%d channels at %d Hz", f.channels, f.sampleRate)
	}
	switch {
	case f.tag == wavFormatPCM && (f.bits == 8 || f.bits == 16 || f.bits == 24 || f.bits == 32):
	case f.tag == wavFormatFloat && (f.bits == 32 || f.bits == 64):
	default:
		return nil, fmt.Errorf("format tag %d with %d bits: %w", f.tag, f.bits, ErrUnsupportedFormat)
	}
	return f, nil
}

func decodeWAVSamples(f *wavFormat, body []byte) (*PCM, error) {
	width := f.bits / 8
	frameSize := width * f.channels
	frames := len(body) / frameSize

	pcm := &PCM{SampleRate: f.sampleRate, Channels: make([][]float64, f.channels)}
	for ch := range pcm.Channels {
		pcm.Channels[ch] = make([]float64, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < f.channels; ch++ {
			b := body[i*frameSize+ch*width:]
			pcm.Channels[ch][i] = wavSample(f, b)
		}
	}
	return pcm, nil
}

func wavSample(f *wavFormat, b []byte) float64 {
	if f.tag == wavFormatFloat {
		if f.bits == 64 {
			return math.Float64frombits(binary.LittleEndian.Uint64(b))
		}
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	}
	switch f.bits {
	case 8:
		// 8-bit WAV is unsigned
		return dequantize(int64(b[0])-128, 8)
	case 16:
		return dequantize(int64(int16(binary.LittleEndian.Uint16(b))), 16)
	case 24:
		v := int32(b[0]) | int32(b[1])<<8 | int32(int8(b[2]))<<16
		return dequantize(int64(v), 24)
	default:
		return dequantize(int64(int32(binary.LittleEndian.Uint32(b))), 32)
	}
}
