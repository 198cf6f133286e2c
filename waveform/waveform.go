// Package waveform holds normalized speech audio: mono 16-bit PCM at a fixed
// sample rate, serialized as a canonical 44-byte-header RIFF/WAVE file.
package waveform

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

const (
	HeaderSize    = 44
	Channels      = 1
	BitsPerSample = 16
	BlockAlign    = Channels * BitsPerSample / 8
	MIMEType      = "audio/wav"
)

var ErrInvalidWAV = errors.New("invalid wav data")

// Waveform is immutable once built.
type Waveform struct {
	sampleRate int
	samples    []int16
}

// New copies samples into a new Waveform.
func New(sampleRate int, samples []int16) (*Waveform, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate %d: %w", sampleRate, ErrInvalidWAV)
	}
	s := make([]int16, len(samples))
	copy(s, samples)
	return &Waveform{sampleRate: sampleRate, samples: s}, nil
}

// FromFloat quantizes float samples in [-1, 1] into a new Waveform.
func FromFloat(sampleRate int, samples []float64) (*Waveform, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate %d: %w", sampleRate, ErrInvalidWAV)
	}
	s := make([]int16, len(samples))
	for i, v := range samples {
		s[i] = Quantize(v)
	}
	return &Waveform{sampleRate: sampleRate, samples: s}, nil
}

// Quantize clamps v to [-1, 1] and scales it asymmetrically so that both
// full-scale ends map onto the int16 range.
func Quantize(v float64) int16 {
	if math.IsNaN(v) {
		return 0
	}
	v = max(-1, min(1, v))
	if v < 0 {
		return int16(math.Round(v * 32768))
	}
	return int16(math.Round(v * 32767))
}

// Dequantize is the inverse of Quantize for every int16 value.
func Dequantize(s int16) float64 {
	if s < 0 {
		return float64(s) / 32768
	}
	return float64(s) / 32767
}

func (w *Waveform) SampleRate() int { return w.sampleRate }
func (w *Waveform) Len() int        { return len(w.samples) }

func (w *Waveform) Duration() time.Duration {
	return time.Duration(len(w.samples)) * time.Second / time.Duration(w.sampleRate)
}

// Samples returns a copy of the PCM samples.
func (w *Waveform) Samples() []int16 {
	s := make([]int16, len(w.samples))
	copy(s, w.samples)
	return s
}

// Size is the serialized length: HeaderSize + 2*Len.
func (w *Waveform) Size() int {
	return HeaderSize + len(w.samples)*BlockAlign
}

type header struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

func (w *Waveform) header() header {
	dataSize := uint32(len(w.samples) * BlockAlign)
	return header{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   Channels,
		SampleRate:    uint32(w.sampleRate),
		ByteRate:      uint32(w.sampleRate * BlockAlign),
		BlockAlign:    BlockAlign,
		BitsPerSample: BitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

func (w *Waveform) WriteTo(out io.Writer) (int64, error) {
	buf := w.Bytes()
	n, err := out.Write(buf)
	return int64(n), err
}

// Bytes serializes the waveform as a WAV file.
func (w *Waveform) Bytes() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, w.Size()))
	h := w.header()
	binary.Write(buf, binary.LittleEndian, &h)
	binary.Write(buf, binary.LittleEndian, w.samples)
	return buf.Bytes()
}

// Decode parses data produced by Bytes. Only the canonical layout is accepted;
// general WAV input goes through the normalize package.
func Decode(data []byte) (*Waveform, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%d bytes: %w", len(data), ErrInvalidWAV)
	}
	var h header
	if err := binary.Read(bytes.NewReader(data[:HeaderSize]), binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	switch {
	case string(h.ChunkID[:]) != "RIFF" || string(h.Format[:]) != "WAVE":
		return nil, fmt.Errorf("missing RIFF/WAVE tag: %w", ErrInvalidWAV)
	case string(h.Subchunk1ID[:]) != "fmt " || string(h.Subchunk2ID[:]) != "data":
		return nil, fmt.Errorf("non-canonical chunk layout: %w", ErrInvalidWAV)
	case h.AudioFormat != 1 || h.NumChannels != Channels || h.BitsPerSample != BitsPerSample:
		return nil, fmt.Errorf("format %d/%dch/%dbit: %w", h.AudioFormat, h.NumChannels, h.BitsPerSample, ErrInvalidWAV)
	case h.SampleRate == 0:
		return nil, fmt.Errorf("zero sample rate: %w", ErrInvalidWAV)
	}
	body := data[HeaderSize:]
	if int(h.Subchunk2Size) > len(body) || h.Subchunk2Size%BlockAlign != 0 {
		return nil, fmt.Errorf("data size %d with %d bytes present: %w", h.Subchunk2Size, len(body), ErrInvalidWAV)
	}
	samples := make([]int16, h.Subchunk2Size/BlockAlign)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(body[i*2:]))
	}
	return &Waveform{sampleRate: int(h.SampleRate), samples: samples}, nil
}
