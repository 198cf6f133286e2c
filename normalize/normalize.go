// Package normalize converts recorded or synthesized audio into the
// waveform the transcription service expects: mono, 16-bit, fixed rate.
package normalize

import (
	"context"
	"errors"
	"fmt"

	"habla/audio"
	"habla/waveform"
)

const DefaultTargetRate = 16000

var (
	ErrEmptyInput        = errors.New("empty audio input")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

// DecodeError reports audio that could not be decoded.
type DecodeError struct {
	Format string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Format == "" {
		return "decode audio: " + e.Err.Error()
	}
	return fmt.Sprintf("decode %s: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type Normalizer struct {
	targetRate int
}

func New(targetRate int) *Normalizer {
	if targetRate <= 0 {
		targetRate = DefaultTargetRate
	}
	return &Normalizer{targetRate: targetRate}
}

func (n *Normalizer) TargetRate() int { return n.targetRate }

// Normalize decodes blob, renders it to mono at the target rate and
// quantizes it. The result serializes to exactly 44+2N bytes.
func (n *Normalizer) Normalize(ctx context.Context, blob audio.Blob) (*waveform.Waveform, error) {
	pcm, err := Decode(blob.Data, blob.MIMEType)
	if err != nil {
		return nil, err
	}
	mono, err := Render(ctx, pcm, n.targetRate)
	if err != nil {
		return nil, err
	}
	return waveform.FromFloat(n.targetRate, mono)
}
