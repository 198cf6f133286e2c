// Package transcriber uploads a normalized waveform to the relay and returns
// the transcript together with its translation.
package transcriber

import (
	"context"
	"errors"
	"fmt"

	"habla/transport"
	"habla/waveform"
)

const (
	FieldName = "audioData"
	FileName  = "audio.wav"
)

var ErrMalformedResponse = errors.New("malformed transcription response")

// UploadError is any failed submission: transport failure, non-2xx status,
// or a response without both texts.
type UploadError struct {
	StatusCode int // zero when no response arrived
	Message    string
	Err        error
}

func (e *UploadError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("upload failed (%d): %s", e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("upload failed (%d)", e.StatusCode)
	case e.Err != nil:
		return "upload failed: " + e.Err.Error()
	}
	return "upload failed"
}

func (e *UploadError) Unwrap() error { return e.Err }

type Result struct {
	Transcript  string
	Translation string
	Metrics     *transport.NetworkMetrics
}

type Transcriber interface {
	Submit(ctx context.Context, w *waveform.Waveform) (*Result, error)
}
