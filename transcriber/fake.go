package transcriber

import (
	"context"
	"sync"

	"habla/transport"
	"habla/waveform"
)

// Fake answers every submission with the same texts, or with Err.
type Fake struct {
	Transcript  string
	Translation string
	Err         error
	// Block, when non-nil, holds each Submit until it is closed.
	Block chan struct{}

	mu    sync.Mutex
	calls []*waveform.Waveform
}

func NewFake(transcript, translation string, err error) *Fake {
	return &Fake{Transcript: transcript, Translation: translation, Err: err}
}

func (f *Fake) Submit(ctx context.Context, w *waveform.Waveform) (*Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, w)
	block := f.Block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, &UploadError{Err: ctx.Err()}
		}
	}
	if f.Err != nil {
		return nil, f.Err
	}
	return &Result{
		Transcript:  f.Transcript,
		Translation: f.Translation,
		Metrics:     &transport.NetworkMetrics{},
	}, nil
}

func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *Fake) Last() *waveform.Waveform {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}
