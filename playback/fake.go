package playback

import (
	"context"
	"sync"
)

// FakeEngine records outputs instead of making sound.
type FakeEngine struct {
	// RequireGesture makes Start fail with ErrGestureRequired until Resume
	// has been called.
	RequireGesture bool
	// GestureFailures makes that many Starts fail with ErrGestureRequired
	// regardless of Resume.
	GestureFailures int
	StartErr        error
	ResumeErr       error
	// AutoFinish ends every output as soon as it starts.
	AutoFinish bool

	mu      sync.Mutex
	resumed int
	starts  int
	outputs []*FakeOutput
}

func (e *FakeEngine) Resume(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ResumeErr != nil {
		return e.ResumeErr
	}
	e.resumed++
	return nil
}

func (e *FakeEngine) Start(ctx context.Context, data []byte, mimeType string) (Output, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.starts++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.GestureFailures > 0 {
		e.GestureFailures--
		return nil, ErrGestureRequired
	}
	if e.RequireGesture && e.resumed == 0 {
		return nil, ErrGestureRequired
	}
	if e.StartErr != nil {
		return nil, e.StartErr
	}
	out := &FakeOutput{Data: data, MIMEType: mimeType, done: make(chan error, 1)}
	e.outputs = append(e.outputs, out)
	if e.AutoFinish {
		go out.Finish(nil)
	}
	return out, nil
}

func (e *FakeEngine) Resumed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resumed
}

func (e *FakeEngine) Starts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.starts
}

func (e *FakeEngine) Outputs() []*FakeOutput {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*FakeOutput(nil), e.outputs...)
}

// Active counts outputs that have neither finished nor been stopped.
func (e *FakeEngine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, o := range e.outputs {
		if !o.Ended() {
			n++
		}
	}
	return n
}

type FakeOutput struct {
	Data     []byte
	MIMEType string

	done    chan error
	mu      sync.Mutex
	ended   bool
	stopped bool
}

func (o *FakeOutput) Done() <-chan error { return o.done }

func (o *FakeOutput) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ended {
		return
	}
	o.ended = true
	o.stopped = true
	close(o.done)
}

// Finish ends the output as if the audio ran out (err nil) or failed.
func (o *FakeOutput) Finish(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ended {
		return
	}
	o.ended = true
	o.done <- err
}

func (o *FakeOutput) Ended() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ended
}

func (o *FakeOutput) Stopped() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopped
}
