// Package player is the speaker side: it decodes synthesized speech and
// plays it on the system output, one stream per utterance.
package player

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"habla/log"
	"habla/normalize"
	"habla/playback"
	"habla/waveform"
)

// backend is the platform output: pulse on Linux, miniaudio elsewhere.
type backend interface {
	open() error
	play(samples []int16, rate int) (*output, error)
	close()
}

type Player struct {
	backend backend

	mu      sync.Mutex
	resumed bool
	cues    bool
}

func New() *Player {
	return &Player{backend: newBackend(), cues: true}
}

// DisableCues silences the start/stop/error tones.
func (p *Player) DisableCues() {
	p.mu.Lock()
	p.cues = false
	p.mu.Unlock()
}

// Resume connects to the output device. Until it succeeds Start refuses
// to play.
func (p *Player) Resume(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resumed {
		return nil
	}
	if err := p.backend.open(); err != nil {
		return err
	}
	p.resumed = true
	return nil
}

func (p *Player) Start(ctx context.Context, data []byte, mimeType string) (playback.Output, error) {
	p.mu.Lock()
	resumed := p.resumed
	p.mu.Unlock()
	if !resumed {
		return nil, playback.ErrGestureRequired
	}

	pcm, err := normalize.Decode(data, mimeType)
	if err != nil {
		return nil, err
	}
	mono, err := normalize.Render(ctx, pcm, pcm.SampleRate)
	if err != nil {
		return nil, err
	}
	samples := make([]int16, len(mono))
	for i, v := range mono {
		samples[i] = waveform.Quantize(v)
	}

	// superseded while decoding
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := p.backend.play(samples, pcm.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("starting output: %w", err)
	}
	return out, nil
}

func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resumed {
		p.backend.close()
		p.resumed = false
	}
}

// output is one playing stream. Its done channel receives the result once
// and is then closed.
type output struct {
	done    chan error
	stopped atomic.Bool
	stopFn  func()
	once    sync.Once
}

func newOutput() *output {
	return &output{done: make(chan error, 1)}
}

func (o *output) Done() <-chan error { return o.done }

func (o *output) Stop() {
	o.once.Do(func() {
		o.stopped.Store(true)
		if o.stopFn != nil {
			o.stopFn()
		}
	})
}

func (o *output) finish(err error) {
	if o.stopped.Load() {
		err = nil
	}
	if err != nil {
		log.Warnf("playback output: %v", err)
	}
	o.done <- err
	close(o.done)
}
