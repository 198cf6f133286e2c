//go:build !linux

package player

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"habla/audio"
)

type malgoBackend struct {
	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

func newBackend() backend { return &malgoBackend{} }

func (b *malgoBackend) open() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx != nil {
		return nil
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return audio.Classify(fmt.Errorf("malgo context: %w", err))
	}
	b.ctx = ctx
	return nil
}

func (b *malgoBackend) play(samples []int16, rate int) (*output, error) {
	b.mu.Lock()
	ctx := b.ctx
	b.mu.Unlock()
	if ctx == nil {
		return nil, fmt.Errorf("%w: malgo context not open", audio.ErrDeviceUnavailable)
	}

	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}

	out := newOutput()
	ended := make(chan struct{})
	var endOnce sync.Once
	end := func() { endOnce.Do(func() { close(ended) }) }
	out.stopFn = end

	pos := 0
	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, _ uint32) {
			n := 0
			if !out.stopped.Load() {
				n = copy(pOutput, pcm[pos:])
				pos += n
			}
			clear(pOutput[n:])
			if pos >= len(pcm) || out.stopped.Load() {
				end()
			}
		},
	}

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = 1
	config.SampleRate = uint32(rate)

	dev, err := malgo.InitDevice(ctx.Context, config, callbacks)
	if err != nil {
		return nil, audio.Classify(fmt.Errorf("malgo init playback: %w", err))
	}
	if err := dev.Start(); err != nil {
		// recreate once; the device can go stale across sleep/wake
		dev.Uninit()
		if dev, err = malgo.InitDevice(ctx.Context, config, callbacks); err != nil {
			return nil, audio.Classify(fmt.Errorf("malgo init playback: %w", err))
		}
		if err := dev.Start(); err != nil {
			dev.Uninit()
			return nil, audio.Classify(fmt.Errorf("malgo start playback: %w", err))
		}
	}

	go func() {
		<-ended
		if !out.stopped.Load() {
			// let the last period reach the speaker
			time.Sleep(50 * time.Millisecond)
		}
		dev.Stop()
		dev.Uninit()
		out.finish(nil)
	}()
	return out, nil
}

func (b *malgoBackend) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx != nil {
		b.ctx.Uninit()
		b.ctx.Free()
		b.ctx = nil
	}
}
