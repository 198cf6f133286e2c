//go:build linux

package player

import (
	"fmt"
	"sync"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"

	"habla/audio"
)

type pulseBackend struct {
	mu     sync.Mutex
	client *pulse.Client
}

func newBackend() backend { return &pulseBackend{} }

func (b *pulseBackend) open() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		return nil
	}
	c, err := pulse.NewClient(pulse.ClientApplicationName("habla"))
	if err != nil {
		return audio.Classify(fmt.Errorf("pulse: %w", err))
	}
	b.client = c
	return nil
}

func (b *pulseBackend) play(samples []int16, rate int) (*output, error) {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil {
		return nil, fmt.Errorf("%w: pulse client not open", audio.ErrDeviceUnavailable)
	}

	out := newOutput()
	pos := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if out.stopped.Load() || pos >= len(samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, samples[pos:])
		pos += n
		return n, nil
	})
	stream, err := client.NewPlayback(reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(rate),
		pulse.PlaybackLatency(0.1),
		pulse.PlaybackRawOption(func(p *proto.CreatePlaybackStream) {
			p.ChannelVolumes = proto.ChannelVolumes{uint32(proto.VolumeNorm)}
		}),
	)
	if err != nil {
		return nil, audio.Classify(fmt.Errorf("pulse playback: %w", err))
	}

	var closeOnce sync.Once
	closeStream := func() { closeOnce.Do(stream.Close) }
	// Stop alone lets the server play out its buffer. Corking silences it
	// at once and deleting the stream releases a pending Drain.
	out.stopFn = func() {
		stream.Pause()
		closeStream()
	}

	stream.Start()
	go func() {
		stream.Drain()
		err := stream.Error()
		stream.Stop()
		closeStream()
		out.finish(err)
	}()
	return out, nil
}

func (b *pulseBackend) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		b.client.Close()
		b.client = nil
	}
}
