package audio

import (
	"encoding/binary"
	"os"
	"sync"
	"time"
)

const (
	fakeFrameSize     = 1024
	fakeBytesPerFrame = 2 // 16-bit mono
	wavHeaderSize     = 44
)

// FakeContext replays fixed PCM as if it came from a microphone.
type FakeContext struct {
	pcm      []byte
	realtime bool

	// StartErr, when set, is returned by every capture's Start.
	StartErr error

	mu       sync.Mutex
	acquired int
	released int
}

// NewFakeContext reads a 16-bit mono WAV file. In realtime mode the samples
// are paced at the capture rate and followed by silence until Stop.
func NewFakeContext(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	if len(data) > wavHeaderSize {
		data = data[wavHeaderSize:]
	}
	return &FakeContext{pcm: data, realtime: realtime}, nil
}

func NewFakeContextSamples(samples []int16) *FakeContext {
	pcm := make([]byte, len(samples)*fakeBytesPerFrame)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return &FakeContext{pcm: pcm}
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	f.mu.Lock()
	f.acquired++
	f.mu.Unlock()
	rate := config.SampleRate
	if rate == 0 {
		rate = 16000
	}
	return &FakeCapture{ctx: f, pcm: f.pcm, rate: rate, realtime: f.realtime, audioDone: make(chan struct{})}, nil
}

// Acquired and Released count capture handles opened and closed.
func (f *FakeContext) Acquired() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquired
}

func (f *FakeContext) Released() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

type FakeCapture struct {
	ctx       *FakeContext
	pcm       []byte
	rate      uint32
	realtime  bool
	audioDone chan struct{}

	mu       sync.Mutex
	cb       DataCallback
	stopCh   chan struct{}
	feedDone chan struct{}
	closed   bool
}

// AudioDone is closed once every sample has been delivered.
func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

func (f *FakeCapture) callback() DataCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

func (f *FakeCapture) feedChunk(cb DataCallback, pos, chunkBytes int) int {
	end := min(pos+chunkBytes, len(f.pcm))
	chunk := make([]byte, end-pos)
	copy(chunk, f.pcm[pos:end])
	cb(chunk, uint32(len(chunk)/fakeBytesPerFrame))
	return end
}

func (f *FakeCapture) Start() error {
	if f.ctx.StartErr != nil {
		return f.ctx.StartErr
	}
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})

	chunkBytes := fakeFrameSize * fakeBytesPerFrame
	var interval time.Duration
	if f.realtime {
		interval = time.Duration(fakeFrameSize) * time.Second / time.Duration(f.rate)
	}

	go func() {
		defer close(f.feedDone)
		pos := 0
		silence := make([]byte, chunkBytes)
		audioFinished := false

		for {
			select {
			case <-f.stopCh:
				return
			default:
			}

			// samples are only delivered once a consumer is attached
			cb := f.callback()
			if cb == nil {
				time.Sleep(time.Millisecond)
				continue
			}

			switch {
			case pos < len(f.pcm):
				pos = f.feedChunk(cb, pos, chunkBytes)
				if pos < len(f.pcm) {
					break
				}
				fallthrough
			case !audioFinished:
				audioFinished = true
				close(f.audioDone)
			case f.realtime:
				cb(silence, fakeFrameSize)
			default:
				<-f.stopCh
				return
			}

			if interval > 0 {
				select {
				case <-f.stopCh:
					return
				case <-time.After(interval):
				}
			}
		}
	}()

	return nil
}

func (f *FakeCapture) Stop() {
	if f.stopCh == nil {
		return
	}
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	<-f.feedDone
}

func (f *FakeCapture) Close() {
	f.Stop()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.ctx.mu.Lock()
	f.ctx.released++
	f.ctx.mu.Unlock()
}
