// Package capture owns the microphone for one recording at a time and turns
// the live PCM stream into a compressed blob.
package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"habla/audio"
	"habla/clock"
	"habla/encoder"
	"habla/log"
)

type State int

const (
	Idle State = iota
	Requesting
	Recording
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Requesting:
		return "requesting"
	case Recording:
		return "recording"
	case Stopping:
		return "stopping"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	ErrInvalidState = errors.New("invalid capture state")
	ErrEmptyCapture = errors.New("capture contains no audio")
)

const DefaultMaxDuration = 10 * time.Minute

type Config struct {
	Device      *audio.DeviceInfo
	SampleRate  int           // defaults to encoder.DefaultSampleRate
	MaxDuration time.Duration // defaults to DefaultMaxDuration; negative disables the cap
	Clock       *clock.Clock
	// NewEncoder defaults to FLAC.
	NewEncoder func(sampleRate int) (encoder.Encoder, error)
	// OnLevel receives the RMS of each delivered buffer.
	OnLevel func(rms float64)
}

type Controller struct {
	actx audio.Context
	cfg  Config

	mu    sync.Mutex
	state State
	dev   audio.CaptureDevice
	rec   *recording
}

func New(actx audio.Context, cfg Config) *Controller {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = encoder.DefaultSampleRate
	}
	if cfg.MaxDuration == 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.NewEncoder == nil {
		cfg.NewEncoder = func(rate int) (encoder.Encoder, error) { return encoder.NewFlac(rate) }
	}
	return &Controller{actx: actx, cfg: cfg}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Clock() *clock.Clock { return c.cfg.Clock }

func (c *Controller) SampleRate() int { return c.cfg.SampleRate }

// SetDevice takes effect on the next Start.
func (c *Controller) SetDevice(d *audio.DeviceInfo) {
	c.mu.Lock()
	c.cfg.Device = d
	c.mu.Unlock()
}

// Limit is closed when the current recording reaches MaxDuration. Further
// audio is dropped until Stop. It returns nil when nothing is recording.
func (c *Controller) Limit() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rec == nil {
		return nil
	}
	return c.rec.limit
}

// Chunks reports how many encoded chunks the current recording holds.
func (c *Controller) Chunks() int {
	c.mu.Lock()
	rec := c.rec
	c.mu.Unlock()
	if rec == nil {
		return 0
	}
	return rec.chunkCount()
}

// Start acquires the capture device and begins recording. On failure the
// device is released and the controller is back to Idle.
func (c *Controller) Start(ctx context.Context) (err error) {
	c.mu.Lock()
	if c.state != Idle {
		s := c.state
		c.mu.Unlock()
		return fmt.Errorf("start while %s: %w", s, ErrInvalidState)
	}
	c.state = Requesting
	device := c.cfg.Device
	c.mu.Unlock()

	defer func() {
		if err != nil {
			c.mu.Lock()
			c.state = Idle
			c.mu.Unlock()
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	enc, err := c.cfg.NewEncoder(c.cfg.SampleRate)
	if err != nil {
		return fmt.Errorf("creating encoder: %w", err)
	}

	dev, err := c.actx.NewCapture(device, audio.CaptureConfig{
		SampleRate: uint32(c.cfg.SampleRate),
		Channels:   1,
	})
	if err != nil {
		enc.Close()
		return audio.Classify(err)
	}
	if err := dev.Start(); err != nil {
		dev.Close()
		enc.Close()
		return audio.Classify(err)
	}
	if err := ctx.Err(); err != nil {
		dev.Stop()
		dev.Close()
		enc.Close()
		return err
	}

	var maxFrames uint64
	if c.cfg.MaxDuration > 0 {
		maxFrames = uint64(c.cfg.MaxDuration.Seconds() * float64(c.cfg.SampleRate))
	}
	rec := newRecording(enc, maxFrames, c.cfg.OnLevel)

	c.mu.Lock()
	c.state = Recording
	c.dev = dev
	c.rec = rec
	c.mu.Unlock()

	dev.SetCallback(rec.feed)
	c.cfg.Clock.Start()
	log.CaptureStart(dev.DeviceName(), c.cfg.SampleRate)
	return nil
}

// Stop ends the recording, releases the device and returns the encoded audio.
func (c *Controller) Stop() (audio.Blob, error) {
	c.mu.Lock()
	if c.state != Recording {
		s := c.state
		c.mu.Unlock()
		return audio.Blob{}, fmt.Errorf("stop while %s: %w", s, ErrInvalidState)
	}
	c.state = Stopping
	dev, rec := c.dev, c.rec
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.state = Idle
		c.dev = nil
		c.rec = nil
		c.mu.Unlock()
	}()

	// discard anything the device delivers from here on
	rec.markStopped()
	dev.Stop()
	dev.ClearCallback()
	dev.Close()
	c.cfg.Clock.Stop()

	blob, chunks, err := rec.finish()
	log.CaptureStop(int(blob.Frames), chunks, len(blob.Data))
	if err != nil {
		return audio.Blob{}, err
	}
	if blob.Frames == 0 {
		return audio.Blob{}, ErrEmptyCapture
	}
	return blob, nil
}

// Cancel stops a recording and throws the audio away. It is a no-op unless
// the controller is Recording.
func (c *Controller) Cancel() {
	if _, err := c.Stop(); err != nil && !errors.Is(err, ErrInvalidState) && !errors.Is(err, ErrEmptyCapture) {
		log.Warnf("capture cancel: %v", err)
	}
}

type recording struct {
	enc        encoder.Encoder
	onLevel    func(float64)
	blockChan  chan []int16
	encodeDone chan struct{}
	limit      chan struct{}
	maxFrames  uint64

	feedMu    sync.Mutex
	sampleBuf []int16
	frames    uint64
	stopped   bool
	limited   bool

	chunkMu   sync.Mutex
	chunks    [][]byte
	encodeErr error
}

func newRecording(enc encoder.Encoder, maxFrames uint64, onLevel func(float64)) *recording {
	r := &recording{
		enc:        enc,
		onLevel:    onLevel,
		blockChan:  make(chan []int16, 64),
		encodeDone: make(chan struct{}),
		limit:      make(chan struct{}),
		maxFrames:  maxFrames,
	}
	go r.encodeLoop()
	return r
}

func (r *recording) encodeLoop() {
	defer close(r.encodeDone)
	for block := range r.blockChan {
		start := time.Now()
		err := r.enc.EncodeBlock(block)
		r.enc.AddEncodeTime(time.Since(start))
		r.appendChunk(r.enc.Drain(), err)
	}
}

func (r *recording) appendChunk(chunk []byte, err error) {
	r.chunkMu.Lock()
	defer r.chunkMu.Unlock()
	if err != nil && r.encodeErr == nil {
		r.encodeErr = err
	}
	if len(chunk) > 0 {
		r.chunks = append(r.chunks, chunk)
	}
}

func (r *recording) chunkCount() int {
	r.chunkMu.Lock()
	defer r.chunkMu.Unlock()
	return len(r.chunks)
}

func (r *recording) feed(data []byte, _ uint32) {
	n := len(data) / 2
	if n == 0 {
		return
	}
	if r.onLevel != nil {
		r.onLevel(rms(data))
	}

	r.feedMu.Lock()
	defer r.feedMu.Unlock()
	if r.stopped || r.limited {
		return
	}
	if r.maxFrames > 0 && r.frames+uint64(n) >= r.maxFrames {
		n = int(r.maxFrames - r.frames)
		r.limited = true
		close(r.limit)
	}
	for i := 0; i < n; i++ {
		r.sampleBuf = append(r.sampleBuf, int16(binary.LittleEndian.Uint16(data[i*2:])))
	}
	r.frames += uint64(n)

	for len(r.sampleBuf) >= encoder.BlockSize {
		block := make([]int16, encoder.BlockSize)
		copy(block, r.sampleBuf[:encoder.BlockSize])
		r.sampleBuf = r.sampleBuf[encoder.BlockSize:]
		r.blockChan <- block
	}
}

func (r *recording) markStopped() {
	r.feedMu.Lock()
	r.stopped = true
	r.feedMu.Unlock()
}

// finish flushes the partial block and the encoder trailer, then joins every
// chunk in arrival order.
func (r *recording) finish() (audio.Blob, int, error) {
	r.feedMu.Lock()
	if len(r.sampleBuf) > 0 {
		r.blockChan <- r.sampleBuf
		r.sampleBuf = nil
	}
	close(r.blockChan)
	frames := r.frames
	r.feedMu.Unlock()

	<-r.encodeDone
	closeErr := r.enc.Close()
	r.appendChunk(r.enc.Drain(), closeErr)

	r.chunkMu.Lock()
	defer r.chunkMu.Unlock()
	if r.encodeErr != nil {
		return audio.Blob{}, len(r.chunks), fmt.Errorf("encoding capture: %w", r.encodeErr)
	}
	return audio.Blob{
		Data:     bytes.Join(r.chunks, nil),
		MIMEType: r.enc.MIMEType(),
		Frames:   frames,
	}, len(r.chunks), nil
}

func rms(data []byte) float64 {
	var sumSquares float64
	n := len(data) / 2
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 32768.0
		sumSquares += v * v
	}
	return math.Sqrt(sumSquares / float64(n))
}
