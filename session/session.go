// Package session ties capture, normalization, upload, the chat log and
// playback into one conversation.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"habla/audio"
	"habla/capture"
	"habla/chat"
	"habla/log"
	"habla/normalize"
	"habla/playback"
	"habla/player"
	"habla/speech"
	"habla/transcriber"
	"habla/waveform"
)

// ReplayID is the playback entry used for the last capture.
const ReplayID = "replay"

const defaultTickInterval = 250 * time.Millisecond

var (
	ErrBusy            = errors.New("previous recording is still being processed")
	ErrUnknownEntry    = errors.New("unknown chat entry")
	ErrNothingToReplay = errors.New("nothing recorded yet")
)

// Cuer plays short feedback tones.
type Cuer interface {
	Cue(c player.Cue)
}

type Deps struct {
	Capture     *capture.Controller
	Normalizer  *normalize.Normalizer
	Transcriber transcriber.Transcriber
	Synthesizer speech.Synthesizer
	Engine      playback.Engine
}

type Config struct {
	Voice          string
	SourceLanguage string
	TargetLanguage string
	Sink           EventSink
	Cues           Cuer
	TickInterval   time.Duration
}

type Session struct {
	capture     *capture.Controller
	normalizer  *normalize.Normalizer
	transcriber transcriber.Transcriber
	chat        *chat.Log
	gate        *playback.Gate
	playback    *playback.Manager
	sink        EventSink
	cues        Cuer
	cfg         Config

	recMu sync.Mutex // serializes StartRecording and StopRecording

	mu       sync.Mutex
	busy     bool
	tickDone chan struct{}
	last     *waveform.Waveform

	wg sync.WaitGroup
}

func New(d Deps, cfg Config) *Session {
	if cfg.Sink == nil {
		cfg.Sink = nopSink{}
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	s := &Session{
		capture:     d.Capture,
		normalizer:  d.Normalizer,
		transcriber: d.Transcriber,
		chat:        chat.NewLog(),
		gate:        playback.NewGate(d.Engine),
		sink:        cfg.Sink,
		cues:        cfg.Cues,
		cfg:         cfg,
	}
	s.playback = playback.NewManager(d.Synthesizer, d.Engine, s.gate, playback.Config{
		Voice:    cfg.Voice,
		Listener: s.sink.Playback,
	})
	return s
}

func (s *Session) Chat() *chat.Log { return s.chat }

func (s *Session) Playback() *playback.Manager { return s.playback }

func (s *Session) CaptureState() capture.State { return s.capture.State() }

// Busy reports whether a finished recording is still being processed.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

func (s *Session) StartRecording(ctx context.Context) error {
	s.recMu.Lock()
	defer s.recMu.Unlock()

	if s.Busy() {
		s.sink.Status("Still translating the last recording")
		return ErrBusy
	}
	if err := s.capture.Start(ctx); err != nil {
		s.report(fmt.Errorf("start recording: %w", err))
		return err
	}

	s.cue(player.CueStart)
	s.sink.RecordingStart()

	done := make(chan struct{})
	s.mu.Lock()
	s.tickDone = done
	s.mu.Unlock()

	go func() {
		for d := range s.capture.Clock().Ticks(s.cfg.TickInterval, done) {
			s.sink.RecordingTick(d)
		}
	}()
	go s.watchLimit(s.capture.Limit(), done)
	return nil
}

func (s *Session) watchLimit(limit, done <-chan struct{}) {
	select {
	case <-limit:
	case <-done:
		return
	}
	log.Info("capture_limit_reached")
	s.sink.Status("Maximum recording length reached")
	if err := s.StopRecording(context.Background()); err != nil && !errors.Is(err, capture.ErrInvalidState) {
		log.Warnf("auto stop: %v", err)
	}
}

// StopRecording ends the capture and hands it to the background pipeline.
// It returns once the capture is closed, not when the translation arrives.
func (s *Session) StopRecording(ctx context.Context) error {
	s.recMu.Lock()
	defer s.recMu.Unlock()

	blob, err := s.capture.Stop()
	if errors.Is(err, capture.ErrInvalidState) {
		return err
	}
	s.stopTicks()
	s.cue(player.CueStop)
	s.sink.RecordingStop()
	if err != nil {
		if errors.Is(err, capture.ErrEmptyCapture) {
			s.sink.Status("Nothing was recorded")
		} else {
			s.report(fmt.Errorf("stop recording: %w", err))
		}
		return err
	}

	s.mu.Lock()
	s.busy = true
	s.mu.Unlock()
	s.sink.Submitting(true)

	s.wg.Add(1)
	go s.submit(context.WithoutCancel(ctx), blob)
	return nil
}

func (s *Session) ToggleRecording(ctx context.Context) error {
	switch s.capture.State() {
	case capture.Idle:
		return s.StartRecording(ctx)
	case capture.Recording:
		return s.StopRecording(ctx)
	}
	return capture.ErrInvalidState
}

func (s *Session) stopTicks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tickDone != nil {
		close(s.tickDone)
		s.tickDone = nil
	}
}

func (s *Session) submit(ctx context.Context, blob audio.Blob) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
		s.sink.Submitting(false)
	}()

	t0 := time.Now()
	w, err := s.normalizer.Normalize(ctx, blob)
	if err != nil {
		s.report(fmt.Errorf("process recording: %w", err))
		return
	}
	normalizeTime := time.Since(t0)

	s.mu.Lock()
	s.last = w
	s.mu.Unlock()

	res, err := s.transcriber.Submit(ctx, w)
	if err != nil {
		s.report(err)
		return
	}

	a, b := s.chat.AppendPair(res.Transcript, s.cfg.SourceLanguage, res.Translation, s.cfg.TargetLanguage)
	log.Conversation(res.Transcript, res.Translation)

	m := log.SubmissionMetrics{
		AudioLengthS:     w.Duration().Seconds(),
		BlobSizeKB:       float64(len(blob.Data)) / 1024,
		WAVSizeKB:        float64(w.Size()) / 1024,
		NormalizeTimeMs:  ms(normalizeTime),
		SourceMIMEType:   blob.MIMEType,
		TargetSampleRate: w.SampleRate(),
	}
	if nm := res.Metrics; nm != nil {
		m.DNSTimeMs = ms(nm.DNS)
		m.TLSTimeMs = ms(nm.TLS)
		m.TTFBMs = ms(nm.TTFB)
		m.TotalTimeMs = ms(nm.Total)
		m.ConnReused = nm.ConnReused
		m.TLSProtocol = nm.TLSProtocol
	}
	log.Submission(m)

	s.sink.Entries(a, b)
}

// Speak synthesizes and plays an entry, or stops it if it is the one
// playing. It blocks until playback has started.
func (s *Session) Speak(ctx context.Context, entryID string) error {
	e, ok := s.chat.Get(entryID)
	if !ok {
		return ErrUnknownEntry
	}
	err := s.playback.Speak(ctx, e.Text, entryID)
	if errors.Is(err, playback.ErrSuperseded) {
		return nil
	}
	if err != nil {
		s.cue(player.CueError)
	}
	return err
}

// ReplayLast plays back the normalized audio of the most recent capture.
func (s *Session) ReplayLast(ctx context.Context) error {
	s.mu.Lock()
	w := s.last
	s.mu.Unlock()
	if w == nil {
		return ErrNothingToReplay
	}
	err := s.playback.Play(ctx, &speech.Audio{Data: w.Bytes(), MIMEType: waveform.MIMEType}, ReplayID)
	if errors.Is(err, playback.ErrSuperseded) {
		return nil
	}
	return err
}

func (s *Session) StopPlayback() {
	s.playback.Stop()
}

// Gesture forwards a user input event to the audio unlock gate.
func (s *Session) Gesture(ctx context.Context) error {
	if s.gate.Open() {
		return nil
	}
	if err := s.gate.Unlock(ctx); err != nil {
		log.Warnf("audio unlock: %v", err)
		return err
	}
	return nil
}

// Wait blocks until no recording is being processed.
func (s *Session) Wait() {
	s.wg.Wait()
}

func (s *Session) Close() {
	s.capture.Cancel()
	s.stopTicks()
	s.playback.Close()
	s.wg.Wait()
	log.SessionEnd(s.chat.Len())
}

func (s *Session) report(err error) {
	log.Errorf("%v", err)
	s.cue(player.CueError)
	s.sink.Status(StatusText(err))
}

func (s *Session) cue(c player.Cue) {
	if s.cues != nil {
		s.cues.Cue(c)
	}
}

// StatusText turns a pipeline error into a line for the user.
func StatusText(err error) string {
	var (
		decErr   *normalize.DecodeError
		upErr    *transcriber.UploadError
		synthErr *playback.SynthesisError
		startErr *playback.PlaybackStartError
	)
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return "Microphone access was denied"
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return "No microphone available"
	case errors.Is(err, ErrBusy):
		return "Still translating the last recording"
	case errors.As(err, &decErr):
		return "Could not read the recording: " + decErr.Error()
	case errors.As(err, &upErr):
		if upErr.Message != "" {
			return "Error: " + upErr.Message
		}
		return "Error processing audio: " + upErr.Error()
	case errors.As(err, &synthErr):
		return "Could not synthesize speech: " + synthErr.Err.Error()
	case errors.As(err, &startErr):
		return "Could not start playback: " + startErr.Err.Error()
	}
	return "Error: " + err.Error()
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
