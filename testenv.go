package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"habla/audio"
	"habla/capture"
	"habla/chat"
	"habla/config"
	"habla/log"
	"habla/normalize"
	"habla/playback"
	"habla/session"
	"habla/speech"
	"habla/transcriber"
)

// fakeMic remembers the last capture so the driver can wait for its audio.
type fakeMic struct {
	*audio.FakeContext
	mu   sync.Mutex
	last *audio.FakeCapture
}

func (m *fakeMic) NewCapture(d *audio.DeviceInfo, cfg audio.CaptureConfig) (audio.CaptureDevice, error) {
	dev, err := m.FakeContext.NewCapture(d, cfg)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.last = dev.(*audio.FakeCapture)
	m.mu.Unlock()
	return dev, nil
}

func (m *fakeMic) audioDone() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return m.last.AudioDone()
}

// printSink writes one line per session event.
type printSink struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *printSink) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format+"\n", args...)
}

func (s *printSink) RecordingStart()             { s.printf("RECORDING") }
func (s *printSink) RecordingStop()              { s.printf("STOPPED") }
func (s *printSink) RecordingTick(time.Duration) {}
func (s *printSink) AudioLevel(float64)          {}
func (s *printSink) Status(text string)          { s.printf("STATUS %s", text) }
func (s *printSink) Submitting(on bool)          { s.printf("SUBMITTING %t", on) }
func (s *printSink) Playback(e playback.Event)   { s.printf("PLAYBACK %s %s", e.State, e.EntryID) }
func (s *printSink) Entries(a, b chat.Entry) {
	s.printf("ENTRY %s %s %s", a.Speaker, a.Language, a.Text)
	s.printf("ENTRY %s %s %s", b.Speaker, b.Language, b.Text)
}

// runTestMode drives a session from stdin with a WAV file standing in for
// the microphone and a silent output engine.
func runTestMode(cfg config.Config, wavPath string) int {
	fake, err := audio.NewFakeContext(wavPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
		return 1
	}
	mic := &fakeMic{FakeContext: fake}

	ctrl := capture.New(mic, capture.Config{
		SampleRate:  cfg.Audio.CaptureSampleRate,
		MaxDuration: cfg.MaxDuration(),
	})
	sess := session.New(session.Deps{
		Capture:     ctrl,
		Normalizer:  normalize.New(cfg.Audio.TargetSampleRate),
		Transcriber: transcriber.New(cfg.TranscribeURL(), cfg.HTTPTimeout()),
		Synthesizer: speech.New(cfg.SpeechURL(), cfg.HTTPTimeout()),
		Engine:      &playback.FakeEngine{AutoFinish: true},
	}, session.Config{
		Voice:          cfg.Voice,
		SourceLanguage: cfg.SourceLanguage,
		TargetLanguage: cfg.TargetLanguage,
		Sink:           &printSink{w: os.Stdout},
	})
	defer sess.Close()

	return driveSession(context.Background(), sess, mic, os.Stdin)
}

// driveSession executes one command per line until QUIT or EOF.
func driveSession(ctx context.Context, sess *session.Session, mic *fakeMic, in io.Reader) int {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		var err error
		switch strings.ToUpper(fields[0]) {
		case "START":
			err = sess.StartRecording(ctx)
		case "STOP":
			err = sess.StopRecording(ctx)
		case "TOGGLE":
			err = sess.ToggleRecording(ctx)
		case "WAIT":
			sess.Wait()
		case "WAIT_AUDIO_DONE":
			<-mic.audioDone()
		case "WAIT_PLAYBACK":
			for sess.Playback().State() != playback.Idle {
				time.Sleep(10 * time.Millisecond)
			}
		case "SPEAK":
			err = speakEntry(ctx, sess, fields[1:])
		case "REPLAY":
			err = sess.ReplayLast(ctx)
		case "STOP_AUDIO":
			sess.StopPlayback()
		case "SLEEP":
			if len(fields) > 1 {
				if ms, perr := strconv.Atoi(fields[1]); perr == nil {
					time.Sleep(time.Duration(ms) * time.Millisecond)
				}
			}
		case "QUIT":
			return 0
		default:
			log.Warnf("test mode: unknown command %q", fields[0])
		}
		if err != nil {
			fmt.Printf("ERROR %s\n", session.StatusText(err))
		}
	}
	return 0
}

// speakEntry plays the chat entry at a 1-based position.
func speakEntry(ctx context.Context, sess *session.Session, args []string) error {
	if len(args) == 0 {
		return session.ErrUnknownEntry
	}
	n, err := strconv.Atoi(args[0])
	entries := sess.Chat().Entries()
	if err != nil || n < 1 || n > len(entries) {
		return session.ErrUnknownEntry
	}
	return sess.Speak(ctx, entries[n-1].ID)
}
