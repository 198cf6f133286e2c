package doctor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"habla/audio"
	"habla/capture"
	"habla/config"
	"habla/normalize"
	"habla/playback"
	"habla/player"
	"habla/shutdown"
	"habla/speech"
	"habla/transcriber"
	"habla/transport"
)

const clipboardWait = 3 * time.Second

var recordFor = 3 * time.Second

type Options struct {
	Config config.Config
	// WAV, when set, replaces the microphone with a 16-bit mono file.
	WAV string
	In  io.Reader
	Out io.Writer

	// Audio and Player default to the system devices.
	Audio  audio.Context
	Player playback.Engine
	// Clipboard is skipped when nil.
	Clipboard func(text string) (string, error)
}

const exitInterrupted = 130

type doctor struct {
	ctx    context.Context
	opts   Options
	in     *bufio.Reader
	out    io.Writer
	speech *speech.Audio
}

// Run executes the diagnostic checks and returns an exit code: 0 when all
// pass, 1 on the first failure and 130 when interrupted.
func Run(opts Options) int {
	resetTerminal()
	ctx, stop := shutdown.Context(context.Background())
	defer stop()
	return run(ctx, opts)
}

func run(ctx context.Context, opts Options) int {
	d := &doctor{ctx: ctx, opts: opts, in: bufio.NewReader(opts.In), out: opts.Out}

	d.printf("habla doctor - system diagnostics\n")
	d.printf("=================================\n")

	checks := []func() bool{d.checkRelay, d.checkMicAndTranslation, d.checkSpeech, d.checkPlayback, d.checkClipboard}
	allPass := true
	for _, check := range checks {
		if !check() {
			allPass = false
			break
		}
	}
	if ctx.Err() != nil {
		d.printf("\nInterrupted\n")
		return exitInterrupted
	}

	d.printf("\n")
	if allPass {
		d.printf("All checks passed!\n")
		return 0
	}
	d.printf("Some checks failed. See details above.\n")
	return 1
}

func (d *doctor) printf(format string, args ...any) {
	fmt.Fprintf(d.out, format, args...)
}

// readLine gives up when the run is interrupted. The abandoned read is
// never resumed since no check runs after that.
func (d *doctor) readLine() (string, bool) {
	ch := make(chan string, 1)
	go func() {
		line, _ := d.in.ReadString('\n')
		ch <- line
	}()
	select {
	case line := <-ch:
		return line, true
	case <-d.ctx.Done():
		return "", false
	}
}

func (d *doctor) confirm(question string) bool {
	d.printf("%s [y/n]: ", question)
	answer, ok := d.readLine()
	if !ok {
		return false
	}
	answer = strings.TrimSpace(strings.ToLower(answer))
	return answer == "y" || answer == "yes"
}

func (d *doctor) checkRelay() bool {
	cfg := d.opts.Config
	d.printf("\n[1/5] Relay reachability\n")
	d.printf("  Relay: %s\n", cfg.RelayURL)

	req, err := http.NewRequestWithContext(d.ctx, http.MethodHead, cfg.TranscribeURL(), nil)
	if err != nil {
		d.printf("  FAIL: bad relay URL: %v\n", err)
		return false
	}
	resp, err := transport.NewTracedClient(10 * time.Second).Do(req)
	if err != nil {
		d.printf("  FAIL: relay unreachable: %v\n", err)
		return false
	}
	m := resp.Metrics
	d.printf("  PASS: relay answered %d (dns %dms, tls %dms, ttfb %dms)\n",
		resp.StatusCode, m.DNS.Milliseconds(), m.TLS.Milliseconds(), m.TTFB.Milliseconds())
	return true
}

func (d *doctor) checkMicAndTranslation() bool {
	cfg := d.opts.Config
	d.printf("\n[2/5] Microphone, normalization and translation\n")

	actx := d.opts.Audio
	if actx == nil {
		var err error
		if d.opts.WAV != "" {
			actx, err = audio.NewFakeContext(d.opts.WAV, true)
		} else {
			actx, err = audio.NewContext()
		}
		if err != nil {
			d.printf("  FAIL: cannot open audio: %v\n", err)
			return false
		}
		defer actx.Close()
	}

	ctrl := capture.New(actx, capture.Config{SampleRate: cfg.Audio.CaptureSampleRate})
	if d.opts.WAV == "" && d.opts.Audio == nil {
		d.printf("Press Enter and speak for %d seconds...", int(recordFor.Seconds()))
		if _, ok := d.readLine(); !ok {
			return false
		}
	}

	if err := ctrl.Start(d.ctx); err != nil {
		d.printf("  FAIL: recording error: %v\n", err)
		return false
	}
	d.printf("  Recording")
	done := time.After(recordFor)
	tick := time.NewTicker(500 * time.Millisecond)
wait:
	for {
		select {
		case <-done:
			break wait
		case <-d.ctx.Done():
			break wait
		case <-tick.C:
			d.printf(".")
		}
	}
	tick.Stop()
	blob, err := ctrl.Stop()
	d.printf(" done\n")
	if d.ctx.Err() != nil {
		return false
	}
	if err != nil {
		d.printf("  FAIL: recording error: %v\n", err)
		return false
	}

	w, err := normalize.New(cfg.Audio.TargetSampleRate).Normalize(d.ctx, blob)
	if err != nil {
		d.printf("  FAIL: normalize: %v\n", err)
		return false
	}
	d.printf("  Captured %.1f KB %s, normalized to %.1fs WAV (%.1f KB)\n",
		float64(len(blob.Data))/1024, blob.MIMEType, w.Duration().Seconds(), float64(w.Size())/1024)

	res, err := transcriber.New(cfg.TranscribeURL(), cfg.HTTPTimeout()).Submit(d.ctx, w)
	if err != nil {
		d.printf("  FAIL: %v\n", err)
		return false
	}
	d.printf("\n  Transcript:  %s\n  Translation: %s\n\n", res.Transcript, res.Translation)

	if !d.confirm("Is this correct?") {
		d.printf("  FAIL: translation not confirmed\n")
		return false
	}
	d.printf("  PASS: translation verified by user\n")
	return true
}

func (d *doctor) checkSpeech() bool {
	cfg := d.opts.Config
	d.printf("\n[3/5] Speech synthesis\n")

	a, err := speech.New(cfg.SpeechURL(), cfg.HTTPTimeout()).Synthesize(d.ctx, "Hola, esto es una prueba.", cfg.Voice)
	if err != nil {
		d.printf("  FAIL: %v\n", err)
		return false
	}
	d.speech = a
	d.printf("  PASS: %.1f KB of %s (voice %s)\n", float64(len(a.Data))/1024, a.MIMEType, cfg.Voice)
	return true
}

func (d *doctor) checkPlayback() bool {
	d.printf("\n[4/5] Playback\n")

	p := d.opts.Player
	if p == nil {
		sys := player.New()
		defer sys.Close()
		p = sys
	}
	if err := p.Resume(d.ctx); err != nil {
		d.printf("  FAIL: cannot open audio output: %v\n", err)
		return false
	}
	out, err := p.Start(d.ctx, d.speech.Data, d.speech.MIMEType)
	if err != nil {
		d.printf("  FAIL: cannot play: %v\n", err)
		return false
	}
	select {
	case err := <-out.Done():
		if err != nil {
			d.printf("  FAIL: playback: %v\n", err)
			return false
		}
	case <-d.ctx.Done():
		out.Stop()
		return false
	}

	if !d.confirm("Did you hear the test phrase?") {
		d.printf("  FAIL: playback not confirmed\n")
		return false
	}
	d.printf("  PASS: playback verified by user\n")
	return true
}

func (d *doctor) checkClipboard() bool {
	d.printf("\n[5/5] Clipboard copy\n")
	if d.opts.Clipboard == nil {
		d.printf("  SKIP: no clipboard\n")
		return true
	}

	testStr := fmt.Sprintf("habla-doctor-%d", time.Now().UnixNano())
	type cbResult struct {
		readback string
		err      error
	}
	ch := make(chan cbResult, 1)
	go func() {
		got, err := d.opts.Clipboard(testStr)
		ch <- cbResult{got, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			d.printf("  FAIL: clipboard: %v\n", res.err)
			return false
		}
		if res.readback != testStr {
			d.printf("  FAIL: clipboard mismatch: wrote %q, got %q\n", testStr, res.readback)
			return false
		}
		d.printf("  PASS: clipboard write/read verified\n")
		return true
	case <-time.After(clipboardWait):
		d.printf("  FAIL: clipboard timed out (clipboard tool hung?)\n")
		return false
	}
}
