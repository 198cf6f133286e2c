package doctor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"habla/audio"
	"habla/config"
	"habla/playback"
)

type fakeRelay struct {
	mu      sync.Mutex
	uploads int
}

func (f *fakeRelay) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("HEAD /api/openai", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	})
	mux.HandleFunc("POST /api/openai", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.uploads++
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"transcription": "hola", "translation": "hello"})
	})
	mux.HandleFunc("POST /api/tts", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte{0xFF, 0xFB})
	})
	return mux
}

func tone(n int) []int16 {
	s := make([]int16, n)
	for i := range s {
		s[i] = int16(6000 * math.Sin(2*math.Pi*220*float64(i)/16000))
	}
	return s
}

func testOptions(t *testing.T, relayURL, answers string) (Options, *bytes.Buffer, *playback.FakeEngine) {
	t.Helper()
	recordFor = 50 * time.Millisecond
	t.Cleanup(func() { recordFor = 3 * time.Second })

	cfg := config.Defaults()
	cfg.RelayURL = relayURL
	engine := &playback.FakeEngine{}
	var out bytes.Buffer
	return Options{
		Config: cfg,
		In:     strings.NewReader(answers),
		Out:    &out,
		Audio:  audio.NewFakeContextSamples(tone(8000)),
		Player: engine,
	}, &out, engine
}

// finishOutputs ends each fake output as soon as it appears.
func finishOutputs(engine *playback.FakeEngine, stop <-chan struct{}) {
	seen := 0
	for {
		select {
		case <-stop:
			return
		case <-time.After(time.Millisecond):
		}
		outs := engine.Outputs()
		for ; seen < len(outs); seen++ {
			outs[seen].Finish(nil)
		}
	}
}

func TestRunAllPass(t *testing.T) {
	relay := &fakeRelay{}
	srv := httptest.NewServer(relay.handler())
	defer srv.Close()

	opts, out, engine := testOptions(t, srv.URL, "y\ny\n")
	copied := ""
	opts.Clipboard = func(s string) (string, error) { copied = s; return s, nil }

	stop := make(chan struct{})
	defer close(stop)
	go finishOutputs(engine, stop)

	if code := run(context.Background(), opts); code != 0 {
		t.Fatalf("exit = %d\n%s", code, out)
	}
	for _, want := range []string{"Transcript:  hola", "Translation: hello", "All checks passed!"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	relay.mu.Lock()
	if relay.uploads != 1 {
		t.Errorf("uploads = %d", relay.uploads)
	}
	relay.mu.Unlock()
	if !strings.HasPrefix(copied, "habla-doctor-") {
		t.Errorf("clipboard got %q", copied)
	}
	if engine.Resumed() != 1 {
		t.Errorf("resumed = %d", engine.Resumed())
	}
}

func TestRunRelayDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	opts, out, _ := testOptions(t, url, "")
	if code := run(context.Background(), opts); code != 1 {
		t.Fatalf("exit = %d", code)
	}
	if !strings.Contains(out.String(), "FAIL: relay unreachable") {
		t.Fatalf("output:\n%s", out)
	}
}

func TestRunTranslationRejected(t *testing.T) {
	relay := &fakeRelay{}
	srv := httptest.NewServer(relay.handler())
	defer srv.Close()

	opts, out, engine := testOptions(t, srv.URL, "n\n")
	if code := run(context.Background(), opts); code != 1 {
		t.Fatalf("exit = %d", code)
	}
	if !strings.Contains(out.String(), "FAIL: translation not confirmed") {
		t.Fatalf("output:\n%s", out)
	}
	if engine.Starts() != 0 {
		t.Fatal("later checks ran after a failure")
	}
}

func TestClipboardMismatch(t *testing.T) {
	var out bytes.Buffer
	d := &doctor{out: &out, opts: Options{Clipboard: func(string) (string, error) { return "other", nil }}}
	if d.checkClipboard() {
		t.Fatal("mismatch passed")
	}
	d.opts.Clipboard = func(string) (string, error) { return "", errors.New("no display") }
	if d.checkClipboard() {
		t.Fatal("error passed")
	}
	if !strings.Contains(out.String(), "no display") {
		t.Fatalf("output:\n%s", out.String())
	}
}

func TestRunInterrupted(t *testing.T) {
	relay := &fakeRelay{}
	srv := httptest.NewServer(relay.handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	opts, out, engine := testOptions(t, srv.URL, "y\ny\n")
	if code := run(ctx, opts); code != exitInterrupted {
		t.Fatalf("exit = %d, want %d\n%s", code, exitInterrupted, out)
	}
	if !strings.Contains(out.String(), "Interrupted") {
		t.Fatalf("output:\n%s", out)
	}
	if engine.Starts() != 0 {
		t.Errorf("starts = %d, want 0", engine.Starts())
	}
}

func TestConfirmInterruptedWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	defer pw.Close()
	var out bytes.Buffer
	d := &doctor{ctx: ctx, in: bufio.NewReader(pr), out: &out}

	got := make(chan bool, 1)
	go func() { got <- d.confirm("Did you hear the test phrase?") }()
	cancel()
	select {
	case ok := <-got:
		if ok {
			t.Fatal("confirm = true after interrupt")
		}
	case <-time.After(time.Second):
		t.Fatal("confirm still blocked after interrupt")
	}
}
