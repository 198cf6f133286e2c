package playback

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"habla/speech"
)

var mp3 = &speech.Audio{Data: []byte{0xFF, 0xFB}, MIMEType: "audio/mpeg"}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.events))
	for i, e := range r.events {
		out[i] = e.State
	}
	return out
}

func (r *recorder) waitFor(t *testing.T, want ...State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if equalStates(r.states(), want) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("events = %v, want %v", r.states(), want)
}

func equalStates(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for m.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want %s", m.State(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func newTestManager(synth speech.Synthesizer, engine *FakeEngine) (*Manager, *recorder) {
	rec := &recorder{}
	m := NewManager(synth, engine, NewGate(engine), Config{Voice: "nova", Listener: rec.listen})
	return m, rec
}

// gatedSynth holds each request for a given text until released, ignoring
// cancellation to model a response that arrives late anyway.
type gatedSynth struct {
	mu      sync.Mutex
	waiting map[string]chan struct{}
	calls   int
}

func (g *gatedSynth) hold(text string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.waiting == nil {
		g.waiting = map[string]chan struct{}{}
	}
	ch := make(chan struct{})
	g.waiting[text] = ch
	return ch
}

func (g *gatedSynth) Synthesize(_ context.Context, text, _ string) (*speech.Audio, error) {
	g.mu.Lock()
	g.calls++
	ch := g.waiting[text]
	g.mu.Unlock()
	if ch != nil {
		<-ch
	}
	return mp3, nil
}

func TestSpeakPlaysToCompletion(t *testing.T) {
	engine := &FakeEngine{}
	m, rec := newTestManager(&speech.Fake{Audio: mp3}, engine)
	defer m.Close()

	if err := m.Speak(context.Background(), "hello", "e1"); err != nil {
		t.Fatal(err)
	}
	if !m.IsPlaying("e1") {
		t.Fatalf("state = %s", m.State())
	}
	outs := engine.Outputs()
	if len(outs) != 1 || outs[0].MIMEType != "audio/mpeg" {
		t.Fatalf("outputs = %+v", outs)
	}

	outs[0].Finish(nil)
	waitState(t, m, Idle)
	rec.waitFor(t, Fetching, Playing, Idle)
}

func TestSpeakSameEntryToggles(t *testing.T) {
	synth := &speech.Fake{Audio: mp3}
	engine := &FakeEngine{}
	m, rec := newTestManager(synth, engine)
	defer m.Close()

	ctx := context.Background()
	if err := m.Speak(ctx, "hello", "e1"); err != nil {
		t.Fatal(err)
	}
	if err := m.Speak(ctx, "hello", "e1"); err != nil {
		t.Fatal(err)
	}
	if m.State() != Idle {
		t.Errorf("state = %s, want idle", m.State())
	}
	if n := len(synth.Requests()); n != 1 {
		t.Errorf("synthesis requests = %d, want 1", n)
	}
	if !engine.Outputs()[0].Stopped() {
		t.Error("output not stopped")
	}
	rec.waitFor(t, Fetching, Playing, Stopped, Idle)

	// a third press plays it again
	if err := m.Speak(ctx, "hello", "e1"); err != nil {
		t.Fatal(err)
	}
	if !m.IsPlaying("e1") || len(synth.Requests()) != 2 {
		t.Errorf("replay: playing=%v requests=%d", m.IsPlaying("e1"), len(synth.Requests()))
	}
}

func TestSpeakOtherEntryReplaces(t *testing.T) {
	engine := &FakeEngine{}
	m, _ := newTestManager(&speech.Fake{Audio: mp3}, engine)
	defer m.Close()

	ctx := context.Background()
	m.Speak(ctx, "one", "e1")
	m.Speak(ctx, "two", "e2")

	outs := engine.Outputs()
	if len(outs) != 2 {
		t.Fatalf("outputs = %d", len(outs))
	}
	if !outs[0].Stopped() {
		t.Error("first output still playing")
	}
	if engine.Active() != 1 || !m.IsPlaying("e2") {
		t.Errorf("active = %d, playing e2 = %v", engine.Active(), m.IsPlaying("e2"))
	}

	// the stopped output finishing late must not disturb e2
	outs[0].Finish(nil)
	time.Sleep(10 * time.Millisecond)
	if !m.IsPlaying("e2") {
		t.Errorf("state = %s after stale finish", m.State())
	}
}

func TestSynthesisFailure(t *testing.T) {
	synthErr := &speech.SynthesisError{StatusCode: 500, Message: "Failed to generate speech"}
	engine := &FakeEngine{}
	m, rec := newTestManager(&speech.Fake{Err: synthErr}, engine)
	defer m.Close()

	err := m.Speak(context.Background(), "hello", "e1")
	var se *SynthesisError
	if !errors.As(err, &se) || se.EntryID != "e1" {
		t.Fatalf("err = %v, want *SynthesisError", err)
	}
	var inner *speech.SynthesisError
	if !errors.As(err, &inner) || inner.StatusCode != 500 {
		t.Errorf("inner error lost: %v", err)
	}
	if m.State() != Idle {
		t.Errorf("state = %s", m.State())
	}
	if engine.Starts() != 0 {
		t.Errorf("engine started %d outputs", engine.Starts())
	}
	rec.waitFor(t, Fetching, Errored, Idle)

	rec.mu.Lock()
	errored := rec.events[1]
	rec.mu.Unlock()
	if errored.Err == nil {
		t.Error("errored event carries no error")
	}
}

func TestLateResponseDiscarded(t *testing.T) {
	synth := &gatedSynth{}
	releaseA := synth.hold("a")
	engine := &FakeEngine{}
	m, _ := newTestManager(synth, engine)
	defer m.Close()

	errA := make(chan error, 1)
	go func() { errA <- m.Speak(context.Background(), "a", "e1") }()
	waitState(t, m, Fetching)

	if err := m.Speak(context.Background(), "b", "e2"); err != nil {
		t.Fatal(err)
	}
	close(releaseA)

	if err := <-errA; !errors.Is(err, ErrSuperseded) {
		t.Errorf("first Speak err = %v, want ErrSuperseded", err)
	}
	if n := len(engine.Outputs()); n != 1 {
		t.Errorf("outputs = %d, want 1", n)
	}
	if !m.IsPlaying("e2") {
		t.Errorf("state = %s", m.State())
	}
}

func TestStopWhileFetching(t *testing.T) {
	synth := &gatedSynth{}
	release := synth.hold("a")
	engine := &FakeEngine{}
	m, rec := newTestManager(synth, engine)
	defer m.Close()

	errc := make(chan error, 1)
	go func() { errc <- m.Speak(context.Background(), "a", "e1") }()
	waitState(t, m, Fetching)

	m.Stop()
	close(release)
	if err := <-errc; !errors.Is(err, ErrSuperseded) {
		t.Errorf("err = %v", err)
	}
	if engine.Starts() != 0 || m.State() != Idle {
		t.Errorf("starts = %d, state = %s", engine.Starts(), m.State())
	}
	rec.waitFor(t, Fetching, Stopped, Idle)
}

func TestGateUnlockedBeforeFirstStart(t *testing.T) {
	engine := &FakeEngine{RequireGesture: true}
	m, _ := newTestManager(&speech.Fake{Audio: mp3}, engine)
	defer m.Close()

	if err := m.Speak(context.Background(), "a", "e1"); err != nil {
		t.Fatal(err)
	}
	if engine.Resumed() != 1 || engine.Starts() != 1 {
		t.Errorf("resumed = %d, starts = %d", engine.Resumed(), engine.Starts())
	}
	m.Speak(context.Background(), "b", "e2")
	if engine.Resumed() != 1 {
		t.Errorf("gate resumed again: %d", engine.Resumed())
	}
}

func TestGestureRetry(t *testing.T) {
	tests := []struct {
		failures   int
		wantErr    bool
		wantStarts int
	}{
		{failures: 1, wantErr: false, wantStarts: 2},
		{failures: 2, wantErr: true, wantStarts: 2},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d failures", tt.failures), func(t *testing.T) {
			engine := &FakeEngine{GestureFailures: tt.failures}
			m, rec := newTestManager(&speech.Fake{Audio: mp3}, engine)
			defer m.Close()

			err := m.Speak(context.Background(), "a", "e1")
			if engine.Starts() != tt.wantStarts {
				t.Errorf("starts = %d, want %d", engine.Starts(), tt.wantStarts)
			}
			if !tt.wantErr {
				if err != nil || !m.IsPlaying("e1") {
					t.Fatalf("err = %v, state = %s", err, m.State())
				}
				return
			}
			var pe *PlaybackStartError
			if !errors.As(err, &pe) || !errors.Is(err, ErrGestureRequired) {
				t.Fatalf("err = %v, want PlaybackStartError wrapping ErrGestureRequired", err)
			}
			rec.waitFor(t, Fetching, Errored, Idle)
		})
	}
}

func TestOutputFailureMidway(t *testing.T) {
	engine := &FakeEngine{}
	m, rec := newTestManager(&speech.Fake{Audio: mp3}, engine)
	defer m.Close()

	m.Speak(context.Background(), "a", "e1")
	engine.Outputs()[0].Finish(errors.New("device lost"))
	waitState(t, m, Idle)
	rec.waitFor(t, Fetching, Playing, Errored, Idle)
}

func TestAtMostOnePlaying(t *testing.T) {
	engine := &FakeEngine{}
	m, _ := newTestManager(&speech.Fake{Audio: mp3}, engine)
	defer m.Close()

	rng := rand.New(rand.NewSource(1))
	ids := []string{"e1", "e2", "e3"}
	for i := 0; i < 200; i++ {
		switch rng.Intn(4) {
		case 0:
			if outs := engine.Outputs(); len(outs) > 0 {
				outs[len(outs)-1].Finish(nil)
			}
		case 1:
			m.Stop()
		default:
			m.Speak(context.Background(), "x", ids[rng.Intn(len(ids))])
		}
		if n := engine.Active(); n > 1 {
			t.Fatalf("step %d: %d outputs active", i, n)
		}
	}
}

func TestGate(t *testing.T) {
	engine := &FakeEngine{ResumeErr: errors.New("not allowed")}
	g := NewGate(engine)
	if err := g.Unlock(context.Background()); err == nil || g.Open() {
		t.Fatalf("failed resume should leave the gate closed")
	}
	engine.ResumeErr = nil
	g.Unlock(context.Background())
	g.Unlock(context.Background())
	if !g.Open() || engine.Resumed() != 1 {
		t.Errorf("open = %v, resumed = %d", g.Open(), engine.Resumed())
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{Idle: "idle", Fetching: "fetching", Playing: "playing", Stopped: "stopped", Errored: "errored"} {
		if s.String() != want {
			t.Errorf("%d.String() = %q", s, s.String())
		}
	}
}

func TestPlayLocalAudio(t *testing.T) {
	synth := &speech.Fake{Audio: mp3}
	engine := &FakeEngine{}
	m, rec := newTestManager(synth, engine)
	defer m.Close()

	wav := &speech.Audio{Data: []byte("RIFF"), MIMEType: "audio/wav"}
	if err := m.Play(context.Background(), wav, "replay"); err != nil {
		t.Fatal(err)
	}
	if !m.IsPlaying("replay") {
		t.Fatal("replay not playing")
	}
	if n := len(synth.Requests()); n != 0 {
		t.Fatalf("synthesis requests = %d, want 0", n)
	}

	if err := m.Play(context.Background(), wav, "replay"); err != nil {
		t.Fatal(err)
	}
	rec.waitFor(t, Fetching, Playing, Stopped, Idle)
	if engine.Starts() != 1 {
		t.Fatalf("starts = %d, want 1", engine.Starts())
	}
}

// slowStartEngine blocks inside its first Start after the output exists,
// like a device that is already producing sound before Start returns.
type slowStartEngine struct {
	*FakeEngine
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (e *slowStartEngine) Start(ctx context.Context, data []byte, mimeType string) (Output, error) {
	out, err := e.FakeEngine.Start(ctx, data, mimeType)
	first := false
	e.once.Do(func() { first = true })
	if first {
		close(e.entered)
		<-e.release
	}
	return out, err
}

func TestReplaceDuringSlowStart(t *testing.T) {
	fake := &FakeEngine{}
	engine := &slowStartEngine{FakeEngine: fake, entered: make(chan struct{}), release: make(chan struct{})}
	m := NewManager(&speech.Fake{Audio: mp3}, engine, NewGate(engine), Config{})
	defer m.Close()

	errA := make(chan error, 1)
	go func() { errA <- m.Play(context.Background(), mp3, "A") }()
	<-engine.entered

	errB := make(chan error, 1)
	go func() { errB <- m.Play(context.Background(), mp3, "B") }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if id, _ := m.Current(); id == "B" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("second request never replaced the first")
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if n := fake.Active(); n != 1 {
		t.Fatalf("%d outputs live while the first start is pending, want 1", n)
	}

	close(engine.release)
	if err := <-errA; !errors.Is(err, ErrSuperseded) {
		t.Errorf("first request = %v, want ErrSuperseded", err)
	}
	if err := <-errB; err != nil {
		t.Fatalf("second request = %v", err)
	}
	if n := fake.Active(); n != 1 {
		t.Errorf("%d outputs live, want 1", n)
	}
	if !fake.Outputs()[0].Stopped() {
		t.Error("superseded output was not stopped")
	}
	if !m.IsPlaying("B") {
		t.Error("B is not playing")
	}
}

func TestStartAfterCancelProducesNoOutput(t *testing.T) {
	engine := &FakeEngine{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := engine.Start(ctx, mp3.Data, mp3.MIMEType); !errors.Is(err, context.Canceled) {
		t.Fatalf("Start = %v, want context.Canceled", err)
	}
	if len(engine.Outputs()) != 0 {
		t.Error("cancelled start created an output")
	}
}
