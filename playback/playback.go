// Package playback keeps at most one synthesized utterance audible at a time.
//
// A Manager fetches speech for a chat entry, starts it on an Engine and
// watches it to completion. Asking for a new entry stops the current one;
// asking again for the entry that is playing stops it. Every request gets a
// generation number so responses that arrive after being superseded are
// thrown away instead of started.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"habla/log"
	"habla/speech"
)

type State int

const (
	Idle State = iota
	Fetching
	Playing
	Stopped
	Errored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Playing:
		return "playing"
	case Stopped:
		return "stopped"
	case Errored:
		return "errored"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	// ErrGestureRequired is returned by an Engine that refuses to start
	// output before the user has interacted with the app.
	ErrGestureRequired = errors.New("audio output requires a user gesture")
	// ErrSuperseded is returned by Speak when a newer request or a Stop
	// replaced it before its audio started.
	ErrSuperseded = errors.New("playback superseded")
)

type SynthesisError struct {
	EntryID string
	Err     error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesize %s: %v", e.EntryID, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

type PlaybackStartError struct {
	EntryID string
	Err     error
}

func (e *PlaybackStartError) Error() string {
	return fmt.Sprintf("start playback of %s: %v", e.EntryID, e.Err)
}

func (e *PlaybackStartError) Unwrap() error { return e.Err }

// Output is one audible stream. Done delivers nil when the audio ends
// naturally or an error if output failed midway, and is closed by Stop.
type Output interface {
	Done() <-chan error
	Stop()
}

type Engine interface {
	// Resume makes the shared output device usable.
	Resume(ctx context.Context) error
	Start(ctx context.Context, data []byte, mimeType string) (Output, error)
}

type Event struct {
	State   State
	EntryID string
	Err     error
}

type Listener func(Event)

type Config struct {
	Voice    string
	Listener Listener
}

type Manager struct {
	synth    speech.Synthesizer
	engine   Engine
	gate     *Gate
	voice    string
	notifier *notifier

	startMu sync.Mutex

	mu      sync.Mutex
	gen     uint64
	state   State
	entryID string
	output  Output
	cancel  context.CancelFunc
}

func NewManager(synth speech.Synthesizer, engine Engine, gate *Gate, cfg Config) *Manager {
	return &Manager{
		synth:    synth,
		engine:   engine,
		gate:     gate,
		voice:    cfg.Voice,
		notifier: newNotifier(cfg.Listener),
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Current is the entry being fetched or played, if any.
func (m *Manager) Current() (string, State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entryID, m.state
}

func (m *Manager) IsPlaying(entryID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == Playing && m.entryID == entryID
}

// Speak plays text for entryID, replacing whatever is active. Speaking the
// entry that is already playing stops it instead.
func (m *Manager) Speak(ctx context.Context, text, entryID string) error {
	return m.run(ctx, entryID, func(ctx context.Context) (*speech.Audio, error) {
		audio, err := m.synth.Synthesize(ctx, text, m.voice)
		if err != nil {
			return nil, &SynthesisError{EntryID: entryID, Err: err}
		}
		return audio, nil
	})
}

// Play plays audio that is already local under entryID, with the same
// replace and toggle rules as Speak.
func (m *Manager) Play(ctx context.Context, audio *speech.Audio, entryID string) error {
	return m.run(ctx, entryID, func(context.Context) (*speech.Audio, error) {
		return audio, nil
	})
}

func (m *Manager) run(ctx context.Context, entryID string, fetch func(context.Context) (*speech.Audio, error)) error {
	m.mu.Lock()
	if m.state == Playing && m.entryID == entryID {
		m.stopLocked()
		m.mu.Unlock()
		return nil
	}
	m.stopLocked()
	m.gen++
	gen := m.gen
	fetchCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.entryID = entryID
	m.setStateLocked(Fetching, nil)
	m.mu.Unlock()
	defer cancel()

	audio, err := fetch(fetchCtx)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return ErrSuperseded
	}
	if err != nil {
		m.failLocked(err)
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	// Starts run one at a time and a superseded output is stopped before
	// startMu is released, so the next start never overlaps it. fetchCtx
	// stays live until Playing so Stop can still cancel a slow start.
	m.startMu.Lock()
	defer m.startMu.Unlock()
	out, err := m.start(fetchCtx, audio)

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		if out != nil {
			out.Stop()
		}
		return ErrSuperseded
	}
	m.cancel = nil
	if err != nil {
		err = &PlaybackStartError{EntryID: entryID, Err: err}
		m.failLocked(err)
		return err
	}
	m.output = out
	m.setStateLocked(Playing, nil)
	go m.watch(gen, out)
	return nil
}

// start unlocks the gate before the first output and retries once if the
// engine still wants a gesture.
func (m *Manager) start(ctx context.Context, audio *speech.Audio) (Output, error) {
	if err := m.gate.Unlock(ctx); err != nil {
		log.Warnf("audio unlock: %v", err)
	}
	out, err := m.engine.Start(ctx, audio.Data, audio.MIMEType)
	if err == nil || !errors.Is(err, ErrGestureRequired) {
		return out, err
	}
	if rerr := m.gate.Resume(ctx); rerr != nil {
		return nil, fmt.Errorf("%w (resume: %v)", err, rerr)
	}
	return m.engine.Start(ctx, audio.Data, audio.MIMEType)
}

func (m *Manager) watch(gen uint64, out Output) {
	err := <-out.Done()

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.output != out {
		return
	}
	m.output = nil
	if err != nil {
		m.failLocked(err)
		return
	}
	m.setStateLocked(Idle, nil)
}

// Stop silences whatever is fetching or playing.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

// Close stops playback and the event dispatcher.
func (m *Manager) Close() {
	m.Stop()
	m.notifier.close()
}

func (m *Manager) stopLocked() {
	switch m.state {
	case Fetching:
		if m.cancel != nil {
			m.cancel()
		}
	case Playing:
		if m.output != nil {
			m.output.Stop()
		}
	default:
		return
	}
	m.gen++
	m.output = nil
	m.cancel = nil
	m.setStateLocked(Stopped, nil)
	m.setStateLocked(Idle, nil)
}

func (m *Manager) failLocked(err error) {
	m.output = nil
	m.cancel = nil
	m.setStateLocked(Errored, err)
	m.setStateLocked(Idle, nil)
}

func (m *Manager) setStateLocked(s State, err error) {
	m.state = s
	log.Playback(s.String(), m.entryID, err)
	m.notifier.push(Event{State: s, EntryID: m.entryID, Err: err})
}

// notifier delivers events in order on its own goroutine so listeners may
// call back into the Manager.
type notifier struct {
	listener Listener
	mu       sync.Mutex
	queue    []Event
	wake     chan struct{}
	done     chan struct{}
	once     sync.Once
}

func newNotifier(l Listener) *notifier {
	n := &notifier{listener: l, wake: make(chan struct{}, 1), done: make(chan struct{})}
	if l != nil {
		go n.run()
	}
	return n
}

func (n *notifier) push(e Event) {
	if n.listener == nil {
		return
	}
	n.mu.Lock()
	n.queue = append(n.queue, e)
	n.mu.Unlock()
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	for {
		select {
		case <-n.done:
			return
		case <-n.wake:
		}
		for {
			n.mu.Lock()
			if len(n.queue) == 0 {
				n.mu.Unlock()
				break
			}
			e := n.queue[0]
			n.queue = n.queue[1:]
			n.mu.Unlock()
			n.listener(e)
		}
	}
}

func (n *notifier) close() {
	n.once.Do(func() { close(n.done) })
}
