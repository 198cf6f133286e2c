package main

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"habla/chat"
	"habla/playback"
	"habla/speech"
)

func TestWrapText(t *testing.T) {
	tests := []struct {
		text  string
		width int
		want  []string
	}{
		{"", 10, []string{""}},
		{"hola", 10, []string{"hola"}},
		{"buenos días amigo", 11, []string{"buenos días", "amigo"}},
		{"abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"ñññ ñññ", 3, []string{"ñññ", "ñññ"}},
	}
	for _, tt := range tests {
		got := wrapText(tt.text, tt.width)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Errorf("wrapText(%q, %d) = %q, want %q", tt.text, tt.width, got, tt.want)
		}
	}
}

func update(m tuiModel, msg tea.Msg) tuiModel {
	next, _ := m.Update(msg)
	return next.(tuiModel)
}

func TestModelEntriesAndSelection(t *testing.T) {
	m := newTUIModel(nil, "mic: test", "http://relay")
	m = update(m, EntriesMsg{
		Transcript:  chat.Entry{ID: "1", Speaker: chat.SpeakerA, Text: "good morning", Language: "en"},
		Translation: chat.Entry{ID: "2", Speaker: chat.SpeakerB, Text: "buenos días", Language: "es"},
	})
	if m.selected != 1 {
		t.Fatalf("selected = %d, want newest entry", m.selected)
	}

	m = update(m, tea.KeyMsg{Type: tea.KeyUp})
	if m.selected != 0 {
		t.Errorf("after up: selected = %d", m.selected)
	}
	m = update(m, tea.KeyMsg{Type: tea.KeyUp})
	if m.selected != 0 {
		t.Errorf("up at top moved selection to %d", m.selected)
	}
	m = update(m, tea.KeyMsg{Type: tea.KeyDown})
	m = update(m, tea.KeyMsg{Type: tea.KeyDown})
	if m.selected != 1 {
		t.Errorf("down at bottom: selected = %d", m.selected)
	}

	m = update(m, tea.WindowSizeMsg{Width: 120, Height: 30})
	view := m.View()
	for _, want := range []string{"good morning", "buenos días", "mic: test", "READY"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestModelRecordingLifecycle(t *testing.T) {
	m := newTUIModel(nil, "", "")
	m = update(m, tea.WindowSizeMsg{Width: 100, Height: 30})
	m = update(m, RecordingStartMsg{})
	m = update(m, AudioLevelMsg{Level: 0.5})
	if m.peakLevel != 0.5 {
		t.Errorf("peak = %v", m.peakLevel)
	}
	m = update(m, RecordingTickMsg{Elapsed: 65e9})
	if !strings.Contains(m.View(), "REC 01:05") {
		t.Error("view missing recording timer")
	}

	m = update(m, RecordingStopMsg{})
	m = update(m, AudioLevelMsg{Level: 0.9})
	if m.audioLevel != 0 {
		t.Errorf("level updated while idle: %v", m.audioLevel)
	}
	m = update(m, SubmittingMsg{On: true})
	if !strings.Contains(m.View(), "translating") {
		t.Error("view missing submitting indicator")
	}
}

func TestModelPlaybackErrorStatus(t *testing.T) {
	m := newTUIModel(nil, "", "")
	err := &playback.SynthesisError{EntryID: "2", Err: &speech.SynthesisError{StatusCode: 500, Message: "boom"}}
	m = update(m, PlaybackMsg{Event: playback.Event{State: playback.Errored, EntryID: "2", Err: err}})
	if !strings.HasPrefix(m.status, "Could not synthesize speech") {
		t.Errorf("status = %q", m.status)
	}

	m = update(m, actionDoneMsg{err: errors.New("boom")})
	if m.status != "Error: boom" {
		t.Errorf("status = %q", m.status)
	}
}

func TestModelQuit(t *testing.T) {
	m := newTUIModel(nil, "", "")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
}
