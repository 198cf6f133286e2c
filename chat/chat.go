// Package chat is the in-memory conversation: an append-only list of
// transcripts and translations, each with an identity that survives
// reordering of the display.
package chat

import (
	"sync"

	"github.com/google/uuid"
)

type Speaker string

const (
	SpeakerA Speaker = "A" // what the user said
	SpeakerB Speaker = "B" // its translation
)

type Entry struct {
	ID       string
	Seq      int
	Speaker  Speaker
	Text     string
	Language string
}

type Log struct {
	mu      sync.RWMutex
	entries []Entry
	byID    map[string]int
}

func NewLog() *Log {
	return &Log{byID: make(map[string]int)}
}

func (l *Log) Append(speaker Speaker, text, language string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(speaker, text, language)
}

// AppendPair adds a transcript and its translation as consecutive entries.
func (l *Log) AppendPair(transcript, sourceLang, translation, targetLang string) (Entry, Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.appendLocked(SpeakerA, transcript, sourceLang)
	b := l.appendLocked(SpeakerB, translation, targetLang)
	return a, b
}

func (l *Log) appendLocked(speaker Speaker, text, language string) Entry {
	e := Entry{
		ID:       uuid.NewString(),
		Seq:      len(l.entries),
		Speaker:  speaker,
		Text:     text,
		Language: language,
	}
	l.byID[e.ID] = len(l.entries)
	l.entries = append(l.entries, e)
	return e
}

// Entries returns a copy in insertion order.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...)
}

func (l *Log) Get(id string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.byID[id]
	if !ok {
		return Entry{}, false
	}
	return l.entries[i], true
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Last returns the most recent entry.
func (l *Log) Last() (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return l.entries[len(l.entries)-1], true
}
