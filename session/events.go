package session

import (
	"time"

	"habla/chat"
	"habla/playback"
)

// EventSink is the display layer. Calls arrive from background goroutines
// and must not block.
type EventSink interface {
	RecordingStart()
	RecordingStop()
	RecordingTick(elapsed time.Duration)
	AudioLevel(level float64)
	Status(text string)
	Submitting(submitting bool)
	Entries(transcript, translation chat.Entry)
	Playback(ev playback.Event)
}

type nopSink struct{}

func (nopSink) RecordingStart()                {}
func (nopSink) RecordingStop()                 {}
func (nopSink) RecordingTick(time.Duration)    {}
func (nopSink) AudioLevel(float64)             {}
func (nopSink) Status(string)                  {}
func (nopSink) Submitting(bool)                {}
func (nopSink) Entries(chat.Entry, chat.Entry) {}
func (nopSink) Playback(playback.Event)        {}
