// Package speech asks the relay to synthesize text into audio.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"habla/transport"
)

const DefaultVoice = "nova"

var (
	ErrEmptyText         = errors.New("nothing to synthesize")
	ErrMalformedResponse = errors.New("response is not audio")
)

type SynthesisError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *SynthesisError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("speech synthesis failed (%d): %s", e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("speech synthesis failed (%d)", e.StatusCode)
	case e.Err != nil:
		return "speech synthesis failed: " + e.Err.Error()
	}
	return "speech synthesis failed"
}

func (e *SynthesisError) Unwrap() error { return e.Err }

type Audio struct {
	Data     []byte
	MIMEType string
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (*Audio, error)
}

type Client struct {
	client *transport.TracedClient
	url    string
}

func New(url string, timeout time.Duration) *Client {
	return &Client{client: transport.NewTracedClient(timeout), url: url}
}

func (c *Client) URL() string { return c.url }

func (c *Client) Synthesize(ctx context.Context, text, voice string) (*Audio, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &SynthesisError{Err: ErrEmptyText}
	}
	if voice == "" {
		voice = DefaultVoice
	}
	payload, err := json.Marshal(struct {
		Text  string `json:"text"`
		Voice string `json:"voice,omitempty"`
	}{text, voice})
	if err != nil {
		return nil, &SynthesisError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, &SynthesisError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &SynthesisError{Err: err}
	}
	if !resp.OK() {
		return nil, &SynthesisError{StatusCode: resp.StatusCode, Message: transport.ServerMessage(resp.Body)}
	}

	mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mt, "audio/") {
		return nil, &SynthesisError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("unexpected content type %q", resp.Header.Get("Content-Type")),
			Err:        ErrMalformedResponse,
		}
	}
	if len(resp.Body) == 0 {
		return nil, &SynthesisError{StatusCode: resp.StatusCode, Message: "empty audio", Err: ErrMalformedResponse}
	}
	return &Audio{Data: resp.Body, MIMEType: mt}, nil
}

// Fake returns Audio for every request, or Err.
type Fake struct {
	Audio *Audio
	Err   error
	// Hold, when non-nil, keeps each request pending until it is closed or
	// the context ends.
	Hold chan struct{}

	mu    sync.Mutex
	texts []string
}

func (f *Fake) Synthesize(ctx context.Context, text, voice string) (*Audio, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	hold := f.Hold
	f.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, &SynthesisError{Err: ctx.Err()}
		}
	}
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Audio, nil
}

func (f *Fake) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}
