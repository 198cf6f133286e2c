package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"habla/transport"
	"habla/waveform"
)

type Client struct {
	client *transport.TracedClient
	url    string
}

func New(url string, timeout time.Duration) *Client {
	return &Client{client: transport.NewTracedClient(timeout), url: url}
}

func (c *Client) URL() string { return c.url }

// Warm pre-opens the connection so the first submission skips the handshake.
func (c *Client) Warm() time.Duration {
	return c.client.Warm(c.url)
}

// Submit uploads w once. There is no retry.
func (c *Client) Submit(ctx context.Context, w *waveform.Waveform) (*Result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, FieldName, FileName))
	h.Set("Content-Type", waveform.MIMEType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, &UploadError{Err: err}
	}
	if _, err := w.WriteTo(part); err != nil {
		return nil, &UploadError{Err: err}
	}
	if err := writer.Close(); err != nil {
		return nil, &UploadError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return nil, &UploadError{Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &UploadError{Err: err}
	}

	if !resp.OK() {
		return nil, &UploadError{
			StatusCode: resp.StatusCode,
			Message:    transport.ServerMessage(resp.Body),
		}
	}

	var tResp struct {
		Transcription string `json:"transcription"`
		Translation   string `json:"translation"`
	}
	if err := json.Unmarshal(resp.Body, &tResp); err != nil {
		return nil, &UploadError{
			StatusCode: resp.StatusCode,
			Message:    "invalid JSON",
			Err:        fmt.Errorf("%w: %w", ErrMalformedResponse, err),
		}
	}
	transcript := strings.TrimSpace(tResp.Transcription)
	translation := strings.TrimSpace(tResp.Translation)
	if transcript == "" || translation == "" {
		return nil, &UploadError{
			StatusCode: resp.StatusCode,
			Message:    "missing transcription or translation",
			Err:        ErrMalformedResponse,
		}
	}

	return &Result{
		Transcript:  transcript,
		Translation: translation,
		Metrics:     resp.Metrics,
	}, nil
}
