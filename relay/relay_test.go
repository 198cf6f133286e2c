package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"habla/speech"
	"habla/transcriber"
	"habla/waveform"
)

// fakeOpenAI answers the three endpoints the relay uses and records what
// it was sent.
type fakeOpenAI struct {
	mu          sync.Mutex
	failOp      string
	transcript  string
	translation string
	uploadName  string
	systemMsg   string
	userMsg     string
	chatModel   string
	voice       string
	input       string
}

func (f *fakeOpenAI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		op := strings.TrimPrefix(r.URL.Path, "/v1/")
		if op == f.failOp {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "Incorrect API key provided", "type": "invalid_request_error"}})
			return
		}
		switch op {
		case "audio/transcriptions":
			_, header, err := r.FormFile("file")
			if err != nil {
				t.Errorf("transcription upload: %v", err)
			} else {
				f.uploadName = header.Filename
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"text": f.transcript})
		case "chat/completions":
			var req struct {
				Model    string `json:"model"`
				Messages []struct {
					Role    string `json:"role"`
					Content string `json:"content"`
				} `json:"messages"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			f.chatModel = req.Model
			if len(req.Messages) == 2 {
				f.systemMsg = req.Messages[0].Content
				f.userMsg = req.Messages[1].Content
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":     "chatcmpl-1",
				"object": "chat.completion",
				"model":  req.Model,
				"choices": []map[string]any{{
					"index":         0,
					"message":       map[string]any{"role": "assistant", "content": " " + f.translation + "\n"},
					"finish_reason": "stop",
				}},
			})
		case "audio/speech":
			var req struct {
				Input string `json:"input"`
				Voice string `json:"voice"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			f.voice, f.input = req.Voice, req.Input
			w.Header().Set("Content-Type", "audio/mpeg")
			_, _ = w.Write([]byte{0xFF, 0xFB, 0x90, 0x00})
		default:
			http.NotFound(w, r)
		}
	})
}

func newTestRelay(t *testing.T, fake *fakeOpenAI) *httptest.Server {
	t.Helper()
	upstream := httptest.NewServer(fake.handler(t))
	t.Cleanup(upstream.Close)
	s := New(Config{
		APIKey:            "test-key",
		BaseURL:           upstream.URL + "/v1",
		TranslationPrompt: "translate",
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func testWave(t *testing.T) *waveform.Waveform {
	t.Helper()
	w, err := waveform.New(16000, make([]int16, 1600))
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func TestTranscribeRoundTrip(t *testing.T) {
	fake := &fakeOpenAI{transcript: "hola amigo", translation: "hello friend"}
	srv := newTestRelay(t, fake)

	client := transcriber.New(srv.URL+"/api/openai", 5*time.Second)
	res, err := client.Submit(context.Background(), testWave(t))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Transcript != "hola amigo" || res.Translation != "hello friend" {
		t.Fatalf("result = %+v", res)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.uploadName != transcriber.FileName {
		t.Errorf("upload name = %q", fake.uploadName)
	}
	if fake.systemMsg != "translate" || fake.userMsg != "hola amigo" {
		t.Errorf("messages = %q / %q", fake.systemMsg, fake.userMsg)
	}
	if fake.chatModel != "gpt-4o-mini" {
		t.Errorf("chat model = %q", fake.chatModel)
	}
}

func TestTranscribeMissingField(t *testing.T) {
	srv := newTestRelay(t, &fakeOpenAI{})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("other", "x")
	mw.Close()

	resp, err := http.Post(srv.URL+"/api/openai", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&got)
	if got["error"] != "Missing required fields" {
		t.Fatalf("body = %v", got)
	}
}

func TestTranscribeUpstreamFailure(t *testing.T) {
	tests := []struct {
		name   string
		failOp string
	}{
		{"transcription", "audio/transcriptions"},
		{"translation", "chat/completions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestRelay(t, &fakeOpenAI{failOp: tt.failOp, transcript: "x", translation: "y"})
			client := transcriber.New(srv.URL+"/api/openai", 5*time.Second)
			_, err := client.Submit(context.Background(), testWave(t))
			upErr, ok := err.(*transcriber.UploadError)
			if !ok {
				t.Fatalf("err = %T %v, want *UploadError", err, err)
			}
			if upErr.StatusCode != http.StatusInternalServerError {
				t.Errorf("status = %d", upErr.StatusCode)
			}
			if upErr.Message != "Incorrect API key provided" {
				t.Errorf("message = %q", upErr.Message)
			}
		})
	}
}

func TestSpeechRoundTrip(t *testing.T) {
	fake := &fakeOpenAI{}
	srv := newTestRelay(t, fake)

	client := speech.New(srv.URL+"/api/tts", 5*time.Second)
	audio, err := client.Synthesize(context.Background(), "hello friend", "nova")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if audio.MIMEType != "audio/mpeg" || len(audio.Data) != 4 {
		t.Fatalf("audio = %s %d bytes", audio.MIMEType, len(audio.Data))
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.voice != "nova" || fake.input != "hello friend" {
		t.Fatalf("upstream got voice=%q input=%q", fake.voice, fake.input)
	}
}

func TestSpeechDefaultVoice(t *testing.T) {
	fake := &fakeOpenAI{}
	srv := newTestRelay(t, fake)

	resp, err := http.Post(srv.URL+"/api/tts", "application/json", strings.NewReader(`{"text":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Content-Length") != "4" {
		t.Errorf("content-length = %q", resp.Header.Get("Content-Length"))
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.voice != "alloy" {
		t.Fatalf("voice = %q, want alloy", fake.voice)
	}
}

func TestSpeechBadRequests(t *testing.T) {
	srv := newTestRelay(t, &fakeOpenAI{})
	tests := []struct {
		body string
		want string
	}{
		{`{"text":""}`, "Text is required"},
		{`{"voice":"nova"}`, "Text is required"},
		{`not json`, "Invalid request body"},
	}
	for _, tt := range tests {
		resp, err := http.Post(srv.URL+"/api/tts", "application/json", strings.NewReader(tt.body))
		if err != nil {
			t.Fatal(err)
		}
		var got map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&got)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest || got["error"] != tt.want {
			t.Errorf("%s: status %d body %v", tt.body, resp.StatusCode, got)
		}
	}
}

func TestSpeechUpstreamFailure(t *testing.T) {
	srv := newTestRelay(t, &fakeOpenAI{failOp: "audio/speech"})
	client := speech.New(srv.URL+"/api/tts", 5*time.Second)
	_, err := client.Synthesize(context.Background(), "hi", "nova")
	synthErr, ok := err.(*speech.SynthesisError)
	if !ok {
		t.Fatalf("err = %T %v", err, err)
	}
	if synthErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", synthErr.StatusCode)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestRelay(t, &fakeOpenAI{})

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	// one request so the labelled series exist
	r, _ := http.Post(srv.URL+"/api/tts", "application/json", strings.NewReader(`{}`))
	r.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `habla_relay_requests_total{route="tts",status="400"} 1`) {
		t.Fatalf("metrics missing request counter:\n%s", body)
	}
}

func TestWrongMethod(t *testing.T) {
	srv := newTestRelay(t, &fakeOpenAI{})
	resp, err := http.Get(srv.URL + "/api/openai")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
