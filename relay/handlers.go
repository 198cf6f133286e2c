package relay

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"habla/log"
	"habla/transcriber"
)

type transcribeResponse struct {
	Transcription string `json:"transcription"`
	Translation   string `json:"translation"`
}

type speechRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile(transcriber.FieldName)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "Audio file too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	defer file.Close()
	s.metrics.uploadBytes.Observe(float64(header.Size))

	filename := header.Filename
	if filename == "" {
		filename = transcriber.FileName
	}

	start := time.Now()
	tr, err := s.client.CreateTranscription(r.Context(), openai.AudioRequest{
		Model:    s.cfg.TranscriptionModel,
		FilePath: filename,
		Reader:   file,
	})
	s.observe("transcription", start, err)
	if err != nil {
		log.Errorf("transcription: %v", err)
		writeJSONError(w, http.StatusInternalServerError, upstreamMessage(err))
		return
	}

	start = time.Now()
	resp, err := s.client.CreateChatCompletion(r.Context(), openai.ChatCompletionRequest{
		Model: s.cfg.TranslationModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: s.cfg.TranslationPrompt},
			{Role: openai.ChatMessageRoleUser, Content: tr.Text},
		},
	})
	s.observe("translation", start, err)
	if err != nil {
		log.Errorf("translation: %v", err)
		writeJSONError(w, http.StatusInternalServerError, upstreamMessage(err))
		return
	}

	var translation string
	if len(resp.Choices) > 0 {
		translation = strings.TrimSpace(resp.Choices[0].Message.Content)
	}
	writeJSON(w, http.StatusOK, transcribeResponse{
		Transcription: tr.Text,
		Translation:   translation,
	})
}

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	var req speechRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSONError(w, http.StatusBadRequest, "Text is required")
		return
	}
	voice := req.Voice
	if voice == "" {
		voice = s.cfg.DefaultVoice
	}

	start := time.Now()
	raw, err := s.client.CreateSpeech(r.Context(), openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.cfg.SpeechModel),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		s.observe("speech", start, err)
		log.Errorf("speech: %v", err)
		writeJSONError(w, http.StatusInternalServerError, upstreamMessage(err))
		return
	}
	defer raw.Close()
	data, err := io.ReadAll(raw)
	s.observe("speech", start, err)
	if err != nil {
		log.Errorf("speech body: %v", err)
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.metrics.speechBytes.Observe(float64(len(data)))

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) observe(op string, start time.Time, err error) {
	s.metrics.upstreamDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.upstreamErrors.WithLabelValues(op).Inc()
	}
}

// upstreamMessage prefers the message OpenAI put in its error body.
func upstreamMessage(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.Err != nil {
		return reqErr.Err.Error()
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
