package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog          zerolog.Logger
	diagFile         *os.File
	conversationFile *os.File
	logMu            sync.Mutex
	logReady         bool
	pid              int
	dir              string
)

// SubmissionMetrics describes one capture-to-transcript round trip.
type SubmissionMetrics struct {
	AudioLengthS     float64
	BlobSizeKB       float64
	WAVSizeKB        float64
	NormalizeTimeMs  float64
	DNSTimeMs        float64
	TLSTimeMs        float64
	TTFBMs           float64
	TotalTimeMs      float64
	ConnReused       bool
	TLSProtocol      string
	SourceMIMEType   string
	TargetSampleRate int
}

func ResolveDir(flagPath string) (string, error) {
	// flag first, then HABLA_LOG_PATH, then the OS default
	if flagPath != "" {
		return absPath(flagPath)
	}
	if envPath := os.Getenv("HABLA_LOG_PATH"); envPath != "" {
		return absPath(envPath)
	}
	return getDefaultDir()
}

func absPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error
	diagFile, err = os.OpenFile(filepath.Join(dir, "diagnostics_log.txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	conversationFile, err = os.OpenFile(filepath.Join(dir, "conversation_log.txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	diagLog = zerolog.New(zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if conversationFile != nil {
		conversationFile.Close()
		conversationFile = nil
	}
	logReady = false
}

// Logger returns the diagnostics logger, or a disabled one before Init.
func Logger() zerolog.Logger {
	if !logReady {
		return zerolog.Nop()
	}
	return diagLog
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func Submission(m SubmissionMetrics) {
	if !logReady {
		return
	}
	connStatus := "new"
	if m.ConnReused {
		connStatus = "reused"
	}
	ev := diagLog.Info().
		Str("source", m.SourceMIMEType).
		Int("rate", m.TargetSampleRate).
		Str("conn", connStatus)
	if m.TLSProtocol != "" {
		ev = ev.Str("tls_proto", m.TLSProtocol)
	}
	ev.Float64("audio_s", m.AudioLengthS).
		Float64("blob_kb", m.BlobSizeKB).
		Float64("wav_kb", m.WAVSizeKB).
		Float64("normalize_ms", m.NormalizeTimeMs).
		Float64("dns_ms", m.DNSTimeMs).
		Float64("tls_ms", m.TLSTimeMs).
		Float64("ttfb_ms", m.TTFBMs).
		Float64("total_ms", m.TotalTimeMs).
		Msg("submission")
}

// Conversation appends one transcript/translation pair to the conversation log.
func Conversation(transcript, translation string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	ts := time.Now().Format("2006-01-02 15:04:05")
	fmt.Fprintf(conversationFile, "%s\t[%d]\tA\t%s\n%s\t[%d]\tB\t%s\n", ts, pid, transcript, ts, pid, translation)
}

func CaptureStart(device string, sampleRate int) {
	if !logReady {
		return
	}
	diagLog.Info().Str("device", device).Int("rate", sampleRate).Msg("capture_start")
}

func CaptureStop(frames int, chunks int, blobBytes int) {
	if !logReady {
		return
	}
	diagLog.Info().Int("frames", frames).Int("chunks", chunks).Int("blob_bytes", blobBytes).Msg("capture_stop")
}

func Playback(state, entryID string, err error) {
	if !logReady {
		return
	}
	ev := diagLog.Info()
	if err != nil {
		ev = diagLog.Warn().Err(err)
	}
	ev.Str("state", state).Str("entry", entryID).Msg("playback")
}

func SessionStart(relay, voice string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("relay", relay).
		Str("voice", voice).
		Msg("session_start")
}

func SessionEnd(count int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("entries", count).
		Msg("session_end")
}
