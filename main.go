package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"habla/audio"
	"habla/capture"
	"habla/clipboard"
	"habla/config"
	"habla/doctor"
	"habla/log"
	"habla/normalize"
	"habla/player"
	"habla/relay"
	"habla/session"
	"habla/shutdown"
	"habla/speech"
	"habla/transcriber"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "serve" {
		os.Exit(runServe(os.Args[2:]))
	}
	os.Exit(run())
}

// setupLogDir resolves the log directory and sends crash output there.
func setupLogDir(flagPath string) error {
	logPath, err := log.ResolveDir(flagPath)
	if err != nil {
		return fmt.Errorf("failed to resolve log directory: %w", err)
	}
	log.SetDir(logPath)

	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
		return nil
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}
	return nil
}

func loadConfig(path, envFile string) (config.Config, bool) {
	cfg, warnings, err := config.Load(path, envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cfg, false
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}
	return cfg, true
}

func run() int {
	configFlag := flag.String("config", "habla.yaml", "Config file (missing is fine)")
	envFlag := flag.String("env", ".env", "dotenv file with HABLA_* overrides")
	relayFlag := flag.String("relay", "", "Relay base URL (overrides relay_url)")
	voiceFlag := flag.String("voice", "", "Voice for spoken translations")
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	noCuesFlag := flag.Bool("nocues", false, "Disable start/stop tones")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	profileFlag := flag.String("profile", "", "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	testFlag := flag.Bool("test", false, "Test mode (headless, stdin-driven)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: habla [flags]\n       habla serve [flags]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *versionFlag {
		fmt.Printf("habla %s\n", version)
		return 0
	}

	if err := setupLogDir(*logPathFlag); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *profileFlag != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", *profileFlag)
			if err := http.ListenAndServe(*profileFlag, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	cfg, ok := loadConfig(*configFlag, *envFlag)
	if !ok {
		return 1
	}
	if *relayFlag != "" {
		cfg.RelayURL = *relayFlag
	}
	if *voiceFlag != "" {
		cfg.Voice = *voiceFlag
	}
	if *deviceFlag != "" {
		cfg.Audio.Device = *deviceFlag
	}

	if *doctorFlag {
		wavFile := ""
		if len(flag.Args()) > 0 {
			wavFile = flag.Args()[0]
		}
		opts := doctor.Options{Config: cfg, WAV: wavFile, In: os.Stdin, Out: os.Stdout}
		if clipboard.Available() {
			opts.Clipboard = clipboard.RoundTrip
		}
		return doctor.Run(opts)
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()
	log.SessionStart(cfg.RelayURL, cfg.Voice)

	if *testFlag {
		args := flag.Args()
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "Usage: habla -test <wav-file>")
			return 1
		}
		return runTestMode(cfg, args[0])
	}

	actx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Printf("Error initializing audio context: %v\n", err)
		return 1
	}
	defer actx.Close()

	device, err := resolveDevice(actx, cfg.Audio.Device, *setupFlag)
	if errors.Is(err, audio.ErrSelectionCancelled) {
		return 130
	}
	if err != nil {
		log.Warnf("device selection failed: %v", err)
		fmt.Printf("Warning: device selection failed: %v\n", err)
		fmt.Println("Falling back to default device")
	}

	out := player.New()
	defer out.Close()
	if *noCuesFlag {
		out.DisableCues()
	}

	trans := transcriber.New(cfg.TranscribeURL(), cfg.HTTPTimeout())
	go trans.Warm()

	ctrl := capture.New(actx, capture.Config{
		Device:      device,
		SampleRate:  cfg.Audio.CaptureSampleRate,
		MaxDuration: cfg.MaxDuration(),
		OnLevel:     func(level float64) { tuiSend(AudioLevelMsg{Level: level}) },
	})
	sess := session.New(session.Deps{
		Capture:     ctrl,
		Normalizer:  normalize.New(cfg.Audio.TargetSampleRate),
		Transcriber: trans,
		Synthesizer: speech.New(cfg.SpeechURL(), cfg.HTTPTimeout()),
		Engine:      out,
	}, session.Config{
		Voice:          cfg.Voice,
		SourceLanguage: cfg.SourceLanguage,
		TargetLanguage: cfg.TargetLanguage,
		Sink:           tuiSink{},
		Cues:           out,
	})
	defer sess.Close()

	p := tea.NewProgram(newTUIModel(sess, deviceLineText(device), cfg.RelayURL), tea.WithAltScreen())
	tuiMu.Lock()
	tuiProgram = p
	tuiMu.Unlock()

	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	go func() {
		<-sigChan
		p.Quit()
	}()

	if _, err := p.Run(); err != nil {
		log.Errorf("TUI error: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func resolveDevice(actx audio.Context, name string, setup bool) (*audio.DeviceInfo, error) {
	if setup {
		return audio.SelectDevice(actx)
	}
	if name == "" {
		return nil, nil
	}
	return audio.FindDevice(actx, name)
}

func deviceLineText(dev *audio.DeviceInfo) string {
	if dev == nil {
		return "mic: system default"
	}
	if audio.IsBluetooth(dev.Name) {
		return "mic: " + dev.Name + " (BT!)"
	}
	return "mic: " + dev.Name
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configFlag := fs.String("config", "habla.yaml", "Config file (missing is fine)")
	envFlag := fs.String("env", ".env", "dotenv file with OPENAI_API_KEY and HABLA_* overrides")
	addrFlag := fs.String("addr", "", "Listen address (overrides serve.addr)")
	logPathFlag := fs.String("logpath", "", "log directory path")
	fs.Parse(args)

	if err := setupLogDir(*logPathFlag); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	cfg, ok := loadConfig(*configFlag, *envFlag)
	if !ok {
		return 1
	}
	for _, w := range cfg.ServeWarnings() {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}
	addr := cfg.Serve.Addr
	if *addrFlag != "" {
		addr = *addrFlag
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	srv := relay.New(relay.Config{
		APIKey:             cfg.OpenAIAPIKey,
		BaseURL:            cfg.Serve.OpenAIBaseURL,
		TranscriptionModel: cfg.Serve.TranscriptionModel,
		TranslationModel:   cfg.Serve.TranslationModel,
		TranslationPrompt:  cfg.Serve.TranslationPrompt,
		SpeechModel:        cfg.Serve.SpeechModel,
		DefaultVoice:       cfg.Serve.DefaultVoice,
	})
	fmt.Printf("habla relay listening on %s\n", addr)
	if err := srv.Serve(ctx, addr); err != nil {
		log.Errorf("relay: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
