package main

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"habla/chat"
	"habla/clipboard"
	"habla/clock"
	"habla/playback"
	"habla/session"
)

// TUI message types
type RecordingStartMsg struct{}
type RecordingStopMsg struct{}
type RecordingTickMsg struct{ Elapsed time.Duration }
type AudioLevelMsg struct{ Level float64 }
type StatusMsg struct{ Text string }
type SubmittingMsg struct{ On bool }
type EntriesMsg struct{ Transcript, Translation chat.Entry }
type PlaybackMsg struct{ Event playback.Event }
type actionDoneMsg struct{ err error }
type tickMsg time.Time

type tuiModel struct {
	sess *session.Session

	frame         int
	width, height int
	recording     bool
	submitting    bool
	elapsed       time.Duration
	audioLevel    float64
	peakLevel     float64
	entries       []chat.Entry
	selected      int
	status        string
	playingID     string
	playState     playback.State
	deviceLine    string
	relayLine     string
	gestured      bool
}

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex
)

var (
	orbColorsRec  = []string{"", "226", "214", "208", "196", "160", "124", "88", "236", "236"}
	orbColorsIdle = []string{"", "195", "117", "75", "33", "27", "25", "17", "236", "236"}
	orbStylesRec  [10]lipgloss.Style
	orbStylesIdle [10]lipgloss.Style

	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	helpKeyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	recStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	busyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	speakerStyleA = lipgloss.NewStyle().Foreground(lipgloss.Color("4")).Bold(true)
	speakerStyleB = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	selectedStyle = lipgloss.NewStyle().Background(lipgloss.Color("236"))
	playingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

func init() {
	for i, c := range orbColorsRec {
		if c != "" {
			orbStylesRec[i] = lipgloss.NewStyle().Foreground(lipgloss.Color(c))
		}
	}
	for i, c := range orbColorsIdle {
		if c != "" {
			orbStylesIdle[i] = lipgloss.NewStyle().Foreground(lipgloss.Color(c))
		}
	}
}

func newTUIModel(sess *session.Session, deviceLine, relayURL string) tuiModel {
	return tuiModel{
		sess:       sess,
		deviceLine: deviceLine,
		relayLine:  "relay: " + relayURL,
		selected:   -1,
	}
}

// tuiSend delivers msg to the running program, if any.
func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// tuiSink forwards session events to the program.
type tuiSink struct{}

func (tuiSink) RecordingStart()               { tuiSend(RecordingStartMsg{}) }
func (tuiSink) RecordingStop()                { tuiSend(RecordingStopMsg{}) }
func (tuiSink) RecordingTick(d time.Duration) { tuiSend(RecordingTickMsg{Elapsed: d}) }
func (tuiSink) AudioLevel(level float64)      { tuiSend(AudioLevelMsg{Level: level}) }
func (tuiSink) Status(text string)            { tuiSend(StatusMsg{Text: text}) }
func (tuiSink) Submitting(on bool)            { tuiSend(SubmittingMsg{On: on}) }
func (tuiSink) Entries(a, b chat.Entry)       { tuiSend(EntriesMsg{Transcript: a, Translation: b}) }
func (tuiSink) Playback(e playback.Event)     { tuiSend(PlaybackMsg{Event: e}) }

func tuiTick() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

// action runs fn off the UI goroutine and reports its error back.
func action(fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{err: fn(context.Background())}
	}
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		m.frame++
		return m, tuiTick()

	case RecordingStartMsg:
		m.recording = true
		m.elapsed = 0
		m.audioLevel = 0
		m.peakLevel = 0
		m.status = ""

	case RecordingStopMsg:
		m.recording = false
		m.audioLevel = 0

	case RecordingTickMsg:
		m.elapsed = msg.Elapsed

	case AudioLevelMsg:
		if m.recording {
			m.audioLevel = m.audioLevel*0.6 + msg.Level*0.4
			if msg.Level > m.peakLevel {
				m.peakLevel = msg.Level
			}
		}

	case StatusMsg:
		m.status = msg.Text

	case SubmittingMsg:
		m.submitting = msg.On

	case EntriesMsg:
		m.entries = append(m.entries, msg.Transcript, msg.Translation)
		m.selected = len(m.entries) - 1

	case PlaybackMsg:
		m.playState = msg.Event.State
		m.playingID = msg.Event.EntryID
		if msg.Event.State == playback.Errored && msg.Event.Err != nil {
			m.status = session.StatusText(msg.Event.Err)
		}

	case actionDoneMsg:
		if msg.err != nil {
			m.status = session.StatusText(msg.err)
		}
	}
	return m, nil
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	if !m.gestured && m.sess != nil {
		m.gestured = true
		cmds = append(cmds, action(m.sess.Gesture))
	}

	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
	case "down", "j":
		if m.selected < len(m.entries)-1 {
			m.selected++
		}
	}

	if m.sess == nil {
		return m, tea.Batch(cmds...)
	}

	switch msg.String() {
	case "r", " ":
		cmds = append(cmds, action(m.sess.ToggleRecording))
	case "enter", "p":
		if e, ok := m.selectedEntry(); ok {
			cmds = append(cmds, action(func(ctx context.Context) error {
				return m.sess.Speak(ctx, e.ID)
			}))
		}
	case "s", "esc":
		m.sess.StopPlayback()
	case "l":
		cmds = append(cmds, action(m.sess.ReplayLast))
	case "c":
		if e, ok := m.selectedEntry(); ok {
			if err := clipboard.Copy(e.Text); err != nil {
				m.status = "Could not copy: " + err.Error()
			} else {
				m.status = "Copied to clipboard"
			}
		}
	}
	return m, tea.Batch(cmds...)
}

func (m tuiModel) selectedEntry() (chat.Entry, bool) {
	if m.selected < 0 || m.selected >= len(m.entries) {
		return chat.Entry{}, false
	}
	return m.entries[m.selected], true
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	const leftWidth = 30
	level := m.audioLevel
	if !m.recording {
		level = 0
	}

	left := renderOrb(m.frame, level, m.recording)

	var info []string
	switch {
	case m.recording:
		info = append(info, recStyle.Render("● REC "+clock.Format(m.elapsed)))
		if m.elapsed > time.Second && m.peakLevel < 0.02 {
			info = append(info, statusStyle.Render("  ⚠ no voice detected"))
		}
	case m.submitting:
		info = append(info, busyStyle.Render("◌ translating..."))
	default:
		info = append(info, dimStyle.Render("○ READY"))
	}
	if m.deviceLine != "" {
		info = append(info, dimStyle.Render(m.deviceLine))
	}
	if m.relayLine != "" {
		info = append(info, dimStyle.Render(m.relayLine))
	}
	info = append(info, "")
	for _, h := range [][2]string{
		{"r", "record / stop"},
		{"↑/↓", "select"},
		{"enter", "speak"},
		{"s", "stop audio"},
		{"l", "replay"},
		{"c", "copy"},
		{"q", "quit"},
	} {
		info = append(info, helpKeyStyle.Render(fmt.Sprintf("%-6s", h[0]))+helpStyle.Render(h[1]))
	}
	info = append(info, helpStyle.Render("habla "+version))
	left += strings.Join(info, "\n")

	leftPanel := lipgloss.NewStyle().
		Width(leftWidth).
		Height(m.height).
		Render(left)

	chatWidth := m.width - leftWidth - 1
	if chatWidth < 20 {
		chatWidth = 20
	}
	chatHeight := m.height
	if m.status != "" {
		chatHeight -= 2
	}
	body := m.renderChat(chatWidth-2, chatHeight)
	if m.status != "" {
		body += "\n\n" + statusStyle.Render(m.status)
	}
	chatPanel := lipgloss.NewStyle().
		Width(chatWidth).
		Height(m.height).
		PaddingLeft(1).
		Render(body)

	return lipgloss.JoinHorizontal(lipgloss.Top, leftPanel, chatPanel)
}

// renderChat lays out entries bottom-up so the selection stays visible.
func (m tuiModel) renderChat(width, height int) string {
	if len(m.entries) == 0 {
		return dimStyle.Render("Press r and speak. Translations appear here.")
	}
	if width < 10 {
		width = 10
	}

	blocks := make([][]string, len(m.entries))
	for i, e := range m.entries {
		blocks[i] = m.renderEntry(i, e, width)
	}

	last := len(blocks) - 1
	if m.selected >= 0 && m.selected < last {
		last = m.selected
	}
	var out []string
	used := 0
	for i := last; i >= 0; i-- {
		if used+len(blocks[i]) > height && len(out) > 0 {
			break
		}
		out = append(blocks[i], out...)
		used += len(blocks[i])
	}
	return strings.Join(out, "\n")
}

func (m tuiModel) renderEntry(i int, e chat.Entry, width int) []string {
	label := speakerStyleA.Render(string(e.Speaker))
	if e.Speaker == chat.SpeakerB {
		label = speakerStyleB.Render(string(e.Speaker))
	}
	marker := ""
	if e.ID == m.playingID {
		switch m.playState {
		case playback.Fetching:
			marker = " " + busyStyle.Render("…")
		case playback.Playing:
			marker = " " + playingStyle.Render("▶")
		}
	}

	lines := wrapText(e.Text, width-4)
	out := make([]string, 0, len(lines)+1)
	for j, line := range lines {
		prefix := "   "
		if j == 0 {
			prefix = label + "  "
		}
		if j == len(lines)-1 {
			line += dimStyle.Render(" ("+e.Language+")") + marker
		}
		if i == m.selected {
			line = selectedStyle.Render(line)
		}
		out = append(out, prefix+line)
	}
	return append(out, "")
}

// renderOrb draws a level-reactive disc with half-block characters.
func renderOrb(frame int, level float64, recording bool) string {
	const charsW = 28
	const charsH = 9
	const pixH = charsH * 2

	centerX := float64(charsW) / 2
	centerY := float64(pixH) / 2

	var breathe float64
	if recording {
		breathe = math.Sin(float64(frame)*0.12)*0.03 + level*8.0 - 0.04
	} else {
		breathe = math.Sin(float64(frame)*0.07)*0.02 - 0.04
	}

	radii := []struct {
		r, react float64
	}{
		{0.8, 0.10}, {1.6, 0.15}, {2.4, 0.30}, {3.2, 0.40},
		{4.0, 0.35}, {4.8, 0.20}, {5.6, 0.05}, {6.4, 0}, {7.2, 0},
	}

	styles := &orbStylesIdle
	if recording {
		styles = &orbStylesRec
	}

	pixel := func(x, y int) int {
		dx := float64(x) - centerX
		dy := float64(y) - centerY
		dist := math.Sqrt(dx*dx + dy*dy)
		for i, ring := range radii {
			radius := min(ring.r+breathe*ring.react*20, 7.2)
			if dist < radius {
				return i + 1
			}
		}
		return 0
	}

	var b strings.Builder
	for cy := 0; cy < charsH; cy++ {
		for cx := 0; cx < charsW; cx++ {
			top, bot := pixel(cx, cy*2), pixel(cx, cy*2+1)
			switch {
			case top == 0 && bot == 0:
				b.WriteString(" ")
			case top == bot || bot == 0:
				b.WriteString(styles[top].Render("▀"))
			default:
				b.WriteString(styles[bot].Render("▄"))
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// wrapText breaks text on spaces so no line exceeds width runes.
func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	runes := []rune(text)
	for len(runes) > width {
		splitAt := width
		for i := width; i > 0; i-- {
			if runes[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, string(runes[:splitAt]))
		runes = []rune(strings.TrimLeft(string(runes[splitAt:]), " "))
	}
	if len(runes) > 0 {
		lines = append(lines, string(runes))
	}
	return lines
}
