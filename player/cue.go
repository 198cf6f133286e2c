package player

import (
	"math"
	"sync"
)

type Cue int

const (
	CueStart Cue = iota
	CueStop
	CueError
)

const cueRate = 44100

var (
	cueSamples map[Cue][]int16
	cueOnce    sync.Once
)

func initCues() {
	cueSamples = map[Cue][]int16{
		// high short tick when recording starts
		CueStart: tick(1200, 0.12, 0.5, 60),
		CueStop:  tick(900, 0.15, 0.5, 40),
		// low double beep
		CueError: doubleBeep(350, 0.08, 0.05, 0.6, 30),
	}
}

func tick(freq, duration, volume, decay float64) []int16 {
	n := int(cueRate * duration)
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / cueRate
		envelope := math.Exp(-t * decay)
		samples[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
	}
	return samples
}

func doubleBeep(freq, beepDur, gapDur, volume, decay float64) []int16 {
	beep := tick(freq, beepDur, volume, decay)
	gap := make([]int16, int(cueRate*gapDur))
	result := make([]int16, 0, len(beep)*2+len(gap))
	result = append(result, beep...)
	result = append(result, gap...)
	return append(result, beep...)
}

// Cue plays a short tone without waiting for it. It is silent until the
// player has been resumed.
func (p *Player) Cue(c Cue) {
	p.mu.Lock()
	ok := p.resumed && p.cues
	p.mu.Unlock()
	if !ok {
		return
	}
	cueOnce.Do(initCues)
	samples := cueSamples[c]
	if len(samples) == 0 {
		return
	}
	go func() {
		out, err := p.backend.play(samples, cueRate)
		if err != nil {
			return
		}
		<-out.Done()
	}()
}
