// Package audio plays short cues for flight events: boundary bounces,
// reaching maximum speed and mode switches.
package audio

import (
	"math"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/gopxl/beep/generators"
)

// SampleRate is the output rate used for every cue.
const SampleRate = beep.SampleRate(44100)

// Cue identifies one sound.
type Cue int

const (
	CueBounce Cue = iota
	CueMaxSpeed
	CueModeChange
	CueStopped
)

func (c Cue) String() string {
	switch c {
	case CueBounce:
		return "bounce"
	case CueMaxSpeed:
		return "max_speed"
	case CueModeChange:
		return "mode_change"
	case CueStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// tone returns a sine tone of freq Hz lasting d.
func tone(rate beep.SampleRate, freq float64, d time.Duration) beep.Streamer {
	sine, err := generators.SineTone(rate, freq)
	if err != nil {
		return beep.Silence(rate.N(d))
	}
	return beep.Take(rate.N(d), sine)
}

// withVolume scales s linearly; vol <= 0 is silent.
func withVolume(s beep.Streamer, vol float64) beep.Streamer {
	if vol <= 0 {
		return &effects.Volume{Streamer: s, Base: 2, Silent: true}
	}
	return &effects.Volume{Streamer: s, Base: 2, Volume: math.Log2(vol)}
}

// Streamer builds a fresh finite streamer for cue at volume vol (0..1).
func Streamer(cue Cue, rate beep.SampleRate, vol float64) beep.Streamer {
	var s beep.Streamer
	switch cue {
	case CueBounce:
		s = tone(rate, 220, 90*time.Millisecond)
	case CueMaxSpeed:
		s = beep.Seq(
			tone(rate, 1320, 60*time.Millisecond),
			beep.Silence(rate.N(40*time.Millisecond)),
			tone(rate, 1320, 60*time.Millisecond),
		)
	case CueModeChange:
		s = beep.Seq(
			tone(rate, 660, 80*time.Millisecond),
			tone(rate, 990, 120*time.Millisecond),
		)
	case CueStopped:
		s = tone(rate, 440, 50*time.Millisecond)
	default:
		return nil
	}
	return withVolume(s, vol)
}
