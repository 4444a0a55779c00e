package audio

import (
	"context"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"

	"github.com/opd-ai/go-dronesim/pkg/event"
	"github.com/opd-ai/go-dronesim/pkg/logging"
)

// cueForEvent maps bus events to cues. Other events are silent.
var cueForEvent = map[event.Type]Cue{
	event.BoundaryBounced: CueBounce,
	event.MaxSpeedReached: CueMaxSpeed,
	event.ModeChanged:     CueModeChange,
	event.StoppedMoving:   CueStopped,
}

// Player mixes cues into the speaker. Until Init succeeds every Play is a
// no-op, so a host without an audio device runs silently.
type Player struct {
	mu     sync.Mutex
	mixer  *beep.Mixer
	output func(beep.Streamer)
	volume float64
	played map[Cue]int
	logger *logging.Logger
}

// NewPlayer creates a silent player at volume vol (0..1).
func NewPlayer(vol float64, logger *logging.Logger) *Player {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Player{
		mixer:  &beep.Mixer{},
		volume: vol,
		played: make(map[Cue]int),
		logger: logger.With("audio"),
	}
}

// Init opens the speaker. Callers treat an error as "no audio" and keep
// running.
func (p *Player) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.output != nil {
		return nil
	}
	if err := speaker.Init(SampleRate, SampleRate.N(100*time.Millisecond)); err != nil {
		return err
	}
	speaker.Play(p.mixer)
	p.output = func(s beep.Streamer) {
		speaker.Lock()
		p.mixer.Add(s)
		speaker.Unlock()
	}
	p.logger.Info(context.Background(), "Audio initialized", "sample_rate", int(SampleRate))
	return nil
}

// Enabled reports whether cues reach an output.
func (p *Player) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.output != nil
}

// Play queues cue.
func (p *Player) Play(cue Cue) {
	p.mu.Lock()
	out := p.output
	vol := p.volume
	if out != nil {
		p.played[cue]++
	}
	p.mu.Unlock()

	if out == nil {
		return
	}
	if s := Streamer(cue, SampleRate, vol); s != nil {
		out(s)
	}
}

// Played returns how many times cue has been queued.
func (p *Player) Played(cue Cue) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.played[cue]
}

// Attach plays a cue for each mapped event published on bus. Handlers run
// on the publishing goroutine; Play only appends to the mixer.
func (p *Player) Attach(bus *event.Bus) *event.Subscription {
	types := make([]event.Type, 0, len(cueForEvent))
	for t := range cueForEvent {
		types = append(types, t)
	}
	return bus.SubscribeAll(types, func(e event.Event) {
		if cue, ok := cueForEvent[e.GetType()]; ok {
			p.Play(cue)
		}
	})
}

// Close silences pending cues and detaches from the speaker.
func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.output == nil {
		return
	}
	speaker.Clear()
	speaker.Close()
	p.output = nil
}
