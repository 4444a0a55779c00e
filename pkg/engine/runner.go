// pkg/engine/runner.go
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/opd-ai/go-dronesim/pkg/event"
	"github.com/opd-ai/go-dronesim/pkg/logging"
	"github.com/opd-ai/go-dronesim/pkg/physics"
	"github.com/opd-ai/go-dronesim/pkg/trace"
)

var (
	// ErrAlreadyRunning is returned by Start on a running Runner.
	ErrAlreadyRunning = errors.New("simulation already running")
	// ErrNotRunning is returned when a command reaches a stopped Runner.
	ErrNotRunning = errors.New("simulation not running")
	// ErrInboxFull is returned when operator commands arrive faster than frames.
	ErrInboxFull = errors.New("command inbox full")
)

const inboxSize = 256

type commandKind int

const (
	cmdKey commandKind = iota
	cmdToggleMode
	cmdSetMode
)

type command struct {
	kind    commandKind
	code    string
	pressed bool
	mode    physics.Mode
	seq     uint64
}

// Runner hosts the frame loop for one Simulation. It is the only writer
// of the simulation: operator commands are queued and applied at the top
// of the next frame, before the step reads the sampler.
type Runner struct {
	sim       *Simulation
	scheduler Scheduler
	logger    *logging.Logger
	events    *event.Log
	trace     *trace.Recorder
	inbox     chan command

	frameMu sync.Mutex

	mu          sync.Mutex
	running     bool
	cancelFrame func()
	stopped     chan struct{}
	subscribers map[uint64]chan Sample
	nextSubID   uint64
	latest      Sample
	frames      uint64

	// releases holds key releases that found the inbox full, keyed by code
	// with the sequence number they were issued at.
	releases map[string]uint64
	seq      uint64
}

// NewRunner wires a runner around sim. A nil scheduler selects a
// TickerScheduler at the configured tick rate.
func NewRunner(sim *Simulation, scheduler Scheduler, logger *logging.Logger) *Runner {
	if scheduler == nil {
		scheduler = TickerScheduler{Interval: sim.Config.TickInterval()}
	}
	if logger == nil {
		logger = logging.NewLogger()
	}

	r := &Runner{
		sim:         sim,
		scheduler:   scheduler,
		logger:      logger.With("runner"),
		events:      event.NewLog(sim.Config.EventLogCapacity),
		inbox:       make(chan command, inboxSize),
		subscribers: make(map[uint64]chan Sample),
		releases:    make(map[string]uint64),
		latest:      sim.Sample(),
	}
	r.events.Attach(sim.EventBus)

	if sim.Config.Trace.Enabled {
		r.trace = trace.NewRecorder(sim.Config.Trace.MaxPoints, sim.Config.Trace.MinDistanceMeters)
		r.trace.Attach(sim.EventBus)
		r.trace.Record(sim.Sample().Position())
	}

	return r
}

// Start begins scheduling frames. Cancelling ctx stops the runner.
func (r *Runner) Start(ctx context.Context) error {
	r.frameMu.Lock()
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		r.frameMu.Unlock()
		return ErrAlreadyRunning
	}
	r.running = true
	r.stopped = make(chan struct{})
	stopped := r.stopped
	r.sim.RestartClock()
	r.cancelFrame = r.scheduler.Schedule(r.frame)
	r.mu.Unlock()

	mode := r.sim.Mode()
	r.sim.EventBus.Publish(event.NewLifecycleEvent(event.SimulationStarted, r, mode, ""))
	r.frameMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			r.stop(ctx.Err().Error())
		case <-stopped:
		}
	}()

	env := r.sim.Envelope()
	r.logger.Info(ctx, "Simulation started",
		"mode", mode.String(),
		"min_lng", env.MinLng, "min_lat", env.MinLat,
		"max_lng", env.MaxLng, "max_lat", env.MaxLat,
	)
	return nil
}

// Stop cancels pending frames and waits for a running frame to finish.
// It is idempotent. It must not be called from an event handler, since
// handlers run inside the frame.
func (r *Runner) Stop() {
	r.stop("stopped")
}

func (r *Runner) stop(reason string) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancelFrame
	r.cancelFrame = nil
	close(r.stopped)
	frames := r.frames
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	// Waits out a frame driven by an external scheduler.
	r.frameMu.Lock()
	mode := r.sim.Mode()
	r.sim.EventBus.Publish(event.NewLifecycleEvent(event.SimulationStopped, r, mode, reason))
	r.frameMu.Unlock()

	r.logger.Info(context.Background(), "Simulation stopped", "reason", reason, "frames", frames)
}

// Running reports whether frames are being scheduled.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Runner) frame(now time.Time) {
	r.frameMu.Lock()
	defer r.frameMu.Unlock()

	if !r.Running() {
		return
	}

	r.drainInbox()
	sample := r.sim.Tick(now)

	r.mu.Lock()
	r.latest = sample
	r.frames++
	for id, ch := range r.subscribers {
		select {
		case ch <- sample:
		default:
			r.logger.Debug(context.Background(), "Dropped sample for slow subscriber",
				"subscriber", id, "tick", sample.Tick)
		}
	}
	r.mu.Unlock()
}

// drainInbox applies queued commands in issue order. An overflowed
// release is applied before the first later command for the same key.
func (r *Runner) drainInbox() {
	for {
		select {
		case cmd := <-r.inbox:
			if cmd.kind == cmdKey {
				r.applyReleaseBefore(cmd.code, cmd.seq)
			}
			r.apply(cmd)
		default:
			r.mu.Lock()
			pending := r.releases
			r.releases = make(map[string]uint64)
			r.mu.Unlock()
			for code := range pending {
				r.sim.HandleKey(code, false)
			}
			return
		}
	}
}

func (r *Runner) applyReleaseBefore(code string, seq uint64) {
	r.mu.Lock()
	at, ok := r.releases[code]
	if ok && at < seq {
		delete(r.releases, code)
	}
	r.mu.Unlock()
	if ok && at < seq {
		r.sim.HandleKey(code, false)
	}
}

func (r *Runner) apply(cmd command) {
	switch cmd.kind {
	case cmdKey:
		r.sim.HandleKey(cmd.code, cmd.pressed)
	case cmdToggleMode:
		r.sim.ToggleMode()
	case cmdSetMode:
		r.sim.SetMode(cmd.mode)
	}
}

// enqueue queues cmd for the next frame. A full inbox drops presses and
// mode requests, but a key release is parked so the key cannot stay held.
func (r *Runner) enqueue(cmd command) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return ErrNotRunning
	}
	r.seq++
	cmd.seq = r.seq
	r.mu.Unlock()

	select {
	case r.inbox <- cmd:
		return nil
	default:
	}

	if cmd.kind == cmdKey && !cmd.pressed {
		r.mu.Lock()
		r.releases[cmd.code] = cmd.seq
		r.mu.Unlock()
		return nil
	}
	r.logger.Warn(context.Background(), "Dropped operator command", "kind", int(cmd.kind))
	return ErrInboxFull
}

// KeyEvent queues a press or release. consumed reports whether the key is
// a steering key the sampler currently captures; callers suppress the
// key's default action when it is.
func (r *Runner) KeyEvent(code string, pressed bool) (consumed bool, err error) {
	consumed = r.sim.CapturesKey(code)
	if !consumed {
		return false, nil
	}
	return true, r.enqueue(command{kind: cmdKey, code: code, pressed: pressed})
}

// ToggleMode queues a Manual/Auto toggle.
func (r *Runner) ToggleMode() error {
	return r.enqueue(command{kind: cmdToggleMode})
}

// SetMode queues a switch to mode.
func (r *Runner) SetMode(mode physics.Mode) error {
	return r.enqueue(command{kind: cmdSetMode, mode: mode})
}

// Subscribe returns a channel receiving every published sample. A full
// channel drops samples rather than stalling the loop. The returned
// function unsubscribes and closes the channel.
func (r *Runner) Subscribe(buffer int) (<-chan Sample, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Sample, buffer)

	r.mu.Lock()
	r.nextSubID++
	id := r.nextSubID
	r.subscribers[id] = ch
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subscribers, id)
			r.mu.Unlock()
			close(ch)
		})
	}
}

// SubscriberCount returns the number of sample subscribers.
func (r *Runner) SubscriberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subscribers)
}

// Latest returns the most recent sample.
func (r *Runner) Latest() Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest
}

// Frames returns the number of frames stepped since construction.
func (r *Runner) Frames() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Events returns the lifecycle event log.
func (r *Runner) Events() *event.Log {
	return r.events
}

// Trace returns the path recorder, or nil when tracing is disabled.
func (r *Runner) Trace() *trace.Recorder {
	return r.trace
}

// Bus returns the simulation's event bus.
func (r *Runner) Bus() *event.Bus {
	return r.sim.EventBus
}

// Envelope returns the operating envelope.
func (r *Runner) Envelope() physics.Envelope {
	return r.sim.Envelope()
}
