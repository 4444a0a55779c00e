// pkg/render/engo/hud.go
package engo

import (
	"sync"
	"time"

	"github.com/EngoEngine/ecs"

	"github.com/opd-ai/go-dronesim/pkg/engine"
	"github.com/opd-ai/go-dronesim/pkg/event"
	"github.com/opd-ai/go-dronesim/pkg/render"
)

const (
	// DefaultToastTTL is how long an event message stays on screen.
	DefaultToastTTL = 4 * time.Second
	maxToasts       = 4
)

type toast struct {
	text    string
	expires time.Time
}

// HUDSystem keeps the status line inputs and a short list of recent event
// messages. Entries arrive from the event log watcher; the frame loop
// reads Lines.
type HUDSystem struct {
	ttl  time.Duration
	now  func() time.Time
	link string

	mu     sync.Mutex
	toasts []toast
}

// NewHUDSystem creates a HUD whose link label reads link.
func NewHUDSystem(link string) *HUDSystem {
	return &HUDSystem{ttl: DefaultToastTTL, now: time.Now, link: link}
}

// Priority runs the HUD after the frame system.
func (hud *HUDSystem) Priority() int { return 10 }

// Remove satisfies the ecs.System interface
func (hud *HUDSystem) Remove(basic ecs.BasicEntity) {}

// Update drops expired messages.
func (hud *HUDSystem) Update(dt float32) {
	hud.expire(hud.now())
}

// AddEntry shows an event log entry. It is safe to use as an event.Log
// watcher.
func (hud *HUDSystem) AddEntry(entry event.Entry) {
	hud.mu.Lock()
	defer hud.mu.Unlock()

	hud.toasts = append(hud.toasts, toast{text: entry.Message, expires: hud.now().Add(hud.ttl)})
	if len(hud.toasts) > maxToasts {
		hud.toasts = hud.toasts[len(hud.toasts)-maxToasts:]
	}
}

func (hud *HUDSystem) expire(now time.Time) {
	hud.mu.Lock()
	defer hud.mu.Unlock()

	kept := hud.toasts[:0]
	for _, t := range hud.toasts {
		if now.Before(t.expires) {
			kept = append(kept, t)
		}
	}
	hud.toasts = kept
}

// Toasts returns the visible messages, newest first.
func (hud *HUDSystem) Toasts() []string {
	hud.mu.Lock()
	defer hud.mu.Unlock()

	out := make([]string, 0, len(hud.toasts))
	for i := len(hud.toasts) - 1; i >= 0; i-- {
		out = append(out, hud.toasts[i].text)
	}
	return out
}

// Lines returns the status line for sample followed by the messages.
func (hud *HUDSystem) Lines(sample engine.Sample) []string {
	lines := []string{render.HUDLine(sample, hud.link)}
	for _, msg := range hud.Toasts() {
		lines = append(lines, "» "+msg)
	}
	return lines
}
