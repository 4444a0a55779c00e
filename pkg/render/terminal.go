package render

import (
	"github.com/gdamore/tcell/v2"

	"github.com/opd-ai/go-dronesim/pkg/engine"
	"github.com/opd-ai/go-dronesim/pkg/physics"
)

var (
	styleDefault = tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.ColorWhite)
	styleBorder  = styleDefault.Foreground(tcell.ColorDarkGray)
	styleTrace   = styleDefault.Foreground(tcell.ColorTeal)
	styleDrone   = styleDefault.Foreground(tcell.ColorYellow).Bold(true)
	styleAuto    = styleDefault.Foreground(tcell.ColorLime).Bold(true)
	styleHUD     = styleDefault.Foreground(tcell.ColorAqua)
	styleLog     = styleDefault.Foreground(tcell.ColorGray)
)

type cell struct {
	r     rune
	style tcell.Style
}

// TerminalRenderer draws into a cell buffer and copies it to a tcell
// screen on Present. The bottom hudRows rows hold text; the rest is the
// map, framed by a border.
type TerminalRenderer struct {
	screen     tcell.Screen
	width      int
	height     int
	hudRows    int
	buffer     [][]cell
	projection Projection
}

// NewTerminalRenderer creates a renderer for screen reserving hudRows text
// rows under the map.
func NewTerminalRenderer(screen tcell.Screen, hudRows int) *TerminalRenderer {
	if hudRows < 0 {
		hudRows = 0
	}
	return &TerminalRenderer{screen: screen, hudRows: hudRows}
}

// Clear resizes the buffer to the screen and blanks it.
func (r *TerminalRenderer) Clear() {
	w, h := r.screen.Size()
	if w != r.width || h != r.height || r.buffer == nil {
		r.width, r.height = w, h
		r.buffer = make([][]cell, h)
		for y := range r.buffer {
			r.buffer[y] = make([]cell, w)
		}
	}
	for y := range r.buffer {
		for x := range r.buffer[y] {
			r.buffer[y][x] = cell{r: ' ', style: styleDefault}
		}
	}
}

func (r *TerminalRenderer) set(x, y int, ch rune, style tcell.Style) {
	if y < 0 || y >= r.height || x < 0 || x >= r.width {
		return
	}
	r.buffer[y][x] = cell{r: ch, style: style}
}

// mapHeight is the number of rows above the HUD, border included.
func (r *TerminalRenderer) mapHeight() int {
	h := r.height - r.hudRows
	if h < 0 {
		return 0
	}
	return h
}

// RenderEnvelope frames the map area and fits the envelope inside it.
func (r *TerminalRenderer) RenderEnvelope(env physics.Envelope) {
	mh := r.mapHeight()
	r.projection = NewProjection(env, 1, 1, r.width-2, mh-2)
	if r.width < 2 || mh < 2 {
		return
	}

	for x := 1; x < r.width-1; x++ {
		r.set(x, 0, '-', styleBorder)
		r.set(x, mh-1, '-', styleBorder)
	}
	for y := 1; y < mh-1; y++ {
		r.set(0, y, '|', styleBorder)
		r.set(r.width-1, y, '|', styleBorder)
	}
	r.set(0, 0, '+', styleBorder)
	r.set(r.width-1, 0, '+', styleBorder)
	r.set(0, mh-1, '+', styleBorder)
	r.set(r.width-1, mh-1, '+', styleBorder)
}

func (r *TerminalRenderer) RenderTrace(points []physics.Vector2D) {
	for _, p := range points {
		if x, y, ok := r.projection.ToScreen(p); ok {
			r.set(x, y, '·', styleTrace)
		}
	}
}

func (r *TerminalRenderer) RenderDrone(sample engine.Sample) {
	x, y, ok := r.projection.ToScreen(sample.Position())
	if !ok {
		return
	}
	style := styleDrone
	if sample.Mode == physics.ModeAuto {
		style = styleAuto
	}
	r.set(x, y, HeadingGlyph(sample.HeadingDegrees), style)
}

// RenderHUD writes lines into the HUD rows; the first line is highlighted.
func (r *TerminalRenderer) RenderHUD(lines []string) {
	top := r.mapHeight()
	for i, line := range lines {
		if i >= r.hudRows {
			break
		}
		style := styleLog
		if i == 0 {
			style = styleHUD
		}
		x := 0
		for _, ch := range line {
			r.set(x, top+i, ch, style)
			x++
		}
	}
}

// Present copies the buffer to the screen and shows it.
func (r *TerminalRenderer) Present() {
	for y, row := range r.buffer {
		for x, c := range row {
			r.screen.SetContent(x, y, c.r, nil, c.style)
		}
	}
	r.screen.Show()
}

// Cell returns the rune buffered at (x, y), or 0 outside the buffer.
func (r *TerminalRenderer) Cell(x, y int) rune {
	if y < 0 || y >= r.height || x < 0 || x >= r.width {
		return 0
	}
	return r.buffer[y][x].r
}

// Row returns buffered row y as a string.
func (r *TerminalRenderer) Row(y int) string {
	if y < 0 || y >= r.height {
		return ""
	}
	out := make([]rune, len(r.buffer[y]))
	for x, c := range r.buffer[y] {
		out[x] = c.r
	}
	return string(out)
}

// Projection returns the mapping used by the last frame.
func (r *TerminalRenderer) Projection() Projection {
	return r.projection
}
