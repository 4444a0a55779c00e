// pkg/render/engo/renderer.go
package engo

import (
	"image/color"

	"github.com/EngoEngine/ecs"
	"github.com/EngoEngine/engo"
	"github.com/EngoEngine/engo/common"

	"github.com/opd-ai/go-dronesim/pkg/engine"
	"github.com/opd-ai/go-dronesim/pkg/physics"
)

const (
	hudLineHeight = 18
	borderWidth   = 2
)

var (
	colorBorder = color.RGBA{90, 90, 90, 255}
	colorTrace  = color.RGBA{0, 160, 160, 255}
	colorManual = color.RGBA{255, 220, 0, 255}
	colorAuto   = color.RGBA{0, 255, 0, 255}
)

type sprite struct {
	ecs.BasicEntity
	common.RenderComponent
	common.SpaceComponent
}

// EngoRenderer implements render.Renderer on top of engo entities. Each
// call updates components in place; engo's RenderSystem draws them when
// the frame ends.
type EngoRenderer struct {
	renderSystem *common.RenderSystem
	assets       *AssetManager

	// bounds is the map area; the viewport is refitted when the envelope
	// changes.
	bounds    engo.AABB
	viewport  Viewport
	hudOrigin engo.Point

	border *sprite
	drone  *sprite
	trace  []*sprite
	hud    []*sprite
}

// NewEngoRenderer draws the map inside bounds and the HUD starting at
// hudOrigin. A nil renderSystem keeps entities out of any world.
func NewEngoRenderer(renderSystem *common.RenderSystem, assets *AssetManager, bounds engo.AABB, hudOrigin engo.Point) *EngoRenderer {
	if assets == nil {
		assets = NewAssetManager()
	}
	r := &EngoRenderer{
		renderSystem: renderSystem,
		assets:       assets,
		bounds:       bounds,
		hudOrigin:    hudOrigin,
	}

	r.border = r.newSprite(common.Rectangle{BorderWidth: borderWidth, BorderColor: colorBorder}, color.Transparent, 0, nil)
	r.drone = r.newSprite(assets.Drone(), colorManual, 2, nil)
	return r
}

// newSprite creates a hidden entity. zIndex and shader are applied only
// when it joins a render system.
func (r *EngoRenderer) newSprite(drawable common.Drawable, tint color.Color, zIndex float32, shader common.Shader) *sprite {
	s := &sprite{BasicEntity: ecs.NewBasic()}
	s.Drawable = drawable
	s.Color = tint
	s.Hidden = true
	if tex, ok := drawable.(common.Texture); ok {
		s.Width, s.Height = tex.Width(), tex.Height()
	}
	if r.renderSystem != nil && drawable != nil {
		s.SetZIndex(zIndex)
		if shader != nil {
			s.SetShader(shader)
		}
		r.renderSystem.Add(&s.BasicEntity, &s.RenderComponent, &s.SpaceComponent)
	}
	return s
}

// Viewport returns the current world-to-pixel mapping.
func (r *EngoRenderer) Viewport() Viewport {
	return r.viewport
}

// Clear hides the trace and HUD; the next calls show what they use.
func (r *EngoRenderer) Clear() {
	for _, s := range r.trace {
		s.Hidden = true
	}
	for _, s := range r.hud {
		s.Hidden = true
	}
}

func (r *EngoRenderer) RenderEnvelope(env physics.Envelope) {
	if env != r.viewport.Envelope || !r.viewport.Valid() {
		r.viewport = NewViewport(env, r.bounds.Min.X, r.bounds.Min.Y,
			r.bounds.Max.X-r.bounds.Min.X, r.bounds.Max.Y-r.bounds.Min.Y)
	}

	r.border.Position = r.viewport.Origin
	r.border.Width, r.border.Height = r.viewport.Size()
	r.border.Hidden = !r.viewport.Valid()
}

func (r *EngoRenderer) RenderTrace(points []physics.Vector2D) {
	dot := r.assets.Trace()
	for i, p := range points {
		if i == len(r.trace) {
			r.trace = append(r.trace, r.newSprite(dot, colorTrace, 1, nil))
		}
		s := r.trace[i]
		s.SetCenter(r.viewport.ToScreen(p))
		s.Hidden = false
	}
}

// RenderDrone turns the marker to the sample heading and tints it by mode.
func (r *EngoRenderer) RenderDrone(sample engine.Sample) {
	r.drone.Rotation = float32(sample.HeadingDegrees)
	r.drone.SetCenter(r.viewport.ToScreen(sample.Position()))
	r.drone.Color = colorManual
	if sample.Mode == physics.ModeAuto {
		r.drone.Color = colorAuto
	}
	r.drone.Hidden = false
}

func (r *EngoRenderer) RenderHUD(lines []string) {
	for i, line := range lines {
		if i == len(r.hud) {
			text := common.Text{Font: r.assets.Font(), Text: line}
			r.hud = append(r.hud, r.newSprite(text, color.White, 3, common.TextHUDShader))
		}
		s := r.hud[i]
		s.Drawable = common.Text{Font: r.assets.Font(), Text: line}
		s.Position = engo.Point{X: r.hudOrigin.X, Y: r.hudOrigin.Y + float32(i*hudLineHeight)}
		s.Hidden = false
	}
}

// Present is a no-op: engo swaps buffers after the systems update.
func (r *EngoRenderer) Present() {}

// HUDText returns the visible HUD lines.
func (r *EngoRenderer) HUDText() []string {
	var out []string
	for _, s := range r.hud {
		if s.Hidden {
			continue
		}
		if t, ok := s.Drawable.(common.Text); ok {
			out = append(out, t.Text)
		}
	}
	return out
}

// VisibleTrace returns the number of breadcrumbs shown.
func (r *EngoRenderer) VisibleTrace() int {
	n := 0
	for _, s := range r.trace {
		if !s.Hidden {
			n++
		}
	}
	return n
}
