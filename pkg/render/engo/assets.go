// pkg/render/engo/assets.go
package engo

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"

	"github.com/EngoEngine/engo"
	"github.com/EngoEngine/engo/common"
	"golang.org/x/image/font/gofont/gomono"
)

const (
	fontURL  = "gomono.ttf"
	fontSize = 14
)

// droneSprite points north; SpaceComponent.Rotation turns it to the heading.
var droneSprite = [][]int{
	{0, 0, 0, 0, 0, 0, 0, 1, 1, 0, 0, 0, 0, 0, 0, 0},
	{0, 0, 0, 0, 0, 0, 0, 1, 1, 0, 0, 0, 0, 0, 0, 0},
	{0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 0, 0, 0, 0, 0, 0},
	{0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 0, 0, 0, 0, 0, 0},
	{0, 0, 0, 0, 0, 1, 1, 1, 1, 1, 1, 0, 0, 0, 0, 0},
	{0, 0, 0, 0, 0, 1, 1, 1, 1, 1, 1, 0, 0, 0, 0, 0},
	{0, 0, 0, 0, 1, 1, 1, 1, 1, 1, 1, 1, 0, 0, 0, 0},
	{0, 0, 0, 0, 1, 1, 1, 1, 1, 1, 1, 1, 0, 0, 0, 0},
	{0, 0, 0, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 0, 0, 0},
	{0, 0, 0, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 0, 0, 0},
	{0, 0, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 0, 0},
	{0, 0, 1, 1, 1, 1, 1, 0, 0, 1, 1, 1, 1, 1, 0, 0},
	{0, 1, 1, 1, 1, 1, 0, 0, 0, 0, 1, 1, 1, 1, 1, 0},
	{0, 1, 1, 1, 1, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 0},
	{1, 1, 1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1},
	{1, 1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1},
}

var traceSprite = [][]int{
	{0, 1, 1, 0},
	{1, 1, 1, 1},
	{1, 1, 1, 1},
	{0, 1, 1, 0},
}

// AssetManager builds the console sprites and loads the HUD font. Sprites
// are white; RenderComponent.Color tints them.
type AssetManager struct {
	drone common.Drawable
	trace common.Drawable
	font  *common.Font
}

// NewAssetManager creates an empty asset manager. Call LoadAssets once a
// GL context exists.
func NewAssetManager() *AssetManager {
	return &AssetManager{}
}

// LoadAssets creates the textures and the font.
func (am *AssetManager) LoadAssets() error {
	am.drone = am.createSprite(droneSprite)
	am.trace = am.createSprite(traceSprite)

	if err := engo.Files.LoadReaderData(fontURL, bytes.NewReader(gomono.TTF)); err != nil {
		return err
	}
	font := &common.Font{URL: fontURL, FG: color.White, Size: fontSize}
	if err := font.CreatePreloaded(); err != nil {
		return err
	}
	am.font = font
	return nil
}

// Loaded reports whether LoadAssets has succeeded.
func (am *AssetManager) Loaded() bool {
	return am.font != nil
}

func (am *AssetManager) createSprite(pattern [][]int) common.Drawable {
	img := patternImage(pattern)
	return common.NewTextureSingle(common.NewImageObject(img))
}

// patternImage draws a 0/1 pixel pattern as opaque white on transparent.
func patternImage(pattern [][]int) *image.NRGBA {
	height := len(pattern)
	width := 0
	for _, row := range pattern {
		if len(row) > width {
			width = len(row)
		}
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.NRGBA{0, 0, 0, 0}}, image.Point{}, draw.Src)
	for y, row := range pattern {
		for x, pixel := range row {
			if pixel == 1 {
				img.Set(x, y, color.NRGBA{255, 255, 255, 255})
			}
		}
	}
	return img
}

// Drone returns the drone sprite, nil before LoadAssets.
func (am *AssetManager) Drone() common.Drawable {
	return am.drone
}

// Trace returns the breadcrumb sprite, nil before LoadAssets.
func (am *AssetManager) Trace() common.Drawable {
	return am.trace
}

// Font returns the HUD font, nil before LoadAssets.
func (am *AssetManager) Font() *common.Font {
	return am.font
}
