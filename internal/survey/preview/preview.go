// Package preview renders a top-down thumbnail of a point cloud with the
// detected walls drawn over it.
package preview

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"math"

	"github.com/fogleman/gg"

	"github.com/banshee-data/survey.report/internal/survey/pointcloud"
	"github.com/banshee-data/survey.report/internal/survey/walls"
)

// ErrEmptyCloud is returned when there is nothing to draw.
var ErrEmptyCloud = errors.New("preview: empty point cloud")

// Options control the thumbnail.
type Options struct {
	// MaxSizePx bounds the longer image side.
	MaxSizePx int
	// PaddingPx is left around the drawing.
	PaddingPx int
}

// DefaultOptions returns the thumbnail defaults.
func DefaultOptions() Options {
	return Options{MaxSizePx: 1024, PaddingPx: 16}
}

var (
	background = color.RGBA{R: 0x12, G: 0x14, B: 0x18, A: 0xff}
	wallColour = color.RGBA{R: 0xff, G: 0x4d, B: 0x4d, A: 0xff}
)

// heightColour maps t in [0,1] from blue (low) through green to yellow.
func heightColour(t float64) color.RGBA {
	t = math.Max(0, math.Min(1, t))
	return color.RGBA{
		R: uint8(255 * math.Min(1, 2*t)),
		G: uint8(255 * math.Min(1, 0.3+t)),
		B: uint8(255 * (1 - t)),
		A: 0xff,
	}
}

// Render draws cloud from above and overlays ws, returning PNG bytes.
// Points are coloured by RGB when the cloud carries colour, else by height.
func Render(cloud *pointcloud.Cloud, ws []walls.Wall, o Options) ([]byte, error) {
	if cloud.Count() == 0 {
		return nil, ErrEmptyCloud
	}
	if o.MaxSizePx <= 0 {
		o.MaxSizePx = DefaultOptions().MaxSizePx
	}
	if o.PaddingPx < 0 || 2*o.PaddingPx >= o.MaxSizePx {
		o.PaddingPx = 0
	}

	b := cloud.Bounds
	ext := b.Extent()
	span := math.Max(ext.X, ext.Y)
	if span == 0 {
		span = 1
	}
	inner := float64(o.MaxSizePx - 2*o.PaddingPx)
	k := inner / span
	w := int(math.Ceil(ext.X*k)) + 2*o.PaddingPx + 1
	h := int(math.Ceil(ext.Y*k)) + 2*o.PaddingPx + 1
	pad := float64(o.PaddingPx)

	toPx := func(x, y float64) (float64, float64) {
		return pad + (x-b.Min.X)*k, float64(h) - 1 - pad - (y-b.Min.Y)*k
	}

	dc := gg.NewContext(w, h)
	dc.SetColor(background)
	dc.Clear()

	zSpan := ext.Z
	for _, p := range cloud.Points {
		if cloud.HasColor {
			dc.SetColor(color.RGBA64{R: p.R, G: p.G, B: p.B, A: 0xffff})
		} else {
			t := 0.5
			if zSpan > 0 {
				t = (p.Z - b.Min.Z) / zSpan
			}
			dc.SetColor(heightColour(t))
		}
		x, y := toPx(p.X, p.Y)
		dc.SetPixel(int(x), int(y))
	}

	dc.SetColor(wallColour)
	dc.SetLineWidth(2)
	for _, wall := range ws {
		x1, y1 := toPx(wall.Start[0], wall.Start[1])
		x2, y2 := toPx(wall.End[0], wall.End[1])
		dc.DrawLine(x1, y1, x2, y2)
		dc.Stroke()
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	return buf.Bytes(), nil
}
