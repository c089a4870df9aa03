package preview

import (
	"bytes"
	"errors"
	"image/png"
	"testing"

	"github.com/paulmach/orb"

	"github.com/banshee-data/survey.report/internal/survey/pointcloud"
	"github.com/banshee-data/survey.report/internal/survey/walls"
)

func TestRender_PNG(t *testing.T) {
	var pts []pointcloud.Point
	for i := 0; i < 100; i++ {
		pts = append(pts, pointcloud.Point{X: float64(i) * 0.2, Y: float64(i%10) * 0.5, Z: float64(i) * 0.03})
	}
	ws := []walls.Wall{{Start: orb.Point{0, 0}, End: orb.Point{19.8, 0}, LengthM: 19.8, ThicknessM: 0.1}}

	out, err := Render(pointcloud.New(pts), ws, Options{MaxSizePx: 200, PaddingPx: 10})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	bnds := img.Bounds()
	if bnds.Dx() < 201 || bnds.Dx() > 202 {
		t.Errorf("width=%d, want 201", bnds.Dx())
	}
	if bnds.Dy() >= bnds.Dx() {
		t.Errorf("height %d should be below width %d for a wide cloud", bnds.Dy(), bnds.Dx())
	}
}

func TestRender_Colour(t *testing.T) {
	c := pointcloud.New([]pointcloud.Point{{X: 0, Y: 0, R: 0xffff}, {X: 1, Y: 1, G: 0xffff}})
	c.HasColor = true
	out, err := Render(c, nil, Options{MaxSizePx: 50})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	// Without padding (0,0) in model space is the bottom-left pixel.
	r, g, _, _ := img.At(0, img.Bounds().Dy()-1).RGBA()
	if r != 0xffff || g != 0 {
		t.Errorf("bottom-left pixel r=%x g=%x, want red", r, g)
	}
}

func TestRender_Empty(t *testing.T) {
	_, err := Render(pointcloud.New(nil), nil, DefaultOptions())
	if !errors.Is(err, ErrEmptyCloud) {
		t.Fatalf("got %v, want ErrEmptyCloud", err)
	}
}

func TestHeightColour(t *testing.T) {
	lo, hi := heightColour(0), heightColour(1)
	if lo.B != 255 || lo.R != 0 {
		t.Errorf("low colour %+v", lo)
	}
	if hi.R != 255 || hi.B != 0 {
		t.Errorf("high colour %+v", hi)
	}
	if heightColour(-5) != lo || heightColour(7) != hi {
		t.Error("out of range values not clamped")
	}
}
