package planexport

import (
	"fmt"

	"github.com/paulmach/orb"

	"github.com/banshee-data/survey.report/internal/survey/walls"
)

// Sheet geometry in millimetres.
const (
	MarginMM     = 10.0
	TitleBlockMM = 40.0
)

// Layout maps model metres onto paper millimetres. Both the vector and the
// DXF writers draw through the same Layout, so their outputs line up.
type Layout struct {
	WidthMM     float64
	HeightMM    float64
	Orientation Orientation
	Scale       int

	// Printable is the drawing area above the title block.
	Printable orb.Bound
	// TitleBlock spans the sheet width below the drawing area.
	TitleBlock orb.Bound

	model orb.Bound
}

// modelBound covers every wall outline, thickness included.
func modelBound(ws []walls.Wall) orb.Bound {
	b := ws[0].Outline().Bound()
	for _, w := range ws[1:] {
		b = b.Union(w.Outline().Bound())
	}
	return b
}

// NewLayout picks the sheet orientation and centres the walls in the
// printable area. Auto orientation prefers the one matching the drawing's
// aspect and falls back to the other.
func NewLayout(ws []walls.Wall, paper PaperSize, orient Orientation, scale int) (*Layout, error) {
	if len(ws) == 0 {
		return nil, ErrEmptyGeometry
	}
	dims, ok := paperDims[paper]
	if !ok {
		return nil, fmt.Errorf("%w: paper size %q", ErrInvalidOption, paper)
	}
	if scale <= 0 {
		return nil, fmt.Errorf("%w: scale denominator %d", ErrInvalidOption, scale)
	}

	model := modelBound(ws)
	drawW := (model.Right() - model.Left()) * 1000 / float64(scale)
	drawH := (model.Top() - model.Bottom()) * 1000 / float64(scale)

	var tries []Orientation
	switch orient {
	case OrientationPortrait, OrientationLandscape:
		tries = []Orientation{orient}
	default:
		if drawW >= drawH {
			tries = []Orientation{OrientationLandscape, OrientationPortrait}
		} else {
			tries = []Orientation{OrientationPortrait, OrientationLandscape}
		}
	}

	for _, o := range tries {
		w, h := dims[0], dims[1]
		if o == OrientationLandscape {
			w, h = h, w
		}
		printable := orb.Bound{
			Min: orb.Point{MarginMM, MarginMM + TitleBlockMM},
			Max: orb.Point{w - MarginMM, h - MarginMM},
		}
		if drawW > printable.Right()-printable.Left() || drawH > printable.Top()-printable.Bottom() {
			continue
		}
		return &Layout{
			WidthMM:     w,
			HeightMM:    h,
			Orientation: o,
			Scale:       scale,
			Printable:   printable,
			TitleBlock: orb.Bound{
				Min: orb.Point{MarginMM, MarginMM},
				Max: orb.Point{w - MarginMM, MarginMM + TitleBlockMM},
			},
			model: model,
		}, nil
	}
	return nil, fmt.Errorf("%w: %.0f x %.0f mm drawing at %s on %s",
		ErrDoesNotFit, drawW, drawH, FormatScale(scale), paper)
}

// ToPaper converts a model point in metres to sheet millimetres with the
// origin at the bottom-left corner and y up.
func (l *Layout) ToPaper(p orb.Point) orb.Point {
	k := 1000 / float64(l.Scale)
	mc, pc := l.model.Center(), l.Printable.Center()
	return orb.Point{pc[0] + (p[0]-mc[0])*k, pc[1] + (p[1]-mc[1])*k}
}

// ToPaperMM converts a model length in metres to sheet millimetres.
func (l *Layout) ToPaperMM(m float64) float64 {
	return m * 1000 / float64(l.Scale)
}

var scaleBarSteps = []float64{0.1, 0.2, 0.5, 1, 2, 5, 10, 20, 50, 100, 200, 500, 1000}

// ScaleBar returns the longest round model length whose paper length is
// at most maxMM, and that paper length.
func (l *Layout) ScaleBar(maxMM float64) (metres, paperMM float64) {
	metres = scaleBarSteps[0]
	for _, s := range scaleBarSteps {
		if l.ToPaperMM(s) <= maxMM {
			metres = s
		}
	}
	return metres, l.ToPaperMM(metres)
}

// titleLines is the text of the title block, top to bottom.
func titleLines(o Options, l *Layout) []string {
	lines := []string{}
	if o.Project != "" {
		lines = append(lines, o.Project)
	}
	if o.FloorLabel != "" {
		lines = append(lines, "Floor: "+o.FloorLabel)
	}
	lines = append(lines, fmt.Sprintf("Scale: %s @ %s %s", FormatScale(l.Scale), o.PaperSize, l.Orientation))
	if o.Reference != "" {
		lines = append(lines, "Ref: "+o.Reference)
	}
	if !o.Date.IsZero() {
		lines = append(lines, "Date: "+o.Date.Format("2006-01-02"))
	}
	if o.Generator != "" {
		lines = append(lines, o.Generator)
	}
	return lines
}

func scaleBarLabel(m float64) string {
	if m < 1 {
		return fmt.Sprintf("%.0f cm", m*100)
	}
	return fmt.Sprintf("%g m", m)
}
