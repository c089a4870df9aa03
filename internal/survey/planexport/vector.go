package planexport

import (
	"bytes"
	"fmt"
	"image/color"

	"github.com/paulmach/orb"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/font"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgpdf"
	"gonum.org/v1/plot/vg/vgsvg"

	"github.com/banshee-data/survey.report/internal/survey/walls"
)

var (
	wallFill   = color.Gray{Y: 0x40}
	centreLine = color.RGBA{R: 0xc0, G: 0x20, B: 0x20, A: 0xff}
	ink        = color.Black
)

const (
	titleFontMM  = 3.5
	lineSpacing  = 1.5
	scaleBarMaxM = 60.0
)

func mm(v float64) vg.Length { return vg.Length(v) * vg.Millimeter }

func vgPoint(p orb.Point) vg.Point { return vg.Point{X: mm(p[0]), Y: mm(p[1])} }

func boundRect(b orb.Bound) []vg.Point {
	return []vg.Point{
		vgPoint(b.Min),
		vgPoint(orb.Point{b.Max[0], b.Min[1]}),
		vgPoint(b.Max),
		vgPoint(orb.Point{b.Min[0], b.Max[1]}),
		vgPoint(b.Min),
	}
}

// renderVector draws the plan on a gonum/plot canvas and serialises it as
// PDF or SVG.
func renderVector(ws []walls.Wall, o Options, l *Layout) ([]byte, error) {
	w, h := mm(l.WidthMM), mm(l.HeightMM)
	var cw vg.CanvasWriterTo
	switch o.Format {
	case FormatPDF:
		cw = vgpdf.New(w, h)
	case FormatSVG:
		cw = vgsvg.New(w, h)
	default:
		return nil, fmt.Errorf("%w: vector format %q", ErrInvalidOption, o.Format)
	}
	dc := draw.New(cw)

	thin := draw.LineStyle{Color: ink, Width: vg.Points(0.5)}
	border := orb.Bound{
		Min: orb.Point{MarginMM, MarginMM},
		Max: orb.Point{l.WidthMM - MarginMM, l.HeightMM - MarginMM},
	}
	dc.StrokeLines(thin, boundRect(border))
	dc.StrokeLines(thin, boundRect(l.TitleBlock))

	centre := draw.LineStyle{Color: centreLine, Width: vg.Points(0.25), Dashes: []vg.Length{vg.Points(4), vg.Points(2)}}
	for _, wall := range ws {
		ring := wall.Outline()
		poly := make([]vg.Point, 0, len(ring))
		for _, p := range ring {
			poly = append(poly, vgPoint(l.ToPaper(p)))
		}
		dc.FillPolygon(wallFill, poly)
		dc.StrokeLines(thin, poly)
		dc.StrokeLines(centre, []vg.Point{vgPoint(l.ToPaper(wall.Start)), vgPoint(l.ToPaper(wall.End))})
	}

	sty := draw.TextStyle{
		Color:   ink,
		Font:    font.From(plot.DefaultFont, mm(titleFontMM)),
		XAlign:  draw.XLeft,
		YAlign:  draw.YTop,
		Handler: plot.DefaultTextHandler,
	}
	x := l.TitleBlock.Min[0] + 4
	y := l.TitleBlock.Max[1] - 3
	for _, line := range titleLines(o, l) {
		dc.FillText(sty, vg.Point{X: mm(x), Y: mm(y)}, line)
		y -= titleFontMM * lineSpacing
	}

	// Scale bar in the right part of the title block.
	maxBar := min(scaleBarMaxM, (l.TitleBlock.Max[0]-l.TitleBlock.Min[0])/3)
	metres, barMM := l.ScaleBar(maxBar)
	bx := l.TitleBlock.Max[0] - 8 - barMM
	by := l.TitleBlock.Min[1] + 12
	bar := draw.LineStyle{Color: ink, Width: vg.Points(1)}
	dc.StrokeLines(bar,
		[]vg.Point{{X: mm(bx), Y: mm(by)}, {X: mm(bx + barMM), Y: mm(by)}},
		[]vg.Point{{X: mm(bx), Y: mm(by - 1.5)}, {X: mm(bx), Y: mm(by + 1.5)}},
		[]vg.Point{{X: mm(bx + barMM), Y: mm(by - 1.5)}, {X: mm(bx + barMM), Y: mm(by + 1.5)}},
	)
	label := sty
	label.XAlign = draw.XCenter
	label.YAlign = draw.YBottom
	dc.FillText(label, vg.Point{X: mm(bx + barMM/2), Y: mm(by + 2.5)}, scaleBarLabel(metres))

	var buf bytes.Buffer
	if _, err := cw.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write %s: %w", o.Format, err)
	}
	return buf.Bytes(), nil
}
