package planexport

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/banshee-data/survey.report/internal/survey/walls"
)

// DXF layer names.
const (
	LayerWalls      = "WALLS"
	LayerWallCentre = "WALL-CENTRE"
	LayerTitle      = "TITLE"
)

// dxfWriter emits ASCII DXF group code/value pairs.
type dxfWriter struct {
	w *bufio.Writer
}

func (d *dxfWriter) pair(code int, value string) {
	d.w.WriteString(strconv.Itoa(code))
	d.w.WriteByte('\n')
	d.w.WriteString(value)
	d.w.WriteByte('\n')
}

func (d *dxfWriter) num(code int, v float64) {
	d.pair(code, strconv.FormatFloat(v, 'f', 3, 64))
}

func (d *dxfWriter) integer(code, v int) {
	d.pair(code, strconv.Itoa(v))
}

func (d *dxfWriter) point(code int, p orb.Point) {
	d.num(code, p[0])
	d.num(code+10, p[1])
	d.num(code+20, 0)
}

func (d *dxfWriter) polyline(layer string, pts []orb.Point, closed bool) {
	d.pair(0, "POLYLINE")
	d.pair(8, layer)
	d.integer(66, 1)
	d.point(10, orb.Point{})
	flags := 0
	if closed {
		flags = 1
	}
	d.integer(70, flags)
	for _, p := range pts {
		d.pair(0, "VERTEX")
		d.pair(8, layer)
		d.point(10, p)
	}
	d.pair(0, "SEQEND")
	d.pair(8, layer)
}

func (d *dxfWriter) line(layer string, a, b orb.Point) {
	d.pair(0, "LINE")
	d.pair(8, layer)
	d.point(10, a)
	d.point(11, b)
}

func (d *dxfWriter) text(layer string, at orb.Point, height float64, s string) {
	d.pair(0, "TEXT")
	d.pair(8, layer)
	d.point(10, at)
	d.num(40, height)
	d.pair(1, dxfText(s))
}

// dxfText keeps a value on one line.
func dxfText(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, s)
}

func boundPoints(b orb.Bound) []orb.Point {
	return []orb.Point{b.Min, {b.Max[0], b.Min[1]}, b.Max, {b.Min[0], b.Max[1]}}
}

// renderDXF writes an AutoCAD R12 ASCII drawing in sheet millimetres.
func renderDXF(ws []walls.Wall, o Options, l *Layout) ([]byte, error) {
	var buf bytes.Buffer
	d := &dxfWriter{w: bufio.NewWriter(&buf)}

	d.pair(0, "SECTION")
	d.pair(2, "HEADER")
	d.pair(9, "$ACADVER")
	d.pair(1, "AC1009")
	d.pair(9, "$EXTMIN")
	d.point(10, orb.Point{})
	d.pair(9, "$EXTMAX")
	d.point(10, orb.Point{l.WidthMM, l.HeightMM})
	d.pair(0, "ENDSEC")

	d.pair(0, "SECTION")
	d.pair(2, "TABLES")
	d.pair(0, "TABLE")
	d.pair(2, "LTYPE")
	d.integer(70, 1)
	d.pair(0, "LTYPE")
	d.pair(2, "CONTINUOUS")
	d.integer(70, 0)
	d.pair(3, "Solid line")
	d.integer(72, 65)
	d.integer(73, 0)
	d.num(40, 0)
	d.pair(0, "ENDTAB")
	d.pair(0, "TABLE")
	d.pair(2, "LAYER")
	layers := []struct {
		name  string
		color int
	}{
		{LayerWalls, 7},
		{LayerWallCentre, 1},
		{LayerTitle, 7},
	}
	d.integer(70, len(layers))
	for _, ly := range layers {
		d.pair(0, "LAYER")
		d.pair(2, ly.name)
		d.integer(70, 0)
		d.integer(62, ly.color)
		d.pair(6, "CONTINUOUS")
	}
	d.pair(0, "ENDTAB")
	d.pair(0, "ENDSEC")

	d.pair(0, "SECTION")
	d.pair(2, "ENTITIES")
	for _, w := range ws {
		ring := w.Outline()
		pts := make([]orb.Point, 0, len(ring)-1)
		for _, p := range ring[:len(ring)-1] {
			pts = append(pts, l.ToPaper(p))
		}
		d.polyline(LayerWalls, pts, true)
		d.line(LayerWallCentre, l.ToPaper(w.Start), l.ToPaper(w.End))
	}

	border := orb.Bound{
		Min: orb.Point{MarginMM, MarginMM},
		Max: orb.Point{l.WidthMM - MarginMM, l.HeightMM - MarginMM},
	}
	d.polyline(LayerTitle, boundPoints(border), true)
	d.polyline(LayerTitle, boundPoints(l.TitleBlock), true)
	y := l.TitleBlock.Max[1] - 3 - titleFontMM
	for _, line := range titleLines(o, l) {
		d.text(LayerTitle, orb.Point{l.TitleBlock.Min[0] + 4, y}, titleFontMM, line)
		y -= titleFontMM * lineSpacing
	}

	maxBar := min(scaleBarMaxM, (l.TitleBlock.Max[0]-l.TitleBlock.Min[0])/3)
	metres, barMM := l.ScaleBar(maxBar)
	bx := l.TitleBlock.Max[0] - 8 - barMM
	by := l.TitleBlock.Min[1] + 12
	d.line(LayerTitle, orb.Point{bx, by}, orb.Point{bx + barMM, by})
	d.line(LayerTitle, orb.Point{bx, by - 1.5}, orb.Point{bx, by + 1.5})
	d.line(LayerTitle, orb.Point{bx + barMM, by - 1.5}, orb.Point{bx + barMM, by + 1.5})
	d.text(LayerTitle, orb.Point{bx, by + 2.5}, 2.5, scaleBarLabel(metres))
	d.pair(0, "ENDSEC")
	d.pair(0, "EOF")

	if err := d.w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
