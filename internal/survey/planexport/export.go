// Package planexport renders detected walls as a scaled floor-plan sheet.
//
// PDF and SVG are drawn with gonum/plot's vector canvases; DXF is written
// as AutoCAD R12 ASCII. All formats share one Layout: model metres are
// converted to millimetres, divided by the scale denominator, and centred
// in the printable area of the sheet (the sheet minus a 10 mm margin and a
// 40 mm title block along the bottom edge).
package planexport

import (
	"fmt"

	"github.com/banshee-data/survey.report/internal/survey/walls"
)

// Result is a rendered plan.
type Result struct {
	Bytes       []byte
	Format      Format
	PaperSize   PaperSize
	Orientation Orientation
	Scale       int
}

// ContentType returns the MIME type of the rendered document.
func (r *Result) ContentType() string { return r.Format.ContentType() }

// Export renders ws and returns the document bytes.
func Export(ws []walls.Wall, o Options) ([]byte, error) {
	r, err := Render(ws, o)
	if err != nil {
		return nil, err
	}
	return r.Bytes, nil
}

// Render is Export that also reports the resolved sheet orientation.
func Render(ws []walls.Wall, o Options) (*Result, error) {
	if len(ws) == 0 {
		return nil, ErrEmptyGeometry
	}
	if o.Orientation == "" {
		o.Orientation = OrientationAuto
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	l, err := NewLayout(ws, o.PaperSize, o.Orientation, o.Scale)
	if err != nil {
		return nil, err
	}

	var out []byte
	switch o.Format {
	case FormatDXF:
		out, err = renderDXF(ws, o, l)
	default:
		out, err = renderVector(ws, o, l)
	}
	if err != nil {
		return nil, fmt.Errorf("render %s plan: %w", o.Format, err)
	}
	return &Result{
		Bytes:       out,
		Format:      o.Format,
		PaperSize:   o.PaperSize,
		Orientation: l.Orientation,
		Scale:       o.Scale,
	}, nil
}
