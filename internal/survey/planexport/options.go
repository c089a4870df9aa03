package planexport

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrEmptyGeometry is returned for a plan with no walls.
	ErrEmptyGeometry = errors.New("plan has no wall geometry")

	// ErrDoesNotFit is returned when the drawing exceeds the printable
	// area of the paper at the requested scale.
	ErrDoesNotFit = errors.New("drawing does not fit the paper at the requested scale")

	// ErrInvalidOption reports an unknown format, paper size, orientation
	// or scale.
	ErrInvalidOption = errors.New("invalid export option")
)

// Format is the output document type.
type Format string

const (
	FormatPDF Format = "pdf"
	FormatSVG Format = "svg"
	FormatDXF Format = "dxf"
)

// Extension returns the file extension including the dot.
func (f Format) Extension() string { return "." + string(f) }

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatSVG:
		return "image/svg+xml"
	case FormatDXF:
		return "image/vnd.dxf"
	}
	return "application/octet-stream"
}

// ParseFormat accepts pdf, svg and dxf in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatPDF, FormatSVG, FormatDXF:
		return f, nil
	}
	return "", fmt.Errorf("%w: format %q", ErrInvalidOption, s)
}

// PaperSize is a named sheet size.
type PaperSize string

const (
	PaperA0     PaperSize = "A0"
	PaperA1     PaperSize = "A1"
	PaperA2     PaperSize = "A2"
	PaperA3     PaperSize = "A3"
	PaperA4     PaperSize = "A4"
	PaperLetter PaperSize = "letter"
)

// portrait sheet dimensions in millimetres.
var paperDims = map[PaperSize][2]float64{
	PaperA0:     {841, 1189},
	PaperA1:     {594, 841},
	PaperA2:     {420, 594},
	PaperA3:     {297, 420},
	PaperA4:     {210, 297},
	PaperLetter: {215.9, 279.4},
}

// ParsePaperSize accepts A0-A4 and letter in any case.
func ParsePaperSize(s string) (PaperSize, error) {
	t := strings.TrimSpace(s)
	if strings.EqualFold(t, string(PaperLetter)) {
		return PaperLetter, nil
	}
	p := PaperSize(strings.ToUpper(t))
	if _, ok := paperDims[p]; !ok {
		return "", fmt.Errorf("%w: paper size %q", ErrInvalidOption, s)
	}
	return p, nil
}

// Orientation of the sheet.
type Orientation string

const (
	OrientationAuto      Orientation = "auto"
	OrientationPortrait  Orientation = "portrait"
	OrientationLandscape Orientation = "landscape"
)

// ParseOrientation accepts auto, portrait and landscape. Empty means auto.
func ParseOrientation(s string) (Orientation, error) {
	switch o := Orientation(strings.ToLower(strings.TrimSpace(s))); o {
	case "":
		return OrientationAuto, nil
	case OrientationAuto, OrientationPortrait, OrientationLandscape:
		return o, nil
	}
	return "", fmt.Errorf("%w: orientation %q", ErrInvalidOption, s)
}

// ParseScale reads a scale ratio such as "1:100" or "1/50" and returns
// the denominator. A bare number is taken as the denominator.
func ParseScale(s string) (int, error) {
	t := strings.TrimSpace(s)
	if i := strings.IndexAny(t, ":/"); i >= 0 {
		if strings.TrimSpace(t[:i]) != "1" {
			return 0, fmt.Errorf("%w: scale %q must be 1:N", ErrInvalidOption, s)
		}
		t = strings.TrimSpace(t[i+1:])
	}
	n, err := strconv.Atoi(t)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: scale %q", ErrInvalidOption, s)
	}
	return n, nil
}

// FormatScale renders a denominator as "1:N".
func FormatScale(n int) string {
	return "1:" + strconv.Itoa(n)
}

// Options control one export.
type Options struct {
	Format      Format
	PaperSize   PaperSize
	Orientation Orientation
	// Scale is the ratio denominator; 100 means 1:100.
	Scale      int
	FloorLabel string
	Project    string
	Reference  string
	Generator  string
	Date       time.Time
}

// Validate checks the enumerated fields and the scale. Values must be the
// exact constants; use the Parse functions to accept user input.
func (o Options) Validate() error {
	switch o.Format {
	case FormatPDF, FormatSVG, FormatDXF:
	default:
		return fmt.Errorf("%w: format %q", ErrInvalidOption, o.Format)
	}
	if _, ok := paperDims[o.PaperSize]; !ok {
		return fmt.Errorf("%w: paper size %q", ErrInvalidOption, o.PaperSize)
	}
	switch o.Orientation {
	case "", OrientationAuto, OrientationPortrait, OrientationLandscape:
	default:
		return fmt.Errorf("%w: orientation %q", ErrInvalidOption, o.Orientation)
	}
	if o.Scale <= 0 {
		return fmt.Errorf("%w: scale denominator %d", ErrInvalidOption, o.Scale)
	}
	return nil
}
