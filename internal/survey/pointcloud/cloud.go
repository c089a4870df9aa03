package pointcloud

import "math"

// Point is a single laser return in metres.
type Point struct {
	X, Y, Z        float64
	Intensity      uint16
	Classification uint8
	R, G, B        uint16
}

// Vec3 is a bare coordinate triple.
type Vec3 struct {
	X, Y, Z float64
}

// Bounds is an axis-aligned bounding box.
type Bounds struct {
	Min Vec3 `json:"min"`
	Max Vec3 `json:"max"`
}

// Extent returns the size of the box along each axis.
func (b Bounds) Extent() Vec3 {
	return Vec3{X: b.Max.X - b.Min.X, Y: b.Max.Y - b.Min.Y, Z: b.Max.Z - b.Min.Z}
}

// Contains reports whether p lies inside the box (inclusive).
func (b Bounds) Contains(p Point) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Cloud is an ordered collection of points with cached bounds.
type Cloud struct {
	Points []Point
	Bounds Bounds

	// Attribute presence as declared by the source format.
	HasIntensity      bool
	HasClassification bool
	HasColor          bool
}

// New builds a Cloud and computes its bounds. The slice is retained.
func New(points []Point) *Cloud {
	c := &Cloud{Points: points}
	c.Bounds = ComputeBounds(points)
	return c
}

// Count returns the number of points.
func (c *Cloud) Count() int {
	if c == nil {
		return 0
	}
	return len(c.Points)
}

// WithPoints returns a new cloud carrying the same attribute flags as c
// but holding pts. Bounds are recomputed.
func (c *Cloud) WithPoints(pts []Point) *Cloud {
	out := New(pts)
	out.HasIntensity = c.HasIntensity
	out.HasClassification = c.HasClassification
	out.HasColor = c.HasColor
	return out
}

// ComputeBounds returns the bounding box of pts. An empty slice yields a
// zero box.
func ComputeBounds(pts []Point) Bounds {
	if len(pts) == 0 {
		return Bounds{}
	}
	b := Bounds{
		Min: Vec3{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)},
		Max: Vec3{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)},
	}
	for _, p := range pts {
		b.Min.X = math.Min(b.Min.X, p.X)
		b.Min.Y = math.Min(b.Min.Y, p.Y)
		b.Min.Z = math.Min(b.Min.Z, p.Z)
		b.Max.X = math.Max(b.Max.X, p.X)
		b.Max.Y = math.Max(b.Max.Y, p.Y)
		b.Max.Z = math.Max(b.Max.Z, p.Z)
	}
	return b
}

// ZBand returns the points whose Z lies in [lo, hi].
func (c *Cloud) ZBand(lo, hi float64) []Point {
	var out []Point
	for _, p := range c.Points {
		if p.Z >= lo && p.Z <= hi {
			out = append(out, p)
		}
	}
	return out
}
