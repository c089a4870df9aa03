// Package walls extracts straight wall segments from a horizontal slice of
// a point cloud.
//
// A slice taken just above a floor cuts walls into dense line-like
// clusters and crosses open floor area sparsely. Lines are found with
// sequential RANSAC: sample point pairs, keep the line with the most
// inliers, refine it by total least squares, cut its inliers into segments
// at gaps, remove them, and repeat until too few points remain.
package walls

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/survey.report/internal/survey/pointcloud"
)

// expectedWallShare is the slice fraction at which a wall reaches full
// confidence: one side of a four-walled room.
const expectedWallShare = 0.25

// Params tune the detector.
type Params struct {
	// SliceOffsetM is the height of the slice bottom above the floor.
	SliceOffsetM float64
	// SliceThicknessM is the vertical thickness of the slice.
	SliceThicknessM float64
	// InlierToleranceM is the maximum point-to-line distance of an inlier.
	InlierToleranceM float64
	// MinSegmentLengthM rejects shorter segments as noise.
	MinSegmentLengthM float64
	// MinClusterPoints stops the search once fewer points remain, and is
	// the minimum support for an accepted line.
	MinClusterPoints int
	// Iterations is the number of pair samples per line.
	Iterations int
	// MaxWalls caps the number of accepted lines.
	MaxWalls int
	// MaxGapM splits a line's inliers into separate segments.
	MaxGapM float64
	// Seed makes sampling reproducible.
	Seed int64
}

// DefaultParams returns the detector defaults.
func DefaultParams() Params {
	return Params{
		SliceOffsetM:      0.05,
		SliceThicknessM:   0.10,
		InlierToleranceM:  0.03,
		MinSegmentLengthM: 0.5,
		MinClusterPoints:  50,
		Iterations:        500,
		MaxWalls:          64,
		MaxGapM:           0.5,
		Seed:              1,
	}
}

// Validate reports parameters the detector cannot run with.
func (p Params) Validate() error {
	switch {
	case p.SliceThicknessM <= 0:
		return fmt.Errorf("slice thickness must be positive, got %v", p.SliceThicknessM)
	case p.InlierToleranceM <= 0:
		return fmt.Errorf("inlier tolerance must be positive, got %v", p.InlierToleranceM)
	case p.MinSegmentLengthM < 0:
		return fmt.Errorf("minimum segment length must not be negative, got %v", p.MinSegmentLengthM)
	case p.MinClusterPoints < 2:
		return fmt.Errorf("minimum cluster points must be at least 2, got %d", p.MinClusterPoints)
	case p.Iterations < 1:
		return fmt.Errorf("iterations must be at least 1, got %d", p.Iterations)
	case p.MaxWalls < 1:
		return fmt.Errorf("max walls must be at least 1, got %d", p.MaxWalls)
	case p.MaxGapM <= 0:
		return fmt.Errorf("max gap must be positive, got %v", p.MaxGapM)
	}
	return nil
}

// Wall is one detected segment in plan coordinates (metres).
type Wall struct {
	Label       string    `json:"label"`
	Start       orb.Point `json:"start"`
	End         orb.Point `json:"end"`
	ThicknessM  float64   `json:"thickness_m"`
	LengthM     float64   `json:"length_m"`
	Confidence  float64   `json:"confidence"`
	InlierCount int       `json:"inlier_count"`
}

// Direction returns the unit vector from Start to End.
func (w Wall) Direction() orb.Point {
	if w.LengthM == 0 {
		return orb.Point{1, 0}
	}
	return orb.Point{(w.End[0] - w.Start[0]) / w.LengthM, (w.End[1] - w.Start[1]) / w.LengthM}
}

// Outline returns the closed rectangle covering the wall's thickness.
func (w Wall) Outline() orb.Ring {
	d := w.Direction()
	h := w.ThicknessM / 2
	nx, ny := -d[1]*h, d[0]*h
	return orb.Ring{
		{w.Start[0] + nx, w.Start[1] + ny},
		{w.End[0] + nx, w.End[1] + ny},
		{w.End[0] - nx, w.End[1] - ny},
		{w.Start[0] - nx, w.Start[1] - ny},
		{w.Start[0] + nx, w.Start[1] + ny},
	}
}

// Stats describes one detection run.
type Stats struct {
	SlicePoints     int `json:"slice_points"`
	LinesAccepted   int `json:"lines_accepted"`
	SegmentsShort   int `json:"segments_short"`
	RemainingPoints int `json:"remaining_points"`
}

// Slice returns the plan projection of points in the wall band above
// floorHeight.
func Slice(cloud *pointcloud.Cloud, floorHeight float64, p Params) []orb.Point {
	if cloud == nil {
		return nil
	}
	lo := floorHeight + p.SliceOffsetM
	band := cloud.ZBand(lo, lo+p.SliceThicknessM)
	out := make([]orb.Point, len(band))
	for i, pt := range band {
		out[i] = orb.Point{pt.X, pt.Y}
	}
	return out
}

// Detect finds wall segments for the floor at floorHeight. Results are
// labelled W1..Wn by descending length and are identical for identical
// input and Seed.
func Detect(cloud *pointcloud.Cloud, floorHeight float64, p Params) ([]Wall, Stats) {
	return DetectSlice(Slice(cloud, floorHeight, p), p)
}

// DetectSlice runs the line search on an already extracted slice.
func DetectSlice(slice []orb.Point, p Params) ([]Wall, Stats) {
	stats := Stats{SlicePoints: len(slice)}
	walls := []Wall{}
	if len(slice) < 2 || p.MinClusterPoints < 2 {
		stats.RemainingPoints = len(slice)
		return walls, stats
	}

	rng := rand.New(rand.NewSource(p.Seed))
	remaining := make([]orb.Point, len(slice))
	copy(remaining, slice)

	for len(remaining) >= p.MinClusterPoints && stats.LinesAccepted < p.MaxWalls {
		l, ok := bestLine(rng, remaining, p)
		if !ok {
			break
		}
		inliers, outliers := partition(remaining, l, p.InlierToleranceM)
		if len(inliers) < p.MinClusterPoints {
			break
		}
		if refined, ok := fitTLS(inliers); ok {
			if in2, out2 := partition(remaining, refined, p.InlierToleranceM); len(in2) >= len(inliers) {
				l, inliers, outliers = refined, in2, out2
				if again, ok := fitTLS(inliers); ok {
					l = again
				}
			}
		}
		stats.LinesAccepted++

		for _, run := range splitAtGaps(inliers, l, p.MaxGapM) {
			w, ok := segment(run, l, p)
			if !ok {
				stats.SegmentsShort++
				continue
			}
			w.Confidence = math.Min(1, float64(len(run))/float64(len(slice))/expectedWallShare)
			walls = append(walls, w)
		}
		remaining = outliers
	}
	stats.RemainingPoints = len(remaining)

	sort.SliceStable(walls, func(i, j int) bool { return walls[i].LengthM > walls[j].LengthM })
	for i := range walls {
		walls[i].Label = fmt.Sprintf("W%d", i+1)
	}
	return walls, stats
}

// line is a point on the line plus a unit direction.
type line struct {
	origin orb.Point
	dir    orb.Point
}

func (l line) distance(p orb.Point) float64 {
	dx, dy := p[0]-l.origin[0], p[1]-l.origin[1]
	return math.Abs(dx*l.dir[1] - dy*l.dir[0])
}

func (l line) signedOffset(p orb.Point) float64 {
	dx, dy := p[0]-l.origin[0], p[1]-l.origin[1]
	return dx*l.dir[1] - dy*l.dir[0]
}

func (l line) project(p orb.Point) float64 {
	return (p[0]-l.origin[0])*l.dir[0] + (p[1]-l.origin[1])*l.dir[1]
}

func (l line) at(t float64) orb.Point {
	return orb.Point{l.origin[0] + t*l.dir[0], l.origin[1] + t*l.dir[1]}
}

func lineThrough(a, b orb.Point) (line, bool) {
	d := planar.Distance(a, b)
	if d == 0 {
		return line{}, false
	}
	return line{origin: a, dir: orb.Point{(b[0] - a[0]) / d, (b[1] - a[1]) / d}}, true
}

// bestLine samples point pairs and returns the line with the most inliers.
// Only a strictly larger count replaces the current best.
func bestLine(rng *rand.Rand, pts []orb.Point, p Params) (line, bool) {
	var best line
	bestCount := 0
	n := len(pts)
	for it := 0; it < p.Iterations; it++ {
		i := rng.Intn(n)
		j := rng.Intn(n - 1)
		if j >= i {
			j++
		}
		l, ok := lineThrough(pts[i], pts[j])
		if !ok {
			continue
		}
		count := 0
		for _, q := range pts {
			if l.distance(q) <= p.InlierToleranceM {
				count++
			}
		}
		if count > bestCount {
			best, bestCount = l, count
		}
	}
	return best, bestCount > 0
}

func partition(pts []orb.Point, l line, tol float64) (in, out []orb.Point) {
	for _, q := range pts {
		if l.distance(q) <= tol {
			in = append(in, q)
		} else {
			out = append(out, q)
		}
	}
	return in, out
}

// fitTLS fits a line by total least squares: the direction is the
// principal eigenvector of the inlier covariance.
func fitTLS(pts []orb.Point) (line, bool) {
	if len(pts) < 2 {
		return line{}, false
	}
	xs := make([]float64, len(pts))
	ys := make([]float64, len(pts))
	for i, q := range pts {
		xs[i], ys[i] = q[0], q[1]
	}
	mx, my := stat.Mean(xs, nil), stat.Mean(ys, nil)
	cov := mat.NewSymDense(2, []float64{
		stat.Covariance(xs, xs, nil), stat.Covariance(xs, ys, nil),
		stat.Covariance(xs, ys, nil), stat.Covariance(ys, ys, nil),
	})
	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return line{}, false
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	// Eigenvalues are ascending; the last column is the principal axis.
	dx, dy := vecs.At(0, 1), vecs.At(1, 1)
	norm := math.Hypot(dx, dy)
	if norm == 0 {
		return line{}, false
	}
	return line{origin: orb.Point{mx, my}, dir: orb.Point{dx / norm, dy / norm}}, true
}

// splitAtGaps orders inliers along the line and cuts wherever consecutive
// projections are more than maxGap apart.
func splitAtGaps(pts []orb.Point, l line, maxGap float64) [][]orb.Point {
	type proj struct {
		t float64
		p orb.Point
	}
	ps := make([]proj, len(pts))
	for i, q := range pts {
		ps[i] = proj{t: l.project(q), p: q}
	}
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].t < ps[j].t })

	var runs [][]orb.Point
	var cur []orb.Point
	for i, q := range ps {
		if i > 0 && q.t-ps[i-1].t > maxGap {
			runs = append(runs, cur)
			cur = nil
		}
		cur = append(cur, q.p)
	}
	if len(cur) > 0 {
		runs = append(runs, cur)
	}
	return runs
}

// segment turns one run of inliers into a wall, or reports false when it is
// shorter than the minimum length.
func segment(run []orb.Point, l line, p Params) (Wall, bool) {
	if len(run) < 2 {
		return Wall{}, false
	}
	tMin, tMax := math.Inf(1), math.Inf(-1)
	offsets := make([]float64, len(run))
	for i, q := range run {
		t := l.project(q)
		tMin = math.Min(tMin, t)
		tMax = math.Max(tMax, t)
		offsets[i] = l.signedOffset(q)
	}
	start, end := l.at(tMin), l.at(tMax)
	length := planar.Distance(start, end)
	if length <= 0 || length < p.MinSegmentLengthM {
		return Wall{}, false
	}
	thickness := math.Max(2*stat.StdDev(offsets, nil), p.InlierToleranceM)
	return Wall{
		Start:       start,
		End:         end,
		LengthM:     length,
		ThicknessM:  thickness,
		InlierCount: len(run),
	}, true
}
