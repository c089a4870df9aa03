package walls

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"

	"github.com/banshee-data/survey.report/internal/survey/pointcloud"
)

// wallPoints scatters n points along a-b with perpendicular noise.
func wallPoints(rng *rand.Rand, a, b orb.Point, n int, sigma float64) []orb.Point {
	dx, dy := b[0]-a[0], b[1]-a[1]
	l := math.Hypot(dx, dy)
	nx, ny := -dy/l, dx/l
	pts := make([]orb.Point, n)
	for i := range pts {
		t := rng.Float64()
		e := rng.NormFloat64() * sigma
		pts[i] = orb.Point{a[0] + t*dx + e*nx, a[1] + t*dy + e*ny}
	}
	return pts
}

func squareRoom(seed int64, side float64) []orb.Point {
	rng := rand.New(rand.NewSource(seed))
	corners := []orb.Point{{0, 0}, {side, 0}, {side, side}, {0, side}}
	var pts []orb.Point
	for i := range corners {
		pts = append(pts, wallPoints(rng, corners[i], corners[(i+1)%4], 400, 0.005)...)
	}
	for i := 0; i < 200; i++ {
		pts = append(pts, orb.Point{0.5 + rng.Float64()*(side-1), 0.5 + rng.Float64()*(side-1)})
	}
	rng.Shuffle(len(pts), func(i, j int) { pts[i], pts[j] = pts[j], pts[i] })
	return pts
}

func TestDetectSlice_SquareRoom(t *testing.T) {
	const side = 6.0
	walls, stats := DetectSlice(squareRoom(1, side), DefaultParams())

	if len(walls) != 4 {
		t.Fatalf("got %d walls, want 4: %+v", len(walls), walls)
	}
	for _, w := range walls {
		if math.Abs(w.LengthM-side)/side > 0.10 {
			t.Errorf("%s length %.3f not within 10%% of %.1f", w.Label, w.LengthM, side)
		}
		if w.Confidence < 0.5 {
			t.Errorf("%s confidence %.2f below 0.5", w.Label, w.Confidence)
		}
		if w.ThicknessM <= 0 || w.ThicknessM > 0.1 {
			t.Errorf("%s thickness %.3f", w.Label, w.ThicknessM)
		}
		if w.Start == w.End {
			t.Errorf("%s has coincident endpoints", w.Label)
		}
	}
	if walls[0].Label != "W1" || walls[3].Label != "W4" {
		t.Errorf("labels: %s..%s", walls[0].Label, walls[3].Label)
	}
	for i := 1; i < len(walls); i++ {
		if walls[i].LengthM > walls[i-1].LengthM {
			t.Errorf("walls not ordered by length at %d", i)
		}
	}
	if stats.SlicePoints != 1800 {
		t.Errorf("SlicePoints=%d", stats.SlicePoints)
	}
}

func TestDetectSlice_Deterministic(t *testing.T) {
	pts := squareRoom(2, 5)
	a, sa := DetectSlice(pts, DefaultParams())
	b, sb := DetectSlice(pts, DefaultParams())
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("runs differ (-first +second):\n%s", diff)
	}
	if sa != sb {
		t.Fatalf("stats differ: %+v vs %+v", sa, sb)
	}
}

func TestDetectSlice_DoesNotModifyInput(t *testing.T) {
	pts := squareRoom(3, 4)
	orig := append([]orb.Point(nil), pts...)
	DetectSlice(pts, DefaultParams())
	if diff := cmp.Diff(orig, pts); diff != "" {
		t.Fatal("input slice modified")
	}
}

func TestDetectSlice_SplitsAtGap(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	pts := wallPoints(rng, orb.Point{0, 0}, orb.Point{3, 0}, 300, 0.003)
	pts = append(pts, wallPoints(rng, orb.Point{4.5, 0}, orb.Point{8, 0}, 300, 0.003)...)

	walls, stats := DetectSlice(pts, DefaultParams())
	if len(walls) != 2 {
		t.Fatalf("got %d walls, want 2", len(walls))
	}
	if stats.LinesAccepted != 1 {
		t.Errorf("LinesAccepted=%d, want 1", stats.LinesAccepted)
	}
	if math.Abs(walls[0].LengthM-3.5) > 0.2 || math.Abs(walls[1].LengthM-3) > 0.2 {
		t.Errorf("lengths %.2f, %.2f", walls[0].LengthM, walls[1].LengthM)
	}
}

func TestDetectSlice_RejectsShortSegments(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	pts := wallPoints(rng, orb.Point{1, 1}, orb.Point{1.3, 1}, 100, 0.002)

	walls, stats := DetectSlice(pts, DefaultParams())
	if len(walls) != 0 {
		t.Fatalf("expected no walls, got %+v", walls)
	}
	if stats.SegmentsShort != 1 {
		t.Errorf("SegmentsShort=%d, want 1", stats.SegmentsShort)
	}

	p := DefaultParams()
	p.MinSegmentLengthM = 0.2
	if walls, _ := DetectSlice(pts, p); len(walls) != 1 {
		t.Errorf("with lower minimum got %d walls", len(walls))
	}
}

func TestDetectSlice_TooFewPoints(t *testing.T) {
	walls, stats := DetectSlice([]orb.Point{{0, 0}, {1, 1}}, DefaultParams())
	if walls == nil || len(walls) != 0 {
		t.Fatalf("expected empty non-nil result, got %v", walls)
	}
	if stats.RemainingPoints != 2 {
		t.Errorf("RemainingPoints=%d", stats.RemainingPoints)
	}
}

func TestDetect_UsesSliceAboveFloor(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	var pts []pointcloud.Point
	// floor slab at z=2.0
	for i := 0; i < 5000; i++ {
		pts = append(pts, pointcloud.Point{X: rng.Float64() * 6, Y: rng.Float64() * 6, Z: 2.0 + rng.NormFloat64()*0.005})
	}
	for _, q := range squareRoom(7, 6) {
		for k := 0; k < 25; k++ {
			pts = append(pts, pointcloud.Point{X: q[0], Y: q[1], Z: 2.0 + rng.Float64()*2.5})
		}
	}
	cloud := pointcloud.New(pts)

	slice := Slice(cloud, 2.0, DefaultParams())
	if len(slice) == 0 || len(slice) > 3000 {
		t.Fatalf("slice holds %d points", len(slice))
	}
	walls, _ := Detect(cloud, 2.0, DefaultParams())
	if len(walls) != 4 {
		t.Fatalf("got %d walls, want 4", len(walls))
	}
}

func TestWall_Outline(t *testing.T) {
	w := Wall{Start: orb.Point{0, 0}, End: orb.Point{4, 0}, LengthM: 4, ThicknessM: 0.2}
	ring := w.Outline()
	want := orb.Ring{{0, 0.1}, {4, 0.1}, {4, -0.1}, {0, -0.1}, {0, 0.1}}
	if diff := cmp.Diff(want, ring, cmp.Comparer(func(a, b float64) bool { return math.Abs(a-b) < 1e-12 })); diff != "" {
		t.Errorf("outline mismatch:\n%s", diff)
	}
}

func TestParams_Validate(t *testing.T) {
	if err := DefaultParams().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	bad := DefaultParams()
	bad.InlierToleranceM = 0
	if err := bad.Validate(); err == nil {
		t.Error("zero tolerance accepted")
	}
	bad = DefaultParams()
	bad.MinClusterPoints = 1
	if err := bad.Validate(); err == nil {
		t.Error("MinClusterPoints=1 accepted")
	}
}
