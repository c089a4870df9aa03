// Package decimate reduces point density for browser previews while
// keeping spatial coverage. Space is bucketed into a regular voxel grid
// whose edge is derived from the cloud's bounds and the point budget, and
// the first point seen in each occupied voxel is kept.
package decimate

import (
	"math"

	"github.com/banshee-data/survey.report/internal/survey/pointcloud"
)

// MinVoxelEdgeM is the smallest voxel edge the grid will use.
const MinVoxelEdgeM = 0.001

// Params selects the point budget. TargetPoints wins when set; otherwise
// the budget is ceil(n*Ratio). A budget that is zero or at least the input
// size returns a copy.
type Params struct {
	TargetPoints int
	Ratio        float64
}

// Budget resolves the point budget for an input of n points.
func (p Params) Budget(n int) int {
	if p.TargetPoints > 0 {
		return p.TargetPoints
	}
	if p.Ratio > 0 && p.Ratio < 1 {
		return int(math.Ceil(float64(n) * p.Ratio))
	}
	return n
}

// Stats describes one decimation run.
type Stats struct {
	InputPoints    int
	OutputPoints   int
	Budget         int
	VoxelEdgeM     float64
	OccupiedVoxels int
}

type voxelKey struct {
	x, y, z int64
}

// Decimate returns a new cloud holding at most one point per occupied
// voxel, in first-seen order. The input cloud is not modified.
func Decimate(cloud *pointcloud.Cloud, p Params) (*pointcloud.Cloud, Stats) {
	n := cloud.Count()
	budget := p.Budget(n)
	stats := Stats{InputPoints: n, Budget: budget}
	if cloud == nil {
		return pointcloud.New(nil), stats
	}
	if n == 0 {
		return cloud.WithPoints(nil), stats
	}
	if budget >= n {
		out := make([]pointcloud.Point, n)
		copy(out, cloud.Points)
		stats.OutputPoints = n
		stats.OccupiedVoxels = n
		return cloud.WithPoints(out), stats
	}

	edge := VoxelEdge(cloud.Bounds, budget)
	stats.VoxelEdgeM = edge
	origin := cloud.Bounds.Min

	seen := make(map[voxelKey]struct{}, budget)
	out := make([]pointcloud.Point, 0, budget)
	for _, pt := range cloud.Points {
		k := voxelKey{
			x: int64(math.Floor((pt.X - origin.X) / edge)),
			y: int64(math.Floor((pt.Y - origin.Y) / edge)),
			z: int64(math.Floor((pt.Z - origin.Z) / edge)),
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, pt)
	}
	stats.OutputPoints = len(out)
	stats.OccupiedVoxels = len(seen)
	return cloud.WithPoints(out), stats
}

// VoxelEdge derives the grid edge from the bounds measure divided by the
// budget. Axes with zero extent are left out, so flat or linear clouds use
// area or length instead of volume.
func VoxelEdge(b pointcloud.Bounds, budget int) float64 {
	if budget <= 0 {
		budget = 1
	}
	ext := b.Extent()
	measure, dims := 1.0, 0
	for _, e := range []float64{ext.X, ext.Y, ext.Z} {
		if e > 0 {
			measure *= e
			dims++
		}
	}
	if dims == 0 {
		return MinVoxelEdgeM
	}
	edge := math.Pow(measure/float64(budget), 1/float64(dims))
	return math.Max(edge, MinVoxelEdgeM)
}
