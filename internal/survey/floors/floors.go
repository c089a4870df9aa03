// Package floors finds building stories from the vertical distribution of
// points. Floor slabs and ceilings put many returns into a narrow height
// band, so stories show up as sharp peaks in a z histogram.
package floors

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/survey.report/internal/survey/pointcloud"
)

// maxBins caps the histogram size when a scan has wild z outliers.
const maxBins = 200000

// Params tune the detector.
type Params struct {
	// BinWidthM is the histogram bin width in metres.
	BinWidthM float64
	// MinPeakRatio is the minimum peak bin count divided by the mean count
	// of non-empty bins.
	MinPeakRatio float64
	// MinPoints is the minimum number of points inside a floor band.
	MinPoints int
	// MinSeparationM is the minimum height difference between floors. Of
	// two closer peaks the denser one is kept.
	MinSeparationM float64
}

// DefaultParams returns the detector defaults.
func DefaultParams() Params {
	return Params{
		BinWidthM:      0.05,
		MinPeakRatio:   3.0,
		MinPoints:      200,
		MinSeparationM: 1.5,
	}
}

// Floor is one detected story.
type Floor struct {
	Label      string  `json:"label"`
	HeightM    float64 `json:"height_m"`
	ZMinM      float64 `json:"z_min_m"`
	ZMaxM      float64 `json:"z_max_m"`
	PointCount int     `json:"point_count"`
	PeakRatio  float64 `json:"peak_ratio"`
	Confidence float64 `json:"confidence"`
	SortOrder  int     `json:"sort_order"`
}

// Histogram is a z histogram. Bin i covers [OriginM+i*BinWidthM,
// OriginM+(i+1)*BinWidthM).
type Histogram struct {
	OriginM   float64 `json:"origin_m"`
	BinWidthM float64 `json:"bin_width_m"`
	Counts    []int   `json:"counts"`
}

// Center returns the height of the middle of bin i.
func (h *Histogram) Center(i int) float64 {
	return h.OriginM + (float64(i)+0.5)*h.BinWidthM
}

// MeanOccupied returns the mean count over non-empty bins.
func (h *Histogram) MeanOccupied() float64 {
	total, occupied := 0, 0
	for _, c := range h.Counts {
		if c > 0 {
			total += c
			occupied++
		}
	}
	if occupied == 0 {
		return 0
	}
	return float64(total) / float64(occupied)
}

// BuildHistogram bins the z values of cloud. An empty cloud yields an empty
// histogram.
func BuildHistogram(cloud *pointcloud.Cloud, binWidth float64) *Histogram {
	h := &Histogram{BinWidthM: binWidth}
	if cloud.Count() == 0 || binWidth <= 0 {
		return h
	}
	h.OriginM = cloud.Bounds.Min.Z
	extent := cloud.Bounds.Max.Z - cloud.Bounds.Min.Z
	n := int(extent/binWidth) + 1
	if n > maxBins {
		n = maxBins
		h.BinWidthM = extent / float64(maxBins-1)
	}
	h.Counts = make([]int, n)
	for _, p := range cloud.Points {
		i := int((p.Z - h.OriginM) / h.BinWidthM)
		if i < 0 {
			i = 0
		}
		if i >= n {
			i = n - 1
		}
		h.Counts[i]++
	}
	return h
}

type band struct {
	peak   int
	lo, hi int // inclusive bin range
	ratio  float64
}

// Detect returns the floors of cloud in ascending height order. A cloud
// without qualifying peaks yields an empty slice.
func Detect(cloud *pointcloud.Cloud, p Params) []Floor {
	floors, _ := DetectWithHistogram(cloud, p)
	return floors
}

// DetectWithHistogram is Detect that also returns the histogram it used,
// for diagnostics.
func DetectWithHistogram(cloud *pointcloud.Cloud, p Params) ([]Floor, *Histogram) {
	h := BuildHistogram(cloud, p.BinWidthM)
	mean := h.MeanOccupied()
	if mean == 0 || p.MinPeakRatio <= 0 {
		return []Floor{}, h
	}
	threshold := p.MinPeakRatio * mean

	var candidates []band
	c := h.Counts
	for i := range c {
		if float64(c[i]) < threshold {
			continue
		}
		if i > 0 && c[i-1] >= c[i] {
			continue
		}
		// A plateau counts once, from its first bin.
		end := i
		for end+1 < len(c) && c[end+1] == c[i] {
			end++
		}
		if end+1 < len(c) && c[end+1] > c[i] {
			continue
		}
		half := float64(c[i]) / 2
		lo, hi := i, i
		for lo > 0 && float64(c[lo-1]) >= half {
			lo--
		}
		for hi+1 < len(c) && float64(c[hi+1]) >= half {
			hi++
		}
		candidates = append(candidates, band{peak: i, lo: lo, hi: hi, ratio: float64(c[i]) / mean})
	}

	// Denser peaks claim their neighbourhood first.
	sort.SliceStable(candidates, func(a, b int) bool {
		return c[candidates[a].peak] > c[candidates[b].peak]
	})
	var kept []band
	for _, cand := range candidates {
		ok := true
		for _, k := range kept {
			if math.Abs(h.Center(cand.peak)-h.Center(k.peak)) < p.MinSeparationM {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, cand)
		}
	}
	sort.Slice(kept, func(a, b int) bool { return kept[a].peak < kept[b].peak })

	for i := 0; i+1 < len(kept); i++ {
		a, b := &kept[i], &kept[i+1]
		if a.hi >= b.lo {
			mid := (a.peak + b.peak) / 2
			a.hi = min(a.hi, mid)
			b.lo = max(b.lo, mid+1)
		}
	}

	floors := []Floor{}
	for _, b := range kept {
		centers := make([]float64, 0, b.hi-b.lo+1)
		weights := make([]float64, 0, b.hi-b.lo+1)
		count := 0
		for j := b.lo; j <= b.hi; j++ {
			centers = append(centers, h.Center(j))
			weights = append(weights, float64(c[j]))
			count += c[j]
		}
		if count < p.MinPoints {
			continue
		}
		floors = append(floors, Floor{
			HeightM:    stat.Mean(centers, weights),
			ZMinM:      h.OriginM + float64(b.lo)*h.BinWidthM,
			ZMaxM:      h.OriginM + float64(b.hi+1)*h.BinWidthM,
			PointCount: count,
			PeakRatio:  b.ratio,
			Confidence: Confidence(b.ratio, p.MinPeakRatio),
		})
	}
	for i := range floors {
		floors[i].SortOrder = i
		floors[i].Label = Label(i)
	}
	return floors, h
}

// Confidence maps a peak ratio onto [0,1]. It is zero at the detection
// threshold, 0.5 at twice the threshold, and approaches one for very sharp
// peaks.
func Confidence(ratio, threshold float64) float64 {
	if threshold <= 0 || ratio <= 0 {
		return 0
	}
	v := 1 - 1/(ratio/threshold)
	return math.Max(0, math.Min(1, v))
}

// Label names the i-th floor from the bottom.
func Label(i int) string {
	if i == 0 {
		return "Ground"
	}
	return fmt.Sprintf("Level %d", i)
}
