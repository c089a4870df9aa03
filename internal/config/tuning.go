package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/survey.report/internal/survey/decimate"
	"github.com/banshee-data/survey.report/internal/survey/floors"
	"github.com/banshee-data/survey.report/internal/survey/las"
	"github.com/banshee-data/survey.report/internal/survey/preview"
	"github.com/banshee-data/survey.report/internal/survey/walls"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig holds the processing parameters of every pipeline stage.
// Fields are pointers so a partial JSON file only overrides what it names;
// the Get* methods supply defaults for the rest.
type TuningConfig struct {
	// Decimation
	DecimateTargetPoints *int     `json:"decimate_target_points,omitempty"`
	DecimateRatio        *float64 `json:"decimate_ratio,omitempty"`

	// Floor detection
	FloorBinWidthM      *float64 `json:"floor_bin_width_m,omitempty"`
	FloorMinPeakRatio   *float64 `json:"floor_min_peak_ratio,omitempty"`
	FloorMinPoints      *int     `json:"floor_min_points,omitempty"`
	FloorMinSeparationM *float64 `json:"floor_min_separation_m,omitempty"`

	// Wall detection
	WallSliceOffsetM      *float64 `json:"wall_slice_offset_m,omitempty"`
	WallSliceThicknessM   *float64 `json:"wall_slice_thickness_m,omitempty"`
	WallInlierToleranceM  *float64 `json:"wall_inlier_tolerance_m,omitempty"`
	WallMinSegmentLengthM *float64 `json:"wall_min_segment_length_m,omitempty"`
	WallMinClusterPoints  *int     `json:"wall_min_cluster_points,omitempty"`
	WallIterations        *int     `json:"wall_ransac_iterations,omitempty"`
	WallMaxWalls          *int     `json:"wall_max_walls,omitempty"`
	WallMaxGapM           *float64 `json:"wall_max_gap_m,omitempty"`
	WallSeed              *int64   `json:"wall_seed,omitempty"`

	// Artifacts
	LASOutputScale   *float64 `json:"las_output_scale,omitempty"`
	PreviewMaxSizePx *int     `json:"preview_max_size_px,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a config with every field set to its default.
func DefaultTuningConfig() *TuningConfig {
	e := EmptyTuningConfig()
	return &TuningConfig{
		DecimateTargetPoints:  ptrInt(e.GetDecimateTargetPoints()),
		DecimateRatio:         ptrFloat64(e.GetDecimateRatio()),
		FloorBinWidthM:        ptrFloat64(e.GetFloorBinWidthM()),
		FloorMinPeakRatio:     ptrFloat64(e.GetFloorMinPeakRatio()),
		FloorMinPoints:        ptrInt(e.GetFloorMinPoints()),
		FloorMinSeparationM:   ptrFloat64(e.GetFloorMinSeparationM()),
		WallSliceOffsetM:      ptrFloat64(e.GetWallSliceOffsetM()),
		WallSliceThicknessM:   ptrFloat64(e.GetWallSliceThicknessM()),
		WallInlierToleranceM:  ptrFloat64(e.GetWallInlierToleranceM()),
		WallMinSegmentLengthM: ptrFloat64(e.GetWallMinSegmentLengthM()),
		WallMinClusterPoints:  ptrInt(e.GetWallMinClusterPoints()),
		WallIterations:        ptrInt(e.GetWallIterations()),
		WallMaxWalls:          ptrInt(e.GetWallMaxWalls()),
		WallMaxGapM:           ptrFloat64(e.GetWallMaxGapM()),
		WallSeed:              ptrInt64(e.GetWallSeed()),
		LASOutputScale:        ptrFloat64(e.GetLASOutputScale()),
		PreviewMaxSizePx:      ptrInt(e.GetPreviewMaxSizePx()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/survey/pipeline/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.DecimateTargetPoints != nil && *c.DecimateTargetPoints < 0 {
		return fmt.Errorf("decimate_target_points must be non-negative, got %d", *c.DecimateTargetPoints)
	}
	if c.DecimateRatio != nil && (*c.DecimateRatio < 0 || *c.DecimateRatio > 1) {
		return fmt.Errorf("decimate_ratio must be between 0 and 1, got %f", *c.DecimateRatio)
	}

	if v := c.GetFloorBinWidthM(); v <= 0 || v > 1 {
		return fmt.Errorf("floor_bin_width_m must be in (0, 1], got %f", v)
	}
	if v := c.GetFloorMinPeakRatio(); v <= 1 {
		return fmt.Errorf("floor_min_peak_ratio must be greater than 1, got %f", v)
	}
	if v := c.GetFloorMinPoints(); v < 0 {
		return fmt.Errorf("floor_min_points must be non-negative, got %d", v)
	}
	if v := c.GetFloorMinSeparationM(); v < 0 {
		return fmt.Errorf("floor_min_separation_m must be non-negative, got %f", v)
	}

	if err := c.ToWallParams().Validate(); err != nil {
		return fmt.Errorf("wall parameters: %w", err)
	}

	if v := c.GetLASOutputScale(); v <= 0 || v > 1 {
		return fmt.Errorf("las_output_scale must be in (0, 1], got %f", v)
	}
	if v := c.GetPreviewMaxSizePx(); v < 16 || v > 8192 {
		return fmt.Errorf("preview_max_size_px must be between 16 and 8192, got %d", v)
	}
	return nil
}

// GetDecimateTargetPoints returns the decimate_target_points value or the default.
func (c *TuningConfig) GetDecimateTargetPoints() int {
	if c.DecimateTargetPoints == nil {
		return 500000
	}
	return *c.DecimateTargetPoints
}

// GetDecimateRatio returns the decimate_ratio value or the default. It is
// only used when the target point count is zero.
func (c *TuningConfig) GetDecimateRatio() float64 {
	if c.DecimateRatio == nil {
		return 0.1
	}
	return *c.DecimateRatio
}

// GetFloorBinWidthM returns the floor_bin_width_m value or the default.
func (c *TuningConfig) GetFloorBinWidthM() float64 {
	if c.FloorBinWidthM == nil {
		return 0.05
	}
	return *c.FloorBinWidthM
}

// GetFloorMinPeakRatio returns the floor_min_peak_ratio value or the default.
func (c *TuningConfig) GetFloorMinPeakRatio() float64 {
	if c.FloorMinPeakRatio == nil {
		return 3.0
	}
	return *c.FloorMinPeakRatio
}

// GetFloorMinPoints returns the floor_min_points value or the default.
func (c *TuningConfig) GetFloorMinPoints() int {
	if c.FloorMinPoints == nil {
		return 200
	}
	return *c.FloorMinPoints
}

// GetFloorMinSeparationM returns the floor_min_separation_m value or the default.
func (c *TuningConfig) GetFloorMinSeparationM() float64 {
	if c.FloorMinSeparationM == nil {
		return 1.5
	}
	return *c.FloorMinSeparationM
}

// GetWallSliceOffsetM returns the wall_slice_offset_m value or the default.
func (c *TuningConfig) GetWallSliceOffsetM() float64 {
	if c.WallSliceOffsetM == nil {
		return 0.05
	}
	return *c.WallSliceOffsetM
}

// GetWallSliceThicknessM returns the wall_slice_thickness_m value or the default.
func (c *TuningConfig) GetWallSliceThicknessM() float64 {
	if c.WallSliceThicknessM == nil {
		return 0.10
	}
	return *c.WallSliceThicknessM
}

// GetWallInlierToleranceM returns the wall_inlier_tolerance_m value or the default.
func (c *TuningConfig) GetWallInlierToleranceM() float64 {
	if c.WallInlierToleranceM == nil {
		return 0.03
	}
	return *c.WallInlierToleranceM
}

// GetWallMinSegmentLengthM returns the wall_min_segment_length_m value or the default.
func (c *TuningConfig) GetWallMinSegmentLengthM() float64 {
	if c.WallMinSegmentLengthM == nil {
		return 0.5
	}
	return *c.WallMinSegmentLengthM
}

// GetWallMinClusterPoints returns the wall_min_cluster_points value or the default.
func (c *TuningConfig) GetWallMinClusterPoints() int {
	if c.WallMinClusterPoints == nil {
		return 50
	}
	return *c.WallMinClusterPoints
}

// GetWallIterations returns the wall_ransac_iterations value or the default.
func (c *TuningConfig) GetWallIterations() int {
	if c.WallIterations == nil {
		return 500
	}
	return *c.WallIterations
}

// GetWallMaxWalls returns the wall_max_walls value or the default.
func (c *TuningConfig) GetWallMaxWalls() int {
	if c.WallMaxWalls == nil {
		return 64
	}
	return *c.WallMaxWalls
}

// GetWallMaxGapM returns the wall_max_gap_m value or the default.
func (c *TuningConfig) GetWallMaxGapM() float64 {
	if c.WallMaxGapM == nil {
		return 0.5
	}
	return *c.WallMaxGapM
}

// GetWallSeed returns the wall_seed value or the default.
func (c *TuningConfig) GetWallSeed() int64 {
	if c.WallSeed == nil {
		return 1
	}
	return *c.WallSeed
}

// GetLASOutputScale returns the las_output_scale value or the default.
func (c *TuningConfig) GetLASOutputScale() float64 {
	if c.LASOutputScale == nil {
		return las.DefaultScale
	}
	return *c.LASOutputScale
}

// GetPreviewMaxSizePx returns the preview_max_size_px value or the default.
func (c *TuningConfig) GetPreviewMaxSizePx() int {
	if c.PreviewMaxSizePx == nil {
		return preview.DefaultOptions().MaxSizePx
	}
	return *c.PreviewMaxSizePx
}

// ToDecimateParams builds decimator parameters.
func (c *TuningConfig) ToDecimateParams() decimate.Params {
	return decimate.Params{TargetPoints: c.GetDecimateTargetPoints(), Ratio: c.GetDecimateRatio()}
}

// ToFloorParams builds floor detector parameters.
func (c *TuningConfig) ToFloorParams() floors.Params {
	return floors.Params{
		BinWidthM:      c.GetFloorBinWidthM(),
		MinPeakRatio:   c.GetFloorMinPeakRatio(),
		MinPoints:      c.GetFloorMinPoints(),
		MinSeparationM: c.GetFloorMinSeparationM(),
	}
}

// ToWallParams builds wall detector parameters.
func (c *TuningConfig) ToWallParams() walls.Params {
	return walls.Params{
		SliceOffsetM:      c.GetWallSliceOffsetM(),
		SliceThicknessM:   c.GetWallSliceThicknessM(),
		InlierToleranceM:  c.GetWallInlierToleranceM(),
		MinSegmentLengthM: c.GetWallMinSegmentLengthM(),
		MinClusterPoints:  c.GetWallMinClusterPoints(),
		Iterations:        c.GetWallIterations(),
		MaxWalls:          c.GetWallMaxWalls(),
		MaxGapM:           c.GetWallMaxGapM(),
		Seed:              c.GetWallSeed(),
	}
}

// ToPreviewOptions builds thumbnail options.
func (c *TuningConfig) ToPreviewOptions() preview.Options {
	o := preview.DefaultOptions()
	o.MaxSizePx = c.GetPreviewMaxSizePx()
	return o
}
