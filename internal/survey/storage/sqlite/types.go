package sqlite

import (
	"encoding/json"
	"errors"

	"github.com/banshee-data/survey.report/internal/survey/floors"
	"github.com/banshee-data/survey.report/internal/survey/pointcloud"
	"github.com/banshee-data/survey.report/internal/survey/walls"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStatusConflict is returned when a conditional status update finds
	// the scan in a different status than expected.
	ErrStatusConflict = errors.New("scan status changed concurrently")
)

// Status is a scan's processing status.
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusConverting Status = "converting"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

// Active reports whether a worker may currently own the scan.
func (s Status) Active() bool {
	return s == StatusUploaded || s == StatusConverting || s == StatusProcessing
}

// SourceFormat is the format a scan was uploaded in.
type SourceFormat string

const (
	FormatLAS SourceFormat = "las"
	FormatE57 SourceFormat = "e57"
)

// EventKind classifies scan_events rows.
type EventKind string

const (
	EventStatusChange       EventKind = "status_change"
	EventProcessingComplete EventKind = "processing_complete"
	EventProcessingFailed   EventKind = "processing_failed"
	EventPlanExported       EventKind = "plan_exported"
	EventRequeued           EventKind = "requeued"
)

// Scan is one uploaded point cloud and its processing state.
type Scan struct {
	ScanID              string             `json:"scan_id"`
	Filename            string             `json:"filename"`
	SourceFormat        SourceFormat       `json:"source_format"`
	RawPath             string             `json:"raw_path"`
	ConvertedPath       string             `json:"converted_path,omitempty"`
	DecimatedPath       string             `json:"decimated_path,omitempty"`
	PreviewPath         string             `json:"preview_path,omitempty"`
	FileSize            int64              `json:"file_size"`
	PointCount          int64              `json:"point_count"`
	DecimatedPointCount int64              `json:"decimated_point_count"`
	Bounds              *pointcloud.Bounds `json:"bounds,omitempty"`
	ZHistogramJSON      json.RawMessage    `json:"z_histogram,omitempty"`
	Status              Status             `json:"processing_status"`
	Error               string             `json:"processing_error,omitempty"`
	CreatedAtNs         int64              `json:"created_at_ns"`
	UpdatedAtNs         int64              `json:"updated_at_ns"`
	ProcessedAtNs       int64              `json:"processed_at_ns,omitempty"`
}

// LASPath returns the object holding the scan's LAS points: the converted
// file for E57 uploads, otherwise the raw upload.
func (s *Scan) LASPath() string {
	if s.ConvertedPath != "" {
		return s.ConvertedPath
	}
	return s.RawPath
}

// Floor is a persisted floor detection.
type Floor struct {
	FloorID string `json:"floor_id"`
	ScanID  string `json:"scan_id"`
	floors.Floor
}

// Wall is a persisted wall detection.
type Wall struct {
	WallID  string `json:"wall_id"`
	FloorID string `json:"floor_id"`
	walls.Wall
}

// Plan is an exported drawing. Plans are never updated.
type Plan struct {
	PlanID      string `json:"plan_id"`
	FloorID     string `json:"floor_id"`
	Reference   string `json:"reference"`
	Format      string `json:"format"`
	PaperSize   string `json:"paper_size"`
	Orientation string `json:"orientation"`
	ScaleRatio  int    `json:"scale_ratio"`
	StoragePath string `json:"storage_path"`
	ByteSize    int64  `json:"byte_size"`
	Generator   string `json:"generator"`
	CreatedAtNs int64  `json:"created_at_ns"`
}

// Event is one audit log entry.
type Event struct {
	EventID     string    `json:"event_id"`
	ScanID      string    `json:"scan_id"`
	Kind        EventKind `json:"kind"`
	Status      Status    `json:"status"`
	Message     string    `json:"message"`
	CreatedAtNs int64     `json:"created_at_ns"`
}

// FloorDetections is one floor and the walls found on it.
type FloorDetections struct {
	Floor floors.Floor
	Walls []walls.Wall
}

// ProcessingResult is everything a successful run writes.
type ProcessingResult struct {
	ScanID              string
	PointCount          int64
	DecimatedPointCount int64
	Bounds              pointcloud.Bounds
	DecimatedPath       string
	PreviewPath         string
	ZHistogramJSON      []byte
	Floors              []FloorDetections
	Message             string
}
