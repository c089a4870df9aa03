package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/banshee-data/survey.report/internal/survey/pointcloud"
)

// Store persists survey records.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store backed by db. The schema must already exist.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const scanColumns = `scan_id, filename, source_format, raw_path, converted_path, decimated_path,
	preview_path, file_size, point_count, decimated_point_count,
	min_x, min_y, min_z, max_x, max_y, max_z, z_histogram_json,
	processing_status, processing_error, created_at_ns, updated_at_ns, processed_at_ns`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanScan(r rowScanner) (*Scan, error) {
	var (
		sc                                 Scan
		converted, decimated, preview      sql.NullString
		errS, hist                         sql.NullString
		minX, minY, minZ, maxX, maxY, maxZ sql.NullFloat64
		processedAt                        sql.NullInt64
	)
	err := r.Scan(
		&sc.ScanID, &sc.Filename, &sc.SourceFormat, &sc.RawPath, &converted, &decimated,
		&preview, &sc.FileSize, &sc.PointCount, &sc.DecimatedPointCount,
		&minX, &minY, &minZ, &maxX, &maxY, &maxZ, &hist,
		&sc.Status, &errS, &sc.CreatedAtNs, &sc.UpdatedAtNs, &processedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	sc.ConvertedPath = converted.String
	sc.DecimatedPath = decimated.String
	sc.PreviewPath = preview.String
	sc.Error = errS.String
	sc.ProcessedAtNs = processedAt.Int64
	if hist.Valid {
		sc.ZHistogramJSON = []byte(hist.String)
	}
	if minX.Valid {
		sc.Bounds = &pointcloud.Bounds{
			Min: pointcloud.Vec3{X: minX.Float64, Y: minY.Float64, Z: minZ.Float64},
			Max: pointcloud.Vec3{X: maxX.Float64, Y: maxY.Float64, Z: maxZ.Float64},
		}
	}
	return &sc, nil
}

// CreateScan inserts a new scan in status uploaded and records the event.
// An empty ScanID is filled with a new UUID.
func (s *Store) CreateScan(ctx context.Context, sc *Scan, nowNs int64) error {
	if sc.ScanID == "" {
		sc.ScanID = uuid.New().String()
	}
	sc.Status = StatusUploaded
	sc.CreatedAtNs = nowNs
	sc.UpdatedAtNs = nowNs
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO scans (scan_id, filename, source_format, raw_path, file_size,
				processing_status, created_at_ns, updated_at_ns)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sc.ScanID, sc.Filename, sc.SourceFormat, sc.RawPath, sc.FileSize,
			sc.Status, sc.CreatedAtNs, sc.UpdatedAtNs,
		)
		if err != nil {
			return fmt.Errorf("insert scan: %w", err)
		}
		return insertEvent(ctx, tx, sc.ScanID, EventStatusChange, StatusUploaded, "uploaded "+sc.Filename, nowNs)
	})
}

// GetScan returns a scan by ID.
func (s *Store) GetScan(ctx context.Context, scanID string) (*Scan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scanColumns+` FROM scans WHERE scan_id = ?`, scanID)
	sc, err := scanScan(row)
	if err != nil {
		return nil, fmt.Errorf("get scan %s: %w", scanID, err)
	}
	return sc, nil
}

// ListScans returns the most recently created scans first.
func (s *Store) ListScans(ctx context.Context, limit int) ([]*Scan, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryScans(ctx, `SELECT `+scanColumns+` FROM scans ORDER BY created_at_ns DESC LIMIT ?`, limit)
}

// ListStale returns scans in one of statuses last updated before
// updatedBeforeNs, oldest first.
func (s *Store) ListStale(ctx context.Context, statuses []Status, updatedBeforeNs int64) ([]*Scan, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]interface{}, 0, len(statuses)+1)
	for _, st := range statuses {
		args = append(args, st)
	}
	args = append(args, updatedBeforeNs)
	q := `SELECT ` + scanColumns + ` FROM scans
		WHERE processing_status IN (?` + strings.Repeat(", ?", len(statuses)-1) + `)
		AND updated_at_ns < ?
		ORDER BY updated_at_ns ASC`
	return s.queryScans(ctx, q, args...)
}

func (s *Store) queryScans(ctx context.Context, q string, args ...interface{}) ([]*Scan, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query scans: %w", err)
	}
	defer rows.Close()

	var out []*Scan
	for rows.Next() {
		sc, err := scanScan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// TransitionStatus moves a scan from one status to another and appends an
// event of the given kind. It returns ErrStatusConflict if the scan is no
// longer in status from, and ErrNotFound if it does not exist.
func (s *Store) TransitionStatus(ctx context.Context, scanID string, from, to Status, kind EventKind, message string, nowNs int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE scans SET processing_status = ?, processing_error = NULL, updated_at_ns = ?
			WHERE scan_id = ? AND processing_status = ?`,
			to, nowNs, scanID, from,
		)
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		if err := expectOneRow(ctx, tx, res, scanID); err != nil {
			return err
		}
		return insertEvent(ctx, tx, scanID, kind, to, message, nowNs)
	})
}

// SetConvertedPath records the converted LAS object for an E57 scan.
func (s *Store) SetConvertedPath(ctx context.Context, scanID, path string, nowNs int64) error {
	return retryOnBusy(func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE scans SET converted_path = ?, updated_at_ns = ? WHERE scan_id = ?`,
			path, nowNs, scanID,
		)
		if err != nil {
			return fmt.Errorf("set converted path: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("scan %s: %w", scanID, ErrNotFound)
		}
		return nil
	})
}

// CompleteProcessing replaces the scan's floors and walls with the result,
// updates the scan's counters and artifacts, and marks it ready, all in one
// transaction. The scan must be in status processing.
func (s *Store) CompleteProcessing(ctx context.Context, r *ProcessingResult, nowNs int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := replaceDetections(ctx, tx, r.ScanID, r.Floors); err != nil {
			return err
		}
		var hist interface{}
		if len(r.ZHistogramJSON) > 0 {
			hist = string(r.ZHistogramJSON)
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE scans SET
				point_count = ?, decimated_point_count = ?,
				min_x = ?, min_y = ?, min_z = ?, max_x = ?, max_y = ?, max_z = ?,
				decimated_path = ?, preview_path = ?, z_histogram_json = ?,
				processing_status = ?, processing_error = NULL,
				updated_at_ns = ?, processed_at_ns = ?
			WHERE scan_id = ? AND processing_status = ?`,
			r.PointCount, r.DecimatedPointCount,
			r.Bounds.Min.X, r.Bounds.Min.Y, r.Bounds.Min.Z, r.Bounds.Max.X, r.Bounds.Max.Y, r.Bounds.Max.Z,
			nullString(r.DecimatedPath), nullString(r.PreviewPath), hist,
			StatusReady, nowNs, nowNs,
			r.ScanID, StatusProcessing,
		)
		if err != nil {
			return fmt.Errorf("update scan: %w", err)
		}
		if err := expectOneRow(ctx, tx, res, r.ScanID); err != nil {
			return err
		}
		return insertEvent(ctx, tx, r.ScanID, EventProcessingComplete, StatusReady, r.Message, nowNs)
	})
}

// MarkFailed sets an in-flight scan to failed with message stored verbatim,
// drops its floors and walls, clears the derived counters and artifact
// paths, and appends a processing_failed event. A scan that is no longer
// uploaded, converting or processing yields ErrStatusConflict.
func (s *Store) MarkFailed(ctx context.Context, scanID, message string, nowNs int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE scans SET
				processing_status = ?, processing_error = ?,
				point_count = 0, decimated_point_count = 0,
				min_x = NULL, min_y = NULL, min_z = NULL, max_x = NULL, max_y = NULL, max_z = NULL,
				decimated_path = NULL, preview_path = NULL, z_histogram_json = NULL,
				updated_at_ns = ?, processed_at_ns = NULL
			WHERE scan_id = ? AND processing_status IN (?, ?, ?)`,
			StatusFailed, message, nowNs,
			scanID, StatusUploaded, StatusConverting, StatusProcessing,
		)
		if err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		if err := expectOneRow(ctx, tx, res, scanID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM floors WHERE scan_id = ?`, scanID); err != nil {
			return fmt.Errorf("delete floors: %w", err)
		}
		return insertEvent(ctx, tx, scanID, EventProcessingFailed, StatusFailed, message, nowNs)
	})
}

// expectOneRow distinguishes a missing scan from a status mismatch when a
// conditional update touched no rows.
func expectOneRow(ctx context.Context, tx *sql.Tx, res sql.Result, scanID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var current Status
	err = tx.QueryRowContext(ctx, `SELECT processing_status FROM scans WHERE scan_id = ?`, scanID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("scan %s: %w", scanID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("scan %s is %s: %w", scanID, current, ErrStatusConflict)
}
