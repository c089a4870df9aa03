package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// replaceDetections deletes the scan's floors (walls and plans cascade) and
// inserts fresh ones. Repeated runs therefore never accumulate rows.
func replaceDetections(ctx context.Context, tx *sql.Tx, scanID string, dets []FloorDetections) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM floors WHERE scan_id = ?`, scanID); err != nil {
		return fmt.Errorf("delete floors: %w", err)
	}
	for i, d := range dets {
		floorID := uuid.New().String()
		f := d.Floor
		_, err := tx.ExecContext(ctx, `
			INSERT INTO floors (floor_id, scan_id, label, height_m, z_min_m, z_max_m,
				point_count, peak_ratio, confidence, sort_order)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			floorID, scanID, f.Label, f.HeightM, f.ZMinM, f.ZMaxM,
			f.PointCount, f.PeakRatio, f.Confidence, f.SortOrder,
		)
		if err != nil {
			return fmt.Errorf("insert floor %d: %w", i, err)
		}
		for j, w := range d.Walls {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO walls (wall_id, floor_id, label, start_x, start_y, end_x, end_y,
					thickness_m, length_m, confidence, inlier_count)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				uuid.New().String(), floorID, w.Label, w.Start[0], w.Start[1], w.End[0], w.End[1],
				w.ThicknessM, w.LengthM, w.Confidence, w.InlierCount,
			)
			if err != nil {
				return fmt.Errorf("insert wall %d of floor %d: %w", j, i, err)
			}
		}
	}
	return nil
}

const floorColumns = `floor_id, scan_id, label, height_m, z_min_m, z_max_m, point_count, peak_ratio, confidence, sort_order`

func scanFloor(r rowScanner) (*Floor, error) {
	var f Floor
	err := r.Scan(&f.FloorID, &f.ScanID, &f.Label, &f.HeightM, &f.ZMinM, &f.ZMaxM,
		&f.PointCount, &f.PeakRatio, &f.Confidence, &f.SortOrder)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &f, err
}

// ListFloors returns the scan's floors by ascending height.
func (s *Store) ListFloors(ctx context.Context, scanID string) ([]*Floor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+floorColumns+` FROM floors WHERE scan_id = ? ORDER BY sort_order`, scanID)
	if err != nil {
		return nil, fmt.Errorf("query floors: %w", err)
	}
	defer rows.Close()

	out := []*Floor{}
	for rows.Next() {
		f, err := scanFloor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetFloor returns a floor by ID.
func (s *Store) GetFloor(ctx context.Context, floorID string) (*Floor, error) {
	f, err := scanFloor(s.db.QueryRowContext(ctx, `SELECT `+floorColumns+` FROM floors WHERE floor_id = ?`, floorID))
	if err != nil {
		return nil, fmt.Errorf("get floor %s: %w", floorID, err)
	}
	return f, nil
}

// ListWalls returns the floor's walls, longest first.
func (s *Store) ListWalls(ctx context.Context, floorID string) ([]*Wall, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT wall_id, floor_id, label, start_x, start_y, end_x, end_y,
		       thickness_m, length_m, confidence, inlier_count
		FROM walls WHERE floor_id = ?
		ORDER BY length_m DESC, label`, floorID)
	if err != nil {
		return nil, fmt.Errorf("query walls: %w", err)
	}
	defer rows.Close()

	out := []*Wall{}
	for rows.Next() {
		var w Wall
		if err := rows.Scan(&w.WallID, &w.FloorID, &w.Label, &w.Start[0], &w.Start[1], &w.End[0], &w.End[1],
			&w.ThicknessM, &w.LengthM, &w.Confidence, &w.InlierCount); err != nil {
			return nil, err
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}
