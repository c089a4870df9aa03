package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// InsertPlan stores an exported plan and appends a plan_exported event for
// the floor's scan. Scan status is not changed.
func (s *Store) InsertPlan(ctx context.Context, p *Plan, nowNs int64) error {
	if p.PlanID == "" {
		p.PlanID = uuid.New().String()
	}
	p.CreatedAtNs = nowNs
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var scanID string
		var status Status
		err := tx.QueryRowContext(ctx, `
			SELECT s.scan_id, s.processing_status FROM floors f JOIN scans s ON s.scan_id = f.scan_id
			WHERE f.floor_id = ?`, p.FloorID).Scan(&scanID, &status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("floor %s: %w", p.FloorID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO plans (plan_id, floor_id, reference, format, paper_size, orientation,
				scale_ratio, storage_path, byte_size, generator, created_at_ns)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.PlanID, p.FloorID, p.Reference, p.Format, p.PaperSize, p.Orientation,
			p.ScaleRatio, p.StoragePath, p.ByteSize, p.Generator, p.CreatedAtNs,
		)
		if err != nil {
			return fmt.Errorf("insert plan: %w", err)
		}
		return insertEvent(ctx, tx, scanID, EventPlanExported, status, p.Reference, nowNs)
	})
}

// CountPlans returns the number of plans ever stored for a floor.
func (s *Store) CountPlans(ctx context.Context, floorID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM plans WHERE floor_id = ?`, floorID).Scan(&n)
	return n, err
}

const planColumns = `plan_id, floor_id, reference, format, paper_size, orientation,
	scale_ratio, storage_path, byte_size, generator, created_at_ns`

func scanPlan(r rowScanner) (*Plan, error) {
	var p Plan
	err := r.Scan(&p.PlanID, &p.FloorID, &p.Reference, &p.Format, &p.PaperSize, &p.Orientation,
		&p.ScaleRatio, &p.StoragePath, &p.ByteSize, &p.Generator, &p.CreatedAtNs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &p, err
}

// GetPlan returns a plan by ID.
func (s *Store) GetPlan(ctx context.Context, planID string) (*Plan, error) {
	p, err := scanPlan(s.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE plan_id = ?`, planID))
	if err != nil {
		return nil, fmt.Errorf("get plan %s: %w", planID, err)
	}
	return p, nil
}

// ListPlans returns the floor's plans, newest first.
func (s *Store) ListPlans(ctx context.Context, floorID string) ([]*Plan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+planColumns+` FROM plans WHERE floor_id = ? ORDER BY created_at_ns DESC`, floorID)
	if err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}
	defer rows.Close()

	out := []*Plan{}
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
