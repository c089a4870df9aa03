package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

func insertEvent(ctx context.Context, tx *sql.Tx, scanID string, kind EventKind, status Status, message string, nowNs int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO scan_events (event_id, scan_id, kind, status, message, created_at_ns)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), scanID, kind, status, message, nowNs,
	)
	if err != nil {
		return fmt.Errorf("insert %s event: %w", kind, err)
	}
	return nil
}

// ListEvents returns the scan's audit log in the order it was written.
func (s *Store) ListEvents(ctx context.Context, scanID string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, scan_id, kind, status, message, created_at_ns
		FROM scan_events WHERE scan_id = ?
		ORDER BY created_at_ns, rowid`, scanID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	out := []*Event{}
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.EventID, &e.ScanID, &e.Kind, &e.Status, &e.Message, &e.CreatedAtNs); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
