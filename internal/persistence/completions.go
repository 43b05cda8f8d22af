package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// MarkTaskComplete records an explicit completion marker for a task. The
// marker is what dependency checks consult; a task with no marker is not
// complete, full stop.
func (s *SQLiteStore) MarkTaskComplete(ctx context.Context, taskID string, completedAt time.Time) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO completions (task_id, completed_at)
			VALUES (?, ?)
			ON CONFLICT(task_id) DO UPDATE SET completed_at = excluded.completed_at
		`, taskID, completedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("failed to record completion of %s: %w", taskID, err)
		}
		return nil
	})
}

// IsTaskComplete implements coord.CompletionOracle.
func (s *SQLiteStore) IsTaskComplete(taskID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(context.Background(), `
		SELECT 1 FROM completions WHERE task_id = ?
	`, taskID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query completion of %s: %w", taskID, err)
	}
	return true, nil
}
