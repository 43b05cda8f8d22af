package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/renwick/coordinator/internal/coord"
)

// CommitAdmission persists a newly admitted agent together with all of its
// locks in one transaction.
func (s *SQLiteStore) CommitAdmission(ctx context.Context, agent coord.Agent, locks []coord.Lock) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := upsertAgent(tx, agent); err != nil {
			return err
		}
		for _, l := range locks {
			if err := upsertLock(tx, l); err != nil {
				return err
			}
		}
		if err := touchMeta(tx, "agents"); err != nil {
			return err
		}
		return touchMeta(tx, "locks")
	})
}

// CommitRelease removes an agent and every lock it holds in one transaction.
// Deleting an absent agent is a no-op, keeping release idempotent.
func (s *SQLiteStore) CommitRelease(ctx context.Context, agentID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM locks WHERE holder = ?`, agentID); err != nil {
			return fmt.Errorf("failed to delete locks of %s: %w", agentID, err)
		}
		if _, err := tx.Exec(`DELETE FROM agents WHERE id = ?`, agentID); err != nil {
			return fmt.Errorf("failed to delete agent %s: %w", agentID, err)
		}
		if err := touchMeta(tx, "agents"); err != nil {
			return err
		}
		return touchMeta(tx, "locks")
	})
}

// CommitReclaim removes expired locks plus the given stale agents and their
// locks, all in one transaction.
func (s *SQLiteStore) CommitReclaim(ctx context.Context, now time.Time, staleAgents []string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM locks WHERE expires_at < ?`, now.UnixNano()); err != nil {
			return fmt.Errorf("failed to delete expired locks: %w", err)
		}
		for _, agentID := range staleAgents {
			if _, err := tx.Exec(`DELETE FROM locks WHERE holder = ?`, agentID); err != nil {
				return fmt.Errorf("failed to delete locks of stale agent %s: %w", agentID, err)
			}
			if _, err := tx.Exec(`DELETE FROM agents WHERE id = ?`, agentID); err != nil {
				return fmt.Errorf("failed to delete stale agent %s: %w", agentID, err)
			}
		}
		if err := touchMeta(tx, "agents"); err != nil {
			return err
		}
		return touchMeta(tx, "locks")
	})
}

// SaveAgent upserts a single agent row. Used for heartbeat and status
// updates.
func (s *SQLiteStore) SaveAgent(ctx context.Context, agent coord.Agent) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := upsertAgent(tx, agent); err != nil {
			return err
		}
		return touchMeta(tx, "agents")
	})
}

// LoadState reads back both tables for crash recovery.
func (s *SQLiteStore) LoadState(ctx context.Context) ([]coord.Lock, []coord.Agent, error) {
	locks, err := s.loadLocks(ctx)
	if err != nil {
		return nil, nil, err
	}
	agents, err := s.loadAgents(ctx)
	if err != nil {
		return nil, nil, err
	}
	return locks, agents, nil
}

func (s *SQLiteStore) loadLocks(ctx context.Context) ([]coord.Lock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT resource, holder, mode, purpose, acquired_at, expires_at
		FROM locks
		ORDER BY resource, holder
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query locks: %w", err)
	}
	defer rows.Close()

	var locks []coord.Lock
	for rows.Next() {
		var l coord.Lock
		var mode, purpose string
		var acquired, expires int64
		if err := rows.Scan(&l.Resource, &l.Holder, &mode, &purpose, &acquired, &expires); err != nil {
			return nil, fmt.Errorf("failed to scan lock: %w", err)
		}
		l.Mode = coord.LockMode(mode)
		l.Purpose = purpose
		l.AcquiredAt = time.Unix(0, acquired)
		l.ExpiresAt = time.Unix(0, expires)
		locks = append(locks, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating locks: %w", err)
	}
	return locks, nil
}

func (s *SQLiteStore) loadAgents(ctx context.Context) ([]coord.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mode, current_task, task_path, status, started_at,
			estimated_completion, locked_resources, parallel_compatible, heartbeat
		FROM agents
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	var agents []coord.Agent
	for rows.Next() {
		var a coord.Agent
		var status, lockedResources string
		var started, estimated, heartbeat int64
		var parallelCompatible int
		if err := rows.Scan(&a.ID, &a.Mode, &a.CurrentTask, &a.TaskPath, &status,
			&started, &estimated, &lockedResources, &parallelCompatible, &heartbeat); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		a.Status = coord.AgentStatus(status)
		a.StartedAt = time.Unix(0, started)
		a.EstimatedCompletion = time.Unix(0, estimated)
		a.Heartbeat = time.Unix(0, heartbeat)
		a.ParallelCompatible = parallelCompatible != 0
		a.LockedResources = []string{}
		if lockedResources != "" {
			a.LockedResources = strings.Split(lockedResources, ",")
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agents: %w", err)
	}
	return agents, nil
}

func upsertAgent(tx *sql.Tx, a coord.Agent) error {
	parallelCompatible := 0
	if a.ParallelCompatible {
		parallelCompatible = 1
	}
	_, err := tx.Exec(`
		INSERT INTO agents (id, mode, current_task, task_path, status, started_at,
			estimated_completion, locked_resources, parallel_compatible, heartbeat)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			mode = excluded.mode,
			current_task = excluded.current_task,
			task_path = excluded.task_path,
			status = excluded.status,
			started_at = excluded.started_at,
			estimated_completion = excluded.estimated_completion,
			locked_resources = excluded.locked_resources,
			parallel_compatible = excluded.parallel_compatible,
			heartbeat = excluded.heartbeat
	`, a.ID, a.Mode, a.CurrentTask, a.TaskPath, string(a.Status), a.StartedAt.UnixNano(),
		a.EstimatedCompletion.UnixNano(), strings.Join(a.LockedResources, ","),
		parallelCompatible, a.Heartbeat.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to upsert agent %s: %w", a.ID, err)
	}
	return nil
}

func upsertLock(tx *sql.Tx, l coord.Lock) error {
	_, err := tx.Exec(`
		INSERT INTO locks (resource, holder, mode, purpose, acquired_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(resource, holder) DO UPDATE SET
			mode = excluded.mode,
			purpose = excluded.purpose,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
	`, l.Resource, l.Holder, string(l.Mode), l.Purpose, l.AcquiredAt.UnixNano(), l.ExpiresAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to upsert lock %s/%s: %w", l.Resource, l.Holder, err)
	}
	return nil
}
