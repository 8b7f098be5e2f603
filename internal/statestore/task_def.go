package statestore

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
)

// TaskDefRow mirrors the task_def table, the
// state-store mirror of a config.TaskConfig used for hot-reload and the
// admin UI's view of scheduler state.
type TaskDefRow struct {
	Name        string
	Type        string
	Enabled     bool
	Schedule    *string
	IdleOnly    bool
	Priority    string
	Description *string
	Prompt      *string
	Config      json.RawMessage
}

// UpsertTaskDef writes or replaces a task_def row.
func (s *Store) UpsertTaskDef(ctx context.Context, t TaskDefRow) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO task_def (name, type, enabled, schedule, idle_only, priority, description, prompt, config, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (name) DO UPDATE SET
			type = $2, enabled = $3, schedule = $4, idle_only = $5,
			priority = $6, description = $7, prompt = $8, config = $9, updated_at = now()`,
		t.Name, t.Type, t.Enabled, t.Schedule, t.IdleOnly, t.Priority, t.Description, t.Prompt, t.Config)
	return err
}

// SetTaskEnabled flips the enabled flag of a task_def row, used when the
// scheduler auto-disables a task past its retry budget.
func (s *Store) SetTaskEnabled(ctx context.Context, name string, enabled bool) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE task_def SET enabled = $2, updated_at = now() WHERE name = $1`, name, enabled)
	return err
}

// AllTaskDefs returns every task_def row, read by the scheduler's hot-reload
// scanner on each poll.
func (s *Store) AllTaskDefs(ctx context.Context) ([]TaskDefRow, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT name, type, enabled, schedule, idle_only, priority, description, prompt, config FROM task_def`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskDefRow
	for rows.Next() {
		var t TaskDefRow
		if err := rows.Scan(&t.Name, &t.Type, &t.Enabled, &t.Schedule, &t.IdleOnly,
			&t.Priority, &t.Description, &t.Prompt, &t.Config); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTaskDef reads a single task_def row, or (nil, nil) if absent.
func (s *Store) GetTaskDef(ctx context.Context, name string) (*TaskDefRow, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT name, type, enabled, schedule, idle_only, priority, description, prompt, config FROM task_def WHERE name = $1`, name)
	var t TaskDefRow
	if err := row.Scan(&t.Name, &t.Type, &t.Enabled, &t.Schedule, &t.IdleOnly,
		&t.Priority, &t.Description, &t.Prompt, &t.Config); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}
