package statestore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// ToolPerformance mirrors tool_performance: the raw success/failure tallies
// the Tool Executor writes after every call.
type ToolPerformance struct {
	Tool             string
	SuccessCount     int64
	FailureCount     int64
	ReliabilityScore float64
	LastUsed         *time.Time
}

// RecordToolOutcome increments the success or failure counter for tool and
// recomputes its reliability score as successes/(successes+failures).
func (s *Store) RecordToolOutcome(ctx context.Context, tool string, success bool) error {
	var delta string
	if success {
		delta = "success_count = tool_performance.success_count + 1"
	} else {
		delta = "failure_count = tool_performance.failure_count + 1"
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO tool_performance (tool, success_count, failure_count, reliability_score, last_used)
		VALUES ($1, $2, $3, 1.0, now())
		ON CONFLICT (tool) DO UPDATE SET
			`+delta+`,
			last_used = now(),
			reliability_score = CASE
				WHEN (tool_performance.success_count + tool_performance.failure_count) > 0
				THEN tool_performance.success_count::double precision /
					NULLIF(tool_performance.success_count + tool_performance.failure_count, 0)
				ELSE 1.0
			END`,
		tool, boolToInt(success), boolToInt(!success))
	return err
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// GetToolPerformance reads a tool_performance row.
func (s *Store) GetToolPerformance(ctx context.Context, tool string) (*ToolPerformance, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT tool, success_count, failure_count, reliability_score, last_used
		FROM tool_performance WHERE tool = $1`, tool)
	var p ToolPerformance
	if err := row.Scan(&p.Tool, &p.SuccessCount, &p.FailureCount, &p.ReliabilityScore, &p.LastUsed); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}
