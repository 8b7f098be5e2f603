package statestore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// ToolRating mirrors the tool_rating table: reliability/deprecation
// analytics consumed when the Agent Engine ranks tools.
type ToolRating struct {
	ToolName          string
	OverallRating     float64
	SuccessRate       float64
	UsageCount        int64
	Deprecated        bool
	DeprecationReason *string
	LastEvaluated     time.Time
}

// GetToolRating reads a tool_rating row, or (nil, nil) if never evaluated.
func (s *Store) GetToolRating(ctx context.Context, tool string) (*ToolRating, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT tool_name, overall_rating, success_rate, usage_count, deprecated, deprecation_reason, last_evaluated
		FROM tool_rating WHERE tool_name = $1`, tool)
	var r ToolRating
	if err := row.Scan(&r.ToolName, &r.OverallRating, &r.SuccessRate, &r.UsageCount,
		&r.Deprecated, &r.DeprecationReason, &r.LastEvaluated); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

// AllToolRatings lists every rated tool, used by the ranking step in
// pkg/agent.
func (s *Store) AllToolRatings(ctx context.Context) ([]ToolRating, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT tool_name, overall_rating, success_rate, usage_count, deprecated, deprecation_reason, last_evaluated
		FROM tool_rating`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ToolRating
	for rows.Next() {
		var r ToolRating
		if err := rows.Scan(&r.ToolName, &r.OverallRating, &r.SuccessRate, &r.UsageCount,
			&r.Deprecated, &r.DeprecationReason, &r.LastEvaluated); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertToolRating writes or replaces a tool_rating row, called by the
// (background, low-priority) tool-rating audit task.
func (s *Store) UpsertToolRating(ctx context.Context, r ToolRating) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO tool_rating (tool_name, overall_rating, success_rate, usage_count, deprecated, deprecation_reason, last_evaluated)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (tool_name) DO UPDATE SET
			overall_rating = $2, success_rate = $3, usage_count = $4,
			deprecated = $5, deprecation_reason = $6, last_evaluated = now()`,
		r.ToolName, r.OverallRating, r.SuccessRate, r.UsageCount, r.Deprecated, r.DeprecationReason)
	return err
}

// SetToolDeprecated marks a tool deprecated with a reason.
func (s *Store) SetToolDeprecated(ctx context.Context, tool, reason string) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO tool_rating (tool_name, deprecated, deprecation_reason, last_evaluated)
		VALUES ($1, true, $2, now())
		ON CONFLICT (tool_name) DO UPDATE SET deprecated = true, deprecation_reason = $2, last_evaluated = now()`,
		tool, reason)
	return err
}
