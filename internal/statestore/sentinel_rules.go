package statestore

import (
	"context"
	"time"
)

// SentinelRule mirrors sentinel_rules: persisted Tier-2 "learned patterns"
// for the command-safety classifier, in place of the
// original local-JSON-file lexicon.
type SentinelRule struct {
	ID      int64
	Pattern string
	Allowed bool
	Reason  *string
	AddedAt time.Time
	Source  string
}

// AllSentinelRules loads the full rule set, read once at startup and then
// periodically by pkg/sentinel's reload task.
func (s *Store) AllSentinelRules(ctx context.Context) ([]SentinelRule, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, pattern, allowed, reason, added_at, source FROM sentinel_rules ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SentinelRule
	for rows.Next() {
		var r SentinelRule
		if err := rows.Scan(&r.ID, &r.Pattern, &r.Allowed, &r.Reason, &r.AddedAt, &r.Source); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AddSentinelRule persists a newly learned pattern. A duplicate pattern is
// left as-is (first verdict wins) rather than silently overwritten, since a
// later conflicting verdict for the same pattern indicates a classifier
// disagreement worth surfacing rather than masking.
func (s *Store) AddSentinelRule(ctx context.Context, pattern string, allowed bool, reason, source string) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO sentinel_rules (pattern, allowed, reason, source)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pattern) DO NOTHING`, pattern, allowed, reason, source)
	return err
}
