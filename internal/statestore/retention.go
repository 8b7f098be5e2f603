package statestore

import (
	"context"
	"time"
)

// DeleteConsolidatedEpisodesBefore removes consolidated episodes older than
// cutoff, returning the number of rows deleted. Unconsolidated episodes are
// never retention-pruned — their facts haven't been extracted yet.
func (s *Store) DeleteConsolidatedEpisodesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.Pool.Exec(ctx,
		`DELETE FROM episode WHERE consolidated AND created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PruneStaleToolPerformance removes tool_performance rows not used since
// cutoff, keeping the analytics table bounded.
func (s *Store) PruneStaleToolPerformance(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.Pool.Exec(ctx,
		`DELETE FROM tool_performance WHERE last_used < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
