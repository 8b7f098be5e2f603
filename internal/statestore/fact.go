package statestore

import (
	"context"
	"time"
)

// Fact mirrors the fact table.
type Fact struct {
	ID         int64
	Entity     string
	Relation   string
	Target     string
	Context    string
	Confidence float64
	KBID       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// UpsertFact inserts a fact, or on (entity, relation, target, kb_id)
// collision updates context/confidence, matching the unique constraint in
// 0001_init.up.sql.
func (s *Store) UpsertFact(ctx context.Context, f Fact) (int64, error) {
	var id int64
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO fact (entity, relation, target, context, confidence, kb_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (entity, relation, target, kb_id) DO UPDATE SET
			context = $4, confidence = $5, updated_at = now()
		RETURNING id`,
		f.Entity, f.Relation, f.Target, f.Context, f.Confidence, f.KBID).Scan(&id)
	return id, err
}

// AdjustFactConfidence nudges a fact's confidence by delta, clamped to
// [0.1, 0.9] — the audit task's +0.1 supported / -0.3 contradicted rule.
// Ground-truth facts (confidence >= 0.95) are
// exempt from the clamp and left untouched by callers, not by this query.
func (s *Store) AdjustFactConfidence(ctx context.Context, id int64, delta float64) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE fact SET
			confidence = LEAST(0.9, GREATEST(0.1, confidence + $2)),
			updated_at = now()
		WHERE id = $1`, id, delta)
	return err
}

// QueryFacts returns facts for a kb_id, optionally filtered by entity.
func (s *Store) QueryFacts(ctx context.Context, kbID, entity string) ([]Fact, error) {
	var rows interface {
		Next() bool
		Scan(...any) error
		Close()
		Err() error
	}
	var err error
	if entity == "" {
		rows, err = s.Pool.Query(ctx, `
			SELECT id, entity, relation, target, context, confidence, kb_id, created_at, updated_at
			FROM fact WHERE kb_id = $1 ORDER BY id`, kbID)
	} else {
		rows, err = s.Pool.Query(ctx, `
			SELECT id, entity, relation, target, context, confidence, kb_id, created_at, updated_at
			FROM fact WHERE kb_id = $1 AND entity = $2 ORDER BY id`, kbID, entity)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Fact
	for rows.Next() {
		var f Fact
		if err := rows.Scan(&f.ID, &f.Entity, &f.Relation, &f.Target, &f.Context,
			&f.Confidence, &f.KBID, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// DeleteFact removes a fact row scoped to kb_id, enforcing write-own at the
// query layer as a second line of defense behind the interceptor.
func (s *Store) DeleteFact(ctx context.Context, id int64, kbID string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM fact WHERE id = $1 AND kb_id = $2`, id, kbID)
	return err
}
