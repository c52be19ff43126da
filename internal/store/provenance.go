package store

import (
	"context"
	"fmt"
	"time"

	"mailbrain.app/agent/internal/model"
)

type provenanceStore struct {
	q Querier
}

func newProvenanceStore(q Querier) ProvenanceStore {
	return &provenanceStore{q: q}
}

func (s *provenanceStore) Record(ctx context.Context, edge *model.SkillSourceEmail) (bool, error) {
	edge.CreatedAt = time.Now().UTC()

	// Unique index on (skill_id, email_id, contribution_type) makes this
	// idempotent: re-running learning on the same emails adds nothing.
	tag, err := s.q.Exec(ctx, `
		INSERT INTO skill_source_emails
			(id, skill_id, email_id, contribution_type, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (skill_id, email_id, contribution_type) DO NOTHING`,
		edge.ID, edge.SkillID, edge.EmailID, edge.ContributionType,
		edge.Detail, edge.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("recording provenance: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *provenanceStore) ListBySkill(ctx context.Context, skillID int64) ([]model.SkillSourceEmail, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, skill_id, email_id, contribution_type, detail, created_at
		FROM skill_source_emails
		WHERE skill_id = $1
		ORDER BY created_at, id`, skillID)
	if err != nil {
		return nil, fmt.Errorf("listing provenance: %w", err)
	}
	defer rows.Close()

	var edges []model.SkillSourceEmail
	for rows.Next() {
		var e model.SkillSourceEmail
		if err := rows.Scan(&e.ID, &e.SkillID, &e.EmailID,
			&e.ContributionType, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

type changeLogStore struct {
	q Querier
}

func newChangeLogStore(q Querier) ChangeLogStore {
	return &changeLogStore{q: q}
}

func (s *changeLogStore) Append(ctx context.Context, entry *model.SkillChangeLog) error {
	entry.CreatedAt = time.Now().UTC()

	_, err := s.q.Exec(ctx, `
		INSERT INTO skill_change_logs
			(id, skill_id, change_type, description, rule_id, reply_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.SkillID, entry.ChangeType, entry.Description,
		entry.RuleID, entry.ReplyID, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending change log: %w", err)
	}
	return nil
}

func (s *changeLogStore) ListBySkill(ctx context.Context, skillID int64) ([]model.SkillChangeLog, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, skill_id, change_type, description, rule_id, reply_id, created_at
		FROM skill_change_logs
		WHERE skill_id = $1
		ORDER BY created_at, id`, skillID)
	if err != nil {
		return nil, fmt.Errorf("listing change logs: %w", err)
	}
	defer rows.Close()

	var entries []model.SkillChangeLog
	for rows.Next() {
		var e model.SkillChangeLog
		if err := rows.Scan(&e.ID, &e.SkillID, &e.ChangeType,
			&e.Description, &e.RuleID, &e.ReplyID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
