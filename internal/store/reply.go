package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"mailbrain.app/agent/internal/model"
)

type replyStore struct {
	q Querier
}

func newReplyStore(q Querier) ReplyStore {
	return &replyStore{q: q}
}

const replyColumns = `id, email_id, ai_draft, human_edited, matched_skill_ids,
	matched_rule_ids, confidence, status, created_at, sent_at`

func (s *replyStore) GetByID(ctx context.Context, id int64) (*model.Reply, error) {
	row := s.q.QueryRow(ctx, `SELECT `+replyColumns+` FROM replies WHERE id = $1`, id)
	return scanReply(row)
}

func (s *replyStore) Create(ctx context.Context, reply *model.Reply) error {
	if reply.MatchedSkillIDs == nil {
		reply.MatchedSkillIDs = []int64{}
	}
	if reply.MatchedRuleIDs == nil {
		reply.MatchedRuleIDs = []int64{}
	}
	reply.CreatedAt = time.Now().UTC()
	reply.Status = model.ReplyStatusPendingReview

	_, err := s.q.Exec(ctx, `
		INSERT INTO replies
			(id, email_id, ai_draft, human_edited, matched_skill_ids,
			 matched_rule_ids, confidence, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		reply.ID, reply.EmailID, reply.AIDraft, reply.HumanEdited,
		reply.MatchedSkillIDs, reply.MatchedRuleIDs, reply.Confidence,
		reply.Status, reply.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating reply: %w", err)
	}
	return nil
}

func (s *replyStore) SetHumanEdit(ctx context.Context, id int64, edited string) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE replies SET human_edited = $1 WHERE id = $2 AND status = $3`,
		edited, id, model.ReplyStatusPendingReview)
	if err != nil {
		return fmt.Errorf("setting human edit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *replyStore) MarkSent(ctx context.Context, id int64, sentAt time.Time) error {
	// Sent replies are immutable: the status guard makes this idempotent-safe
	// and rejects double sends.
	tag, err := s.q.Exec(ctx, `
		UPDATE replies SET status = $1, sent_at = $2 WHERE id = $3 AND status = $4`,
		model.ReplyStatusSent, sentAt, id, model.ReplyStatusPendingReview)
	if err != nil {
		return fmt.Errorf("marking reply sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *replyStore) Stats(ctx context.Context) (*ReplyStats, error) {
	stats := &ReplyStats{}
	row := s.q.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE cardinality(matched_skill_ids) > 0),
		       count(*) FILTER (WHERE confidence = 'high'),
		       count(*) FILTER (WHERE confidence = 'medium'),
		       count(*) FILTER (WHERE confidence = 'low')
		FROM replies`)
	if err := row.Scan(&stats.TotalReplies, &stats.WithSkillMatch,
		&stats.HighCount, &stats.MediumCount, &stats.LowCount); err != nil {
		return nil, fmt.Errorf("reply stats: %w", err)
	}

	if stats.TotalReplies > 0 {
		total := float64(stats.TotalReplies)
		stats.SkillCoverage = float64(stats.WithSkillMatch) / total
		stats.EscalationRate = float64(stats.TotalReplies-stats.WithSkillMatch) / total
		// Bucket midpoints; the numeric score is not persisted on the reply.
		stats.AvgConfidence = (float64(stats.HighCount)*0.9 +
			float64(stats.MediumCount)*0.65 +
			float64(stats.LowCount)*0.25) / total
	}
	return stats, nil
}

func scanReply(row pgx.Row) (*model.Reply, error) {
	var reply model.Reply
	err := row.Scan(&reply.ID, &reply.EmailID, &reply.AIDraft,
		&reply.HumanEdited, &reply.MatchedSkillIDs, &reply.MatchedRuleIDs,
		&reply.Confidence, &reply.Status, &reply.CreatedAt, &reply.SentAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &reply, nil
}
