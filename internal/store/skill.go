package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"mailbrain.app/agent/internal/model"
)

type skillStore struct {
	q Querier
}

func newSkillStore(q Querier) SkillStore {
	return &skillStore{q: q}
}

const skillColumns = `id, name, name_en, category, description, trigger_keywords, rules,
	usage_count, success_count, is_active, version, created_at, updated_at`

func (s *skillStore) GetByID(ctx context.Context, id int64) (*model.Skill, error) {
	row := s.q.QueryRow(ctx, `SELECT `+skillColumns+` FROM skills WHERE id = $1`, id)
	return scanSkill(row)
}

func (s *skillStore) GetByNameEN(ctx context.Context, nameEN string) (*model.Skill, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+skillColumns+` FROM skills WHERE lower(name_en) = lower($1)`, nameEN)
	return scanSkill(row)
}

func (s *skillStore) List(ctx context.Context, activeOnly bool) ([]model.Skill, error) {
	query := `SELECT ` + skillColumns + ` FROM skills`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY usage_count DESC, id`

	rows, err := s.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing skills: %w", err)
	}
	defer rows.Close()

	var skills []model.Skill
	for rows.Next() {
		skill, err := scanSkill(rows)
		if err != nil {
			return nil, err
		}
		skills = append(skills, *skill)
	}
	return skills, rows.Err()
}

func (s *skillStore) Create(ctx context.Context, skill *model.Skill) error {
	keywords, rules, err := marshalSkillJSON(skill)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	skill.CreatedAt = now
	skill.UpdatedAt = now
	skill.Version = 1

	_, err = s.q.Exec(ctx, `
		INSERT INTO skills
			(id, name, name_en, category, description, trigger_keywords, rules,
			 usage_count, success_count, is_active, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		skill.ID, skill.Name, skill.NameEN, skill.Category, skill.Description,
		keywords, rules, skill.UsageCount, skill.SuccessCount,
		skill.IsActive, skill.Version, skill.CreatedAt, skill.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating skill: %w", err)
	}
	return nil
}

func (s *skillStore) UpdateVersioned(ctx context.Context, skill *model.Skill, expectedVersion int64) error {
	keywords, rules, err := marshalSkillJSON(skill)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	tag, err := s.q.Exec(ctx, `
		UPDATE skills
		SET name = $1, category = $2, description = $3, trigger_keywords = $4,
		    rules = $5, usage_count = $6, success_count = $7, is_active = $8,
		    version = version + 1, updated_at = $9
		WHERE id = $10 AND version = $11`,
		skill.Name, skill.Category, skill.Description, keywords, rules,
		skill.UsageCount, skill.SuccessCount, skill.IsActive,
		now, skill.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("updating skill: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the skill is gone or someone committed first.
		if _, getErr := s.GetByID(ctx, skill.ID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrVersionConflict
	}

	skill.Version = expectedVersion + 1
	skill.UpdatedAt = now
	return nil
}

func (s *skillStore) Categories(ctx context.Context) ([]string, error) {
	rows, err := s.q.Query(ctx, `SELECT DISTINCT category FROM skills ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (s *skillStore) Stats(ctx context.Context) (*SkillLibraryStats, error) {
	stats := &SkillLibraryStats{}
	row := s.q.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE is_active),
		       coalesce(sum(jsonb_array_length(rules)), 0),
		       count(DISTINCT category),
		       max(updated_at)
		FROM skills`)
	if err := row.Scan(&stats.TotalSkills, &stats.ActiveSkills,
		&stats.TotalRules, &stats.Categories, &stats.LastUpdated); err != nil {
		return nil, fmt.Errorf("skill stats: %w", err)
	}
	return stats, nil
}

func marshalSkillJSON(skill *model.Skill) ([]byte, []byte, error) {
	if skill.TriggerKeywords == nil {
		skill.TriggerKeywords = []string{}
	}
	if skill.Rules == nil {
		skill.Rules = []model.Rule{}
	}
	keywords, err := json.Marshal(skill.TriggerKeywords)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling keywords: %w", err)
	}
	rules, err := json.Marshal(skill.Rules)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling rules: %w", err)
	}
	return keywords, rules, nil
}

func scanSkill(row pgx.Row) (*model.Skill, error) {
	var (
		skill    model.Skill
		keywords []byte
		rules    []byte
	)
	err := row.Scan(&skill.ID, &skill.Name, &skill.NameEN, &skill.Category,
		&skill.Description, &keywords, &rules, &skill.UsageCount,
		&skill.SuccessCount, &skill.IsActive, &skill.Version,
		&skill.CreatedAt, &skill.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(keywords, &skill.TriggerKeywords); err != nil {
		return nil, fmt.Errorf("unmarshaling keywords: %w", err)
	}
	if err := json.Unmarshal(rules, &skill.Rules); err != nil {
		return nil, fmt.Errorf("unmarshaling rules: %w", err)
	}
	return &skill, nil
}
