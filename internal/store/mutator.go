package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mailbrain.app/agent/internal/model"
)

// SkillMutator is the single mutation gate for skills. It runs an optimistic
// read-compute-commit cycle: read the skill, apply fn, commit against the
// version that was read. A version conflict means another writer committed
// first; the cycle re-reads and retries up to the configured bound, then
// fails with ErrVersionConflict so the job can report the conflict without
// losing the change silently.
type SkillMutator struct {
	skills  SkillStore
	retries int
}

func NewSkillMutator(skills SkillStore, retries int) *SkillMutator {
	if retries <= 0 {
		retries = 3
	}
	return &SkillMutator{skills: skills, retries: retries}
}

// Mutate applies fn to the current state of the skill and commits. fn must be
// side-effect free: it may run more than once. The skill-level keyword set is
// re-unioned with rule keywords after fn, keeping the keyword invariant
// without fn having to care.
func (m *SkillMutator) Mutate(ctx context.Context, skillID int64, fn func(*model.Skill) error) (*model.Skill, error) {
	var lastErr error

	for attempt := 0; attempt < m.retries; attempt++ {
		skill, err := m.skills.GetByID(ctx, skillID)
		if err != nil {
			return nil, fmt.Errorf("reading skill %d: %w", skillID, err)
		}

		readVersion := skill.Version
		if err := fn(skill); err != nil {
			return nil, err
		}
		skill.SyncKeywords()

		err = m.skills.UpdateVersioned(ctx, skill, readVersion)
		if err == nil {
			return skill, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, fmt.Errorf("committing skill %d: %w", skillID, err)
		}

		lastErr = err
		slog.WarnContext(ctx, "skill version conflict, retrying",
			"skill_id", skillID,
			"attempt", attempt+1,
			"read_version", readVersion)
	}

	return nil, fmt.Errorf("skill %d mutation after %d attempts: %w", skillID, m.retries, lastErr)
}
