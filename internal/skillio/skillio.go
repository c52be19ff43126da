// Package skillio moves the skill library in and out of the store as JSON.
// The format is lossless: an export followed by an import preserves every
// rule, keyword and counter.
package skillio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"mailbrain.app/agent/internal/model"
	"mailbrain.app/agent/internal/store"
)

const formatVersion = 1

// Library is the export envelope.
type Library struct {
	FormatVersion int           `json:"format_version"`
	ExportedAt    time.Time     `json:"exported_at"`
	Skills        []model.Skill `json:"skills"`
}

// ImportSummary reports what an import run did.
type ImportSummary struct {
	SkillsImported int      `json:"skills_imported"`
	SkillsSkipped  int      `json:"skills_skipped"`
	Skipped        []string `json:"skipped,omitempty"`
}

type Porter struct {
	skills store.SkillStore
}

func NewPorter(skills store.SkillStore) *Porter {
	return &Porter{skills: skills}
}

// Export snapshots the whole library, inactive skills included, ordered by
// id so repeated exports of the same state are identical.
func (p *Porter) Export(ctx context.Context) (*Library, error) {
	skills, err := p.skills.List(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("listing skills: %w", err)
	}
	sort.Slice(skills, func(a, b int) bool { return skills[a].ID < skills[b].ID })

	return &Library{
		FormatVersion: formatVersion,
		ExportedAt:    time.Now().UTC(),
		Skills:        skills,
	}, nil
}

// Marshal renders a library as indented JSON.
func Marshal(lib *Library) ([]byte, error) {
	data, err := json.MarshalIndent(lib, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding skill library: %w", err)
	}
	return data, nil
}

// Unmarshal parses an exported library, rejecting unknown format versions.
func Unmarshal(data []byte) (*Library, error) {
	var lib Library
	if err := json.Unmarshal(data, &lib); err != nil {
		return nil, fmt.Errorf("decoding skill library: %w", err)
	}
	if lib.FormatVersion != formatVersion {
		return nil, fmt.Errorf("unsupported skill library format version %d", lib.FormatVersion)
	}
	return &lib, nil
}

// Import writes a library into the store. Skills whose name_en already
// exists are skipped, never merged: imports must not silently clobber a
// library that evolved since the export.
func (p *Porter) Import(ctx context.Context, lib *Library) (*ImportSummary, error) {
	summary := &ImportSummary{}

	for i := range lib.Skills {
		skill := lib.Skills[i]

		_, err := p.skills.GetByNameEN(ctx, skill.NameEN)
		switch {
		case err == nil:
			summary.SkillsSkipped++
			summary.Skipped = append(summary.Skipped, skill.NameEN)
			slog.InfoContext(ctx, "skill already exists, skipping import",
				"name_en", skill.NameEN)
			continue
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("looking up skill %q: %w", skill.NameEN, err)
		}

		if err := p.skills.Create(ctx, &skill); err != nil {
			return nil, fmt.Errorf("importing skill %q: %w", skill.NameEN, err)
		}
		summary.SkillsImported++
	}

	slog.InfoContext(ctx, "skill library imported",
		"imported", summary.SkillsImported,
		"skipped", summary.SkillsSkipped)

	return summary, nil
}
