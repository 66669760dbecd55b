// Package skills implements peer skill ratings: the ratable-skill
// catalog, validated rating ingest, and the incremental rollup into
// per-(user, activity-type, skill) summaries that feed ELO bonuses.
package skills

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/playrank/playrank/internal/store"
	"github.com/playrank/playrank/internal/types"
)

// Catalog is the skill-definition file: which skills exist and which
// activity types they are ratable for.
type Catalog struct {
	Skills   []CatalogSkill   `toml:"skills"`
	Mappings []CatalogMapping `toml:"mappings"`
}

// CatalogSkill declares one ratable skill.
type CatalogSkill struct {
	ID      string `toml:"id"`
	Name    string `toml:"name"`
	Type    string `toml:"type"` // physical, technical, mental, tactical
	General bool   `toml:"general"`
}

// CatalogMapping binds a skill to an activity type.
type CatalogMapping struct {
	ActivityType string  `toml:"activityType"`
	Skill        string  `toml:"skill"`
	Weight       float64 `toml:"weight"`
	Order        int     `toml:"order"`
}

// LoadCatalog reads and validates a TOML skill catalog.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("skills: read catalog: %w", err)
	}
	var cat Catalog
	if err := toml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("skills: parse catalog: %w", err)
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// Validate checks ids, skill types and mapping references.
func (c *Catalog) Validate() error {
	ids := make(map[string]bool, len(c.Skills))
	for _, s := range c.Skills {
		if s.ID == "" || s.Name == "" {
			return fmt.Errorf("skills: catalog skill missing id or name")
		}
		switch types.SkillType(s.Type) {
		case types.SkillPhysical, types.SkillTechnical, types.SkillMental, types.SkillTactical:
		default:
			return fmt.Errorf("skills: unknown skill type %q for %s", s.Type, s.ID)
		}
		if ids[s.ID] {
			return fmt.Errorf("skills: duplicate skill id %s", s.ID)
		}
		ids[s.ID] = true
	}
	for _, m := range c.Mappings {
		if !ids[m.Skill] {
			return fmt.Errorf("skills: mapping references unknown skill %s", m.Skill)
		}
	}
	return nil
}

// Seed upserts the catalog into the store. Mapping rows whose activity
// type does not exist yet are skipped with a warning so the catalog can
// reference types seeded later.
func (c *Catalog) Seed(ctx context.Context, st *store.Store, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	db := st.DB()
	for _, s := range c.Skills {
		_, err := db.ExecContext(ctx, `
			INSERT INTO skill_definitions(id, name, skill_type, is_general)
			VALUES(?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name,
				skill_type = excluded.skill_type, is_general = excluded.is_general`,
			s.ID, s.Name, s.Type, s.General,
		)
		if err != nil {
			return fmt.Errorf("skills: seed skill %s: %w", s.ID, err)
		}
	}
	for _, m := range c.Mappings {
		weight := m.Weight
		if weight == 0 {
			weight = 1.0
		}
		res, err := db.ExecContext(ctx, `
			INSERT INTO activity_type_skills(activity_type_id, skill_definition_id, weight, display_order)
			SELECT id, ?, ?, ? FROM activity_types WHERE id = ?
			ON CONFLICT(activity_type_id, skill_definition_id) DO UPDATE SET
				weight = excluded.weight, display_order = excluded.display_order`,
			m.Skill, weight, m.Order, m.ActivityType,
		)
		if err != nil {
			return fmt.Errorf("skills: seed mapping %s/%s: %w", m.ActivityType, m.Skill, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			logger.Warn("skill mapping skipped, activity type not seeded",
				"activity_type", m.ActivityType, "skill", m.Skill)
		}
	}
	return nil
}
