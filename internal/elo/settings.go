package elo

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/playrank/playrank/internal/types"
)

// fallbackSettings is the compiled-in default ELO configuration applied
// wherever the settings file leaves a field unset.
var fallbackSettings = types.ELOSettings{
	StartingELO:         1200,
	KFactor:             types.KFactorConfig{New: 40, Established: 32, Expert: 16},
	ProvisionalGames:    10,
	MinimumParticipants: 2,
	TeamBased:           false,
	AllowDraws:          true,
	SkillInfluence:      0.3,
}

// SettingsFile is the externalised per-activity-type default ELO
// configuration. Overrides are keyed by activity type id.
type SettingsFile struct {
	Default   types.ELOSettings            `yaml:"default"`
	Overrides map[string]types.ELOSettings `yaml:"activityTypes"`
}

// LoadSettingsFile reads the YAML defaults file. A missing path returns
// compiled-in defaults only.
func LoadSettingsFile(path string) (*SettingsFile, error) {
	sf := &SettingsFile{Default: fallbackSettings}
	if path == "" {
		return sf, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sf, nil
		}
		return nil, fmt.Errorf("elo: read settings file: %w", err)
	}
	if err := yaml.Unmarshal(data, sf); err != nil {
		return nil, fmt.Errorf("elo: parse settings file: %w", err)
	}
	sf.Default = Normalize(sf.Default)
	return sf, nil
}

// For returns the default settings for an activity type id, falling
// back to the file default.
func (sf *SettingsFile) For(activityTypeID string) types.ELOSettings {
	if s, ok := sf.Overrides[activityTypeID]; ok {
		return Normalize(s)
	}
	return sf.Default
}

// Normalize fills zero-valued fields from the compiled-in fallback so a
// partially specified configuration never reaches the engine.
func Normalize(s types.ELOSettings) types.ELOSettings {
	if s.StartingELO == 0 {
		s.StartingELO = fallbackSettings.StartingELO
	}
	if s.KFactor.New == 0 {
		s.KFactor.New = fallbackSettings.KFactor.New
	}
	if s.KFactor.Established == 0 {
		s.KFactor.Established = fallbackSettings.KFactor.Established
	}
	if s.KFactor.Expert == 0 {
		s.KFactor.Expert = fallbackSettings.KFactor.Expert
	}
	if s.ProvisionalGames == 0 {
		s.ProvisionalGames = fallbackSettings.ProvisionalGames
	}
	if s.MinimumParticipants == 0 {
		s.MinimumParticipants = fallbackSettings.MinimumParticipants
	}
	if s.SkillInfluence < 0 {
		s.SkillInfluence = 0
	}
	if s.SkillInfluence > 1 {
		s.SkillInfluence = 1
	}
	return s
}
