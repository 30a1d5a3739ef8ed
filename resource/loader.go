package resource

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ---- Catalog records ----

// SkillRecord is one declarative entry of skills.json. The first record of
// the file is the basic attack every combatant falls back to.
type SkillRecord struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Cost     int    `json:"cost"`
	Desc     string `json:"desc"`
	Accuracy int    `json:"accuracy"`
	MinHits  int    `json:"min_hits"`
	MaxHits  int    `json:"max_hits"`
	Target   string `json:"target"`
	Ailment  string `json:"ailment,omitempty"` // ailment-type skills only
}

// OpponentTemplate describes an AI-controlled combatant. Opponents carry a
// fixed level instead of experience.
type OpponentTemplate struct {
	Name        string            `json:"name"`
	Level       int               `json:"level"`
	Stats       [5]int            `json:"stats"` // str, mag, end, agi, luck
	Resistances map[string]string `json:"resistances"`
	Skills      []string          `json:"skills"`
	Arcana      string            `json:"arcana"`
	Description string            `json:"description"`
}

// ResourceLoader holds all catalog data loaded once at process start.
// It is read-only after Load returns.
type ResourceLoader struct {
	DataPath string

	Skills    []*SkillRecord
	Opponents []*OpponentTemplate

	opponentsByName map[string]*OpponentTemplate
}

// NewLoader creates a ResourceLoader for the given data directory.
func NewLoader(dataPath string) *ResourceLoader {
	return &ResourceLoader{
		DataPath:        dataPath,
		opponentsByName: make(map[string]*OpponentTemplate),
	}
}

// Load reads all data files and builds the lookup indexes.
func (rl *ResourceLoader) Load() error {
	loaders := []func() error{
		rl.loadSkills,
		rl.loadOpponents,
	}
	for _, fn := range loaders {
		if err := fn(); err != nil {
			return err
		}
	}
	if len(rl.Skills) == 0 {
		return fmt.Errorf("resource: %s contains no skills", rl.path("skills.json"))
	}
	rl.indexOpponents()
	return nil
}

// OpponentByName returns the template with the given name (case-insensitive),
// or nil.
func (rl *ResourceLoader) OpponentByName(name string) *OpponentTemplate {
	if rl.opponentsByName == nil {
		rl.indexOpponents()
	}
	return rl.opponentsByName[strings.ToLower(name)]
}

func (rl *ResourceLoader) path(file string) string {
	return filepath.Join(rl.DataPath, file)
}

func loadJSONArray[T any](path string) ([]*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("resource: read %s: %w", path, err)
	}
	var arr []*T
	if err := json.Unmarshal(data, &arr); err != nil {
		return nil, fmt.Errorf("resource: parse %s: %w", path, err)
	}
	// Drop null entries so callers never see nil records.
	out := arr[:0]
	for _, v := range arr {
		if v != nil {
			out = append(out, v)
		}
	}
	return out, nil
}

func (rl *ResourceLoader) loadSkills() error {
	var err error
	rl.Skills, err = loadJSONArray[SkillRecord](rl.path("skills.json"))
	return err
}

// opponents.json is optional: a deployment may only run scripted encounters.
func (rl *ResourceLoader) loadOpponents() error {
	p := rl.path("opponents.json")
	if _, err := os.Stat(p); os.IsNotExist(err) {
		rl.Opponents = nil
		return nil
	}
	var err error
	rl.Opponents, err = loadJSONArray[OpponentTemplate](p)
	return err
}

func (rl *ResourceLoader) indexOpponents() {
	rl.opponentsByName = make(map[string]*OpponentTemplate, len(rl.Opponents))
	for _, o := range rl.Opponents {
		rl.opponentsByName[strings.ToLower(o.Name)] = o
	}
}
