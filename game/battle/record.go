package battle

import (
	"fmt"
	"strings"

	"github.com/kasuganosora/arcanabattle/resource"
)

// Record is the persisted shape of a player combatant.
type Record struct {
	Owner       string            `json:"owner"`
	Name        string            `json:"name"`
	Skills      []string          `json:"skills"`
	Unequipped  []string          `json:"unequipped,omitempty"`
	Exp         int               `json:"exp"`
	Stats       [5]int            `json:"stats"`
	Resistances map[string]string `json:"resistances"`
	Arcana      string            `json:"arcana"`
	Specialty   string            `json:"specialty"`
	StatPoints  int               `json:"stat_points"`
	Description string            `json:"description"`
	Credits     int               `json:"credits"`
}

const (
	minStat = 1
	maxStat = 99
)

func validateStats(stats [5]int) error {
	for i, v := range stats {
		if v < minStat || v > maxStat {
			return fmt.Errorf("%w: stat %d is %d", ErrInvalidStats, i, v)
		}
	}
	return nil
}

func parseResistances(in map[string]string) (map[SkillType]Resistance, error) {
	out := make(map[SkillType]Resistance, len(in))
	for k, v := range in {
		t, err := ParseSkillType(k)
		if err != nil {
			return nil, err
		}
		r, err := ParseResistance(v)
		if err != nil {
			return nil, err
		}
		out[t] = r
	}
	return out, nil
}

// NewCombatantFromRecord rebuilds a player combatant, resolving its skills
// against the catalog.
func NewCombatantFromRecord(rec *Record, cat *Catalog) (*Combatant, error) {
	if err := validateStats(rec.Stats); err != nil {
		return nil, err
	}
	res, err := parseResistances(rec.Resistances)
	if err != nil {
		return nil, err
	}
	skills, err := cat.Resolve(rec.Skills)
	if err != nil {
		return nil, err
	}
	for _, n := range rec.Unequipped {
		if _, err := cat.Lookup(n); err != nil {
			return nil, err
		}
	}
	return NewCombatant(CombatantConfig{
		Owner:       rec.Owner,
		Name:        rec.Name,
		Player:      true,
		Stats:       rec.Stats,
		Exp:         rec.Exp,
		Resistances: res,
		Skills:      skills,
		Unequipped:  rec.Unequipped,
		Arcana:      rec.Arcana,
		Specialty:   rec.Specialty,
		Description: rec.Description,
		StatPoints:  rec.StatPoints,
		Credits:     rec.Credits,
	}), nil
}

// NewOpponent builds an AI combatant from a template.
func NewOpponent(tpl *resource.OpponentTemplate, cat *Catalog) (*Combatant, error) {
	if err := validateStats(tpl.Stats); err != nil {
		return nil, fmt.Errorf("opponent %q: %w", tpl.Name, err)
	}
	res, err := parseResistances(tpl.Resistances)
	if err != nil {
		return nil, fmt.Errorf("opponent %q: %w", tpl.Name, err)
	}
	skills, err := cat.Resolve(tpl.Skills)
	if err != nil {
		return nil, fmt.Errorf("opponent %q: %w", tpl.Name, err)
	}
	level := tpl.Level
	if level < 1 {
		level = 1
	}
	return NewCombatant(CombatantConfig{
		Name:        tpl.Name,
		Stats:       tpl.Stats,
		Level:       level,
		Resistances: res,
		Skills:      skills,
		Arcana:      tpl.Arcana,
		Description: tpl.Description,
	}), nil
}

// ToRecord serializes the persisted fields.
func (c *Combatant) ToRecord() *Record {
	rec := &Record{
		Owner:       c.Owner,
		Name:        c.Name,
		Skills:      make([]string, len(c.skills)),
		Unequipped:  c.Unequipped(),
		Exp:         c.exp,
		Stats:       c.stats,
		Resistances: make(map[string]string, len(c.resistances)),
		Arcana:      c.Arcana,
		Specialty:   c.Specialty,
		StatPoints:  c.StatPoints,
		Description: c.Description,
		Credits:     c.Credits,
	}
	for i, s := range c.skills {
		rec.Skills[i] = s.Name
	}
	for t, r := range c.resistances {
		rec.Resistances[t.String()] = r.String()
	}
	return rec
}

// maxEquipped is how many skills a combatant may carry into battle.
const maxEquipped = 8

// Equip moves a known skill from the unequipped list into the skill list.
func (r *Record) Equip(name string) error {
	i := indexFold(r.Unequipped, name)
	if i < 0 {
		return fmt.Errorf("%w: %q is not a known unequipped skill", ErrUnknownSkill, name)
	}
	if len(r.Skills) >= maxEquipped {
		return fmt.Errorf("battle: at most %d skills can be equipped", maxEquipped)
	}
	r.Skills = append(r.Skills, r.Unequipped[i])
	r.Unequipped = append(r.Unequipped[:i], r.Unequipped[i+1:]...)
	return nil
}

// Unequip moves an equipped skill to the unequipped list. The last skill
// cannot be removed.
func (r *Record) Unequip(name string) error {
	i := indexFold(r.Skills, name)
	if i < 0 {
		return fmt.Errorf("%w: %q is not equipped", ErrUnknownSkill, name)
	}
	if len(r.Skills) == 1 {
		return fmt.Errorf("battle: cannot unequip the last skill")
	}
	r.Unequipped = append(r.Unequipped, r.Skills[i])
	r.Skills = append(r.Skills[:i], r.Skills[i+1:]...)
	return nil
}

func indexFold(list []string, name string) int {
	for i, s := range list {
		if strings.EqualFold(s, name) {
			return i
		}
	}
	return -1
}

var statNames = [numStats]string{"strength", "magic", "endurance", "agility", "luck"}

// ParseStat resolves a stat name to its index.
func ParseStat(s string) (int, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for i, n := range statNames {
		if n == key || (len(key) >= 2 && strings.HasPrefix(n, key)) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown stat %q", ErrInvalidStats, s)
}

// AllocateStat spends n unspent stat points on one stat. Points that would
// push the stat past the cap are refused as a whole.
func (r *Record) AllocateStat(stat, n int) error {
	if stat < 0 || stat >= numStats {
		return fmt.Errorf("%w: stat %d", ErrInvalidStats, stat)
	}
	if n <= 0 || n > r.StatPoints {
		return fmt.Errorf("%w: %d points requested, %d available", ErrInvalidStats, n, r.StatPoints)
	}
	if r.Stats[stat]+n > maxStat {
		return fmt.Errorf("%w: %s would exceed %d", ErrInvalidStats, statNames[stat], maxStat)
	}
	r.Stats[stat] += n
	r.StatPoints -= n
	return nil
}
