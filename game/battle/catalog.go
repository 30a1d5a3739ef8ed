package battle

import (
	"fmt"
	"strings"

	"github.com/kasuganosora/arcanabattle/resource"
)

// Catalog is the shared, read-only skill table. It is built once from the
// declarative records and passed to every battle.
type Catalog struct {
	skills []*Skill
	byName map[string]*Skill
}

// NewCatalog builds the catalog. Any record that cannot be resolved to a
// variant fails the whole load.
func NewCatalog(records []*resource.SkillRecord) (*Catalog, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("battle: catalog needs at least one skill")
	}
	c := &Catalog{byName: make(map[string]*Skill, len(records))}
	for _, rec := range records {
		s, err := newSkill(rec)
		if err != nil {
			return nil, fmt.Errorf("skill %q: %w", rec.Name, err)
		}
		key := strings.ToLower(s.Name)
		if _, dup := c.byName[key]; dup {
			return nil, fmt.Errorf("battle: duplicate skill %q", s.Name)
		}
		c.byName[key] = s
		c.skills = append(c.skills, s)
	}
	return c, nil
}

// Lookup finds a skill by name, case-insensitively.
func (c *Catalog) Lookup(name string) (*Skill, error) {
	s, ok := c.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSkill, name)
	}
	return s, nil
}

// Resolve looks up every name, failing on the first unknown one.
func (c *Catalog) Resolve(names []string) ([]*Skill, error) {
	out := make([]*Skill, 0, len(names))
	for _, n := range names {
		s, err := c.Lookup(n)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// BasicAttack is the first catalog entry.
func (c *Catalog) BasicAttack() *Skill {
	return c.skills[0]
}

// All returns the skills in load order.
func (c *Catalog) All() []*Skill {
	out := make([]*Skill, len(c.skills))
	copy(out, c.skills)
	return out
}

func (c *Catalog) Len() int { return len(c.skills) }

func newSkill(rec *resource.SkillRecord) (*Skill, error) {
	name := strings.TrimSpace(rec.Name)
	if name == "" {
		return nil, fmt.Errorf("battle: skill without a name")
	}
	typ, err := ParseSkillType(rec.Type)
	if err != nil {
		return nil, err
	}
	power, err := SeverityMultiplier(rec.Severity)
	if err != nil {
		return nil, err
	}
	target, err := ParseTargetMode(rec.Target)
	if err != nil {
		return nil, err
	}
	s := &Skill{
		Name:     name,
		Type:     typ,
		Severity: strings.ToLower(rec.Severity),
		Power:    power,
		Cost:     rec.Cost,
		Accuracy: rec.Accuracy,
		MinHits:  rec.MinHits,
		MaxHits:  rec.MaxHits,
		Target:   target,
		Desc:     rec.Desc,
	}
	if s.Severity == "" {
		s.Severity = defaultSeverity
	}
	if s.MinHits < 1 {
		s.MinHits = 1
	}
	if s.MaxHits < s.MinHits {
		s.MaxHits = s.MinHits
	}
	if typ == TypeAilment {
		if s.Ailment, err = ParseAilment(rec.Ailment); err != nil {
			return nil, err
		}
	}
	if err := deriveVariant(s); err != nil {
		return nil, err
	}
	if s.Accuracy <= 0 {
		// A counter's accuracy is its trigger chance and has no sane default.
		if s.Variant == VariantCounter {
			return nil, fmt.Errorf("%w: %s", ErrMissingAccuracy, name)
		}
		s.Accuracy = 100
	}
	return s, nil
}

// ---------------------------------------------------------------------------
//  Name → variant table
// ---------------------------------------------------------------------------

var counterNames = map[string]bool{
	"counter":       true,
	"high counter":  true,
	"counterstrike": true,
}

var immunityPrefixes = []struct {
	prefix string
	grant  Resistance
	bonus  float64
}{
	{"null ", ResistReflect, 0},
	{"repel ", ResistReflect, 0},
	{"drain ", ResistAbsorb, 0},
	{"resist ", ResistResist, 0},
	{"dodge ", ResistNormal, 10},
	{"evade ", ResistNormal, 20},
}

var allSlots = []StatSlot{SlotAttack, SlotDefense, SlotAgility}

var modifierTable = map[string]ModifierEffect{
	"tarukaja":     {Kind: EffectStat, Slots: []StatSlot{SlotAttack}, Delta: 1},
	"rakukaja":     {Kind: EffectStat, Slots: []StatSlot{SlotDefense}, Delta: 1},
	"sukukaja":     {Kind: EffectStat, Slots: []StatSlot{SlotAgility}, Delta: 1},
	"tarunda":      {Kind: EffectStat, Slots: []StatSlot{SlotAttack}, Delta: -1},
	"rakunda":      {Kind: EffectStat, Slots: []StatSlot{SlotDefense}, Delta: -1},
	"sukunda":      {Kind: EffectStat, Slots: []StatSlot{SlotAgility}, Delta: -1},
	"heat riser":   {Kind: EffectStat, Slots: allSlots, Delta: 1},
	"debilitate":   {Kind: EffectStat, Slots: allSlots, Delta: -1},
	"dekaja":       {Kind: EffectCancelBuffs},
	"dekunda":      {Kind: EffectCancelDebuffs},
	"charge":       {Kind: EffectCharge},
	"concentrate":  {Kind: EffectConcentrate},
	"tetrakarn":    {Kind: EffectTetrakarn},
	"makarakarn":   {Kind: EffectMakarakarn},
	"rebellion":    {Kind: EffectRebellion},
	"revolution":   {Kind: EffectRebellion},
	"foul breath":  {Kind: EffectSusceptibility},
	"stagnant air": {Kind: EffectSusceptibility},
	"guard":        {Kind: EffectGuard},
}

func lookupModifier(lower string) (ModifierEffect, bool) {
	if m, ok := modifierTable[lower]; ok {
		return m, true
	}
	// Ma- variants hit the whole side; the record's target mode says so.
	if strings.HasPrefix(lower, "ma") {
		if m, ok := modifierTable[lower[2:]]; ok && m.Kind == EffectStat {
			return m, true
		}
	}
	return ModifierEffect{}, false
}

// deriveVariant pattern-matches the skill name against the known families.
func deriveVariant(s *Skill) error {
	lower := strings.ToLower(s.Name)

	if counterNames[lower] {
		s.Variant = VariantCounter
		return nil
	}
	for _, p := range immunityPrefixes {
		if !strings.HasPrefix(lower, p.prefix) {
			continue
		}
		t, err := ParseSkillType(lower[len(p.prefix):])
		if err != nil {
			return err
		}
		s.Variant = VariantPassiveImmunity
		s.Immunity = &ImmunityGrant{Type: t, Grant: p.grant, EvasionBonus: p.bonus}
		return nil
	}
	if strings.HasSuffix(lower, " shield") {
		t, err := ParseSkillType(strings.TrimSuffix(lower, " shield"))
		if err != nil {
			return err
		}
		s.Variant = VariantShield
		s.Shield = &ShieldGrant{Type: t, Turns: timerTurns}
		return nil
	}
	if m, ok := lookupModifier(lower); ok {
		s.Variant = VariantStatusModifier
		s.Modifier = &m
		return nil
	}
	s.Variant = VariantPlain
	return nil
}
