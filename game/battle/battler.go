package battle

import (
	"context"
	"math"
	"strings"
)

// Stat indexes into the base stat array.
const (
	StatStrength = iota
	StatMagic
	StatEndurance
	StatAgility
	StatLuck

	numStats
)

// CombatantConfig configures NewCombatant.
type CombatantConfig struct {
	Owner       string
	Name        string
	Player      bool
	Stats       [numStats]int
	Exp         int
	Level       int // fixed level for opponents; 0 derives it from Exp
	Resistances map[SkillType]Resistance
	Skills      []*Skill
	Unequipped  []string
	Arcana      string
	Specialty   string
	Description string
	StatPoints  int
	Credits     int
}

// Combatant is the player's or an opponent's creature for one battle.
// HP and SP are stored as the amount consumed so that a level change moves
// the maximum without touching the damage already taken.
type Combatant struct {
	Owner       string
	Name        string
	Arcana      string
	Specialty   string
	Description string
	StatPoints  int
	Credits     int

	player     bool
	index      int
	stats      [numStats]int
	exp        int
	fixedLevel int

	damageTaken int
	spUsed      int
	resistances map[SkillType]Resistance
	skills      []*Skill
	unequipped  []string

	mods          StatModifiers
	guarding      bool
	charging      bool
	concentrating bool
	tetrakarn     bool
	makarakarn    bool
	rebellion     countdown
	susceptible   countdown
	exCrit        float64
	exEvade       float64
	shields       map[SkillType]countdown
	endured       bool
	heatUp        bool
	ailment       *Ailment
	unusable      map[string]bool
}

// NewCombatant builds a combatant at full HP and SP. Duplicate skills are
// dropped, keeping the first occurrence.
func NewCombatant(cfg CombatantConfig) *Combatant {
	c := &Combatant{
		Owner:       cfg.Owner,
		Name:        cfg.Name,
		Arcana:      cfg.Arcana,
		Specialty:   cfg.Specialty,
		Description: cfg.Description,
		StatPoints:  cfg.StatPoints,
		Credits:     cfg.Credits,
		player:      cfg.Player,
		stats:       cfg.Stats,
		exp:         cfg.Exp,
		fixedLevel:  cfg.Level,
		resistances: make(map[SkillType]Resistance, len(cfg.Resistances)),
		unequipped:  append([]string(nil), cfg.Unequipped...),
		exCrit:      1,
		exEvade:     1,
		shields:     make(map[SkillType]countdown),
		unusable:    make(map[string]bool),
	}
	for t, r := range cfg.Resistances {
		c.resistances[t] = r
	}
	for _, s := range cfg.Skills {
		c.addSkill(s)
	}
	return c
}

func (c *Combatant) addSkill(s *Skill) bool {
	if s == nil || c.HasSkill(s.Name) {
		return false
	}
	c.skills = append(c.skills, s)
	return true
}

func (c *Combatant) IsPlayer() bool { return c.player }
func (c *Combatant) Index() int     { return c.index }

// ---- Stats and progression ----

func (c *Combatant) Stat(i int) int {
	if i < 0 || i >= numStats {
		return 0
	}
	return c.stats[i]
}

func (c *Combatant) Stats() [numStats]int { return c.stats }
func (c *Combatant) Strength() int        { return c.stats[StatStrength] }
func (c *Combatant) Magic() int           { return c.stats[StatMagic] }
func (c *Combatant) Endurance() int       { return c.stats[StatEndurance] }
func (c *Combatant) Agility() int         { return c.stats[StatAgility] }
func (c *Combatant) Luck() int            { return c.stats[StatLuck] }
func (c *Combatant) Exp() int             { return c.exp }

// Level is the integer cube root of experience, at least 1. Opponents carry
// a fixed level.
func (c *Combatant) Level() int {
	if c.fixedLevel > 0 {
		return c.fixedLevel
	}
	return LevelForExp(c.exp)
}

// ExpToNextLevel is the experience still needed to reach the next level.
func (c *Combatant) ExpToNextLevel() int {
	next := c.Level() + 1
	return next*next*next - c.exp
}

// AddExp grants experience and returns the number of levels gained.
func (c *Combatant) AddExp(n int) int {
	if n <= 0 || c.fixedLevel > 0 {
		return 0
	}
	before := c.Level()
	c.exp += n
	return c.Level() - before
}

// ---- Resources ----

func (c *Combatant) MaxHP() int { return MaxHPFor(c.Endurance(), c.Level()) }
func (c *Combatant) MaxSP() int { return MaxSPFor(c.Magic(), c.Level()) }

func (c *Combatant) HP() int {
	if hp := c.MaxHP() - c.damageTaken; hp > 0 {
		return hp
	}
	return 0
}

func (c *Combatant) SP() int {
	if sp := c.MaxSP() - c.spUsed; sp > 0 {
		return sp
	}
	return 0
}

func (c *Combatant) DamageTaken() int { return c.damageTaken }
func (c *Combatant) SPUsed() int      { return c.spUsed }

// ApplyHP applies damage (positive) or healing (negative), clamped to the
// valid range, and returns the change that actually happened. Reaching zero
// HP resets the stat modifiers.
func (c *Combatant) ApplyHP(delta int) int {
	before := c.damageTaken
	c.damageTaken = clampInt(c.damageTaken+delta, 0, c.MaxHP())
	if c.damageTaken >= c.MaxHP() {
		c.mods.Reset()
	}
	return c.damageTaken - before
}

// ApplySP spends (positive) or restores (negative) SP.
func (c *Combatant) ApplySP(delta int) int {
	before := c.spUsed
	c.spUsed = clampInt(c.spUsed+delta, 0, c.MaxSP())
	return c.spUsed - before
}

// Restore refills HP and SP.
func (c *Combatant) Restore() {
	c.damageTaken = 0
	c.spUsed = 0
}

// IsFainted reports hp == 0. Observing a faint resets the stat modifiers.
func (c *Combatant) IsFainted() bool {
	if c.HP() > 0 {
		return false
	}
	c.mods.Reset()
	return true
}

// CanAfford reports whether the combatant can pay for a skill. An HP cost
// may never be lethal.
func (c *Combatant) CanAfford(s *Skill) bool {
	hp, sp := s.CostFor(c)
	if hp > 0 && hp >= c.HP() {
		return false
	}
	return sp <= c.SP()
}

// ---- Modifiers ----

// AffectedBy returns the multiplier of a stat-modifier slot.
func (c *Combatant) AffectedBy(slot StatSlot) float64 {
	return c.mods.Multiplier(slot)
}

func (c *Combatant) Modifiers() *StatModifiers { return &c.mods }

// ApplyModifier stacks a buff (delta > 0) or debuff on a slot.
func (c *Combatant) ApplyModifier(slot StatSlot, delta int) {
	c.mods.Apply(slot, delta, defaultModTurns)
}

// TimerExpiry records one timer that ran out during decay.
type TimerExpiry struct {
	Slot   *StatSlot
	Shield *SkillType
	Timer  string
}

// DecayTimers runs at the start of the owner's turn and narrates every timer
// that ran out.
func (c *Combatant) DecayTimers(ctx context.Context, n Narrator) []TimerExpiry {
	expired := c.decay()
	if n == nil {
		return expired
	}
	ref := c.Ref()
	for _, e := range expired {
		switch {
		case e.Slot != nil:
			n.Narrate(ctx, &EventModifierExpired{Target: ref, Slot: e.Slot.String()})
		case e.Shield != nil:
			n.Narrate(ctx, &EventShieldExpired{Target: ref, Type: e.Shield.String()})
		default:
			n.Narrate(ctx, &EventStatusExpired{Target: ref, Status: e.Timer})
		}
	}
	return expired
}

// DecayTimersSilent is DecayTimers without narration.
func (c *Combatant) DecayTimersSilent() []TimerExpiry {
	return c.decay()
}

func (c *Combatant) decay() []TimerExpiry {
	var out []TimerExpiry
	for _, slot := range c.mods.Tick() {
		slot := slot
		out = append(out, TimerExpiry{Slot: &slot})
	}
	for _, t := range AllSkillTypes() {
		cd, ok := c.shields[t]
		if !ok {
			continue
		}
		if cd.tick() || !cd.active() {
			delete(c.shields, t)
			t := t
			out = append(out, TimerExpiry{Shield: &t})
			continue
		}
		c.shields[t] = cd
	}
	if c.rebellion.tick() {
		out = append(out, TimerExpiry{Timer: "rebellion"})
	}
	if c.susceptible.tick() {
		out = append(out, TimerExpiry{Timer: "susceptibility"})
	}
	return out
}

// ---- Resistances ----

// BaseResistance is the table entry for a type, Normal when absent.
func (c *Combatant) BaseResistance(t SkillType) Resistance {
	return c.resistances[t]
}

func (c *Combatant) SetResistance(t SkillType, r Resistance) {
	c.resistances[t] = r
}

// ResistanceTo resolves the effective resistance: an active shield first,
// then passive immunity skills, then the base table.
func (c *Combatant) ResistanceTo(t SkillType) Resistance {
	if cd, ok := c.shields[t]; ok && cd.active() {
		return ResistImmune
	}
	best, found := ResistNormal, false
	for _, s := range c.skills {
		if s.Variant != VariantPassiveImmunity || s.Immunity.Type != t || s.Immunity.Grant == ResistNormal {
			continue
		}
		if !found || immunityRank(s.Immunity.Grant) > immunityRank(best) {
			best, found = s.Immunity.Grant, true
		}
	}
	if found {
		return best
	}
	return c.resistances[t]
}

// ResistanceByName resolves a type given by name.
func (c *Combatant) ResistanceByName(name string) (Resistance, error) {
	t, err := ParseSkillType(name)
	if err != nil {
		return ResistNormal, err
	}
	return c.ResistanceTo(t), nil
}

func immunityRank(r Resistance) int {
	switch r {
	case ResistReflect, ResistAbsorb:
		return 3
	case ResistImmune:
		return 2
	case ResistResist:
		return 1
	}
	return 0
}

// GrantShield makes the combatant immune to a type for a number of turns.
func (c *Combatant) GrantShield(t SkillType, turns int) {
	c.shields[t] = countdown(turns)
}

func (c *Combatant) ShieldTurns(t SkillType) int { return int(c.shields[t]) }

// ---- Skills ----

// Skills returns the equipped skills in order.
func (c *Combatant) Skills() []*Skill {
	out := make([]*Skill, len(c.skills))
	copy(out, c.skills)
	return out
}

func (c *Combatant) Unequipped() []string {
	return append([]string(nil), c.unequipped...)
}

func (c *Combatant) HasSkill(name string) bool {
	return c.skill(name) != nil
}

func (c *Combatant) skill(name string) *Skill {
	for _, s := range c.skills {
		if strings.EqualFold(s.Name, name) {
			return s
		}
	}
	return nil
}

// hasPassive reports whether a passive skill of that name is equipped.
func (c *Combatant) hasPassive(name string) bool {
	s := c.skill(name)
	return s != nil && s.IsPassive()
}

func (c *Combatant) counterSkill() *Skill {
	for _, s := range c.skills {
		if s.Variant == VariantCounter {
			return s
		}
	}
	return nil
}

// evasionBonus sums the Dodge/Evade passives for a type.
func (c *Combatant) evasionBonus(t SkillType) float64 {
	bonus := 0.0
	for _, s := range c.skills {
		if s.Variant == VariantPassiveImmunity && s.Immunity.Type == t {
			bonus += s.Immunity.EvasionBonus
		}
	}
	return bonus
}

// MarkUnusable records that a move had no effect this battle.
func (c *Combatant) MarkUnusable(name string) {
	c.unusable[strings.ToLower(name)] = true
}

func (c *Combatant) IsUnusable(name string) bool {
	return c.unusable[strings.ToLower(name)]
}

// ---- Ailments and flags ----

func (c *Combatant) Ailment() *Ailment { return c.ailment }

func (c *Combatant) AilmentType() AilmentType {
	if c.ailment == nil {
		return AilmentNone
	}
	return c.ailment.Type
}

// Inflict gives the combatant an ailment unless it already has one.
func (c *Combatant) Inflict(t AilmentType, r Rand) bool {
	if c.ailment != nil || t == AilmentNone {
		return false
	}
	c.ailment = NewAilment(t, c, r)
	return true
}

func (c *Combatant) ClearAilment() { c.ailment = nil }

func (c *Combatant) Guarding() bool      { return c.guarding }
func (c *Combatant) SetGuarding(v bool)  { c.guarding = v }
func (c *Combatant) Charging() bool      { return c.charging }
func (c *Combatant) Concentrating() bool { return c.concentrating }
func (c *Combatant) Endured() bool       { return c.endured }
func (c *Combatant) Susceptible() bool   { return c.susceptible.active() }
func (c *Combatant) Rebellious() bool    { return c.rebellion.active() }

// ClearBattleFlags drops every battle-only state. Resources and progression
// are kept.
func (c *Combatant) ClearBattleFlags() {
	c.mods.Reset()
	c.guarding = false
	c.charging = false
	c.concentrating = false
	c.tetrakarn = false
	c.makarakarn = false
	c.rebellion = 0
	c.susceptible = 0
	c.exCrit = 1
	c.exEvade = 1
	c.shields = make(map[SkillType]countdown)
	c.endured = false
	c.heatUp = false
	c.ailment = nil
	c.unusable = make(map[string]bool)
}

// ---------------------------------------------------------------------------
//  Formulas
// ---------------------------------------------------------------------------

// LevelForExp is max(1, floor(cbrt(exp))).
func LevelForExp(exp int) int {
	if exp <= 0 {
		return 1
	}
	lv := int(math.Cbrt(float64(exp)) + 1e-9)
	if lv < 1 {
		return 1
	}
	return lv
}

// MaxHPFor is ceil(20 + endurance + 4.7*level).
func MaxHPFor(endurance, level int) int {
	return ceilInt(20 + float64(endurance) + 4.7*float64(level))
}

// MaxSPFor is ceil(10 + magic + 3.6*level).
func MaxSPFor(magic, level int) int {
	return ceilInt(10 + float64(magic) + 3.6*float64(level))
}

// ceilInt rounds up, ignoring float noise below 1e-9.
func ceilInt(v float64) int {
	return int(math.Ceil(v - 1e-9))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
