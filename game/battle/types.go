package battle

import (
	"fmt"
	"strings"
)

// SkillType is the category a skill belongs to. Resistances are keyed by it.
type SkillType int

const (
	TypePhysical SkillType = iota
	TypeGun
	TypeFire
	TypeIce
	TypeElectric
	TypeWind
	TypePsychic
	TypeNuclear
	TypeBless
	TypeCurse
	TypeAlmighty
	TypeHealing
	TypeAilment
	TypeSupport
	TypePassive

	numSkillTypes
)

var skillTypeNames = [numSkillTypes]string{
	"physical", "gun", "fire", "ice", "electric", "wind", "psychic", "nuclear",
	"bless", "curse", "almighty", "healing", "ailment", "support", "passive",
}

// Older catalog files use these spellings.
var skillTypeAliases = map[string]SkillType{
	"light": TypeBless,
	"dark":  TypeCurse,
	"elec":  TypeElectric,
	"phys":  TypePhysical,
}

func (t SkillType) String() string {
	if t < 0 || t >= numSkillTypes {
		return fmt.Sprintf("SkillType(%d)", int(t))
	}
	return skillTypeNames[t]
}

// ParseSkillType resolves a type name (case-insensitive, aliases allowed).
func ParseSkillType(s string) (SkillType, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for i, n := range skillTypeNames {
		if n == key {
			return SkillType(i), nil
		}
	}
	if t, ok := skillTypeAliases[key]; ok {
		return t, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSkillType, s)
}

// AllSkillTypes lists every enumerated skill type in declaration order.
func AllSkillTypes() []SkillType {
	out := make([]SkillType, numSkillTypes)
	for i := range out {
		out[i] = SkillType(i)
	}
	return out
}

// Resistance governs how a combatant responds to a skill type.
type Resistance int

const (
	ResistNormal Resistance = iota
	ResistImmune
	ResistResist
	ResistWeak
	ResistReflect
	ResistAbsorb
)

var resistanceNames = [...]string{"normal", "immune", "resist", "weak", "reflect", "absorb"}

var resistanceAliases = map[string]Resistance{
	"null":  ResistImmune,
	"repel": ResistReflect,
	"drain": ResistAbsorb,
}

func (r Resistance) String() string {
	if r < 0 || int(r) >= len(resistanceNames) {
		return fmt.Sprintf("Resistance(%d)", int(r))
	}
	return resistanceNames[r]
}

func ParseResistance(s string) (Resistance, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for i, n := range resistanceNames {
		if n == key {
			return Resistance(i), nil
		}
	}
	if r, ok := resistanceAliases[key]; ok {
		return r, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownResistance, s)
}

// nullifies reports whether the resistance stops a hit from doing damage.
func (r Resistance) nullifies() bool {
	return r == ResistImmune || r == ResistReflect || r == ResistAbsorb
}

// severities maps a named damage tier to its multiplier.
var severities = map[string]float64{
	"miniscule": 0.5,
	"light":     1.0,
	"medium":    1.6,
	"heavy":     2.2,
	"severe":    2.8,
	"colossal":  3.4,
}

const defaultSeverity = "light"

// SeverityMultiplier returns the multiplier of a named tier. An empty name
// is treated as the default tier.
func SeverityMultiplier(name string) (float64, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = defaultSeverity
	}
	m, ok := severities[key]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownSeverity, name)
	}
	return m, nil
}

// TargetMode describes who a skill may be aimed at.
type TargetMode int

const (
	TargetEnemy TargetMode = iota
	TargetEnemies
	TargetSelf
	TargetAlly
	TargetAllies
	TargetAll
)

var targetModeNames = [...]string{"enemy", "enemies", "self", "ally", "allies", "all"}

func (m TargetMode) String() string {
	if m < 0 || int(m) >= len(targetModeNames) {
		return fmt.Sprintf("TargetMode(%d)", int(m))
	}
	return targetModeNames[m]
}

func ParseTargetMode(s string) (TargetMode, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "" {
		return TargetEnemy, nil
	}
	for i, n := range targetModeNames {
		if n == key {
			return TargetMode(i), nil
		}
	}
	return 0, fmt.Errorf("battle: unknown target mode %q", s)
}

// friendly reports whether the mode aims at the user's own side.
func (m TargetMode) friendly() bool {
	return m == TargetSelf || m == TargetAlly || m == TargetAllies
}

// StatSlot indexes the stat-modifier vector.
type StatSlot int

const (
	SlotAttack  StatSlot = iota // Taru
	SlotDefense                 // Raku
	SlotAgility                 // Suku: accuracy and evasion

	numStatSlots
)

var statSlotNames = [numStatSlots]string{"taru", "raku", "suku"}

func (s StatSlot) String() string {
	if s < 0 || s >= numStatSlots {
		return fmt.Sprintf("StatSlot(%d)", int(s))
	}
	return statSlotNames[s]
}

// Ambush is the initiative disposition of a battle.
type Ambush int

const (
	AmbushNeutral Ambush = iota
	AmbushPlayer         // player acts first
	AmbushEnemy          // opponents act first
)

var ambushNames = [...]string{"neutral", "player", "enemy"}

func (a Ambush) String() string {
	if a < 0 || int(a) >= len(ambushNames) {
		return fmt.Sprintf("Ambush(%d)", int(a))
	}
	return ambushNames[a]
}

func ParseAmbush(s string) (Ambush, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "" {
		return AmbushNeutral, nil
	}
	for i, n := range ambushNames {
		if n == key {
			return Ambush(i), nil
		}
	}
	return 0, fmt.Errorf("battle: unknown ambush %q", s)
}
