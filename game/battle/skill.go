package battle

import (
	"math"
	"strings"
)

// Variant is the behaviour a skill exhibits. It is derived once from the
// skill name when the catalog is built.
type Variant int

const (
	VariantPlain Variant = iota
	VariantCounter
	VariantPassiveImmunity
	VariantShield
	VariantStatusModifier
)

var variantNames = [...]string{"plain", "counter", "passive_immunity", "shield", "status_modifier"}

func (v Variant) String() string {
	if v < 0 || int(v) >= len(variantNames) {
		return "unknown"
	}
	return variantNames[v]
}

// EffectKind is what a status-modifier skill does to its target.
type EffectKind int

const (
	EffectStat EffectKind = iota
	EffectCancelBuffs
	EffectCancelDebuffs
	EffectCharge
	EffectConcentrate
	EffectTetrakarn
	EffectMakarakarn
	EffectRebellion
	EffectSusceptibility
	EffectGuard
)

var effectNames = [...]string{
	"stat", "cancel_buffs", "cancel_debuffs", "charge", "concentrate",
	"tetrakarn", "makarakarn", "rebellion", "susceptibility", "guard",
}

func (k EffectKind) String() string {
	if k < 0 || int(k) >= len(effectNames) {
		return "unknown"
	}
	return effectNames[k]
}

// ImmunityGrant is carried by a PassiveImmunity skill.
type ImmunityGrant struct {
	Type         SkillType
	Grant        Resistance // ResistNormal for Dodge/Evade skills
	EvasionBonus float64
}

// ShieldGrant is carried by a Shield skill.
type ShieldGrant struct {
	Type  SkillType
	Turns int
}

// ModifierEffect is carried by a StatusModifier skill.
type ModifierEffect struct {
	Kind  EffectKind
	Slots []StatSlot
	Delta int
}

// Skill is an immutable catalog entry.
type Skill struct {
	Name     string
	Type     SkillType
	Severity string
	Power    float64 // severity multiplier
	Cost     int
	Accuracy int
	MinHits  int
	MaxHits  int
	Target   TargetMode
	Desc     string
	Ailment  AilmentType

	Variant  Variant
	Immunity *ImmunityGrant
	Shield   *ShieldGrant
	Modifier *ModifierEffect
}

// IsPassive reports whether the skill only works by being equipped.
func (s *Skill) IsPassive() bool {
	return s.Type == TypePassive || s.Variant == VariantCounter || s.Variant == VariantPassiveImmunity
}

// UsesSP reports whether the skill is paid for with SP and scales off magic.
// Physical and gun skills cost HP instead.
func (s *Skill) UsesSP() bool {
	switch s.Type {
	case TypePhysical, TypeGun, TypePassive:
		return false
	}
	return true
}

// IsDamagingSkill reports whether the skill goes through the damage formula.
func (s *Skill) IsDamagingSkill() bool {
	return s.Variant == VariantPlain && s.Type <= TypeAlmighty
}

// IsInstantKill reports whether the skill is a death skill.
func (s *Skill) IsInstantKill() bool {
	if !s.IsDamagingSkill() {
		return false
	}
	n := strings.ToLower(s.Name)
	if strings.HasPrefix(n, "hama") || strings.HasPrefix(n, "mudo") {
		return true
	}
	return n == "die for me!" || n == "samsara"
}

// Supported reports whether the resolver can perform the skill.
func (s *Skill) Supported() bool {
	switch s.Variant {
	case VariantStatusModifier, VariantShield:
		return true
	case VariantPlain:
		return s.Type != TypeSupport && s.Type != TypePassive
	}
	return false
}

// Cures reports whether a healing skill also clears ailments.
func (s *Skill) Cures() bool {
	switch strings.ToLower(s.Name) {
	case "patra", "me patra", "amrita":
		return true
	}
	return false
}

// CostFor returns the HP and SP the user pays to perform the skill.
func (s *Skill) CostFor(c *Combatant) (hp, sp int) {
	if s.IsPassive() || s.Cost <= 0 {
		return 0, 0
	}
	if s.UsesSP() {
		return 0, s.Cost
	}
	return int(math.Ceil(float64(c.MaxHP()) * float64(s.Cost) / 100)), 0
}

// hitCount draws the number of hits for a multi-hit skill.
func (s *Skill) hitCount(r Rand) int {
	if s.MaxHits <= s.MinHits {
		return s.MinHits
	}
	return s.MinHits + r.Intn(s.MaxHits-s.MinHits+1)
}
