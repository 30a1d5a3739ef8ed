package battle

import (
	"fmt"
	"math"
)

// CritLock carries the first hit's critical roll through a multi-hit skill.
type CritLock int

const (
	CritUndetermined CritLock = iota
	CritForced
	CritForbidden
)

// origin tracks why a resolution is running so reflection and counters
// recurse at most once.
type origin int

const (
	originDirect origin = iota
	originReflected
	originCountered
)

const (
	critMultiplier   = 1.75
	weakMultiplier   = 1.5
	resistMultiplier = 0.5
	guardMultiplier  = 0.25
	ampMultiplier    = 1.5
)

// DamageResult is the outcome of one hit, heal or status application.
// Target is the combatant whose state changed; Defender is the one the
// skill was aimed at. They differ when the hit was reflected or countered.
type DamageResult struct {
	Attacker   *Combatant
	Target     *Combatant
	Defender   *Combatant
	Skill      *Skill
	Resistance Resistance
	Damage     int // negative heals

	Critical  bool
	Missed    bool
	Fainted   bool
	Reflected bool
	DidWeak   bool
	Endured   bool
	Countered bool

	Inflicted AilmentType
	Cured     bool
	Effect    *ModifierEffect
	Shield    *ShieldGrant
}

// Resolver computes and applies skill outcomes.
type Resolver struct {
	RNG Rand
	Env Environment
}

func NewResolver(rng Rand, env Environment) *Resolver {
	return &Resolver{RNG: rng, Env: env}
}

// Use performs a skill from attacker against every target and returns one
// result per hit or application. Costs are not paid here.
func (r *Resolver) Use(attacker *Combatant, skill *Skill, targets []*Combatant) ([]DamageResult, error) {
	if !skill.Supported() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSkill, skill.Name)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: %s has no targets", ErrInvalidTarget, skill.Name)
	}
	var out []DamageResult
	for _, t := range targets {
		switch {
		case skill.Variant == VariantStatusModifier:
			out = append(out, r.applyModifier(attacker, t, skill))
		case skill.Variant == VariantShield:
			t.GrantShield(skill.Shield.Type, skill.Shield.Turns)
			out = append(out, DamageResult{Attacker: attacker, Target: t, Defender: t, Skill: skill, Shield: skill.Shield})
		case skill.Type == TypeHealing:
			out = append(out, r.heal(attacker, t, skill))
		case skill.Type == TypeAilment:
			out = append(out, r.inflict(attacker, t, skill))
		default:
			lock := CritUndetermined
			hits := skill.hitCount(r.RNG)
			for i := 0; i < hits; i++ {
				if t.IsFainted() || attacker.IsFainted() {
					break
				}
				out = append(out, r.resolve(attacker, t, skill, originDirect, &lock))
			}
		}
	}
	return out, nil
}

// resolve runs one hit of a damaging skill.
func (r *Resolver) resolve(attacker, target *Combatant, skill *Skill, from origin, lock *CritLock) DamageResult {
	res := DamageResult{Attacker: attacker, Target: target, Defender: target, Skill: skill}

	resist := target.ResistanceTo(skill.Type)
	if from == originDirect && skill.Type != TypeAlmighty {
		if !skill.UsesSP() && target.tetrakarn {
			target.tetrakarn = false
			resist = ResistReflect
		} else if skill.UsesSP() && target.makarakarn {
			target.makarakarn = false
			resist = ResistReflect
		}
	}
	if resist == ResistReflect {
		if from != originDirect {
			resist = ResistImmune
		} else {
			out := r.resolve(attacker, attacker, skill, originReflected, lock)
			out.Defender = target
			out.Reflected = true
			return out
		}
	}
	res.Resistance = resist
	if resist == ResistImmune {
		return res
	}

	if from == originDirect && !skill.UsesSP() {
		if counter := target.counterSkill(); counter != nil {
			chance := float64(counter.Accuracy + attacker.Luck() - target.Luck())
			if percent(r.RNG) < chance {
				out := r.resolve(target, attacker, skill, originCountered, lock)
				out.Defender = target
				out.Countered = true
				return out
			}
		}
	}

	if !r.lands(attacker, target, skill) {
		res.Missed = true
		return res
	}

	if skill.IsInstantKill() {
		if resist == ResistAbsorb {
			return res
		}
		r.dealDamage(target, target.HP(), &res)
		return res
	}

	dmg := r.baseDamage(attacker, target, skill) * r.amplifier(attacker, target, skill)

	guarded := target.guarding
	weak := resist == ResistWeak
	if !skill.UsesSP() && !guarded && !weak {
		crit := false
		switch *lock {
		case CritForced:
			crit = true
		case CritForbidden:
		default:
			crit = percent(r.RNG) < r.critChance(attacker, target)
			if crit {
				*lock = CritForced
			} else {
				*lock = CritForbidden
			}
		}
		if crit {
			dmg *= critMultiplier
			res.Critical = true
			res.DidWeak = true
		}
	}

	switch resist {
	case ResistWeak:
		if !guarded {
			dmg *= weakMultiplier
			res.DidWeak = true
		}
	case ResistResist:
		dmg *= resistMultiplier
	}
	if guarded && resist != ResistAbsorb {
		if skill.Type != TypeAlmighty {
			dmg *= guardMultiplier
		}
		target.guarding = false
	}

	amount := ceilInt(dmg * skill.Power)
	if amount < 1 {
		amount = 1
	}
	if resist == ResistAbsorb {
		heal := ceilInt(float64(amount) / 2)
		res.Damage = target.ApplyHP(-heal)
		return res
	}
	r.dealDamage(target, amount, &res)
	return res
}

// dealDamage applies Endure / Enduring Soul and the HP change.
func (r *Resolver) dealDamage(target *Combatant, amount int, res *DamageResult) {
	if amount >= target.HP() && !target.endured {
		switch {
		case target.hasPassive("Enduring Soul"):
			target.endured = true
			res.Endured = true
			res.Damage = -target.damageTaken
			target.damageTaken = 0
			return
		case target.hasPassive("Endure"):
			target.endured = true
			res.Endured = true
			amount = target.HP() - 1
		}
	}
	res.Damage = target.ApplyHP(amount)
	if target.AilmentType() == AilmentSleep && res.Damage > 0 {
		target.ClearAilment()
	}
	res.Fainted = target.IsFainted()
}

// baseDamage is the canonical formula before amplifiers and resistance.
func (r *Resolver) baseDamage(attacker, target *Combatant, skill *Skill) float64 {
	atk := attacker.Strength()
	if skill.UsesSP() {
		atk = attacker.Magic()
	}
	end := target.Endurance()
	if end < 1 {
		end = 1
	}
	variance := 0.95 + r.RNG.Float64()*0.1
	dmg := 5*math.Sqrt(float64(atk)/float64(end)*65)*variance*
		attacker.AffectedBy(SlotAttack)/target.AffectedBy(SlotDefense) +
		float64(attacker.Level()-target.Level())

	dmg *= r.Env.multiplierFor(skill.Type)
	if skill.Type == TypeWind {
		dmg += r.Env.WindSpeed
	}
	if !skill.UsesSP() && attacker.charging {
		attacker.charging = false
		dmg *= 2
	} else if skill.UsesSP() && attacker.concentrating {
		attacker.concentrating = false
		dmg *= 2
	}
	if dmg < 1 {
		dmg = 1
	}
	return dmg
}

// amplifier applies the named boost passives.
func (r *Resolver) amplifier(attacker, target *Combatant, skill *Skill) float64 {
	m := 1.0
	if skill.UsesSP() && attacker.hasPassive(titleType(skill.Type)+" Amp") {
		m *= ampMultiplier
	}
	if skill.Type == TypeGun && attacker.hasPassive("Snipe") {
		m *= ampMultiplier
	}
	if skill.Type == TypePhysical && target.ailment != nil && attacker.hasPassive("Cripple") {
		m *= ampMultiplier
	}
	return m
}

// critChance is the percentage chance of a critical hit.
func (r *Resolver) critChance(attacker, target *Combatant) float64 {
	chance := 4*attacker.exCrit/attacker.AffectedBy(SlotAgility) +
		(float64(target.Luck())-float64(attacker.Luck())/2)/10
	if attacker.rebellion.active() {
		chance *= 2
	}
	if attacker.hasPassive("Apt Pupil") {
		chance *= 3
	}
	if target.hasPassive("Sharp Student") {
		chance /= 3
	}
	return math.Max(0, math.Min(100, chance))
}

// evasion is the percentage the uniform draw must reach for the hit to land.
func (r *Resolver) evasion(attacker, target *Combatant, skill *Skill) float64 {
	evade := float64(100-skill.Accuracy) + float64(target.Agility()-attacker.Agility())/4
	if evade < 0 {
		evade = 0
	}
	evade *= target.AffectedBy(SlotAgility) / attacker.AffectedBy(SlotAgility)
	evade *= target.exEvade
	evade += target.evasionBonus(skill.Type)
	if target.AilmentType() == AilmentDizzy {
		evade /= 4
	}

	land := 100 - evade
	if skill.IsInstantKill() {
		if (skill.Type == TypeBless && attacker.hasPassive("Hama Boost")) ||
			(skill.Type == TypeCurse && attacker.hasPassive("Mudo Boost")) {
			land *= ampMultiplier
		}
	}
	if skill.Type == TypeAilment && target.susceptible.active() {
		land *= 2
	}
	if skill.UsesSP() && skill.Type != TypeAlmighty && target.hasPassive("Angelic Grace") {
		land /= 2
	}
	if target.hasPassive("Ali Dance") {
		land /= 2
	}
	if r.Env.rainy() && target.hasPassive("Rainy Play") {
		land *= 0.75
	}
	return math.Max(0, math.Min(100, 100-land))
}

func (r *Resolver) lands(attacker, target *Combatant, skill *Skill) bool {
	if attacker == target {
		return true
	}
	return percent(r.RNG) >= r.evasion(attacker, target, skill)
}

// ---------------------------------------------------------------------------
//  Non-damaging skills
// ---------------------------------------------------------------------------

// HealAmount is ceil(severity * (20 + magic*1.5 + level)).
func HealAmount(healer *Combatant, skill *Skill) int {
	return ceilInt(skill.Power * (20 + float64(healer.Magic())*1.5 + float64(healer.Level())))
}

func (r *Resolver) heal(healer, target *Combatant, skill *Skill) DamageResult {
	res := DamageResult{Attacker: healer, Target: target, Defender: target, Skill: skill}
	if target.IsFainted() {
		res.Missed = true
		return res
	}
	res.Damage = target.ApplyHP(-HealAmount(healer, skill))
	if skill.Cures() && target.ailment != nil {
		target.ClearAilment()
		res.Cured = true
	}
	return res
}

func (r *Resolver) inflict(attacker, target *Combatant, skill *Skill) DamageResult {
	res := DamageResult{Attacker: attacker, Target: target, Defender: target, Skill: skill}
	res.Resistance = target.ResistanceTo(TypeAilment)
	if res.Resistance.nullifies() {
		res.Resistance = ResistImmune
		return res
	}
	if target.ailment != nil || !r.lands(attacker, target, skill) {
		res.Missed = true
		return res
	}
	if target.Inflict(skill.Ailment, r.RNG) {
		res.Inflicted = skill.Ailment
	}
	return res
}

func (r *Resolver) applyModifier(user, target *Combatant, skill *Skill) DamageResult {
	m := skill.Modifier
	res := DamageResult{Attacker: user, Target: target, Defender: target, Skill: skill, Effect: m}
	switch m.Kind {
	case EffectStat:
		for _, slot := range m.Slots {
			target.ApplyModifier(slot, m.Delta)
		}
	case EffectCancelBuffs:
		target.mods.CancelBuffs()
	case EffectCancelDebuffs:
		target.mods.CancelDebuffs()
	case EffectCharge:
		target.charging = true
	case EffectConcentrate:
		target.concentrating = true
	case EffectTetrakarn:
		target.tetrakarn = true
	case EffectMakarakarn:
		target.makarakarn = true
	case EffectRebellion:
		target.rebellion = countdown(timerTurns)
	case EffectSusceptibility:
		target.susceptible = countdown(timerTurns)
	case EffectGuard:
		target.guarding = true
	}
	return res
}

// titleType capitalizes a type name for passive lookups like "Fire Amp".
func titleType(t SkillType) string {
	n := t.String()
	if n == "" {
		return n
	}
	return string(n[0]-'a'+'A') + n[1:]
}
