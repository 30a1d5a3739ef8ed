package battle

import (
	"errors"
	"math"
	"testing"
)

// seqRand replays Float64 draws in order, then repeats the last one.
type seqRand struct {
	vals []float64
	i    int
}

func (r *seqRand) Float64() float64 {
	v := r.vals[r.i]
	if r.i < len(r.vals)-1 {
		r.i++
	}
	return v
}

func (r *seqRand) Intn(int) int { return 0 }

func useOne(t *testing.T, r *Resolver, a *Combatant, s *Skill, target *Combatant) DamageResult {
	t.Helper()
	res, err := r.Use(a, s, []*Combatant{target})
	if err != nil {
		t.Fatalf("Use(%s): %v", s.Name, err)
	}
	if len(res) != 1 {
		t.Fatalf("Use(%s) returned %d results, want 1", s.Name, len(res))
	}
	return res[0]
}

func TestNeutralHitDamage(t *testing.T) {
	cat := testCatalog(t)
	a := newFighter(t, cat, "A", even, 40)
	d := newFighter(t, cat, "D", even, 40)
	r := NewResolver(&fixedRand{f: 0.5}, Environment{})

	res := useOne(t, r, a, mustSkill(t, cat, "Attack"), d)
	if res.Damage != 41 {
		t.Errorf("damage = %d, want 41", res.Damage)
	}
	if res.Critical || res.Missed || res.DidWeak || res.Resistance != ResistNormal {
		t.Errorf("unexpected flags: %+v", res)
	}
	if d.DamageTaken() != 41 {
		t.Errorf("target damage_taken = %d, want 41", d.DamageTaken())
	}
}

func TestResistanceScaling(t *testing.T) {
	cat := testCatalog(t)
	tests := []struct {
		name    string
		resist  Resistance
		damage  int
		didWeak bool
	}{
		{"weak", ResistWeak, 61, true},
		{"resist", ResistResist, 21, false},
		{"normal", ResistNormal, 41, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newFighter(t, cat, "A", even, 40)
			d := newFighter(t, cat, "D", even, 40)
			d.SetResistance(TypeFire, tt.resist)
			r := NewResolver(&fixedRand{f: 0.5}, Environment{})
			res := useOne(t, r, a, mustSkill(t, cat, "Agi"), d)
			if res.Damage != tt.damage || res.DidWeak != tt.didWeak {
				t.Errorf("damage=%d weak=%v, want %d %v", res.Damage, res.DidWeak, tt.damage, tt.didWeak)
			}
		})
	}
}

func TestReflectTurnsHitOnAttacker(t *testing.T) {
	cat := testCatalog(t)
	a := newFighter(t, cat, "A", even, 40)
	d := newFighter(t, cat, "D", even, 40, "Repel Fire")
	r := NewResolver(&fixedRand{f: 0.5}, Environment{})

	res := useOne(t, r, a, mustSkill(t, cat, "Agi"), d)
	if !res.Reflected {
		t.Fatal("hit was not reflected")
	}
	if res.Target != a || res.Defender != d {
		t.Error("reflected hit should land on the attacker")
	}
	if a.DamageTaken() != 41 || d.DamageTaken() != 0 {
		t.Errorf("attacker took %d, defender took %d; want 41 and 0", a.DamageTaken(), d.DamageTaken())
	}
}

func TestReflectedReflectResolvesAsImmune(t *testing.T) {
	cat := testCatalog(t)
	a := newFighter(t, cat, "A", even, 40, "Repel Fire")
	d := newFighter(t, cat, "D", even, 40, "Repel Fire")
	r := NewResolver(&fixedRand{f: 0.5}, Environment{})

	res := useOne(t, r, a, mustSkill(t, cat, "Agi"), d)
	if !res.Reflected || res.Resistance != ResistImmune || res.Damage != 0 {
		t.Errorf("got %+v, want reflected immune with no damage", res)
	}
	if a.DamageTaken() != 0 || d.DamageTaken() != 0 {
		t.Error("someone took damage from a doubly reflected hit")
	}
}

func TestAbsorbHealsTarget(t *testing.T) {
	cat := testCatalog(t)
	a := newFighter(t, cat, "A", even, 40)
	d := newFighter(t, cat, "D", even, 40, "Drain Ice")
	d.ApplyHP(30)
	hpBefore := d.HP()
	r := NewResolver(&fixedRand{f: 0.5}, Environment{})

	res := useOne(t, r, a, mustSkill(t, cat, "Bufu"), d)
	if res.Resistance != ResistAbsorb {
		t.Fatalf("resistance = %s, want absorb", res.Resistance)
	}
	if res.Damage > 0 {
		t.Errorf("absorb dealt %d, want non-positive", res.Damage)
	}
	if res.Damage != -21 {
		t.Errorf("absorb healed %d, want 21", -res.Damage)
	}
	if d.HP() < hpBefore {
		t.Error("absorbing target lost hp")
	}
}

func TestImmuneShortCircuits(t *testing.T) {
	cat := testCatalog(t)
	a := newFighter(t, cat, "A", even, 40)
	d := newFighter(t, cat, "D", even, 40)
	d.SetResistance(TypeFire, ResistImmune)
	r := NewResolver(&fixedRand{f: 0.5}, Environment{})

	res := useOne(t, r, a, mustSkill(t, cat, "Agi"), d)
	if res.Resistance != ResistImmune || res.Damage != 0 || d.DamageTaken() != 0 {
		t.Errorf("got %+v, want immune with no damage", res)
	}
}

func TestEndureSurvivesOnce(t *testing.T) {
	cat := testCatalog(t)
	a := newFighter(t, cat, "A", even, 1)
	d := newFighter(t, cat, "D", even, 1, "Endure") // max hp 41
	r := NewResolver(&fixedRand{f: 0.5}, Environment{})
	attack := mustSkill(t, cat, "Attack")

	res := useOne(t, r, a, attack, d)
	if d.HP() != 1 || !d.Endured() || !res.Endured || res.Fainted {
		t.Fatalf("after fatal hit: hp=%d endured=%v result=%+v", d.HP(), d.Endured(), res)
	}
	res = useOne(t, r, a, attack, d)
	if !res.Fainted || d.HP() != 0 || res.Endured {
		t.Errorf("second fatal hit: hp=%d result=%+v, want fainted", d.HP(), res)
	}
}

func TestEnduringSoulRestoresFully(t *testing.T) {
	cat := testCatalog(t)
	a := newFighter(t, cat, "A", even, 1)
	d := newFighter(t, cat, "D", even, 1, "Enduring Soul")
	d.ApplyHP(20)
	r := NewResolver(&fixedRand{f: 0.5}, Environment{})

	res := useOne(t, r, a, mustSkill(t, cat, "Attack"), d)
	if !res.Endured || d.DamageTaken() != 0 || d.IsFainted() {
		t.Errorf("enduring soul: damage_taken=%d result=%+v", d.DamageTaken(), res)
	}
	// The result reports the HP actually restored, not the blocked hit.
	if res.Damage != -20 {
		t.Errorf("enduring soul damage = %d, want -20", res.Damage)
	}
}

func TestCounterSwapsRoles(t *testing.T) {
	cat := testCatalog(t)
	a := newFighter(t, cat, "A", even, 40)
	d := newFighter(t, cat, "D", even, 40, "Counter")
	r := NewResolver(&fixedRand{f: 0.5}, Environment{})

	res := useOne(t, r, a, mustSkill(t, cat, "Attack"), d)
	if !res.Countered || res.Target != a || res.Attacker != d {
		t.Fatalf("got %+v, want countered hit on the attacker", res)
	}
	if a.DamageTaken() != 41 || d.DamageTaken() != 0 {
		t.Errorf("attacker took %d, defender took %d", a.DamageTaken(), d.DamageTaken())
	}
}

func TestCounterIgnoresSPSkills(t *testing.T) {
	cat := testCatalog(t)
	a := newFighter(t, cat, "A", even, 40)
	d := newFighter(t, cat, "D", even, 40, "Counter")
	r := NewResolver(&fixedRand{f: 0.5}, Environment{})

	res := useOne(t, r, a, mustSkill(t, cat, "Agi"), d)
	if res.Countered || d.DamageTaken() != 41 {
		t.Errorf("magic was countered: %+v", res)
	}
}

func TestGuardQuartersDamageAndIsConsumed(t *testing.T) {
	cat := testCatalog(t)
	a := newFighter(t, cat, "A", even, 40)
	d := newFighter(t, cat, "D", even, 40)
	d.SetGuarding(true)
	r := NewResolver(&fixedRand{f: 0.5}, Environment{})
	attack := mustSkill(t, cat, "Attack")

	if res := useOne(t, r, a, attack, d); res.Damage != 11 {
		t.Errorf("guarded damage = %d, want 11", res.Damage)
	}
	if d.Guarding() {
		t.Error("guard not consumed")
	}
	if res := useOne(t, r, a, attack, d); res.Damage != 41 {
		t.Errorf("unguarded damage = %d, want 41", res.Damage)
	}
}

func TestGuardSuppressesWeakness(t *testing.T) {
	cat := testCatalog(t)
	a := newFighter(t, cat, "A", even, 40)
	d := newFighter(t, cat, "D", even, 40)
	d.SetResistance(TypePhysical, ResistWeak)
	d.SetGuarding(true)
	r := NewResolver(&fixedRand{f: 0.0}, Environment{})

	res := useOne(t, r, a, mustSkill(t, cat, "Attack"), d)
	if res.DidWeak || res.Critical {
		t.Errorf("guarded weak hit granted did_weak: %+v", res)
	}
}

func TestFirstHitLocksCritical(t *testing.T) {
	cat := testCatalog(t)
	fangs := mustSkill(t, cat, "Double Fangs")

	forced := &seqRand{vals: []float64{0.0, 0.5, 0.0, 0.0, 0.5, 0.99}}
	a := newFighter(t, cat, "A", even, 40)
	d := newFighter(t, cat, "D", even, 40)
	res, err := NewResolver(forced, Environment{}).Use(a, fangs, []*Combatant{d})
	if err != nil || len(res) != 2 {
		t.Fatalf("Use: %v, %d results", err, len(res))
	}
	if !res[0].Critical || !res[1].Critical {
		t.Errorf("crits = %v %v, want both", res[0].Critical, res[1].Critical)
	}
	if !res[0].DidWeak {
		t.Error("critical hit did not set did_weak")
	}

	forbidden := &seqRand{vals: []float64{0.0, 0.5, 0.99, 0.0, 0.5, 0.0}}
	d2 := newFighter(t, cat, "D2", even, 40)
	res, err = NewResolver(forbidden, Environment{}).Use(a, fangs, []*Combatant{d2})
	if err != nil || len(res) != 2 {
		t.Fatalf("Use: %v, %d results", err, len(res))
	}
	if res[0].Critical || res[1].Critical {
		t.Errorf("crits = %v %v, want neither", res[0].Critical, res[1].Critical)
	}
}

func TestEvasion(t *testing.T) {
	cat := testCatalog(t)
	a := newFighter(t, cat, "A", even, 40)
	d := newFighter(t, cat, "D", even, 40)

	swing := mustSkill(t, cat, "Wild Swing") // 50 accuracy
	if res := useOne(t, NewResolver(&fixedRand{f: 0.2}, Environment{}), a, swing, d); !res.Missed {
		t.Error("roll 20 vs evasion 50 should miss")
	}
	if res := useOne(t, NewResolver(&fixedRand{f: 0.6}, Environment{}), a, swing, d); res.Missed {
		t.Error("roll 60 vs evasion 50 should land")
	}

	dodger := newFighter(t, cat, "Dodger", even, 40, "Dodge Phys")
	if res := useOne(t, NewResolver(&fixedRand{f: 0.05}, Environment{}), a, mustSkill(t, cat, "Attack"), dodger); !res.Missed {
		t.Error("Dodge Phys should add 10 evasion")
	}
}

func TestDizzyQuartersEvasion(t *testing.T) {
	cat := testCatalog(t)
	a := newFighter(t, cat, "A", even, 40)
	d := newFighter(t, cat, "D", even, 40)
	d.Inflict(AilmentDizzy, &fixedRand{n: 5})
	// evasion 50 / 4 = 12.5
	if res := useOne(t, NewResolver(&fixedRand{f: 0.2}, Environment{}), a, mustSkill(t, cat, "Wild Swing"), d); res.Missed {
		t.Error("dizzy target should not evade a roll of 20")
	}
}

func TestInstantKill(t *testing.T) {
	cat := testCatalog(t)
	a := newFighter(t, cat, "A", even, 40)
	d := newFighter(t, cat, "D", even, 40)
	r := NewResolver(&fixedRand{f: 0.5}, Environment{})
	mudo := mustSkill(t, cat, "Mudo")

	res := useOne(t, r, a, mudo, d)
	if !res.Fainted || d.HP() != 0 || res.Damage != d.MaxHP() {
		t.Errorf("mudo: %+v", res)
	}

	immune := newFighter(t, cat, "Warded", even, 40)
	immune.SetResistance(TypeCurse, ResistImmune)
	if res := useOne(t, r, a, mudo, immune); res.Resistance != ResistImmune || immune.IsFainted() {
		t.Errorf("mudo vs immune: %+v", res)
	}
}

func TestHealingIsNegativeAndPatraCures(t *testing.T) {
	cat := testCatalog(t)
	healer := newFighter(t, cat, "Healer", even, 40)
	ally := newFighter(t, cat, "Ally", even, 40)
	ally.ApplyHP(100)
	ally.Inflict(AilmentBurn, &fixedRand{})
	r := NewResolver(&fixedRand{f: 0.5}, Environment{})

	// 20 + 16*1.5 + 40 = 84
	res := useOne(t, r, healer, mustSkill(t, cat, "Dia"), ally)
	if res.Damage != -84 || res.Cured {
		t.Errorf("dia: damage=%d cured=%v, want -84 false", res.Damage, res.Cured)
	}
	if ally.AilmentType() != AilmentBurn {
		t.Error("dia cleared an ailment")
	}
	res = useOne(t, r, healer, mustSkill(t, cat, "Patra"), ally)
	if res.Damage != -16 || !res.Cured || ally.Ailment() != nil {
		t.Errorf("patra: damage=%d cured=%v ailment=%v", res.Damage, res.Cured, ally.AilmentType())
	}
}

func TestAilmentSkillInflictsAndHitWakes(t *testing.T) {
	cat := testCatalog(t)
	a := newFighter(t, cat, "A", even, 40)
	d := newFighter(t, cat, "D", even, 40)
	r := NewResolver(&fixedRand{f: 0.5, n: 3}, Environment{})

	res := useOne(t, r, a, mustSkill(t, cat, "Dormina"), d)
	if res.Inflicted != AilmentSleep || d.AilmentType() != AilmentSleep {
		t.Fatalf("dormina: %+v", res)
	}
	if ca := d.Ailment().ClearAfter; ca < 2 || ca > 7 {
		t.Errorf("clear after = %d, want within [2,7]", ca)
	}
	if res := useOne(t, r, a, mustSkill(t, cat, "Dormina"), d); !res.Missed {
		t.Error("second ailment landed on an afflicted target")
	}
	useOne(t, r, a, mustSkill(t, cat, "Attack"), d)
	if d.Ailment() != nil {
		t.Error("damage did not wake the sleeping target")
	}
}

func TestStatusModifierSkills(t *testing.T) {
	cat := testCatalog(t)
	a := newFighter(t, cat, "A", even, 40)
	d := newFighter(t, cat, "D", even, 40)
	r := NewResolver(&fixedRand{f: 0.5}, Environment{})

	useOne(t, r, a, mustSkill(t, cat, "Tarukaja"), a)
	if a.Modifiers().Level(SlotAttack) != 1 {
		t.Error("tarukaja did not raise attack")
	}
	useOne(t, r, a, mustSkill(t, cat, "Matarukaja"), a)
	if a.Modifiers().Level(SlotAttack) != 2 {
		t.Error("matarukaja did not stack")
	}
	res := useOne(t, r, a, mustSkill(t, cat, "Rakunda"), d)
	if d.Modifiers().Level(SlotDefense) != -1 || res.Effect == nil || res.Effect.Kind != EffectStat {
		t.Errorf("rakunda: %+v", res)
	}
	useOne(t, r, d, mustSkill(t, cat, "Dekaja"), a)
	if a.Modifiers().Level(SlotAttack) != 0 {
		t.Error("dekaja left a buff")
	}
}

func TestShieldSkill(t *testing.T) {
	cat := testCatalog(t)
	a := newFighter(t, cat, "A", even, 40)
	r := NewResolver(&fixedRand{f: 0.5}, Environment{})

	res := useOne(t, r, a, mustSkill(t, cat, "Fire Shield"), a)
	if res.Shield == nil || a.ShieldTurns(TypeFire) != 3 || a.ResistanceTo(TypeFire) != ResistImmune {
		t.Errorf("fire shield: %+v turns=%d", res, a.ShieldTurns(TypeFire))
	}
}

func TestChargeDoublesNextPhysicalHit(t *testing.T) {
	cat := testCatalog(t)
	a := newFighter(t, cat, "A", even, 40)
	d := newFighter(t, cat, "D", even, 40)
	r := NewResolver(&fixedRand{f: 0.5}, Environment{})

	useOne(t, r, a, mustSkill(t, cat, "Charge"), a)
	if res := useOne(t, r, a, mustSkill(t, cat, "Attack"), d); res.Damage != 81 {
		t.Errorf("charged damage = %d, want 81", res.Damage)
	}
	if a.Charging() {
		t.Error("charge not consumed")
	}
}

func TestTetrakarnReflectsOnce(t *testing.T) {
	cat := testCatalog(t)
	a := newFighter(t, cat, "A", even, 40)
	d := newFighter(t, cat, "D", even, 40)
	d.tetrakarn = true
	r := NewResolver(&fixedRand{f: 0.5}, Environment{})
	attack := mustSkill(t, cat, "Attack")

	if res := useOne(t, r, a, attack, d); !res.Reflected {
		t.Error("tetrakarn did not reflect")
	}
	if res := useOne(t, r, a, attack, d); res.Reflected {
		t.Error("tetrakarn reflected twice")
	}
}

func TestWeatherBoostsMatchingElement(t *testing.T) {
	cat := testCatalog(t)
	tests := []struct {
		name   string
		env    Environment
		skill  string
		damage int
	}{
		{"heatwave", Environment{Weather: WeatherHeatwave}, "Agi", 81},
		{"severe heatwave", Environment{Weather: WeatherHeatwave, Severe: true}, "Agi", 121},
		{"heatwave ice", Environment{Weather: WeatherHeatwave}, "Bufu", 41},
		{"wind speed", Environment{WindSpeed: 5}, "Garu", 46},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newFighter(t, cat, "A", even, 40)
			d := newFighter(t, cat, "D", even, 40)
			res := useOne(t, NewResolver(&fixedRand{f: 0.5}, tt.env), a, mustSkill(t, cat, tt.skill), d)
			if res.Damage != tt.damage {
				t.Errorf("damage = %d, want %d", res.Damage, tt.damage)
			}
		})
	}
}

func TestUnsupportedSkills(t *testing.T) {
	cat := testCatalog(t)
	a := newFighter(t, cat, "A", even, 40)
	r := NewResolver(&fixedRand{f: 0.5}, Environment{})
	for _, name := range []string{"Trafuri", "Endure", "Counter", "Null Fire"} {
		if _, err := r.Use(a, mustSkill(t, cat, name), []*Combatant{a}); !errors.Is(err, ErrUnsupportedSkill) {
			t.Errorf("%s: err = %v, want ErrUnsupportedSkill", name, err)
		}
	}
}

func TestCritChanceModifiers(t *testing.T) {
	cat := testCatalog(t)
	r := NewResolver(&fixedRand{f: 0.5}, Environment{})
	// Base between two even fighters: 4 + (10 - 10/2)/10 = 4.5.
	tests := []struct {
		name     string
		attacker []string
		target   []string
		setup    func(a *Combatant)
		want     float64
	}{
		{"base", nil, nil, nil, 4.5},
		{"rebellion", nil, nil, func(a *Combatant) { a.rebellion = timerTurns }, 9},
		{"apt pupil", []string{"Apt Pupil"}, nil, nil, 13.5},
		{"sharp student", nil, []string{"Sharp Student"}, nil, 1.5},
		{"adverse resolve bonus", nil, nil, func(a *Combatant) { a.exCrit = 2 }, 8.5},
		{"rebellion and apt pupil", []string{"Apt Pupil"}, nil, func(a *Combatant) { a.rebellion = timerTurns }, 27},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newFighter(t, cat, "A", even, 10, tt.attacker...)
			d := newFighter(t, cat, "D", even, 10, tt.target...)
			if tt.setup != nil {
				tt.setup(a)
			}
			if got := r.critChance(a, d); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("crit chance = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvasionModifiers(t *testing.T) {
	cat := testCatalog(t)
	tests := []struct {
		name    string
		skill   string
		passive string
		env     Environment
		setup   func(d *Combatant)
		want    float64
	}{
		{"plain attack", "Attack", "", Environment{}, nil, 0},
		{"angelic grace vs magic", "Agi", "Angelic Grace", Environment{}, nil, 50},
		{"angelic grace vs physical", "Attack", "Angelic Grace", Environment{}, nil, 0},
		{"angelic grace vs almighty", "Megido", "Angelic Grace", Environment{}, nil, 0},
		{"ali dance", "Attack", "Ali Dance", Environment{}, nil, 50},
		{"rainy play in rain", "Attack", "Rainy Play", Environment{Weather: WeatherRain}, nil, 25},
		{"rainy play in thunderstorm", "Attack", "Rainy Play", Environment{Weather: WeatherThunderstorm}, nil, 25},
		{"rainy play when clear", "Attack", "Rainy Play", Environment{}, nil, 0},
		{"ailment", "Pulinpa", "", Environment{}, nil, 60},
		{"ailment vs susceptible", "Pulinpa", "", Environment{}, func(d *Combatant) { d.susceptible = timerTurns }, 20},
		{"dodge phys", "Attack", "Dodge Phys", Environment{}, nil, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var passives []string
			if tt.passive != "" {
				passives = append(passives, tt.passive)
			}
			a := newFighter(t, cat, "A", even, 10)
			d := newFighter(t, cat, "D", even, 10, passives...)
			if tt.setup != nil {
				tt.setup(d)
			}
			r := NewResolver(&fixedRand{f: 0.5}, tt.env)
			if got := r.evasion(a, d, mustSkill(t, cat, tt.skill)); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("evasion = %v, want %v", got, tt.want)
			}
		})
	}
}
