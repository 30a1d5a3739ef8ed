package battle

import "testing"

func TestChooseMoveFiltersUnusableSkills(t *testing.T) {
	cat := testCatalog(t)
	rng := &fixedRand{}

	c := newFighter(t, cat, "Shadow", even, 10, "Endure", "Trafuri", "Agi", "Cleave")
	if got := ChooseMove(c, cat, rng); got.Name != "Agi" {
		t.Errorf("first usable = %s, want Agi", got.Name)
	}

	c.MarkUnusable("agi")
	if got := ChooseMove(c, cat, rng); got.Name != "Cleave" {
		t.Errorf("after marking Agi = %s, want Cleave", got.Name)
	}

	broke := newFighter(t, cat, "Broke", even, 1, "Agidyne") // 30 sp
	if got := ChooseMove(broke, cat, rng); got != cat.BasicAttack() {
		t.Errorf("unaffordable move chosen: %s", got.Name)
	}
}

func TestChooseMoveUnderAilments(t *testing.T) {
	cat := testCatalog(t)
	rng := &fixedRand{}

	forgetful := newFighter(t, cat, "F", even, 10, "Agi", "Cleave")
	forgetful.Inflict(AilmentForget, rng)
	if got := ChooseMove(forgetful, cat, rng); got.Name != "Cleave" {
		t.Errorf("forget picked %s, want Cleave", got.Name)
	}

	raging := newFighter(t, cat, "R", even, 10, "Agi", "Cleave")
	raging.Inflict(AilmentRage, rng)
	if got := ChooseMove(raging, cat, rng); got != cat.BasicAttack() {
		t.Errorf("rage picked %s, want the basic attack", got.Name)
	}
}

func TestEnemyTargets(t *testing.T) {
	cat := testCatalog(t)
	player := newFighter(t, cat, "P", even, 10)
	actor := newFighter(t, cat, "A", even, 10)
	hurt := newFighter(t, cat, "Hurt", even, 10)
	down := newFighter(t, cat, "Down", even, 10)
	hurt.ApplyHP(20)
	down.ApplyHP(down.MaxHP())
	opps := []*Combatant{actor, hurt, down}

	tests := []struct {
		skill string
		want  []string
	}{
		{"Agi", []string{"P"}},
		{"Maragi", []string{"P"}},
		{"Tarukaja", []string{"A"}},
		{"Dia", []string{"Hurt"}},
		{"Matarukaja", []string{"A", "Hurt"}},
		{"Megido", []string{"P", "Hurt"}},
	}
	for _, tt := range tests {
		got := enemyTargets(actor, player, opps, mustSkill(t, cat, tt.skill))
		if !sameNames(got, tt.want...) {
			t.Errorf("%s targets = %v, want %v", tt.skill, names(got), tt.want)
		}
	}
}

func TestRewardsAndFleeChance(t *testing.T) {
	cat := testCatalog(t)
	opps := []*Combatant{newFighter(t, cat, "A", even, 1), newFighter(t, cat, "B", even, 4)}
	r := CalculateRewards(opps)
	// ceil(1.5) + ceil(24)
	if r.Exp != 26 || r.Credits != 50 {
		t.Errorf("rewards = %+v, want 26 exp 50 credits", r)
	}

	player := newFighter(t, cat, "P", even, 2)
	if got := FleeChance(player, opps); got != 73 {
		t.Errorf("flee chance = %v, want 73", got)
	}
	opps[1].ApplyHP(opps[1].MaxHP())
	if got := FleeChance(player, opps); got != 76 {
		t.Errorf("flee chance without the strongest = %v, want 76", got)
	}
}
