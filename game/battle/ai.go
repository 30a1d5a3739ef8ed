package battle

// ChooseMove picks an opponent's skill: any affordable, supported, active
// skill not marked unusable, uniformly at random. With nothing usable it
// falls back to the catalog's basic attack.
func ChooseMove(c *Combatant, cat *Catalog, rng Rand) *Skill {
	if c.AilmentType() == AilmentRage {
		return cat.BasicAttack()
	}
	var usable []*Skill
	for _, s := range c.skills {
		if !moveAllowed(c, s) {
			continue
		}
		usable = append(usable, s)
	}
	if len(usable) == 0 {
		return cat.BasicAttack()
	}
	return usable[rng.Intn(len(usable))]
}

func moveAllowed(c *Combatant, s *Skill) bool {
	if s.IsPassive() || !s.Supported() {
		return false
	}
	if c.IsUnusable(s.Name) || !c.CanAfford(s) {
		return false
	}
	if c.AilmentType() == AilmentForget && s.UsesSP() {
		return false
	}
	return true
}

// enemyTargets resolves an opponent's targets for a skill. Single-ally
// skills go to the most wounded living ally.
func enemyTargets(actor, player *Combatant, opponents []*Combatant, skill *Skill) []*Combatant {
	var allies []*Combatant
	for _, o := range opponents {
		if !o.IsFainted() {
			allies = append(allies, o)
		}
	}
	switch skill.Target {
	case TargetSelf:
		return []*Combatant{actor}
	case TargetAlly:
		best := actor
		for _, a := range allies {
			if a.DamageTaken() > best.DamageTaken() {
				best = a
			}
		}
		return []*Combatant{best}
	case TargetAllies:
		return allies
	case TargetAll:
		out := []*Combatant{player}
		for _, a := range allies {
			if a != actor {
				out = append(out, a)
			}
		}
		return out
	}
	return []*Combatant{player}
}
