package battle

import "math"

// Rewards is what the player earns from a victory.
type Rewards struct {
	Exp     int
	Credits int
}

// CalculateRewards sums ceil(level^2 * 1.5) experience and level*10 credits
// over the defeated opponents.
func CalculateRewards(opponents []*Combatant) Rewards {
	var r Rewards
	for _, o := range opponents {
		lv := float64(o.Level())
		r.Exp += int(math.Ceil(lv * lv * 1.5))
		r.Credits += o.Level() * 10
	}
	return r
}

// FleeChance is 75 minus the level gap to the strongest opponent, as a
// percentage.
func FleeChance(player *Combatant, opponents []*Combatant) float64 {
	maxLv := 0
	for _, o := range opponents {
		if !o.IsFainted() && o.Level() > maxLv {
			maxLv = o.Level()
		}
	}
	return 75 - float64(maxLv-player.Level())
}
