package battle

import "sort"

// TurnOrder is the cyclic rotation of living combatants. The current actor
// stays put until Cycle is called; Decycle makes the next Cycle a no-op so
// the same actor goes again.
type TurnOrder struct {
	order []*Combatant
	pos   int
	hold  bool
}

// NewTurnOrder builds the initial rotation from the ambush disposition.
// Opponents are sorted by descending agility; with no ambush everyone is.
// Ties keep the player ahead.
func NewTurnOrder(player *Combatant, opponents []*Combatant, ambush Ambush) *TurnOrder {
	var opps []*Combatant
	for _, o := range opponents {
		if !o.IsFainted() {
			opps = append(opps, o)
		}
	}
	byAgility := func(list []*Combatant) {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Agility() > list[j].Agility()
		})
	}
	byAgility(opps)

	var order []*Combatant
	switch ambush {
	case AmbushPlayer:
		order = append([]*Combatant{player}, opps...)
	case AmbushEnemy:
		order = append(opps, player)
	default:
		order = append([]*Combatant{player}, opps...)
		byAgility(order)
	}
	return &TurnOrder{order: order}
}

// Active returns the current actor without advancing, or nil when empty.
func (t *TurnOrder) Active() *Combatant {
	if len(t.order) == 0 {
		return nil
	}
	return t.order[t.pos]
}

// Cycle advances to the next actor and returns it. After Decycle, or after
// the current actor was removed, it returns the actor now in place instead.
func (t *TurnOrder) Cycle() *Combatant {
	if len(t.order) == 0 {
		return nil
	}
	if t.hold {
		t.hold = false
		return t.Active()
	}
	t.pos = (t.pos + 1) % len(t.order)
	return t.Active()
}

// Decycle re-grants the current actor's turn.
func (t *TurnOrder) Decycle() {
	t.hold = true
}

// Remove drops a combatant permanently. It reports whether it was present.
func (t *TurnOrder) Remove(c *Combatant) bool {
	i := t.indexOf(c)
	if i < 0 {
		return false
	}
	t.order = append(t.order[:i], t.order[i+1:]...)
	switch {
	case len(t.order) == 0:
		t.pos = 0
		t.hold = false
	case i < t.pos:
		t.pos--
	case i == t.pos:
		// The successor slid into the current slot; it must not be skipped.
		if t.pos >= len(t.order) {
			t.pos = 0
		}
		t.hold = true
	}
	return true
}

func (t *TurnOrder) Contains(c *Combatant) bool { return t.indexOf(c) >= 0 }

func (t *TurnOrder) Len() int { return len(t.order) }

// Order returns the rotation starting from the current actor.
func (t *TurnOrder) Order() []*Combatant {
	out := make([]*Combatant, 0, len(t.order))
	for i := range t.order {
		out = append(out, t.order[(t.pos+i)%len(t.order)])
	}
	return out
}

func (t *TurnOrder) indexOf(c *Combatant) int {
	for i, o := range t.order {
		if o == c {
			return i
		}
	}
	return -1
}
