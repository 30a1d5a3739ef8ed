package battle

const (
	maxModLevel     = 2
	defaultModTurns = 3
	timerTurns      = 3 // rebellion, susceptibility and shields
)

// StatModifiers is the Taru/Raku/Suku buff vector. Each slot holds a level in
// [-2, 2] and its own countdown of owner turns until it returns to neutral.
type StatModifiers struct {
	levels [numStatSlots]int
	turns  [numStatSlots]int
}

// Level returns the current stacked level of a slot.
func (m *StatModifiers) Level(slot StatSlot) int {
	if slot < 0 || slot >= numStatSlots {
		return 0
	}
	return m.levels[slot]
}

// Turns returns the remaining decay countdown of a slot.
func (m *StatModifiers) Turns(slot StatSlot) int {
	if slot < 0 || slot >= numStatSlots {
		return 0
	}
	return m.turns[slot]
}

// Multiplier is 1 + 0.25 per stacked level.
func (m *StatModifiers) Multiplier(slot StatSlot) float64 {
	return 1.0 + float64(m.Level(slot))*0.25
}

// Apply stacks delta onto a slot, clamps it, and restarts the countdown.
// A slot brought back to neutral has no countdown.
func (m *StatModifiers) Apply(slot StatSlot, delta, turns int) {
	if slot < 0 || slot >= numStatSlots {
		return
	}
	lv := m.levels[slot] + delta
	if lv > maxModLevel {
		lv = maxModLevel
	}
	if lv < -maxModLevel {
		lv = -maxModLevel
	}
	m.levels[slot] = lv
	if lv == 0 {
		m.turns[slot] = 0
		return
	}
	m.turns[slot] = turns
}

// CancelBuffs resets every positive slot and returns the slots it touched.
func (m *StatModifiers) CancelBuffs() []StatSlot {
	return m.cancel(func(lv int) bool { return lv > 0 })
}

// CancelDebuffs resets every negative slot and returns the slots it touched.
func (m *StatModifiers) CancelDebuffs() []StatSlot {
	return m.cancel(func(lv int) bool { return lv < 0 })
}

func (m *StatModifiers) cancel(match func(int) bool) []StatSlot {
	var out []StatSlot
	for i := range m.levels {
		if match(m.levels[i]) {
			m.levels[i] = 0
			m.turns[i] = 0
			out = append(out, StatSlot(i))
		}
	}
	return out
}

// Reset returns every slot to neutral.
func (m *StatModifiers) Reset() {
	m.levels = [numStatSlots]int{}
	m.turns = [numStatSlots]int{}
}

// Tick decrements the countdown of every active slot and returns the slots
// that expired and were reset.
func (m *StatModifiers) Tick() []StatSlot {
	var expired []StatSlot
	for i := range m.levels {
		if m.levels[i] == 0 {
			continue
		}
		m.turns[i]--
		if m.turns[i] <= 0 {
			m.levels[i] = 0
			m.turns[i] = 0
			expired = append(expired, StatSlot(i))
		}
	}
	return expired
}

// countdown is a turn timer; zero means inactive.
type countdown int

func (c countdown) active() bool { return c > 0 }

// tick decrements an active timer and reports whether it just ran out.
func (c *countdown) tick() bool {
	if *c <= 0 {
		return false
	}
	*c--
	return *c == 0
}
