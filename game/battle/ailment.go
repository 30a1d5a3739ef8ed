package battle

import (
	"fmt"
	"math"
	"strings"
)

// AilmentType tags an inflicted status.
type AilmentType int

const (
	AilmentNone AilmentType = iota
	AilmentBurn
	AilmentFreeze
	AilmentShock
	AilmentSleep
	AilmentDizzy
	AilmentForget
	AilmentConfuse
	AilmentFear
	AilmentDespair
	AilmentRage
)

var ailmentNames = [...]string{
	"", "burn", "freeze", "shock", "sleep", "dizzy",
	"forget", "confuse", "fear", "despair", "rage",
}

func (a AilmentType) String() string {
	if a < 0 || int(a) >= len(ailmentNames) {
		return fmt.Sprintf("Ailment(%d)", int(a))
	}
	return ailmentNames[a]
}

func ParseAilment(s string) (AilmentType, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for i, n := range ailmentNames {
		if i > 0 && n == key {
			return AilmentType(i), nil
		}
	}
	return AilmentNone, fmt.Errorf("%w: %q", ErrUnknownAilment, s)
}

const (
	minAilmentTurns = 2
	maxAilmentTurns = 7
)

// Ailment is a status inflicted on a combatant. It clears itself after a
// random number of the owner's turns, or after the first one for freeze and
// shock.
type Ailment struct {
	Type          AilmentType
	Owner         *Combatant
	ClearAfter    int
	FirstTurnOnly bool

	turns int
}

// NewAilment rolls the clear-after counter in [2, 7].
func NewAilment(t AilmentType, owner *Combatant, r Rand) *Ailment {
	return &Ailment{
		Type:          t,
		Owner:         owner,
		ClearAfter:    minAilmentTurns + r.Intn(maxAilmentTurns-minAilmentTurns+1),
		FirstTurnOnly: t == AilmentFreeze || t == AilmentShock,
	}
}

// AilmentTick reports what an ailment did around its owner's turn.
type AilmentTick struct {
	Type    AilmentType
	Skip    bool // owner loses the turn
	Cleared bool
	HPLoss  int
	SPLoss  int
}

// PreTurn runs before the owner acts. An ailment that has run its course
// removes itself and lets the owner act.
func (a *Ailment) PreTurn(r Rand) AilmentTick {
	a.turns++
	tick := AilmentTick{Type: a.Type}
	if a.turns > a.ClearAfter || (a.FirstTurnOnly && a.turns > 1) {
		a.Owner.ClearAilment()
		tick.Cleared = true
		return tick
	}
	switch a.Type {
	case AilmentFreeze, AilmentShock, AilmentSleep, AilmentDespair:
		tick.Skip = true
	case AilmentConfuse, AilmentFear:
		tick.Skip = r.Float64() < 0.5
	}
	return tick
}

// PostTurn runs after the owner acted.
func (a *Ailment) PostTurn() AilmentTick {
	tick := AilmentTick{Type: a.Type}
	switch a.Type {
	case AilmentBurn:
		tick.HPLoss = a.Owner.ApplyHP(int(math.Ceil(float64(a.Owner.MaxHP()) * 0.06)))
	case AilmentDespair:
		tick.SPLoss = a.Owner.ApplySP(int(math.Ceil(float64(a.Owner.MaxSP()) * 0.05)))
	}
	return tick
}
