package battle

import "context"

// BattleEvent is a semantic narration event. The transport decides how to
// render it.
type BattleEvent interface {
	EventType() string
}

// Narrator is the output collaborator.
type Narrator interface {
	Narrate(ctx context.Context, evt BattleEvent)
}

// NarratorFunc adapts a function to Narrator.
type NarratorFunc func(ctx context.Context, evt BattleEvent)

func (f NarratorFunc) Narrate(ctx context.Context, evt BattleEvent) { f(ctx, evt) }

// CombatantRef identifies a combatant in event payloads.
type CombatantRef struct {
	Index    int    `json:"index"`
	IsPlayer bool   `json:"is_player"`
	Name     string `json:"name"`
}

// CombatantSnapshot is a full view of a combatant's battle state.
type CombatantSnapshot struct {
	CombatantRef
	Level   int    `json:"level"`
	HP      int    `json:"hp"`
	MaxHP   int    `json:"max_hp"`
	SP      int    `json:"sp"`
	MaxSP   int    `json:"max_sp"`
	Ailment string `json:"ailment,omitempty"`
	Mods    [3]int `json:"mods"`
	Arcana  string `json:"arcana,omitempty"`
}

func (c *Combatant) Ref() CombatantRef {
	return CombatantRef{Index: c.index, IsPlayer: c.player, Name: c.Name}
}

func (c *Combatant) Snapshot() CombatantSnapshot {
	s := CombatantSnapshot{
		CombatantRef: c.Ref(),
		Level:        c.Level(),
		HP:           c.HP(),
		MaxHP:        c.MaxHP(),
		SP:           c.SP(),
		MaxSP:        c.MaxSP(),
		Ailment:      c.AilmentType().String(),
		Arcana:       c.Arcana,
	}
	for i := range s.Mods {
		s.Mods[i] = c.mods.Level(StatSlot(i))
	}
	return s
}

// --- Concrete event types ---

type EventBattleStart struct {
	BattleID  string              `json:"battle_id"`
	Player    CombatantSnapshot   `json:"player"`
	Opponents []CombatantSnapshot `json:"opponents"`
	Weather   string              `json:"weather"`
}

func (EventBattleStart) EventType() string { return "battle_start" }

type EventInitiative struct {
	Ambush  string         `json:"ambush"`
	Order   []CombatantRef `json:"order"`
	Bonuses []string       `json:"bonuses,omitempty"` // ambush passives that fired
}

func (EventInitiative) EventType() string { return "initiative" }

type EventTurnStart struct {
	Turn  int          `json:"turn"`
	Actor CombatantRef `json:"actor"`
}

func (EventTurnStart) EventType() string { return "turn_start" }

// SkillOption is one entry of the player's move menu.
type SkillOption struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Target string `json:"target"`
	HPCost int    `json:"hp_cost,omitempty"`
	SPCost int    `json:"sp_cost,omitempty"`
	Usable bool   `json:"usable"`
}

type EventInputRequest struct {
	Actor    CombatantRef  `json:"actor"`
	Skills   []SkillOption `json:"skills"`
	CanFlee  bool          `json:"can_flee"`
	Deadline int64         `json:"deadline"` // unix millis
}

func (EventInputRequest) EventType() string { return "input_request" }

type EventTargetRequest struct {
	Skill      string         `json:"skill"`
	Candidates []CombatantRef `json:"candidates"`
	AllowAll   bool           `json:"allow_all"`
	Deadline   int64          `json:"deadline"`
}

func (EventTargetRequest) EventType() string { return "target_request" }

// HitResult is the narrated form of a DamageResult.
type HitResult struct {
	Target     CombatantRef `json:"target"`
	Resistance string       `json:"resistance"`
	Damage     int          `json:"damage"` // positive=damage, negative=heal
	Critical   bool         `json:"critical,omitempty"`
	Missed     bool         `json:"missed,omitempty"`
	Fainted    bool         `json:"fainted,omitempty"`
	Reflected  bool         `json:"reflected,omitempty"`
	Weak       bool         `json:"weak,omitempty"`
	Endured    bool         `json:"endured,omitempty"`
	Countered  bool         `json:"countered,omitempty"`
	Ailment    string       `json:"ailment,omitempty"`
	Cured      bool         `json:"cured,omitempty"`
	Effect     string       `json:"effect,omitempty"`
	HPAfter    int          `json:"hp_after"`
	SPAfter    int          `json:"sp_after"`
}

type EventSkillResult struct {
	Actor   CombatantRef `json:"actor"`
	Skill   string       `json:"skill"`
	Type    string       `json:"type"`
	HPCost  int          `json:"hp_cost,omitempty"`
	SPCost  int          `json:"sp_cost,omitempty"`
	Results []HitResult  `json:"results"`
}

func (EventSkillResult) EventType() string { return "skill_result" }

func hitResult(d DamageResult) HitResult {
	h := HitResult{
		Target:     d.Target.Ref(),
		Resistance: d.Resistance.String(),
		Damage:     d.Damage,
		Critical:   d.Critical,
		Missed:     d.Missed,
		Fainted:    d.Fainted,
		Reflected:  d.Reflected,
		Weak:       d.DidWeak,
		Endured:    d.Endured,
		Countered:  d.Countered,
		Cured:      d.Cured,
		HPAfter:    d.Target.HP(),
		SPAfter:    d.Target.SP(),
	}
	if d.Inflicted != AilmentNone {
		h.Ailment = d.Inflicted.String()
	}
	switch {
	case d.Effect != nil:
		h.Effect = d.Effect.Kind.String()
	case d.Shield != nil:
		h.Effect = d.Shield.Type.String() + "_shield"
	}
	return h
}

type EventModifierExpired struct {
	Target CombatantRef `json:"target"`
	Slot   string       `json:"slot"`
}

func (EventModifierExpired) EventType() string { return "modifier_expired" }

type EventShieldExpired struct {
	Target CombatantRef `json:"target"`
	Type   string       `json:"type"`
}

func (EventShieldExpired) EventType() string { return "shield_expired" }

type EventStatusExpired struct {
	Target CombatantRef `json:"target"`
	Status string       `json:"status"`
}

func (EventStatusExpired) EventType() string { return "status_expired" }

// EventAilment narrates an ailment acting on its owner.
type EventAilment struct {
	Target  CombatantRef `json:"target"`
	Ailment string       `json:"ailment"`
	Skipped bool         `json:"skipped,omitempty"`
	Cleared bool         `json:"cleared,omitempty"`
	HPLoss  int          `json:"hp_loss,omitempty"`
	SPLoss  int          `json:"sp_loss,omitempty"`
}

func (EventAilment) EventType() string { return "ailment" }

type EventFainted struct {
	Target CombatantRef `json:"target"`
}

func (EventFainted) EventType() string { return "fainted" }

type EventExtraTurn struct {
	Actor  CombatantRef `json:"actor"`
	Reason string       `json:"reason"` // "weakness", "critical", "heat_up"
}

func (EventExtraTurn) EventType() string { return "extra_turn" }

// Status keys used by EventStatus.
const (
	StatusInsufficientHP   = "insufficient_hp"
	StatusInsufficientSP   = "insufficient_sp"
	StatusUnsupportedSkill = "unsupported_skill"
	StatusInvalidTarget    = "invalid_target"
	StatusInputTimeout     = "input_timeout"
	StatusFleeFailed       = "flee_failed"
	StatusFleeSucceeded    = "flee_succeeded"
	StatusRegenerate       = "regenerate"
	StatusInvigorate       = "invigorate"
	StatusVictoryCry       = "victory_cry"
)

// EventStatus is a free-text status line keyed for the renderer.
type EventStatus struct {
	Actor  CombatantRef `json:"actor"`
	Key    string       `json:"key"`
	Detail string       `json:"detail,omitempty"`
}

func (EventStatus) EventType() string { return "status" }

type LevelUpEntry struct {
	Name     string `json:"name"`
	NewLevel int    `json:"new_level"`
}

type EventBattleEnd struct {
	Outcome  string         `json:"outcome"`
	Turns    int            `json:"turns"`
	Exp      int            `json:"exp,omitempty"`
	Credits  int            `json:"credits,omitempty"`
	LevelUps []LevelUpEntry `json:"level_ups,omitempty"`
}

func (EventBattleEnd) EventType() string { return "battle_end" }

// EventBattleAborted is the generic message shown to the player when a
// fault ended the battle. Details go to the Reporter only.
type EventBattleAborted struct {
	Message string `json:"message"`
}

func (EventBattleAborted) EventType() string { return "battle_aborted" }
