package battle

import "errors"

// Recoverable turn errors. The controller narrates them and lets the actor
// choose again.
var (
	ErrInvalidTarget        = errors.New("battle: invalid target")
	ErrInsufficientResource = errors.New("battle: insufficient resource")
	ErrUnsupportedSkill     = errors.New("battle: unsupported skill")
)

var (
	// ErrSessionTimeout marks a player prompt that expired. It is treated as
	// a flee attempt.
	ErrSessionTimeout = errors.New("battle: session timeout")
	// ErrTurnForfeited is returned by the player turn when a rejected choice
	// re-grants the turn without advancing the order.
	ErrTurnForfeited = errors.New("battle: turn forfeited")
	// ErrBattleAborted wraps any fault that terminated a battle.
	ErrBattleAborted = errors.New("battle: aborted")
)

// Load-time integrity errors.
var (
	ErrUnknownSkill      = errors.New("battle: unknown skill")
	ErrUnknownSkillType  = errors.New("battle: unknown skill type")
	ErrUnknownResistance = errors.New("battle: unknown resistance")
	ErrUnknownSeverity   = errors.New("battle: unknown severity")
	ErrUnknownAilment    = errors.New("battle: unknown ailment")
	ErrInvalidStats      = errors.New("battle: invalid stats")
	ErrMissingAccuracy   = errors.New("battle: counter skill without accuracy")
)
