package battle

import (
	"context"
	"errors"
	"time"
)

// DecisionKind tags the player's reply to a decision prompt.
type DecisionKind int

const (
	DecisionFight DecisionKind = iota
	DecisionFlee
	DecisionTimeout
)

// Decision is the player's choice for a turn.
type Decision struct {
	Kind  DecisionKind
	Skill string // DecisionFight only
}

// TargetKind tags the reply to a target prompt.
type TargetKind int

const (
	TargetSingle TargetKind = iota
	TargetEveryone
	TargetTimeout
)

type TargetChoice struct {
	Kind  TargetKind
	Index int // position in TargetRequest.Candidates
}

// DecisionRequest asks the player what to do this turn.
type DecisionRequest struct {
	BattleID string
	Actor    CombatantRef
	Options  []SkillOption
	CanFlee  bool
	Deadline time.Time
}

// TargetRequest asks the player to pick among valid targets.
type TargetRequest struct {
	BattleID   string
	Skill      string
	Candidates []CombatantRef
	AllowAll   bool
	Deadline   time.Time
}

// InputSource is the interactive input collaborator. Both calls are the
// battle's only suspension points; the context carries the prompt deadline
// and implementations must return the timeout variant when it passes.
type InputSource interface {
	RequestDecision(ctx context.Context, req DecisionRequest) (Decision, error)
	RequestTarget(ctx context.Context, req TargetRequest) (TargetChoice, error)
}

// ChannelInput is an InputSource fed by a transport goroutine. Prompts are
// narrated through the battle's Narrator; replies arrive via Submit*.
type ChannelInput struct {
	narrator  Narrator
	decisions chan Decision
	targets   chan TargetChoice
}

func NewChannelInput(n Narrator) *ChannelInput {
	return &ChannelInput{
		narrator:  n,
		decisions: make(chan Decision, 1),
		targets:   make(chan TargetChoice, 1),
	}
}

// SubmitDecision delivers a decision. It never blocks; a reply nobody is
// waiting for is dropped.
func (ci *ChannelInput) SubmitDecision(d Decision) bool {
	select {
	case ci.decisions <- d:
		return true
	default:
		return false
	}
}

func (ci *ChannelInput) SubmitTarget(t TargetChoice) bool {
	select {
	case ci.targets <- t:
		return true
	default:
		return false
	}
}

func (ci *ChannelInput) RequestDecision(ctx context.Context, req DecisionRequest) (Decision, error) {
	drain(ci.decisions)
	if ci.narrator != nil {
		ci.narrator.Narrate(ctx, &EventInputRequest{
			Actor:    req.Actor,
			Skills:   req.Options,
			CanFlee:  req.CanFlee,
			Deadline: req.Deadline.UnixMilli(),
		})
	}
	select {
	case d := <-ci.decisions:
		return d, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Decision{Kind: DecisionTimeout}, nil
		}
		return Decision{}, ctx.Err()
	}
}

func (ci *ChannelInput) RequestTarget(ctx context.Context, req TargetRequest) (TargetChoice, error) {
	drain(ci.targets)
	if ci.narrator != nil {
		ci.narrator.Narrate(ctx, &EventTargetRequest{
			Skill:      req.Skill,
			Candidates: req.Candidates,
			AllowAll:   req.AllowAll,
			Deadline:   req.Deadline.UnixMilli(),
		})
	}
	select {
	case t := <-ci.targets:
		return t, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return TargetChoice{Kind: TargetTimeout}, nil
		}
		return TargetChoice{}, ctx.Err()
	}
}

// drain discards replies submitted before the prompt was issued.
func drain[T any](ch chan T) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// AbortReport carries the full battle context of a fault.
type AbortReport struct {
	BattleID  string
	Turn      int
	Player    CombatantSnapshot
	Opponents []CombatantSnapshot
	LastActor string
	LastSkill string
	Err       error
	Stack     string
}

// Reporter is the error/telemetry collaborator.
type Reporter interface {
	ReportAbort(ctx context.Context, r AbortReport)
}
