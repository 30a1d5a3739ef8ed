package battle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
)

var (
	errInsufficientHP = fmt.Errorf("%w: hp", ErrInsufficientResource)
	errInsufficientSP = fmt.Errorf("%w: sp", ErrInsufficientResource)
)

// turnResult is what one actor's turn produced.
type turnResult struct {
	fled    bool
	extra   string // reason for an extra turn, empty if none
	results []DamageResult
}

// runTurn resolves the current actor's turn and advances the order.
func (b *Battle) runTurn(ctx context.Context) (Outcome, error) {
	actor := b.order.Active()
	if actor == nil {
		return b.checkTerminal(), nil
	}

	retry := b.retrying
	b.retrying = false
	if !retry {
		b.turn++
		b.logger.Debug("battle turn",
			zap.Int("turn", b.turn),
			zap.String("actor", actor.Name),
			zap.Bool("player", actor.IsPlayer()))
		b.narrate(ctx, &EventTurnStart{Turn: b.turn, Actor: actor.Ref()})
		b.beginTurn(ctx, actor)
		if b.ailmentPreTurn(ctx, actor) {
			b.endTurn(ctx, actor, "")
			return b.checkTerminal(), nil
		}
	}
	b.lastActor = actor.Name

	var (
		tr  turnResult
		err error
	)
	if actor.IsPlayer() {
		tr, err = b.playerTurn(ctx, actor)
	} else {
		tr, err = b.enemyTurn(ctx, actor)
	}
	if errors.Is(err, ErrTurnForfeited) {
		b.retrying = true
		b.order.Decycle()
		b.order.Cycle()
		return OutcomeNone, nil
	}
	if err != nil {
		return OutcomeNone, err
	}
	if tr.fled {
		return OutcomeFled, nil
	}
	b.endTurn(ctx, actor, tr.extra)
	return b.checkTerminal(), nil
}

// beginTurn runs the actor's turn-start upkeep.
func (b *Battle) beginTurn(ctx context.Context, actor *Combatant) {
	actor.guarding = false
	actor.DecayTimers(ctx, b.narrator)
	if actor.hasPassive("Regenerate") {
		if healed := -actor.ApplyHP(-ceilInt(float64(actor.MaxHP()) * 0.05)); healed > 0 {
			b.narrate(ctx, &EventStatus{Actor: actor.Ref(), Key: StatusRegenerate, Detail: fmt.Sprint(healed)})
		}
	}
	if actor.hasPassive("Invigorate") {
		if restored := -actor.ApplySP(-ceilInt(float64(actor.MaxSP()) * 0.05)); restored > 0 {
			b.narrate(ctx, &EventStatus{Actor: actor.Ref(), Key: StatusInvigorate, Detail: fmt.Sprint(restored)})
		}
	}
}

// ailmentPreTurn reports whether the actor loses its turn.
func (b *Battle) ailmentPreTurn(ctx context.Context, actor *Combatant) bool {
	a := actor.Ailment()
	if a == nil {
		return false
	}
	tick := a.PreTurn(b.rng)
	if tick.Skip || tick.Cleared {
		b.narrate(ctx, &EventAilment{
			Target:  actor.Ref(),
			Ailment: tick.Type.String(),
			Skipped: tick.Skip,
			Cleared: tick.Cleared,
		})
	}
	return tick.Skip
}

// endTurn applies post-turn effects, drops fainted combatants and advances
// the order unless the actor earned another turn.
func (b *Battle) endTurn(ctx context.Context, actor *Combatant, extra string) {
	if a := actor.Ailment(); a != nil && !actor.IsFainted() {
		tick := a.PostTurn()
		if tick.HPLoss > 0 || tick.SPLoss > 0 {
			b.narrate(ctx, &EventAilment{
				Target:  actor.Ref(),
				Ailment: tick.Type.String(),
				HPLoss:  tick.HPLoss,
				SPLoss:  tick.SPLoss,
			})
		}
	}
	b.sweepFainted(ctx)
	if extra != "" && !actor.IsFainted() && b.order.Active() == actor {
		b.narrate(ctx, &EventExtraTurn{Actor: actor.Ref(), Reason: extra})
		b.order.Decycle()
	}
	b.order.Cycle()
}

func (b *Battle) sweepFainted(ctx context.Context) {
	all := append([]*Combatant{b.player}, b.opponents...)
	for _, c := range all {
		if c.IsFainted() && b.order.Remove(c) {
			b.narrate(ctx, &EventFainted{Target: c.Ref()})
		}
	}
}

// ---------------------------------------------------------------------------
//  Player turn
// ---------------------------------------------------------------------------

func (b *Battle) playerTurn(ctx context.Context, actor *Combatant) (turnResult, error) {
	dec, err := b.requestDecision(ctx, actor)
	if err != nil {
		return turnResult{}, err
	}
	switch dec.Kind {
	case DecisionTimeout:
		b.narrate(ctx, &EventStatus{Actor: actor.Ref(), Key: StatusInputTimeout})
		return b.attemptFlee(ctx, actor), nil
	case DecisionFlee:
		return b.attemptFlee(ctx, actor), nil
	}

	skill, err := b.validateChoice(actor, dec.Skill)
	if err != nil {
		b.narrateRejection(ctx, actor, err)
		return turnResult{}, fmt.Errorf("%w: %w", ErrTurnForfeited, err)
	}
	targets, err := b.playerTargets(ctx, actor, skill)
	switch {
	case errors.Is(err, ErrSessionTimeout):
		b.narrate(ctx, &EventStatus{Actor: actor.Ref(), Key: StatusInputTimeout})
		return b.attemptFlee(ctx, actor), nil
	case errors.Is(err, ErrInvalidTarget):
		b.narrateRejection(ctx, actor, err)
		return turnResult{}, fmt.Errorf("%w: %w", ErrTurnForfeited, err)
	case err != nil:
		return turnResult{}, err
	}
	return b.perform(ctx, actor, skill, targets)
}

// prompt wraps a request with the input deadline. A source that reports
// the deadline as an error instead of the timeout variant is tolerated.
func (b *Battle) prompt(ctx context.Context) (context.Context, context.CancelFunc) {
	b.setState(StateAwaitingInput)
	return context.WithTimeout(ctx, b.inputTimeout)
}

func (b *Battle) requestDecision(ctx context.Context, actor *Combatant) (Decision, error) {
	pctx, cancel := b.prompt(ctx)
	defer cancel()
	defer b.setState(StatePlayerTurn)

	deadline, _ := pctx.Deadline()
	dec, err := b.input.RequestDecision(pctx, DecisionRequest{
		BattleID: b.id,
		Actor:    actor.Ref(),
		Options:  b.skillOptions(actor),
		CanFlee:  true,
		Deadline: deadline,
	})
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return Decision{Kind: DecisionTimeout}, nil
		}
		return Decision{}, err
	}
	return dec, nil
}

func (b *Battle) skillOptions(actor *Combatant) []SkillOption {
	basic := b.catalog.BasicAttack()
	skills := actor.Skills()
	if !actor.HasSkill(basic.Name) {
		skills = append([]*Skill{basic}, skills...)
	}
	var out []SkillOption
	for _, s := range skills {
		if s.IsPassive() {
			continue
		}
		hp, sp := s.CostFor(actor)
		_, err := b.validateChoice(actor, s.Name)
		out = append(out, SkillOption{
			Name:   s.Name,
			Type:   s.Type.String(),
			Target: s.Target.String(),
			HPCost: hp,
			SPCost: sp,
			Usable: err == nil,
		})
	}
	return out
}

// validateChoice checks the player's chosen skill. The basic attack is
// always known.
func (b *Battle) validateChoice(actor *Combatant, name string) (*Skill, error) {
	basic := b.catalog.BasicAttack()
	if actor.AilmentType() == AilmentRage {
		return basic, nil
	}
	skill := actor.skill(name)
	if skill == nil && strings.EqualFold(name, basic.Name) {
		skill = basic
	}
	if skill == nil {
		return nil, fmt.Errorf("%w: %q is not equipped", ErrUnsupportedSkill, name)
	}
	if skill.IsPassive() || !skill.Supported() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSkill, skill.Name)
	}
	if actor.AilmentType() == AilmentForget && skill.UsesSP() {
		return nil, fmt.Errorf("%w: %s is forgotten", ErrUnsupportedSkill, skill.Name)
	}
	hp, sp := skill.CostFor(actor)
	if hp > 0 && hp >= actor.HP() {
		return nil, errInsufficientHP
	}
	if sp > actor.SP() {
		return nil, errInsufficientSP
	}
	return skill, nil
}

func (b *Battle) narrateRejection(ctx context.Context, actor *Combatant, err error) {
	key := StatusUnsupportedSkill
	switch {
	case errors.Is(err, errInsufficientHP):
		key = StatusInsufficientHP
	case errors.Is(err, errInsufficientSP):
		key = StatusInsufficientSP
	case errors.Is(err, ErrInvalidTarget):
		key = StatusInvalidTarget
	}
	b.narrate(ctx, &EventStatus{Actor: actor.Ref(), Key: key, Detail: err.Error()})
}

func (b *Battle) livingOpponents() []*Combatant {
	var out []*Combatant
	for _, o := range b.opponents {
		if !o.IsFainted() {
			out = append(out, o)
		}
	}
	return out
}

// playerTargets resolves who the player's skill hits. Single-target skills
// prompt only when there is a choice to make; "all" skills may hit one or
// every opponent.
func (b *Battle) playerTargets(ctx context.Context, actor *Combatant, skill *Skill) ([]*Combatant, error) {
	if skill.Target.friendly() {
		return []*Combatant{actor}, nil
	}
	living := b.livingOpponents()
	if len(living) == 0 {
		return nil, fmt.Errorf("%w: no opponents left", ErrInvalidTarget)
	}
	if skill.Target == TargetEnemies || len(living) == 1 {
		return living, nil
	}

	refs := make([]CombatantRef, len(living))
	for i, o := range living {
		refs[i] = o.Ref()
	}
	allowAll := skill.Target == TargetAll

	pctx, cancel := b.prompt(ctx)
	defer cancel()
	defer b.setState(StatePlayerTurn)

	deadline, _ := pctx.Deadline()
	choice, err := b.input.RequestTarget(pctx, TargetRequest{
		BattleID:   b.id,
		Skill:      skill.Name,
		Candidates: refs,
		AllowAll:   allowAll,
		Deadline:   deadline,
	})
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrSessionTimeout
		}
		return nil, err
	}
	switch choice.Kind {
	case TargetTimeout:
		return nil, ErrSessionTimeout
	case TargetEveryone:
		if !allowAll {
			return nil, fmt.Errorf("%w: %s hits a single target", ErrInvalidTarget, skill.Name)
		}
		return living, nil
	}
	if choice.Index < 0 || choice.Index >= len(living) {
		return nil, fmt.Errorf("%w: index %d", ErrInvalidTarget, choice.Index)
	}
	return []*Combatant{living[choice.Index]}, nil
}

func (b *Battle) attemptFlee(ctx context.Context, actor *Combatant) turnResult {
	if percent(b.rng) < FleeChance(b.player, b.opponents) {
		b.narrate(ctx, &EventStatus{Actor: actor.Ref(), Key: StatusFleeSucceeded})
		return turnResult{fled: true}
	}
	b.narrate(ctx, &EventStatus{Actor: actor.Ref(), Key: StatusFleeFailed})
	return turnResult{}
}

// ---------------------------------------------------------------------------
//  Enemy turn
// ---------------------------------------------------------------------------

func (b *Battle) enemyTurn(ctx context.Context, actor *Combatant) (turnResult, error) {
	b.setState(StateEnemyTurn)
	skill := ChooseMove(actor, b.catalog, b.rng)
	targets := enemyTargets(actor, b.player, b.opponents, skill)
	tr, err := b.perform(ctx, actor, skill, targets)
	if err != nil {
		return tr, err
	}
	for _, r := range tr.results {
		if r.Defender != b.player {
			continue
		}
		if r.Reflected || r.Resistance == ResistImmune || r.Resistance == ResistAbsorb {
			actor.MarkUnusable(skill.Name)
			break
		}
	}
	return tr, nil
}

// ---------------------------------------------------------------------------
//  Shared
// ---------------------------------------------------------------------------

// perform pays the cost, resolves the skill and narrates the result.
func (b *Battle) perform(ctx context.Context, actor *Combatant, skill *Skill, targets []*Combatant) (turnResult, error) {
	hp, sp := skill.CostFor(actor)
	actor.ApplyHP(hp)
	actor.ApplySP(sp)
	b.lastSkill = skill.Name

	results, err := b.resolver.Use(actor, skill, targets)
	if err != nil {
		return turnResult{}, err
	}

	evt := &EventSkillResult{
		Actor:   actor.Ref(),
		Skill:   skill.Name,
		Type:    skill.Type.String(),
		HPCost:  hp,
		SPCost:  sp,
		Results: make([]HitResult, len(results)),
	}
	for i, r := range results {
		evt.Results[i] = hitResult(r)
	}
	b.narrate(ctx, evt)

	tr := turnResult{results: results}
	for _, r := range results {
		if !r.DidWeak || r.Target == actor || r.Countered {
			continue
		}
		if r.Critical {
			tr.extra = "critical"
			break
		}
		tr.extra = "weakness"
	}
	if actor.heatUp && !actor.IsFainted() {
		actor.heatUp = false
		cost := int(math.Ceil(float64(actor.MaxHP()) * 0.1))
		if cost >= actor.HP() {
			cost = actor.HP() - 1
		}
		actor.ApplyHP(cost)
		if tr.extra == "" {
			tr.extra = "heat_up"
		}
	}
	return tr, nil
}
