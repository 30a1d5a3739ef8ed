package battle

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Outcome is the terminal state of a battle.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeVictory
	OutcomeFled
	OutcomePlayerFainted
	OutcomeAborted
)

var outcomeNames = [...]string{"none", "victory", "fled", "player_fainted", "aborted"}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
	return outcomeNames[o]
}

// State is the controller's position in its state machine.
type State int

const (
	StateInit State = iota
	StateAmbush
	StatePlayerTurn
	StateAwaitingInput
	StateEnemyTurn
	StateTerminal
)

var stateNames = [...]string{"init", "ambush", "player_turn", "awaiting_input", "enemy_turn", "terminal"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

const (
	DefaultTickInterval = time.Second
	DefaultInputTimeout = 180 * time.Second
)

// BattleConfig configures a Battle.
type BattleConfig struct {
	ID        string // empty = random uuid
	Player    *Combatant
	Opponents []*Combatant
	Catalog   *Catalog
	Ambush    Ambush
	Env       Environment

	Input    InputSource
	Narrator Narrator // nil = discard
	Reporter Reporter // nil = log only
	Logger   *zap.Logger
	RNG      Rand // injectable for testing

	TickInterval time.Duration // 0 = 1 second
	InputTimeout time.Duration // 0 = 180 seconds
}

// Battle drives one player against one or more opponents. Run owns every
// combatant for the duration; Stop may be called from any goroutine.
type Battle struct {
	id        string
	player    *Combatant
	opponents []*Combatant
	catalog   *Catalog
	ambush    Ambush
	order     *TurnOrder
	resolver  *Resolver

	input    InputSource
	narrator Narrator
	reporter Reporter
	logger   *zap.Logger
	rng      Rand

	tick         time.Duration
	inputTimeout time.Duration

	turn      int
	retrying  bool
	lastActor string
	lastSkill string
	stack     string

	mu      sync.Mutex
	state   State
	outcome Outcome
	cancel  context.CancelFunc
	stopped bool

	finishOnce sync.Once
	done       chan struct{}
}

// NewBattle validates the config and builds the initial turn order.
func NewBattle(cfg BattleConfig) (*Battle, error) {
	if cfg.Player == nil {
		return nil, errors.New("battle: no player")
	}
	if len(cfg.Opponents) == 0 {
		return nil, errors.New("battle: no opponents")
	}
	if cfg.Catalog == nil {
		return nil, errors.New("battle: no catalog")
	}
	if cfg.Input == nil {
		return nil, errors.New("battle: no input source")
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.RNG == nil {
		cfg.RNG = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Narrator == nil {
		cfg.Narrator = NarratorFunc(func(context.Context, BattleEvent) {})
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.InputTimeout <= 0 {
		cfg.InputTimeout = DefaultInputTimeout
	}

	cfg.Player.player = true
	cfg.Player.index = 0
	for i, o := range cfg.Opponents {
		o.player = false
		o.index = i
	}

	return &Battle{
		id:           cfg.ID,
		player:       cfg.Player,
		opponents:    cfg.Opponents,
		catalog:      cfg.Catalog,
		ambush:       cfg.Ambush,
		order:        NewTurnOrder(cfg.Player, cfg.Opponents, cfg.Ambush),
		resolver:     NewResolver(cfg.RNG, cfg.Env),
		input:        cfg.Input,
		narrator:     cfg.Narrator,
		reporter:     cfg.Reporter,
		logger:       cfg.Logger.With(zap.String("battle_id", cfg.ID)),
		rng:          cfg.RNG,
		tick:         cfg.TickInterval,
		inputTimeout: cfg.InputTimeout,
		done:         make(chan struct{}),
	}, nil
}

func (b *Battle) ID() string              { return b.id }
func (b *Battle) Player() *Combatant      { return b.player }
func (b *Battle) Opponents() []*Combatant { return b.opponents }
func (b *Battle) Done() <-chan struct{}   { return b.done }
func (b *Battle) Order() *TurnOrder       { return b.order }
func (b *Battle) Env() Environment        { return b.resolver.Env }

// Turn is the number of turns started so far. Read it after Done.
func (b *Battle) Turn() int { return b.turn }

func (b *Battle) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Battle) Outcome() Outcome {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outcome
}

func (b *Battle) setState(s State) {
	b.mu.Lock()
	if b.state != StateTerminal {
		b.state = s
	}
	b.mu.Unlock()
}

// Run executes the battle loop and blocks until a terminal state is reached.
func (b *Battle) Run(ctx context.Context) Outcome {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.mu.Lock()
	if b.stopped || b.state == StateTerminal {
		b.mu.Unlock()
		return b.finish(OutcomeAborted, nil)
	}
	b.cancel = cancel
	b.mu.Unlock()

	b.logger.Info("battle started",
		zap.String("player", b.player.Name),
		zap.Int("opponents", len(b.opponents)),
		zap.String("ambush", b.ambush.String()))
	b.narrate(ctx, b.startEvent())

	if err := b.safeAmbush(ctx); err != nil {
		return b.finish(OutcomeAborted, err)
	}

	ticker := time.NewTicker(b.tick)
	defer ticker.Stop()
	for {
		if o := b.checkTerminal(); o != OutcomeNone {
			return b.finish(o, nil)
		}
		select {
		case <-ctx.Done():
			return b.finish(OutcomeAborted, nil)
		case <-ticker.C:
		}

		o, err := b.safeTurn(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return b.finish(OutcomeAborted, nil)
			}
			return b.finish(OutcomeAborted, err)
		}
		if o != OutcomeNone {
			return b.finish(o, nil)
		}
	}
}

// Stop cancels a running battle, or ends one that never started. It is safe
// to call more than once.
func (b *Battle) Stop() {
	b.mu.Lock()
	b.stopped = true
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
		return
	}
	b.finish(OutcomeAborted, nil)
}

func (b *Battle) safeTurn(ctx context.Context) (o Outcome, err error) {
	defer b.recoverFault(&err)
	return b.runTurn(ctx)
}

func (b *Battle) safeAmbush(ctx context.Context) (err error) {
	defer b.recoverFault(&err)
	b.resolveAmbush(ctx)
	return nil
}

// recoverFault turns a panic into ErrBattleAborted, keeping the stack for
// the abort report.
func (b *Battle) recoverFault(err *error) {
	if r := recover(); r != nil {
		b.stack = string(debug.Stack())
		*err = fmt.Errorf("%w: panic: %v", ErrBattleAborted, r)
	}
}

// finish runs the teardown path exactly once.
func (b *Battle) finish(outcome Outcome, cause error) Outcome {
	b.finishOnce.Do(func() {
		ctx := context.Background()

		b.mu.Lock()
		b.state = StateTerminal
		b.outcome = outcome
		cancel := b.cancel
		b.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		if cause != nil {
			if !errors.Is(cause, ErrBattleAborted) {
				cause = fmt.Errorf("%w: %w", ErrBattleAborted, cause)
			}
			b.logger.Error("battle aborted",
				zap.Int("turn", b.turn),
				zap.String("actor", b.lastActor),
				zap.String("skill", b.lastSkill),
				zap.Error(cause))
			b.report(ctx, cause)
			b.narrate(ctx, &EventBattleAborted{Message: "battle terminated"})
		}

		end := &EventBattleEnd{Outcome: outcome.String(), Turns: b.turn}
		if outcome == OutcomeVictory {
			b.grantRewards(ctx, end)
		}
		b.player.ClearBattleFlags()
		for _, o := range b.opponents {
			o.ClearBattleFlags()
		}
		b.narrate(ctx, end)
		b.logger.Info("battle ended", zap.String("outcome", outcome.String()), zap.Int("turns", b.turn))
		close(b.done)
	})
	return b.Outcome()
}

func (b *Battle) report(ctx context.Context, cause error) {
	if b.reporter == nil {
		return
	}
	opps := make([]CombatantSnapshot, len(b.opponents))
	for i, o := range b.opponents {
		opps[i] = o.Snapshot()
	}
	b.reporter.ReportAbort(ctx, AbortReport{
		BattleID:  b.id,
		Turn:      b.turn,
		Player:    b.player.Snapshot(),
		Opponents: opps,
		LastActor: b.lastActor,
		LastSkill: b.lastSkill,
		Err:       cause,
		Stack:     b.stack,
	})
}

func (b *Battle) grantRewards(ctx context.Context, end *EventBattleEnd) {
	rw := CalculateRewards(b.opponents)
	end.Exp = rw.Exp
	end.Credits = rw.Credits
	if gained := b.player.AddExp(rw.Exp); gained > 0 {
		end.LevelUps = append(end.LevelUps, LevelUpEntry{Name: b.player.Name, NewLevel: b.player.Level()})
	}
	b.player.Credits += rw.Credits
	if b.player.hasPassive("Victory Cry") {
		b.player.Restore()
		b.narrate(ctx, &EventStatus{Actor: b.player.Ref(), Key: StatusVictoryCry})
	}
}

func (b *Battle) checkTerminal() Outcome {
	if b.player.IsFainted() {
		return OutcomePlayerFainted
	}
	for _, o := range b.opponents {
		if !o.IsFainted() {
			return OutcomeNone
		}
	}
	return OutcomeVictory
}

func (b *Battle) startEvent() *EventBattleStart {
	opps := make([]CombatantSnapshot, len(b.opponents))
	for i, o := range b.opponents {
		opps[i] = o.Snapshot()
	}
	return &EventBattleStart{
		BattleID:  b.id,
		Player:    b.player.Snapshot(),
		Opponents: opps,
		Weather:   b.resolver.Env.Weather.String(),
	}
}

// resolveAmbush applies the one-shot initiative passives and narrates the
// opening order.
func (b *Battle) resolveAmbush(ctx context.Context) {
	b.setState(StateAmbush)
	var bonuses []string
	apply := func(c *Combatant, advantage, ambushed bool) {
		if ambushed && c.hasPassive("Adverse Resolve") {
			c.exCrit *= 2
			c.exEvade *= 1.5
			bonuses = append(bonuses, c.Name+": Adverse Resolve")
		}
		if advantage && c.hasPassive("Fortified Moxy") {
			c.exCrit *= 2
			bonuses = append(bonuses, c.Name+": Fortified Moxy")
		}
		if advantage && c.hasPassive("Heat Up") {
			c.heatUp = true
			bonuses = append(bonuses, c.Name+": Heat Up")
		}
	}
	apply(b.player, b.ambush == AmbushPlayer, b.ambush == AmbushEnemy)
	for _, o := range b.opponents {
		apply(o, b.ambush == AmbushEnemy, b.ambush == AmbushPlayer)
	}

	order := b.order.Order()
	refs := make([]CombatantRef, len(order))
	for i, c := range order {
		refs[i] = c.Ref()
	}
	b.narrate(ctx, &EventInitiative{Ambush: b.ambush.String(), Order: refs, Bonuses: bonuses})
}

func (b *Battle) narrate(ctx context.Context, evt BattleEvent) {
	b.narrator.Narrate(ctx, evt)
}
