package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kasuganosora/arcanabattle/audit"
	"github.com/kasuganosora/arcanabattle/cache"
	"github.com/kasuganosora/arcanabattle/config"
	"github.com/kasuganosora/arcanabattle/game/battle"
	"github.com/kasuganosora/arcanabattle/game/player"
	"github.com/kasuganosora/arcanabattle/game/roster"
	"github.com/kasuganosora/arcanabattle/model"
	"github.com/kasuganosora/arcanabattle/plugin/hook"
	"github.com/kasuganosora/arcanabattle/resource"
	"github.com/kasuganosora/arcanabattle/scheduler"
	"go.uber.org/zap"
)

const (
	maxOpponents = 5

	// ActiveBattlesKey is the cache set of running battle IDs.
	ActiveBattlesKey = "battles:active"
)

// BattleChannel is the pub/sub channel a battle's narration is mirrored to.
func BattleChannel(id string) string { return "battle:" + id }

// BattleMetaKey marks a battle as running; it expires on its own if the
// process that owns the battle dies.
func BattleMetaKey(id string) string { return "battle:meta:" + id }

var ErrAlreadyInBattle = errors.New("already in a battle")

// BattleSessionManager runs server-authoritative battles for connected
// players. It is both ends of the battle's input protocol: prompts go out
// as battle_* packets and replies come back through the router.
type BattleSessionManager struct {
	roster  *roster.Store
	res     *resource.ResourceLoader
	cache   cache.Cache
	pubsub  cache.PubSub
	hooks   *hook.HookCenter
	audit   *audit.Service
	sched   *scheduler.Scheduler
	cfg     config.BattleConfig
	baseEnv battle.Environment
	newRNG  func() battle.Rand
	logger  *zap.Logger

	mu      sync.RWMutex
	battles map[string]*activeBattle // battle id → battle
	wg      sync.WaitGroup
}

type activeBattle struct {
	b         *battle.Battle
	input     *battle.ChannelInput
	session   *player.PlayerSession
	lease     *roster.Lease
	narrator  *sessionNarrator
	opponents []string
	startedAt time.Time
}

// BattleDeps bundles the collaborators of a BattleSessionManager. Hooks,
// Audit, Scheduler and PubSub are optional.
type BattleDeps struct {
	Roster    *roster.Store
	Resources *resource.ResourceLoader
	Cache     cache.Cache
	PubSub    cache.PubSub
	Hooks     *hook.HookCenter
	Audit     *audit.Service
	Scheduler *scheduler.Scheduler
	Config    config.BattleConfig
	RNG       func() battle.Rand // nil = time-seeded source per battle
	Logger    *zap.Logger
}

// NewBattleSessionManager creates a new manager.
func NewBattleSessionManager(d BattleDeps) (*BattleSessionManager, error) {
	if d.Roster == nil || d.Resources == nil || d.Cache == nil {
		return nil, errors.New("ws: battle manager needs roster, resources and cache")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Hooks == nil {
		d.Hooks = hook.NewHookCenter(d.Logger)
	}
	w, err := battle.ParseWeather(d.Config.Weather)
	if err != nil {
		return nil, err
	}
	return &BattleSessionManager{
		roster:  d.Roster,
		res:     d.Resources,
		cache:   d.Cache,
		pubsub:  d.PubSub,
		hooks:   d.Hooks,
		audit:   d.Audit,
		sched:   d.Scheduler,
		cfg:     d.Config,
		baseEnv: battle.Environment{Weather: w},
		newRNG:  d.RNG,
		logger:  d.Logger,
		battles: make(map[string]*activeBattle),
	}, nil
}

// RegisterHandlers registers the battle_* WS handlers.
func (bm *BattleSessionManager) RegisterHandlers(r *Router) {
	r.On("battle_start", bm.HandleStart)
	r.On("battle_decision", bm.HandleDecision)
	r.On("battle_target", bm.HandleTarget)
	r.On("battle_stop", bm.HandleStop)
}

// ---- Inbound messages ----

type startRequest struct {
	Opponents []string `json:"opponents"`
	Ambush    string   `json:"ambush"`
}

type decisionRequest struct {
	Kind  string `json:"kind"` // fight | flee
	Skill string `json:"skill"`
}

type targetRequest struct {
	Index int  `json:"index"`
	All   bool `json:"all"`
}

// HandleStart checks out the player's combatant and starts a battle against
// the named opponents.
func (bm *BattleSessionManager) HandleStart(ctx context.Context, s *player.PlayerSession, raw json.RawMessage) error {
	var req startRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.SendError("malformed battle_start")
		return nil
	}
	id, err := bm.Start(ctx, s, req)
	if err != nil {
		s.SendError(err.Error())
		return nil
	}
	bm.logger.Info("battle requested", zap.String("owner", s.Owner), zap.String("battle_id", id))
	return nil
}

// HandleDecision answers a pending input_request.
func (bm *BattleSessionManager) HandleDecision(_ context.Context, s *player.PlayerSession, raw json.RawMessage) error {
	var req decisionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.SendError("malformed battle_decision")
		return nil
	}
	ab := bm.forSession(s)
	if ab == nil {
		s.SendError("not in a battle")
		return nil
	}
	if !s.Allow() {
		s.SendError("too many inputs")
		return nil
	}
	var d battle.Decision
	switch strings.ToLower(req.Kind) {
	case "fight", "":
		d = battle.Decision{Kind: battle.DecisionFight, Skill: req.Skill}
	case "flee", "run":
		d = battle.Decision{Kind: battle.DecisionFlee}
	default:
		s.SendError("unknown decision kind")
		return nil
	}
	if !ab.input.SubmitDecision(d) {
		s.SendError("not awaiting a decision")
	}
	return nil
}

// HandleTarget answers a pending target_request.
func (bm *BattleSessionManager) HandleTarget(_ context.Context, s *player.PlayerSession, raw json.RawMessage) error {
	var req targetRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.SendError("malformed battle_target")
		return nil
	}
	ab := bm.forSession(s)
	if ab == nil {
		s.SendError("not in a battle")
		return nil
	}
	if !s.Allow() {
		s.SendError("too many inputs")
		return nil
	}
	choice := battle.TargetChoice{Kind: battle.TargetSingle, Index: req.Index}
	if req.All {
		choice = battle.TargetChoice{Kind: battle.TargetEveryone}
	}
	if !ab.input.SubmitTarget(choice) {
		s.SendError("not awaiting a target")
	}
	return nil
}

// HandleStop abandons the session's battle.
func (bm *BattleSessionManager) HandleStop(_ context.Context, s *player.PlayerSession, _ json.RawMessage) error {
	if ab := bm.forSession(s); ab != nil {
		ab.b.Stop()
	}
	return nil
}

// OnDisconnect stops the battle bound to a closed session.
func (bm *BattleSessionManager) OnDisconnect(s *player.PlayerSession) {
	if ab := bm.forSession(s); ab != nil {
		bm.logger.Info("stopping battle of disconnected player",
			zap.String("owner", s.Owner), zap.String("battle_id", ab.b.ID()))
		ab.b.Stop()
	}
}

func (bm *BattleSessionManager) forSession(s *player.PlayerSession) *activeBattle {
	id := s.BattleID()
	if id == "" {
		return nil
	}
	return bm.get(id)
}

func (bm *BattleSessionManager) get(id string) *activeBattle {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	return bm.battles[id]
}

// State reports the controller state of a battle running in this process.
func (bm *BattleSessionManager) State(id string) (battle.State, bool) {
	ab := bm.get(id)
	if ab == nil {
		return 0, false
	}
	return ab.b.State(), true
}

// StopBattle stops a battle running in this process.
func (bm *BattleSessionManager) StopBattle(id string) bool {
	ab := bm.get(id)
	if ab == nil {
		return false
	}
	ab.b.Stop()
	return true
}

// Count is the number of battles running in this process.
func (bm *BattleSessionManager) Count() int {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	return len(bm.battles)
}

// ---- Lifecycle ----

// Start validates the request, runs the before_battle_start hooks, checks
// out the player's combatant and launches the battle in its own goroutine.
func (bm *BattleSessionManager) Start(ctx context.Context, s *player.PlayerSession, req startRequest) (string, error) {
	if s.BattleID() != "" {
		return "", ErrAlreadyInBattle
	}
	if len(req.Opponents) == 0 || len(req.Opponents) > maxOpponents {
		return "", fmt.Errorf("between 1 and %d opponents required", maxOpponents)
	}

	setup := &hook.BattleSetup{
		Owner:     s.Owner,
		Opponents: append([]string(nil), req.Opponents...),
		Ambush:    req.Ambush,
		Weather:   bm.baseEnv.Weather.String(),
		Severe:    bm.baseEnv.Severe,
		WindSpeed: bm.baseEnv.WindSpeed,
	}
	out, err := bm.hooks.Trigger(ctx, hook.BeforeBattleStart, setup)
	if errors.Is(err, hook.ErrInterrupt) {
		return "", errors.New("battle refused")
	}
	if hs, ok := out.(*hook.BattleSetup); ok && hs != nil {
		setup = hs
	}

	ambush, err := battle.ParseAmbush(setup.Ambush)
	if err != nil {
		return "", err
	}
	weather, err := battle.ParseWeather(setup.Weather)
	if err != nil {
		return "", err
	}
	cat := bm.roster.Catalog()
	opponents := make([]*battle.Combatant, 0, len(setup.Opponents))
	for _, name := range setup.Opponents {
		tpl := bm.res.OpponentByName(name)
		if tpl == nil {
			return "", fmt.Errorf("unknown opponent %q", name)
		}
		o, err := battle.NewOpponent(tpl, cat)
		if err != nil {
			return "", err
		}
		opponents = append(opponents, o)
	}

	lease, pc, err := bm.roster.Checkout(ctx, s.Owner)
	if err != nil {
		return "", err
	}

	narr := newSessionNarrator(s, bm.pubsub, bm.logger)
	input := battle.NewChannelInput(narr)
	cfg := battle.BattleConfig{
		Player:       pc,
		Opponents:    opponents,
		Catalog:      cat,
		Ambush:       ambush,
		Env:          battle.Environment{Weather: weather, Severe: setup.Severe, WindSpeed: setup.WindSpeed},
		Input:        input,
		Narrator:     narr,
		Logger:       bm.logger,
		TickInterval: bm.cfg.TickInterval,
		InputTimeout: bm.cfg.InputTimeout,
	}
	if bm.audit != nil {
		cfg.Reporter = bm.audit.Reporter(s.Owner, s.TraceID)
	}
	if bm.newRNG != nil {
		cfg.RNG = bm.newRNG()
	}
	b, err := battle.NewBattle(cfg)
	if err != nil {
		bm.release(lease)
		return "", err
	}
	narr.battleID = b.ID()

	if !s.BindBattle(b.ID()) {
		bm.release(lease)
		return "", ErrAlreadyInBattle
	}
	ab := &activeBattle{
		b:         b,
		input:     input,
		session:   s,
		lease:     lease,
		narrator:  narr,
		opponents: setup.Opponents,
		startedAt: time.Now(),
	}
	bm.mu.Lock()
	bm.battles[b.ID()] = ab
	bm.mu.Unlock()

	bm.markActive(ctx, b.ID())
	if bm.sched != nil && bm.cfg.MaxDuration > 0 {
		bm.sched.AddDelay(scheduler.DeadlineTask(b.ID()), bm.cfg.MaxDuration, func(context.Context) {
			bm.logger.Warn("battle exceeded max duration", zap.String("battle_id", b.ID()))
			b.Stop()
		})
	}

	bm.wg.Add(1)
	go bm.run(ab)
	return b.ID(), nil
}

func (bm *BattleSessionManager) run(ab *activeBattle) {
	defer bm.wg.Done()
	outcome := ab.b.Run(context.Background())
	bm.teardown(ab, outcome)
}

// teardown persists the result and frees everything Start acquired.
func (bm *BattleSessionManager) teardown(ab *activeBattle, outcome battle.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	id := ab.b.ID()
	owner := ab.session.Owner
	end := ab.narrator.End()
	summary := &hook.BattleSummary{
		BattleID: id,
		Owner:    owner,
		Outcome:  outcome.String(),
		Turns:    ab.b.Turn(),
	}
	if end != nil {
		summary.Exp = end.Exp
		summary.Credits = end.Credits
	}

	if outcome != battle.OutcomeAborted {
		if err := ab.lease.Commit(ctx, ab.b.Player()); err != nil {
			bm.logger.Error("commit combatant failed",
				zap.String("battle_id", id), zap.String("owner", owner), zap.Error(err))
		}
	}
	if err := bm.roster.RecordBattle(ctx, &model.BattleRecord{
		BattleID:  id,
		Owner:     owner,
		Outcome:   summary.Outcome,
		Turns:     summary.Turns,
		Exp:       summary.Exp,
		Credits:   summary.Credits,
		Opponents: ab.opponents,
		StartedAt: ab.startedAt,
		EndedAt:   time.Now(),
	}); err != nil {
		bm.logger.Error("record battle failed", zap.String("battle_id", id), zap.Error(err))
	}
	bm.release(ab.lease)

	if bm.sched != nil {
		bm.sched.Remove(scheduler.DeadlineTask(id))
	}
	bm.markInactive(ctx, id)

	bm.mu.Lock()
	delete(bm.battles, id)
	bm.mu.Unlock()
	ab.session.UnbindBattle(id)

	if outcome == battle.OutcomeAborted && ab.narrator.Aborted() {
		_, _ = bm.hooks.Trigger(ctx, hook.OnBattleAbort, summary)
	} else {
		_, _ = bm.hooks.Trigger(ctx, hook.AfterBattleEnd, summary)
	}
	if end != nil {
		for _, lu := range end.LevelUps {
			_, _ = bm.hooks.Trigger(ctx, hook.OnLevelUp, &hook.LevelUp{Owner: owner, Name: lu.Name, NewLevel: lu.NewLevel})
		}
	}
	if bm.audit != nil {
		bm.audit.Log(audit.AuditEntry{
			TraceID:  ab.session.TraceID,
			BattleID: id,
			Owner:    owner,
			Action:   audit.ActionBattleEnd,
			Turn:     summary.Turns,
			Detail:   summary,
		})
	}
	bm.logger.Info("battle torn down",
		zap.String("battle_id", id),
		zap.String("owner", owner),
		zap.String("outcome", summary.Outcome))
}

func (bm *BattleSessionManager) release(l *roster.Lease) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.Release(ctx); err != nil {
		bm.logger.Warn("release checkout failed", zap.String("owner", l.Owner), zap.Error(err))
	}
}

func (bm *BattleSessionManager) markActive(ctx context.Context, id string) {
	ttl := bm.cfg.MaxDuration
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	if err := bm.cache.Set(ctx, BattleMetaKey(id), "1", ttl+time.Minute); err != nil {
		bm.logger.Warn("mark battle active", zap.String("battle_id", id), zap.Error(err))
	}
	if err := bm.cache.SAdd(ctx, ActiveBattlesKey, id); err != nil {
		bm.logger.Warn("add active battle", zap.String("battle_id", id), zap.Error(err))
	}
}

func (bm *BattleSessionManager) markInactive(ctx context.Context, id string) {
	if err := bm.cache.Del(ctx, BattleMetaKey(id)); err != nil {
		bm.logger.Warn("clear battle meta", zap.String("battle_id", id), zap.Error(err))
	}
	if err := bm.cache.SRem(ctx, ActiveBattlesKey, id); err != nil {
		bm.logger.Warn("remove active battle", zap.String("battle_id", id), zap.Error(err))
	}
}

// ActiveIDs lists running battles across all processes sharing the cache.
func (bm *BattleSessionManager) ActiveIDs(ctx context.Context) ([]string, error) {
	return bm.cache.SMembers(ctx, ActiveBattlesKey)
}

// Sweep drops entries of the active set whose owning process went away
// without tearing them down.
func (bm *BattleSessionManager) Sweep(ctx context.Context) {
	ids, err := bm.cache.SMembers(ctx, ActiveBattlesKey)
	if err != nil {
		bm.logger.Warn("sweep: list active battles", zap.Error(err))
		return
	}
	for _, id := range ids {
		ok, err := bm.cache.Exists(ctx, BattleMetaKey(id))
		if err != nil || ok {
			continue
		}
		if err := bm.cache.SRem(ctx, ActiveBattlesKey, id); err == nil {
			bm.logger.Info("sweep: dropped stale battle", zap.String("battle_id", id))
		}
	}
}

// Shutdown stops every running battle and waits for their teardown.
func (bm *BattleSessionManager) Shutdown() {
	bm.mu.RLock()
	running := make([]*activeBattle, 0, len(bm.battles))
	for _, ab := range bm.battles {
		running = append(running, ab)
	}
	bm.mu.RUnlock()
	for _, ab := range running {
		ab.b.Stop()
	}
	bm.wg.Wait()
}

// ---- Narration ----

// sessionNarrator sends each battle event to the player as a battle_*
// packet and mirrors it to the battle's pub/sub channel for spectators.
type sessionNarrator struct {
	session  *player.PlayerSession
	pubsub   cache.PubSub
	logger   *zap.Logger
	battleID string

	mu      sync.Mutex
	end     *battle.EventBattleEnd
	aborted bool
}

func newSessionNarrator(s *player.PlayerSession, ps cache.PubSub, logger *zap.Logger) *sessionNarrator {
	return &sessionNarrator{session: s, pubsub: ps, logger: logger}
}

func (n *sessionNarrator) Narrate(_ context.Context, evt battle.BattleEvent) {
	switch e := evt.(type) {
	case *battle.EventBattleEnd:
		n.mu.Lock()
		n.end = e
		n.mu.Unlock()
	case *battle.EventBattleAborted:
		n.mu.Lock()
		n.aborted = true
		n.mu.Unlock()
	}

	typ := evt.EventType()
	if !strings.HasPrefix(typ, "battle_") {
		typ = "battle_" + typ
	}
	pkt, err := player.NewPacket(typ, evt)
	if err != nil {
		n.logger.Error("marshal battle event", zap.String("type", evt.EventType()), zap.Error(err))
		return
	}
	data, _ := json.Marshal(pkt)
	n.session.SendRaw(data)

	if n.pubsub == nil || n.battleID == "" {
		return
	}
	// Narration happens inside the battle loop and during teardown, after
	// the battle context is gone; publish on a context of its own.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := n.pubsub.Publish(ctx, BattleChannel(n.battleID), string(data)); err != nil {
		n.logger.Warn("publish battle event", zap.String("battle_id", n.battleID), zap.Error(err))
	}
}

// End returns the battle_end event once it has been narrated.
func (n *sessionNarrator) End() *battle.EventBattleEnd {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.end
}

// Aborted reports whether the battle ended on a fault.
func (n *sessionNarrator) Aborted() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.aborted
}
