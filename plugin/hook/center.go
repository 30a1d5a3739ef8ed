package hook

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ErrInterrupt signals that a hook wants to stop further processing. For
// before_* events it also vetoes the action.
var ErrInterrupt = errors.New("hook interrupted")

// HookFn is a hook handler function.
// Returns (modified data, nil) to continue, or (data, ErrInterrupt) to stop.
// Any other error is logged and the chain continues with the returned data.
type HookFn func(ctx context.Context, event string, data interface{}) (interface{}, error)

type hookEntry struct {
	priority int
	fn       HookFn
	name     string
}

// HookCenter manages event hook registrations.
type HookCenter struct {
	mu     sync.RWMutex
	hooks  map[string][]*hookEntry
	logger *zap.Logger
}

// NewHookCenter creates a new HookCenter. A nil logger discards output.
func NewHookCenter(logger *zap.Logger) *HookCenter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HookCenter{hooks: make(map[string][]*hookEntry), logger: logger}
}

// Register adds a HookFn for the given event with the given priority (lower
// runs first, ties keep registration order). name is used for Unregister.
func (hc *HookCenter) Register(event string, priority int, name string, fn HookFn) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	entries := append(hc.hooks[event], &hookEntry{priority: priority, fn: fn, name: name})
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].priority < entries[j].priority
	})
	hc.hooks[event] = entries
}

// Unregister removes all hooks with the given name for the given event.
func (hc *HookCenter) Unregister(event, name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.hooks[event] = without(hc.hooks[event], name)
}

// UnregisterAll removes all hooks registered with the given name across all events.
func (hc *HookCenter) UnregisterAll(name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	for event, entries := range hc.hooks {
		hc.hooks[event] = without(entries, name)
	}
}

func without(entries []*hookEntry, name string) []*hookEntry {
	out := make([]*hookEntry, 0, len(entries))
	for _, e := range entries {
		if e.name != name {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many hooks are registered for event.
func (hc *HookCenter) Count(event string) int {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return len(hc.hooks[event])
}

// Trigger executes all registered hooks for event in priority order.
// Data flows through each handler, allowing modification.
// If any handler returns ErrInterrupt, execution stops and the error is
// returned. A panicking handler is logged and skipped.
func (hc *HookCenter) Trigger(ctx context.Context, event string, data interface{}) (interface{}, error) {
	hc.mu.RLock()
	entries := make([]*hookEntry, len(hc.hooks[event]))
	copy(entries, hc.hooks[event])
	hc.mu.RUnlock()

	for _, e := range entries {
		out, err := hc.call(ctx, e, event, data)
		if errors.Is(err, ErrInterrupt) {
			return out, err
		}
		if err != nil {
			hc.logger.Warn("hook failed",
				zap.String("event", event), zap.String("hook", e.name), zap.Error(err))
			continue
		}
		data = out
	}
	return data, nil
}

func (hc *HookCenter) call(ctx context.Context, e *hookEntry, event string, data interface{}) (out interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = data, fmt.Errorf("hook panicked: %v", r)
		}
	}()
	return e.fn(ctx, event, data)
}

// ---- Battle hook events ----

const (
	// BeforeBattleStart receives *BattleSetup. Hooks may rewrite it or veto
	// the encounter with ErrInterrupt.
	BeforeBattleStart = "before_battle_start"
	// AfterBattleEnd receives *BattleSummary once the outcome is committed.
	AfterBattleEnd = "after_battle_end"
	// OnBattleAbort receives *BattleSummary for battles ended by a fault.
	OnBattleAbort = "on_battle_abort"
	// OnLevelUp receives *LevelUp.
	OnLevelUp = "on_level_up"
)

// BattleSetup describes an encounter about to start.
type BattleSetup struct {
	Owner     string
	Opponents []string
	Ambush    string
	Weather   string
	Severe    bool
	WindSpeed float64
}

// BattleSummary describes a finished battle.
type BattleSummary struct {
	BattleID string
	Owner    string
	Outcome  string
	Turns    int
	Exp      int
	Credits  int
}

// LevelUp is emitted for each player level gained after a battle.
type LevelUp struct {
	Owner    string
	Name     string
	NewLevel int
}
