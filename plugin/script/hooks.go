package script

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kasuganosora/arcanabattle/plugin/hook"
	"go.uber.org/zap"
)

// scriptPriority runs script hooks after the built-in ones.
const scriptPriority = 500

var scriptEvents = map[string]bool{
	hook.BeforeBattleStart: true,
	hook.AfterBattleEnd:    true,
	hook.OnBattleAbort:     true,
	hook.OnLevelUp:         true,
}

// Hook is one script file bound to a battle event. Files are named
// <event>.<name>.js, e.g. before_battle_start.rainy_days.js.
//
// The body runs as a function. before_battle_start scripts see the setup as
// the global `setup`; returning false vetoes the battle and assigning its
// fields rewrites it. Arrays must be reassigned, not mutated in place. The
// other events see `summary` or `levelup` and their return value is ignored.
// Every script may call log(msg).
type Hook struct {
	Event string
	Name  string
	Path  string
	src   string
}

// LoadDir reads every hook script in dir. A missing dir yields no hooks.
func LoadDir(dir string) ([]*Hook, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("script: read %s: %w", dir, err)
	}
	var hooks []*Hook
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".js" {
			continue
		}
		base := strings.TrimSuffix(e.Name(), ".js")
		event, name, ok := strings.Cut(base, ".")
		if !ok || name == "" {
			return nil, fmt.Errorf("script: %s: want <event>.<name>.js", e.Name())
		}
		if !scriptEvents[event] {
			return nil, fmt.Errorf("script: %s: unknown event %q", e.Name(), event)
		}
		path := filepath.Join(dir, e.Name())
		body, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("script: read %s: %w", path, err)
		}
		hooks = append(hooks, &Hook{
			Event: event,
			Name:  name,
			Path:  path,
			src:   "(function() {\n" + string(body) + "\n})()",
		})
	}
	sort.Slice(hooks, func(i, j int) bool { return hooks[i].Path < hooks[j].Path })
	return hooks, nil
}

// Register binds every hook to hc. Hooks are registered under
// "script:<name>" so they can be removed with UnregisterAll.
func Register(hc *hook.HookCenter, sb *Sandbox, hooks []*Hook, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, h := range hooks {
		hc.Register(h.Event, scriptPriority, "script:"+h.Name, func(ctx context.Context, event string, data interface{}) (interface{}, error) {
			return h.run(ctx, sb, logger, data)
		})
		logger.Info("script hook registered", zap.String("event", h.Event), zap.String("name", h.Name))
	}
}

func (h *Hook) run(ctx context.Context, sb *Sandbox, logger *zap.Logger, data interface{}) (interface{}, error) {
	logFn := func(msg string) {
		logger.Info(msg, zap.String("script", h.Name), zap.String("event", h.Event))
	}

	switch d := data.(type) {
	case *hook.BattleSetup:
		view := setupView(d)
		out, err := sb.Eval(ctx, h.src, Bindings{"setup": view, "log": logFn})
		if err != nil {
			return data, err
		}
		if veto, ok := out.(bool); ok && !veto {
			return data, hook.ErrInterrupt
		}
		next := *d
		if err := applySetup(&next, view); err != nil {
			return data, fmt.Errorf("script %s: %w", h.Name, err)
		}
		return &next, nil

	case *hook.BattleSummary:
		_, err := sb.Eval(ctx, h.src, Bindings{"summary": map[string]interface{}{
			"battle_id": d.BattleID,
			"owner":     d.Owner,
			"outcome":   d.Outcome,
			"turns":     d.Turns,
			"exp":       d.Exp,
			"credits":   d.Credits,
		}, "log": logFn})
		return data, err

	case *hook.LevelUp:
		_, err := sb.Eval(ctx, h.src, Bindings{"levelup": map[string]interface{}{
			"owner":     d.Owner,
			"name":      d.Name,
			"new_level": d.NewLevel,
		}, "log": logFn})
		return data, err
	}
	return data, fmt.Errorf("script %s: unexpected payload %T", h.Name, data)
}

func setupView(s *hook.BattleSetup) map[string]interface{} {
	opponents := make([]interface{}, len(s.Opponents))
	for i, o := range s.Opponents {
		opponents[i] = o
	}
	return map[string]interface{}{
		"owner":      s.Owner,
		"opponents":  opponents,
		"ambush":     s.Ambush,
		"weather":    s.Weather,
		"severe":     s.Severe,
		"wind_speed": s.WindSpeed,
	}
}

// applySetup copies the script-visible fields back. The owner is read-only.
func applySetup(s *hook.BattleSetup, view map[string]interface{}) error {
	if v, ok := view["opponents"]; ok {
		list, ok := v.([]interface{})
		if !ok {
			return fmt.Errorf("opponents must be an array, got %T", v)
		}
		names := make([]string, 0, len(list))
		for _, o := range list {
			name, ok := o.(string)
			if !ok {
				return fmt.Errorf("opponent names must be strings, got %T", o)
			}
			names = append(names, name)
		}
		s.Opponents = names
	}
	var err error
	if s.Ambush, err = stringField(view, "ambush", s.Ambush); err != nil {
		return err
	}
	if s.Weather, err = stringField(view, "weather", s.Weather); err != nil {
		return err
	}
	if v, ok := view["severe"]; ok {
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("severe must be a boolean, got %T", v)
		}
		s.Severe = b
	}
	if v, ok := view["wind_speed"]; ok {
		switch n := v.(type) {
		case float64:
			s.WindSpeed = n
		case int64:
			s.WindSpeed = float64(n)
		default:
			return fmt.Errorf("wind_speed must be a number, got %T", v)
		}
	}
	return nil
}

func stringField(view map[string]interface{}, key, cur string) (string, error) {
	v, ok := view[key]
	if !ok {
		return cur, nil
	}
	s, ok := v.(string)
	if !ok {
		return cur, fmt.Errorf("%s must be a string, got %T", key, v)
	}
	return s, nil
}
