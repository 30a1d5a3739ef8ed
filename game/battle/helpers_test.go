package battle

import (
	"context"
	"sync"
	"testing"

	"github.com/kasuganosora/arcanabattle/resource"
)

// fixedRand returns the same draw every time. f=0.5 gives a variance of
// exactly 1.0 and a 50% roll.
type fixedRand struct {
	f float64
	n int
}

func (r *fixedRand) Float64() float64 { return r.f }

func (r *fixedRand) Intn(n int) int {
	if r.n >= n {
		return n - 1
	}
	return r.n
}

func testRecords() []*resource.SkillRecord {
	return []*resource.SkillRecord{
		{Name: "Attack", Type: "physical", Severity: "light", Accuracy: 100, Target: "enemy"},
		{Name: "Agi", Type: "fire", Cost: 4, Accuracy: 100, Target: "enemy"},
		{Name: "Agidyne", Type: "fire", Severity: "heavy", Cost: 60, Accuracy: 100, Target: "enemy"},
		{Name: "Bufu", Type: "ice", Cost: 4, Accuracy: 100, Target: "enemy"},
		{Name: "Zio", Type: "elec", Cost: 4, Accuracy: 100, Target: "enemy"},
		{Name: "Garu", Type: "wind", Cost: 3, Accuracy: 100, Target: "enemy"},
		{Name: "Maragi", Type: "fire", Cost: 10, Accuracy: 100, Target: "enemies"},
		{Name: "Megido", Type: "almighty", Cost: 20, Accuracy: 100, Target: "all"},
		{Name: "Cleave", Type: "physical", Cost: 10, Accuracy: 100, Target: "enemy"},
		{Name: "Double Fangs", Type: "physical", Cost: 5, Accuracy: 100, MinHits: 2, MaxHits: 2, Target: "enemy"},
		{Name: "Wild Swing", Type: "physical", Accuracy: 50, Target: "enemy"},
		{Name: "Mudo", Type: "dark", Cost: 5, Accuracy: 100, Target: "enemy"},
		{Name: "Dia", Type: "healing", Cost: 3, Target: "ally"},
		{Name: "Patra", Type: "healing", Severity: "miniscule", Cost: 2, Target: "ally"},
		{Name: "Dormina", Type: "ailment", Cost: 5, Accuracy: 100, Target: "enemy", Ailment: "sleep"},
		{Name: "Tarukaja", Type: "support", Cost: 8, Target: "self"},
		{Name: "Matarukaja", Type: "support", Cost: 12, Target: "allies"},
		{Name: "Rakunda", Type: "support", Cost: 8, Target: "enemy"},
		{Name: "Dekaja", Type: "support", Cost: 10, Target: "enemy"},
		{Name: "Fire Shield", Type: "support", Cost: 10, Target: "self"},
		{Name: "Charge", Type: "support", Cost: 15, Target: "self"},
		{Name: "Guard", Type: "support", Target: "self"},
		{Name: "Trafuri", Type: "support", Cost: 5, Target: "self"},
		{Name: "Repel Fire", Type: "passive"},
		{Name: "Null Fire", Type: "passive"},
		{Name: "Resist Fire", Type: "passive"},
		{Name: "Null Dark", Type: "passive"},
		{Name: "Drain Ice", Type: "passive"},
		{Name: "Dodge Phys", Type: "passive"},
		{Name: "Endure", Type: "passive"},
		{Name: "Enduring Soul", Type: "passive"},
		{Name: "Counter", Type: "passive", Accuracy: 100},
		{Name: "Regenerate", Type: "passive"},
		{Name: "Victory Cry", Type: "passive"},
		{Name: "Mudo Boost", Type: "passive"},
		{Name: "Pulinpa", Type: "ailment", Cost: 6, Accuracy: 40, Target: "enemy", Ailment: "confuse"},
		{Name: "Invigorate", Type: "passive"},
		{Name: "Adverse Resolve", Type: "passive"},
		{Name: "Fortified Moxy", Type: "passive"},
		{Name: "Heat Up", Type: "passive"},
		{Name: "Angelic Grace", Type: "passive"},
		{Name: "Ali Dance", Type: "passive"},
		{Name: "Rainy Play", Type: "passive"},
		{Name: "Apt Pupil", Type: "passive"},
		{Name: "Sharp Student", Type: "passive"},
	}
}

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	cat, err := NewCatalog(testRecords())
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return cat
}

// newFighter builds a fixed-level combatant with the named skills.
func newFighter(t *testing.T, cat *Catalog, name string, stats [5]int, level int, skills ...string) *Combatant {
	t.Helper()
	list, err := cat.Resolve(skills)
	if err != nil {
		t.Fatalf("resolve %v: %v", skills, err)
	}
	return NewCombatant(CombatantConfig{Name: name, Stats: stats, Level: level, Skills: list})
}

func mustSkill(t *testing.T, cat *Catalog, name string) *Skill {
	t.Helper()
	s, err := cat.Lookup(name)
	if err != nil {
		t.Fatalf("lookup %s: %v", name, err)
	}
	return s
}

// even is a 16-everywhere stat line: a neutral light hit between two of
// them deals ceil(5*sqrt(65)) = 41.
var even = [5]int{16, 16, 16, 16, 10}

// script is a Narrator that records events and answers prompts from a
// queue. Prompts with an empty queue go unanswered and time out.
type script struct {
	mu        sync.Mutex
	input     *ChannelInput
	decisions []Decision
	targets   []TargetChoice
	events    []BattleEvent
	onInput   func()
}

func newScript(decisions ...Decision) *script {
	s := &script{decisions: decisions}
	s.input = NewChannelInput(s)
	return s
}

func (s *script) Narrate(_ context.Context, evt BattleEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	switch evt.(type) {
	case *EventInputRequest:
		if s.onInput != nil {
			s.onInput()
		}
		if len(s.decisions) > 0 {
			s.input.SubmitDecision(s.decisions[0])
			s.decisions = s.decisions[1:]
		}
	case *EventTargetRequest:
		if len(s.targets) > 0 {
			s.input.SubmitTarget(s.targets[0])
			s.targets = s.targets[1:]
		}
	}
}

func (s *script) eventsOfType(typ string) []BattleEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []BattleEvent
	for _, e := range s.events {
		if e.EventType() == typ {
			out = append(out, e)
		}
	}
	return out
}

func (s *script) statusKeys() []string {
	var keys []string
	for _, e := range s.eventsOfType("status") {
		keys = append(keys, e.(*EventStatus).Key)
	}
	return keys
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
