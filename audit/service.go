package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kasuganosora/arcanabattle/game/battle"
	"github.com/kasuganosora/arcanabattle/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ActionBattleAbort = "battle_abort"
	ActionBattleEnd   = "battle_end"
	ActionEquip       = "equip"
	ActionUnequip     = "unequip"
	ActionAllocate    = "allocate_stats"
)

// AuditEntry holds one audit event to be logged.
type AuditEntry struct {
	TraceID  string
	BattleID string
	Owner    string
	Action   string
	Turn     int
	Detail   interface{}
	Error    string
	Stack    string
}

// Service logs audit entries asynchronously in batches.
type Service struct {
	db       *gorm.DB
	ch       chan *model.AuditLog
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   *zap.Logger
}

// New creates a new audit Service and starts its background worker.
func New(db *gorm.DB, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &Service{
		db:     db,
		ch:     make(chan *model.AuditLog, 1024),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Log enqueues an audit entry for async DB write.
func (svc *Service) Log(entry AuditEntry) {
	var detail datatypes.JSON
	if entry.Detail != nil {
		b, err := json.Marshal(entry.Detail)
		if err != nil {
			svc.logger.Warn("audit detail not serializable",
				zap.String("action", entry.Action), zap.Error(err))
		} else {
			detail = datatypes.JSON(b)
		}
	}
	record := &model.AuditLog{
		TraceID:  entry.TraceID,
		BattleID: entry.BattleID,
		Owner:    entry.Owner,
		Action:   entry.Action,
		Turn:     entry.Turn,
		Detail:   detail,
		Error:    entry.Error,
		Stack:    entry.Stack,
	}
	select {
	case svc.ch <- record:
	default:
		svc.logger.Warn("audit channel full, dropping entry",
			zap.String("action", entry.Action))
	}
}

// Stop flushes remaining entries and shuts down the worker.
// It blocks until the worker goroutine has finished.
func (svc *Service) Stop(_ context.Context) {
	svc.stopOnce.Do(func() { close(svc.stopCh) })
	svc.wg.Wait()
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	batch := make([]*model.AuditLog, 0, 100)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("audit batch write failed", zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-svc.ch:
			batch = append(batch, entry)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			// Drain remaining entries.
			for {
				select {
				case entry := <-svc.ch:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

// ---- Battle fault reporting ----

// abortDetail is the battle context stored with an abort entry.
type abortDetail struct {
	Player    battle.CombatantSnapshot   `json:"player"`
	Opponents []battle.CombatantSnapshot `json:"opponents"`
	LastActor string                     `json:"last_actor,omitempty"`
	LastSkill string                     `json:"last_skill,omitempty"`
}

// BattleReporter records battle aborts for one player's session.
type BattleReporter struct {
	svc     *Service
	owner   string
	traceID string
}

// Reporter returns a battle.Reporter bound to owner. traceID ties the
// entries to the request that started the battle.
func (svc *Service) Reporter(owner, traceID string) *BattleReporter {
	return &BattleReporter{svc: svc, owner: owner, traceID: traceID}
}

func (r *BattleReporter) ReportAbort(_ context.Context, rep battle.AbortReport) {
	msg := ""
	if rep.Err != nil {
		msg = rep.Err.Error()
	}
	r.svc.logger.Error("battle abort reported",
		zap.String("battle_id", rep.BattleID),
		zap.String("owner", r.owner),
		zap.Int("turn", rep.Turn),
		zap.String("error", msg))
	r.svc.Log(AuditEntry{
		TraceID:  r.traceID,
		BattleID: rep.BattleID,
		Owner:    r.owner,
		Action:   ActionBattleAbort,
		Turn:     rep.Turn,
		Detail: abortDetail{
			Player:    rep.Player,
			Opponents: rep.Opponents,
			LastActor: rep.LastActor,
			LastSkill: rep.LastSkill,
		},
		Error: msg,
		Stack: rep.Stack,
	})
}

var _ battle.Reporter = (*BattleReporter)(nil)
