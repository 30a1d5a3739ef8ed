package roster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/arcanabattle/cache"
	"github.com/kasuganosora/arcanabattle/game/battle"
	"github.com/kasuganosora/arcanabattle/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound   = errors.New("roster: combatant not found")
	ErrCheckedOut = errors.New("roster: combatant is checked out")
	ErrLeaseLost  = errors.New("roster: checkout lease lost")
	ErrExists     = errors.New("roster: combatant already exists")
)

const (
	DefaultLeaseTTL = 60 * time.Second
	recentLimit     = 10
)

// Store persists player combatants and hands out exclusive checkouts for
// the duration of a battle.
type Store struct {
	db       *gorm.DB
	cache    cache.Cache
	catalog  *battle.Catalog
	logger   *zap.Logger
	leaseTTL time.Duration

	mu     sync.Mutex
	leases map[string]*Lease // token → lease
}

func NewStore(db *gorm.DB, c cache.Cache, cat *battle.Catalog, leaseTTL time.Duration, logger *zap.Logger) *Store {
	if leaseTTL <= 0 {
		leaseTTL = DefaultLeaseTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:       db,
		cache:    c,
		catalog:  cat,
		logger:   logger,
		leaseTTL: leaseTTL,
		leases:   make(map[string]*Lease),
	}
}

func (s *Store) Catalog() *battle.Catalog { return s.catalog }

// ---- Records ----

// Load returns the stored record for owner.
func (s *Store) Load(ctx context.Context, owner string) (*battle.Record, error) {
	var row model.CombatantRow
	err := s.db.WithContext(ctx).Where("owner = ?", owner).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("roster: load %s: %w", owner, err)
	}
	return rowToRecord(&row), nil
}

// Save inserts or replaces the record keyed by its owner. The record must
// resolve against the catalog.
func (s *Store) Save(ctx context.Context, rec *battle.Record) error {
	if rec.Owner == "" {
		return errors.New("roster: record has no owner")
	}
	if _, err := battle.NewCombatantFromRecord(rec, s.catalog); err != nil {
		return fmt.Errorf("roster: invalid record: %w", err)
	}
	row := recordToRow(rec)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "owner"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "skills", "unequipped", "exp", "stats", "resistances",
			"arcana", "specialty", "stat_points", "description", "credits", "updated_at",
		}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("roster: save %s: %w", rec.Owner, err)
	}
	return nil
}

// Create stores a new record and fails with ErrExists if owner already has
// one.
func (s *Store) Create(ctx context.Context, rec *battle.Record) error {
	if rec.Owner == "" {
		return errors.New("roster: record has no owner")
	}
	if _, err := battle.NewCombatantFromRecord(rec, s.catalog); err != nil {
		return fmt.Errorf("roster: invalid record: %w", err)
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(recordToRow(rec))
	if res.Error != nil {
		return fmt.Errorf("roster: create %s: %w", rec.Owner, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrExists
	}
	return nil
}

func rowToRecord(row *model.CombatantRow) *battle.Record {
	rec := &battle.Record{
		Owner:       row.Owner,
		Name:        row.Name,
		Skills:      append([]string(nil), row.Skills...),
		Unequipped:  append([]string(nil), row.Unequipped...),
		Exp:         int(row.Exp),
		Resistances: row.Resistances.Data(),
		Arcana:      row.Arcana,
		Specialty:   row.Specialty,
		StatPoints:  row.StatPoints,
		Description: row.Description,
		Credits:     int(row.Credits),
	}
	copy(rec.Stats[:], row.Stats)
	if rec.Resistances == nil {
		rec.Resistances = map[string]string{}
	}
	return rec
}

func recordToRow(rec *battle.Record) *model.CombatantRow {
	return &model.CombatantRow{
		Owner:       rec.Owner,
		Name:        rec.Name,
		Skills:      datatypes.JSONSlice[string](rec.Skills),
		Unequipped:  datatypes.JSONSlice[string](rec.Unequipped),
		Exp:         int64(rec.Exp),
		Stats:       datatypes.JSONSlice[int](rec.Stats[:]),
		Resistances: datatypes.NewJSONType(rec.Resistances),
		Arcana:      rec.Arcana,
		Specialty:   rec.Specialty,
		StatPoints:  rec.StatPoints,
		Description: rec.Description,
		Credits:     int64(rec.Credits),
	}
}

// ---- Checkout ----

// Lease is an exclusive hold on one owner's combatant.
type Lease struct {
	Owner string
	Token string
	store *Store
}

func checkoutKey(owner string) string {
	return "roster:checkout:" + strings.ToLower(owner)
}

// Checkout takes the owner's lease and builds the live combatant. A second
// checkout of the same owner fails with ErrCheckedOut until the first lease
// is released or expires.
func (s *Store) Checkout(ctx context.Context, owner string) (*Lease, *battle.Combatant, error) {
	token := uuid.NewString()
	ok, err := s.cache.SetNX(ctx, checkoutKey(owner), token, s.leaseTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("roster: checkout %s: %w", owner, err)
	}
	if !ok {
		return nil, nil, ErrCheckedOut
	}
	lease := &Lease{Owner: owner, Token: token, store: s}

	rec, err := s.Load(ctx, owner)
	if err == nil {
		var c *battle.Combatant
		if c, err = battle.NewCombatantFromRecord(rec, s.catalog); err == nil {
			s.mu.Lock()
			s.leases[token] = lease
			s.mu.Unlock()
			return lease, c, nil
		}
	}
	if _, derr := s.cache.DelIfValue(ctx, checkoutKey(owner), token); derr != nil {
		s.logger.Warn("roster: release after failed checkout", zap.String("owner", owner), zap.Error(derr))
	}
	return nil, nil, err
}

// Refresh extends the lease TTL. It fails with ErrLeaseLost once another
// holder owns the key or it has expired.
func (l *Lease) Refresh(ctx context.Context) error {
	key := checkoutKey(l.Owner)
	v, err := l.store.cache.Get(ctx, key)
	if errors.Is(err, cache.ErrNotFound) || (err == nil && v != l.Token) {
		return ErrLeaseLost
	}
	if err != nil {
		return err
	}
	return l.store.cache.Expire(ctx, key, l.store.leaseTTL)
}

// Release gives the lease back. Releasing twice is harmless.
func (l *Lease) Release(ctx context.Context) error {
	l.store.mu.Lock()
	delete(l.store.leases, l.Token)
	l.store.mu.Unlock()
	_, err := l.store.cache.DelIfValue(ctx, checkoutKey(l.Owner), l.Token)
	return err
}

// Commit persists the combatant's progression while the lease is held.
func (l *Lease) Commit(ctx context.Context, c *battle.Combatant) error {
	if err := l.Refresh(ctx); err != nil {
		return err
	}
	rec := c.ToRecord()
	rec.Owner = l.Owner
	return l.store.Save(ctx, rec)
}

// RefreshAll extends every live lease. Run it on a ticker shorter than the
// lease TTL; leases that were lost are dropped.
func (s *Store) RefreshAll(ctx context.Context) {
	s.mu.Lock()
	leases := make([]*Lease, 0, len(s.leases))
	for _, l := range s.leases {
		leases = append(leases, l)
	}
	s.mu.Unlock()

	for _, l := range leases {
		err := l.Refresh(ctx)
		switch {
		case errors.Is(err, ErrLeaseLost):
			s.logger.Warn("roster: checkout lease lost", zap.String("owner", l.Owner))
			s.mu.Lock()
			delete(s.leases, l.Token)
			s.mu.Unlock()
		case err != nil:
			s.logger.Error("roster: lease refresh failed", zap.String("owner", l.Owner), zap.Error(err))
		}
	}
}

// ActiveLeases is the number of checkouts held by this process.
func (s *Store) ActiveLeases() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.leases)
}

// ---- Battle history ----

// Summary is the short form of a finished battle kept in the recent list.
type Summary struct {
	BattleID string    `json:"battle_id"`
	Outcome  string    `json:"outcome"`
	Turns    int       `json:"turns"`
	Exp      int       `json:"exp"`
	Credits  int       `json:"credits"`
	EndedAt  time.Time `json:"ended_at"`
}

// RecordBattle stores a finished battle and pushes it onto the owner's
// recent list.
func (s *Store) RecordBattle(ctx context.Context, rec *model.BattleRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("roster: record battle %s: %w", rec.BattleID, err)
	}
	b, _ := json.Marshal(Summary{
		BattleID: rec.BattleID,
		Outcome:  rec.Outcome,
		Turns:    rec.Turns,
		Exp:      rec.Exp,
		Credits:  rec.Credits,
		EndedAt:  rec.EndedAt,
	})
	key := recentKey(rec.Owner)
	if err := s.cache.LPush(ctx, key, string(b)); err != nil {
		return err
	}
	return s.cache.LTrim(ctx, key, 0, recentLimit-1)
}

// Recent returns the owner's latest battles, newest first.
func (s *Store) Recent(ctx context.Context, owner string) ([]Summary, error) {
	items, err := s.cache.LRange(ctx, recentKey(owner), 0, recentLimit-1)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(items))
	for _, it := range items {
		var sum Summary
		if err := json.Unmarshal([]byte(it), &sum); err != nil {
			continue
		}
		out = append(out, sum)
	}
	return out, nil
}

// History reads finished battles from the database, newest first.
func (s *Store) History(ctx context.Context, owner string, limit int) ([]model.BattleRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var rows []model.BattleRecord
	err := s.db.WithContext(ctx).
		Where("owner = ?", owner).
		Order("ended_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func recentKey(owner string) string {
	return "roster:recent:" + strings.ToLower(owner)
}
