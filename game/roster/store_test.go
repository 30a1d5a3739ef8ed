package roster

import (
	"context"
	"testing"
	"time"

	"github.com/kasuganosora/arcanabattle/game/battle"
	"github.com/kasuganosora/arcanabattle/model"
	"github.com/kasuganosora/arcanabattle/resource"
	"github.com/kasuganosora/arcanabattle/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	cat, err := battle.NewCatalog([]*resource.SkillRecord{
		{Name: "Attack", Type: "physical", Accuracy: 100, Target: "enemy"},
		{Name: "Agi", Type: "fire", Cost: 4, Accuracy: 100, Target: "enemy"},
		{Name: "Bufu", Type: "ice", Cost: 4, Accuracy: 100, Target: "enemy"},
		{Name: "Dia", Type: "healing", Cost: 3, Target: "ally"},
	})
	require.NoError(t, err)
	return NewStore(db, c, cat, time.Minute, nil)
}

func sampleRecord(owner string) *battle.Record {
	return &battle.Record{
		Owner:       owner,
		Name:        "Ren",
		Skills:      []string{"Agi", "Dia"},
		Unequipped:  []string{"Bufu"},
		Exp:         27,
		Stats:       [5]int{10, 12, 9, 11, 8},
		Resistances: map[string]string{"fire": "resist", "ice": "weak"},
		Arcana:      "Fool",
		Specialty:   "fire",
		Credits:     150,
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleRecord("alice")))
	got, err := s.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, sampleRecord("alice"), got)
}

func TestSave_Upserts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec := sampleRecord("alice")
	require.NoError(t, s.Save(ctx, rec))
	rec.Exp = 64
	rec.Credits = 10
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 64, got.Exp)
	assert.Equal(t, 10, got.Credits)

	var n int64
	s.db.Model(&model.CombatantRow{}).Count(&n)
	assert.Equal(t, int64(1), n)
}

func TestSave_RejectsInvalid(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec := sampleRecord("alice")
	rec.Skills = []string{"Maragidyne"}
	assert.ErrorIs(t, s.Save(ctx, rec), battle.ErrUnknownSkill)

	rec = sampleRecord("")
	assert.Error(t, s.Save(ctx, rec))
}

func TestCreate_RefusesDuplicate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, sampleRecord("alice")))
	dup := sampleRecord("alice")
	dup.Credits = 9999
	assert.ErrorIs(t, s.Create(ctx, dup), ErrExists)

	got, err := s.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 150, got.Credits)
}

func TestLoad_NotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.Load(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCheckout_Exclusive(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, sampleRecord("alice")))

	lease, c, err := s.Checkout(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Ren", c.Name)
	assert.Equal(t, 1, s.ActiveLeases())

	_, _, err = s.Checkout(ctx, "alice")
	assert.ErrorIs(t, err, ErrCheckedOut)

	require.NoError(t, lease.Release(ctx))
	assert.Equal(t, 0, s.ActiveLeases())

	again, _, err := s.Checkout(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestCheckout_MissingRecordFreesKey(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, _, err := s.Checkout(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := s.cache.Exists(ctx, checkoutKey("ghost"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLease_StaleReleaseKeepsNewHolder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, sampleRecord("alice")))

	old, _, err := s.Checkout(ctx, "alice")
	require.NoError(t, err)

	// Simulate expiry followed by another holder.
	require.NoError(t, s.cache.Del(ctx, checkoutKey("alice")))
	fresh, _, err := s.Checkout(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, old.Release(ctx))
	assert.ErrorIs(t, old.Refresh(ctx), ErrLeaseLost)
	assert.NoError(t, fresh.Refresh(ctx))

	_, _, err = s.Checkout(ctx, "alice")
	assert.ErrorIs(t, err, ErrCheckedOut)
}

func TestRefreshAll_DropsLostLeases(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, sampleRecord("alice")))
	require.NoError(t, s.Save(ctx, sampleRecord("bob")))

	_, _, err := s.Checkout(ctx, "alice")
	require.NoError(t, err)
	_, _, err = s.Checkout(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, 2, s.ActiveLeases())

	require.NoError(t, s.cache.Del(ctx, checkoutKey("bob")))
	s.RefreshAll(ctx)
	assert.Equal(t, 1, s.ActiveLeases())
}

func TestCommit_PersistsProgression(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, sampleRecord("alice")))

	lease, c, err := s.Checkout(ctx, "alice")
	require.NoError(t, err)
	c.Credits += 40
	require.NoError(t, lease.Commit(ctx, c))
	require.NoError(t, lease.Release(ctx))

	got, err := s.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 190, got.Credits)

	assert.ErrorIs(t, lease.Commit(ctx, c), ErrLeaseLost)
}

func TestRecordBattle_RecentNewestFirst(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i, id := range []string{"b1", "b2", "b3"} {
		require.NoError(t, s.RecordBattle(ctx, &model.BattleRecord{
			BattleID:  id,
			Owner:     "alice",
			Outcome:   "victory",
			Turns:     i + 1,
			Exp:       10,
			StartedAt: base,
			EndedAt:   base.Add(time.Duration(i) * time.Minute),
		}))
	}

	recent, err := s.Recent(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "b3", recent[0].BattleID)
	assert.Equal(t, 3, recent[0].Turns)

	hist, err := s.History(ctx, "alice", 2)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "b3", hist[0].BattleID)
	assert.Equal(t, "b2", hist[1].BattleID)
}

func TestRecent_Trimmed(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	for i := 0; i < recentLimit+5; i++ {
		require.NoError(t, s.RecordBattle(ctx, &model.BattleRecord{
			BattleID: "b" + string(rune('a'+i)),
			Owner:    "alice",
			Outcome:  "fled",
		}))
	}
	recent, err := s.Recent(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, recent, recentLimit)
}
