package rest_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/kasuganosora/arcanabattle/audit"
	"github.com/kasuganosora/arcanabattle/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCombatant_Get(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "alice")

	w := doRequest(ts.r, http.MethodGet, "/api/combatant", nil, bearer(ts.token(t, "alice")))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "Ren", body["name"])
	assert.Equal(t, float64(3), body["level"])
	assert.Equal(t, float64(37), body["exp_to_next"])
	assert.Greater(t, body["max_hp"].(float64), float64(0))
	assert.Equal(t, float64(150), body["credits"])
}

func TestCombatant_Create(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(t, "bob")

	w := doRequest(ts.r, http.MethodPost, "/api/combatant", map[string]interface{}{
		"name": "Yu", "arcana": "Fool", "specialty": "elec",
	}, bearer(tok))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, float64(1), body["level"])
	assert.Equal(t, float64(10), body["stat_points"])

	rec, err := ts.store.Load(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"Attack"}, rec.Skills)
	assert.Equal(t, "bob", rec.Owner)

	w = doRequest(ts.r, http.MethodPost, "/api/combatant", map[string]interface{}{"name": "Yu"}, bearer(tok))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(ts.r, http.MethodPost, "/api/combatant", map[string]interface{}{
		"name": "Yosuke", "specialty": "bananas",
	}, bearer(ts.token(t, "carol")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(ts.r, http.MethodPost, "/api/combatant", map[string]interface{}{}, bearer(ts.token(t, "carol")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCombatant_GetRequiresAuth(t *testing.T) {
	ts := newTestServer(t)
	w := doRequest(ts.r, http.MethodGet, "/api/combatant", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCombatant_GetMissing(t *testing.T) {
	ts := newTestServer(t)
	w := doRequest(ts.r, http.MethodGet, "/api/combatant", nil, bearer(ts.token(t, "nobody")))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCombatant_EquipSwap(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "alice")
	tok := ts.token(t, "alice")

	w := doRequest(ts.r, http.MethodPut, "/api/combatant/equip", map[string]interface{}{
		"unequip": []string{"Agi"},
		"equip":   []string{"bufu"},
	}, bearer(tok))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	rec, err := ts.store.Load(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"Attack", "Bufu"}, rec.Skills)
	assert.ElementsMatch(t, []string{"Dormina", "Agi"}, rec.Unequipped)

	// The lease taken for the edit is released again.
	lease, _, err := ts.store.Checkout(context.Background(), "alice")
	require.NoError(t, err)
	require.NoError(t, lease.Release(context.Background()))

	ts.audit.Stop(context.Background())
	var logs []model.AuditLog
	require.NoError(t, ts.db.Where("owner = ?", "alice").Order("id").Find(&logs).Error)
	require.Len(t, logs, 2)
	assert.Equal(t, audit.ActionUnequip, logs[0].Action)
	assert.Equal(t, audit.ActionEquip, logs[1].Action)
	assert.NotEmpty(t, logs[0].TraceID)
}

func TestCombatant_EquipRejected(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "alice")
	tok := ts.token(t, "alice")

	tests := []struct {
		name string
		body map[string]interface{}
		code int
	}{
		{"empty", map[string]interface{}{}, http.StatusBadRequest},
		{"unknown skill", map[string]interface{}{"equip": []string{"Megido"}}, http.StatusBadRequest},
		{"not equipped", map[string]interface{}{"unequip": []string{"Bufu"}}, http.StatusBadRequest},
		{"last skill", map[string]interface{}{"unequip": []string{"Attack", "Agi"}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(ts.r, http.MethodPut, "/api/combatant/equip", tt.body, bearer(tok))
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}

	// A refused edit leaves the record unchanged.
	rec, err := ts.store.Load(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"Attack", "Agi"}, rec.Skills)
}

func TestCombatant_EquipWhileInBattle(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "alice")
	lease, _, err := ts.store.Checkout(context.Background(), "alice")
	require.NoError(t, err)
	defer lease.Release(context.Background())

	w := doRequest(ts.r, http.MethodPut, "/api/combatant/equip", map[string]interface{}{
		"equip": []string{"Bufu"},
	}, bearer(ts.token(t, "alice")))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCombatant_Allocate(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "alice")
	tok := ts.token(t, "alice")

	w := doRequest(ts.r, http.MethodPut, "/api/combatant/stats", map[string]interface{}{
		"stat": "magic", "points": 3,
	}, bearer(tok))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, float64(1), body["stat_points"])

	rec, err := ts.store.Load(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 15, rec.Stats[1])
	assert.Equal(t, 1, rec.StatPoints)

	w = doRequest(ts.r, http.MethodPut, "/api/combatant/stats", map[string]interface{}{
		"stat": "magic", "points": 2,
	}, bearer(tok))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(ts.r, http.MethodPut, "/api/combatant/stats", map[string]interface{}{
		"stat": "charm", "points": 1,
	}, bearer(tok))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBattles_Recent(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"b1", "b2", "b3"} {
		require.NoError(t, ts.store.RecordBattle(ctx, &model.BattleRecord{
			BattleID:  id,
			Owner:     "alice",
			Outcome:   "victory",
			Turns:     i + 1,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			EndedAt:   base.Add(time.Duration(i)*time.Minute + time.Second),
		}))
	}
	tok := ts.token(t, "alice")

	w := doRequest(ts.r, http.MethodGet, "/api/battles/recent", nil, bearer(tok))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(3), body["count"])

	w = doRequest(ts.r, http.MethodGet, "/api/battles/recent?limit=2", nil, bearer(tok))
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, float64(2), body["count"])

	w = doRequest(ts.r, http.MethodGet, "/api/battles/recent?limit=zero", nil, bearer(tok))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
