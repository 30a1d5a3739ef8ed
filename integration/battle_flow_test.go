package integration

import (
	"bufio"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startBattle(t *testing.T, ws *WSClient, opponent string) string {
	t.Helper()
	ws.Send("battle_start", map[string]interface{}{
		"opponents": []string{opponent},
		"ambush":    "player",
	})
	pkt, _ := ws.RecvType("battle_start", 5*time.Second)
	id, _ := PayloadMap(t, pkt)["battle_id"].(string)
	require.NotEmpty(t, id)
	ws.RecvType("battle_input_request", 5*time.Second)
	return id
}

func TestBattleFlow_VictoryUpdatesCombatant(t *testing.T) {
	ts := NewTestServer(t)
	ts.SeedCombatant(t, "alice")
	token := ts.Token(t, "alice")

	ws := ts.ConnectWS(t, token)
	id := startBattle(t, ws, "Slime")

	// The running battle is visible to operators.
	resp := ts.Admin(t, http.MethodGet, "/api/admin/battles")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list map[string]interface{}
	ReadJSON(t, resp, &list)
	require.Equal(t, float64(1), list["count"])
	entry := list["battles"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, id, entry["id"])
	assert.Equal(t, true, entry["local"])

	// Editing the combatant mid-battle is refused.
	resp = ts.Put(t, "/api/combatant/equip", map[string]interface{}{"unequip": []string{"Dia"}}, token)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	ws.Send("battle_decision", map[string]interface{}{"kind": "fight", "skill": "Attack"})
	end, seen := ws.RecvType("battle_end", 5*time.Second)
	body := PayloadMap(t, end)
	assert.Equal(t, "victory", body["outcome"])
	assert.Equal(t, float64(2), body["exp"])
	assert.Equal(t, float64(10), body["credits"])

	var types []string
	for _, p := range seen {
		types = append(types, p["type"].(string))
	}
	assert.Contains(t, types, "battle_skill_result")
	assert.Contains(t, types, "battle_fainted")

	require.Eventually(t, func() bool { return ts.Battles.Count() == 0 }, 5*time.Second, 10*time.Millisecond)

	resp = ts.Get(t, "/api/combatant", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var comb map[string]interface{}
	ReadJSON(t, resp, &comb)
	assert.Equal(t, float64(9), comb["exp"])
	assert.Equal(t, float64(110), comb["credits"])

	resp = ts.Get(t, "/api/battles/recent", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var recent map[string]interface{}
	ReadJSON(t, resp, &recent)
	require.Equal(t, float64(1), recent["count"])
	first := recent["battles"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, id, first["battle_id"])
	assert.Equal(t, "victory", first["outcome"])

	// The lease is free again.
	resp = ts.Put(t, "/api/combatant/equip", map[string]interface{}{"unequip": []string{"Dia"}}, token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestBattleFlow_SecondStartRefused(t *testing.T) {
	ts := NewTestServer(t)
	ts.SeedCombatant(t, "alice")
	ws := ts.ConnectWS(t, ts.Token(t, "alice"))
	startBattle(t, ws, "Golem")

	ws.Send("battle_start", map[string]interface{}{"opponents": []string{"Slime"}})
	pkt, _ := ws.RecvType("error", 5*time.Second)
	assert.Equal(t, "already in a battle", PayloadMap(t, pkt)["message"])
}

func TestBattleFlow_DisconnectAborts(t *testing.T) {
	ts := NewTestServer(t)
	ts.SeedCombatant(t, "bob")
	token := ts.Token(t, "bob")

	ws := ts.ConnectWS(t, token)
	startBattle(t, ws, "Golem")
	ws.Close()

	require.Eventually(t, func() bool { return ts.Battles.Count() == 0 }, 5*time.Second, 10*time.Millisecond)

	resp := ts.Get(t, "/api/battles/recent", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var recent map[string]interface{}
	ReadJSON(t, resp, &recent)
	require.Equal(t, float64(1), recent["count"])
	first := recent["battles"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "aborted", first["outcome"])

	// An aborted battle commits nothing.
	resp = ts.Get(t, "/api/combatant", token)
	var comb map[string]interface{}
	ReadJSON(t, resp, &comb)
	assert.Equal(t, float64(7), comb["exp"])
	assert.Equal(t, float64(100), comb["credits"])
}

func TestBattleFlow_AdminStop(t *testing.T) {
	ts := NewTestServer(t)
	ts.SeedCombatant(t, "carol")
	ws := ts.ConnectWS(t, ts.Token(t, "carol"))
	id := startBattle(t, ws, "Golem")

	resp := ts.Admin(t, http.MethodPost, "/api/admin/battles/"+id+"/stop")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	end, _ := ws.RecvType("battle_end", 5*time.Second)
	assert.Equal(t, "aborted", PayloadMap(t, end)["outcome"])

	require.Eventually(t, func() bool { return ts.Battles.Count() == 0 }, 5*time.Second, 10*time.Millisecond)
	resp = ts.Admin(t, http.MethodPost, "/api/admin/battles/"+id+"/stop")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestBattleFlow_Spectator(t *testing.T) {
	ts := NewTestServer(t)
	ts.SeedCombatant(t, "alice")
	ws := ts.ConnectWS(t, ts.Token(t, "alice"))
	id := startBattle(t, ws, "Slime")

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/sse/battles/"+id, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+ts.Token(t, "dave"))
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sc := bufio.NewScanner(resp.Body)
	require.True(t, sc.Scan())
	require.Equal(t, "event: connected", sc.Text())

	ws.Send("battle_decision", map[string]interface{}{"kind": "fight", "skill": "Attack"})

	var events []string
	for sc.Scan() {
		if name, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
			events = append(events, name)
		}
	}
	require.NotEmpty(t, events)
	assert.Contains(t, events, "battle_skill_result")
	assert.Equal(t, "battle_end", events[len(events)-1])

	// Once the battle is gone there is nothing left to watch.
	require.Eventually(t, func() bool { return ts.Battles.Count() == 0 }, 5*time.Second, 10*time.Millisecond)
	resp2 := ts.Get(t, "/sse/battles/"+id, ts.Token(t, "dave"))
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
	resp2.Body.Close()
}
