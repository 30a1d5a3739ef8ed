package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/arcanabattle/api/rest"
	"github.com/kasuganosora/arcanabattle/api/sse"
	"github.com/kasuganosora/arcanabattle/api/ws"
	"github.com/kasuganosora/arcanabattle/audit"
	"github.com/kasuganosora/arcanabattle/cache"
	"github.com/kasuganosora/arcanabattle/config"
	"github.com/kasuganosora/arcanabattle/game/battle"
	"github.com/kasuganosora/arcanabattle/game/player"
	"github.com/kasuganosora/arcanabattle/game/roster"
	mw "github.com/kasuganosora/arcanabattle/middleware"
	"github.com/kasuganosora/arcanabattle/resource"
	"github.com/kasuganosora/arcanabattle/scheduler"
	"github.com/kasuganosora/arcanabattle/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const adminKey = "test-admin-key"

var testSec = config.SecurityConfig{JWTSecret: "test-secret", JWTTTLH: time.Hour}

type testServer struct {
	r       *gin.Engine
	db      *gorm.DB
	cache   cache.Cache
	store   *roster.Store
	sm      *player.SessionManager
	sched   *scheduler.Scheduler
	audit   *audit.Service
	battles *ws.BattleSessionManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	cat, err := battle.NewCatalog([]*resource.SkillRecord{
		{Name: "Attack", Type: "physical", Accuracy: 95, Target: "enemy"},
		{Name: "Agi", Type: "fire", Cost: 4, Accuracy: 95, Target: "enemy"},
		{Name: "Bufu", Type: "ice", Cost: 4, Accuracy: 95, Target: "enemy"},
		{Name: "Dormina", Type: "ailment", Cost: 8, Accuracy: 60, Target: "enemy", Ailment: "sleep"},
		{Name: "Null Fire", Type: "passive"},
	})
	require.NoError(t, err)

	store := roster.NewStore(db, c, cat, time.Minute, nil)
	sm := player.NewSessionManager(nil)
	sched := scheduler.New(nil)
	svc := audit.New(db, nil)
	t.Cleanup(func() {
		sched.Stop()
		svc.Stop(context.Background())
	})
	battles, err := ws.NewBattleSessionManager(ws.BattleDeps{
		Roster:    store,
		Resources: resource.NewLoader(t.TempDir()),
		Cache:     c,
		PubSub:    ps,
	})
	require.NoError(t, err)
	sseH := sse.NewHandler(ps, c, nil)

	authH := rest.NewAuthHandler(c, testSec)
	skillH := rest.NewSkillHandler(cat)
	combH := rest.NewCombatantHandler(store, svc, nil)
	adminH := rest.NewAdminHandler(sm, battles, store, sched, sseH, nil)

	r := gin.New()
	r.Use(mw.TraceID())
	api := r.Group("/api")
	api.GET("/skills", skillH.List)
	api.GET("/skills/:name", skillH.Get)

	authed := api.Group("", mw.Auth(testSec, c))
	authed.POST("/auth/logout", authH.Logout)
	authed.POST("/auth/refresh", authH.Refresh)
	authed.GET("/combatant", combH.Get)
	authed.POST("/combatant", combH.Create)
	authed.PUT("/combatant/equip", combH.Equip)
	authed.PUT("/combatant/stats", combH.Allocate)
	authed.GET("/battles/recent", combH.Recent)

	admin := api.Group("/admin", rest.AdminAuth(adminKey))
	admin.GET("/metrics", adminH.Metrics)
	admin.GET("/players", adminH.ListPlayers)
	admin.POST("/kick/:owner", adminH.KickPlayer)
	admin.GET("/battles", adminH.ListBattles)
	admin.POST("/battles/:id/stop", adminH.StopBattle)
	admin.POST("/announce", adminH.Announce)
	admin.GET("/scheduler", adminH.ListSchedulerTasks)

	return &testServer{r: r, db: db, cache: c, store: store, sm: sm, sched: sched, audit: svc, battles: battles}
}

func (ts *testServer) token(t *testing.T, owner string) string {
	t.Helper()
	tok, err := mw.GenerateToken(owner, testSec.JWTSecret, testSec.JWTTTLH)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) seed(t *testing.T, owner string) *battle.Record {
	t.Helper()
	rec := &battle.Record{
		Owner:       owner,
		Name:        "Ren",
		Skills:      []string{"Attack", "Agi"},
		Unequipped:  []string{"Bufu", "Dormina"},
		Exp:         27,
		Stats:       [5]int{10, 12, 9, 11, 8},
		Resistances: map[string]string{"fire": "resist"},
		Arcana:      "Fool",
		StatPoints:  4,
		Credits:     150,
	}
	require.NoError(t, ts.store.Save(context.Background(), rec))
	return rec
}

func doRequest(r http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var b []byte
	if body != nil {
		b, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}
