package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	apirest "github.com/kasuganosora/arcanabattle/api/rest"
	"github.com/kasuganosora/arcanabattle/api/sse"
	apiws "github.com/kasuganosora/arcanabattle/api/ws"
	"github.com/kasuganosora/arcanabattle/audit"
	"github.com/kasuganosora/arcanabattle/cache"
	"github.com/kasuganosora/arcanabattle/config"
	"github.com/kasuganosora/arcanabattle/game/battle"
	"github.com/kasuganosora/arcanabattle/game/player"
	"github.com/kasuganosora/arcanabattle/game/roster"
	mw "github.com/kasuganosora/arcanabattle/middleware"
	"github.com/kasuganosora/arcanabattle/plugin/hook"
	"github.com/kasuganosora/arcanabattle/resource"
	"github.com/kasuganosora/arcanabattle/scheduler"
	"github.com/kasuganosora/arcanabattle/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const adminKey = "integration-admin-key"

const fixtureSkills = `[
	{"name":"Attack","type":"physical","severity":"light","accuracy":100,"target":"enemy"},
	{"name":"Agi","type":"fire","severity":"light","cost":4,"accuracy":100,"target":"enemy"},
	{"name":"Dia","type":"healing","severity":"light","cost":3,"target":"ally"}
]`

const fixtureOpponents = `[
	{"name":"Slime","level":1,"stats":[16,16,1,1,1],"skills":["Attack"]},
	{"name":"Golem","level":20,"stats":[40,40,40,40,40],"skills":["Attack"]}
]`

// fixedRand always draws 0.5 and the lowest integer, which makes every
// hit land without a critical.
type fixedRand struct{}

func (fixedRand) Float64() float64 { return 0.5 }
func (fixedRand) Intn(int) int     { return 0 }

// TestServer wraps a real HTTP server with every subsystem wired together.
type TestServer struct {
	DB      *gorm.DB
	Cache   cache.Cache
	PubSub  cache.PubSub
	SM      *player.SessionManager
	Store   *roster.Store
	Battles *apiws.BattleSessionManager
	Hooks   *hook.HookCenter
	Sched   *scheduler.Scheduler
	Audit   *audit.Service
	Server  *httptest.Server
	URL     string // http://127.0.0.1:<port>
	WSURL   string // ws://127.0.0.1:<port>/ws
	Sec     config.SecurityConfig
}

// NewTestServer creates a fully wired server for integration testing.
// It mirrors the dependency wiring in main.go, with a fixed RNG and a fast
// battle tick.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	// ---- Infrastructure ----
	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	sec := config.SecurityConfig{
		JWTSecret:      "integration-test-secret",
		JWTTTLH:        72 * time.Hour,
		RateLimitRPS:   1000,
		RateLimitBurst: 2000,
		AllowedOrigins: []string{}, // allow all origins
	}
	bc := config.BattleConfig{
		TickInterval:  time.Millisecond,
		InputTimeout:  time.Minute,
		CheckoutTTL:   time.Minute,
		SweepInterval: time.Minute,
		MaxDuration:   time.Minute,
		InputRPS:      100,
		InputBurst:    100,
	}

	// ---- Catalog ----
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skills.json"), []byte(fixtureSkills), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "opponents.json"), []byte(fixtureOpponents), 0o644))
	res := resource.NewLoader(dir)
	require.NoError(t, res.Load())
	cat, err := battle.NewCatalog(res.Skills)
	require.NoError(t, err)

	// ---- Game Systems ----
	auditSvc := audit.New(db, logger)
	store := roster.NewStore(db, c, cat, bc.CheckoutTTL, logger)
	sm := player.NewSessionManager(logger)
	hooks := hook.NewHookCenter(logger)
	sched := scheduler.New(logger)

	battles, err := apiws.NewBattleSessionManager(apiws.BattleDeps{
		Roster:    store,
		Resources: res,
		Cache:     c,
		PubSub:    pubsub,
		Hooks:     hooks,
		Audit:     auditSvc,
		Scheduler: sched,
		Config:    bc,
		RNG:       func() battle.Rand { return fixedRand{} },
		Logger:    logger,
	})
	require.NoError(t, err)

	wsRouter := apiws.NewRouter(logger)
	battles.RegisterHandlers(wsRouter)

	// ---- Gin HTTP Server ----
	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(sec.RateLimitRPS), sec.RateLimitBurst))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	// ---- REST API routes (mirrors main.go) ----
	authH := apirest.NewAuthHandler(c, sec)
	skillH := apirest.NewSkillHandler(cat)
	combH := apirest.NewCombatantHandler(store, auditSvc, logger)
	sseH := sse.NewHandler(pubsub, c, logger)
	adminH := apirest.NewAdminHandler(sm, battles, store, sched, sseH, logger)
	requireAuth := mw.Auth(sec, c)

	api := r.Group("/api")
	{
		api.GET("/skills", skillH.List)
		api.GET("/skills/:name", skillH.Get)

		authG := api.Group("/auth", requireAuth)
		authG.POST("/logout", authH.Logout)
		authG.POST("/refresh", authH.Refresh)

		combG := api.Group("/combatant", requireAuth)
		combG.GET("", combH.Get)
		combG.POST("", combH.Create)
		combG.PUT("/equip", combH.Equip)
		combG.PUT("/stats", combH.Allocate)

		api.GET("/battles/recent", requireAuth, combH.Recent)

		adminG := api.Group("/admin", apirest.AdminAuth(adminKey))
		adminG.GET("/metrics", adminH.Metrics)
		adminG.GET("/battles", adminH.ListBattles)
		adminG.POST("/battles/:id/stop", adminH.StopBattle)
	}

	// ---- WebSocket / SSE ----
	wsH := apiws.NewHandler(sec, bc, sm, battles, wsRouter, logger)
	r.GET("/ws", requireAuth, wsH.ServeWS)
	r.GET("/sse/battles/:id", requireAuth, sseH.ServeBattle)

	// ---- Start server ----
	server := httptest.NewServer(r)
	url := server.URL
	wsURL := "ws" + url[len("http"):] + "/ws"

	ts := &TestServer{
		DB:      db,
		Cache:   c,
		PubSub:  pubsub,
		SM:      sm,
		Store:   store,
		Battles: battles,
		Hooks:   hooks,
		Sched:   sched,
		Audit:   auditSvc,
		Server:  server,
		URL:     url,
		WSURL:   wsURL,
		Sec:     sec,
	}
	t.Cleanup(ts.Close)
	return ts
}

// Close shuts down the test server and all game systems. It is safe to
// call more than once.
func (ts *TestServer) Close() {
	ts.Battles.Shutdown()
	ts.Server.Close()
	ts.Sched.Stop()
	ts.Audit.Stop(context.Background())
}

// --- HTTP helpers ---

func (ts *TestServer) do(t *testing.T, method, path string, body interface{}, token string, header map[string]string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, bodyReader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// PostJSON sends a POST request with JSON body and optional Bearer token.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPost, path, body, token, nil)
}

// Get sends a GET request with optional Bearer token.
func (ts *TestServer) Get(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodGet, path, nil, token, nil)
}

// Put sends a PUT request with JSON body and optional Bearer token.
func (ts *TestServer) Put(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPut, path, body, token, nil)
}

// Admin sends a request carrying the admin key.
func (ts *TestServer) Admin(t *testing.T, method, path string) *http.Response {
	t.Helper()
	return ts.do(t, method, path, nil, "", map[string]string{"X-Admin-Key": adminKey})
}

// ReadJSON reads and decodes a JSON response body into the given target.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// --- Auth / roster helpers ---

// Token mints a token the way the -issue-token flag does.
func (ts *TestServer) Token(t *testing.T, owner string) string {
	t.Helper()
	tok, err := mw.GenerateToken(owner, ts.Sec.JWTSecret, ts.Sec.JWTTTLH)
	require.NoError(t, err)
	return tok
}

// SeedCombatant stores a combatant strong enough to defeat a Slime with one
// basic attack.
func (ts *TestServer) SeedCombatant(t *testing.T, owner string) {
	t.Helper()
	require.NoError(t, ts.Store.Save(context.Background(), &battle.Record{
		Owner:   owner,
		Name:    "Hero",
		Skills:  []string{"Attack", "Dia"},
		Exp:     7,
		Stats:   [5]int{16, 16, 16, 16, 10},
		Credits: 100,
	}))
}

// --- WebSocket client ---

// WSClient wraps a gorilla/websocket connection for integration testing.
// Uses a background readLoop to avoid gorilla/websocket's SetReadDeadline bug.
type WSClient struct {
	Conn   *websocket.Conn
	t      *testing.T
	seq    uint64
	readCh chan readResult // buffered channel from readLoop
}

type readResult struct {
	data []byte
	err  error
}

// ConnectWS dials the test server's WS endpoint with the given JWT token.
func (ts *TestServer) ConnectWS(t *testing.T, token string) *WSClient {
	t.Helper()
	conn, resp, err := ts.DialWS(token)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, err, "WS dial failed")
	wc := &WSClient{Conn: conn, t: t, readCh: make(chan readResult, 256)}
	go wc.readLoop()
	t.Cleanup(wc.Close)
	return wc
}

// DialWS dials without failing the test so callers can inspect refusals.
func (ts *TestServer) DialWS(token string) (*websocket.Conn, *http.Response, error) {
	url := ts.WSURL
	if token != "" {
		url += "?token=" + token
	}
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	return dialer.Dial(url, nil)
}

// readLoop continuously reads from the websocket in a dedicated goroutine.
func (wc *WSClient) readLoop() {
	for {
		_, data, err := wc.Conn.ReadMessage()
		wc.readCh <- readResult{data, err}
		if err != nil {
			return
		}
	}
}

// Send writes a JSON message packet to the WebSocket.
func (wc *WSClient) Send(msgType string, payload interface{}) {
	wc.t.Helper()
	seq := atomic.AddUint64(&wc.seq, 1)
	payloadJSON, err := json.Marshal(payload)
	require.NoError(wc.t, err)
	pkt := map[string]interface{}{
		"seq":     seq,
		"type":    msgType,
		"payload": json.RawMessage(payloadJSON),
	}
	data, err := json.Marshal(pkt)
	require.NoError(wc.t, err)
	require.NoError(wc.t, wc.Conn.WriteMessage(websocket.TextMessage, data))
}

// RecvAny reads one message with a timeout, returning an error instead of
// failing the test on timeout or read failure.
func (wc *WSClient) RecvAny(timeout time.Duration) (map[string]interface{}, error) {
	select {
	case res := <-wc.readCh:
		if res.err != nil {
			return nil, res.err
		}
		var pkt map[string]interface{}
		if err := json.Unmarshal(res.data, &pkt); err != nil {
			return nil, err
		}
		return pkt, nil
	case <-time.After(timeout):
		return nil, &timeoutError{}
	}
}

// timeoutError implements net.Error for timeout detection in callers.
type timeoutError struct{}

func (e *timeoutError) Error() string   { return "read timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }

// RecvType reads messages until one with the given type is found (within
// timeout). The other packets read on the way are returned in order.
func (wc *WSClient) RecvType(msgType string, timeout time.Duration) (map[string]interface{}, []map[string]interface{}) {
	wc.t.Helper()
	var skipped []map[string]interface{}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		pkt, err := wc.RecvAny(time.Until(deadline))
		if err != nil {
			wc.t.Fatalf("WS recv failed while waiting for %q: %v", msgType, err)
		}
		if pkt["type"] == msgType {
			return pkt, skipped
		}
		skipped = append(skipped, pkt)
	}
	wc.t.Fatalf("timed out waiting for message type %q", msgType)
	return nil, nil
}

// Close closes the WebSocket connection.
func (wc *WSClient) Close() {
	_ = wc.Conn.Close()
}

// PayloadMap extracts the payload from a received WS packet as a map.
func PayloadMap(t *testing.T, pkt map[string]interface{}) map[string]interface{} {
	t.Helper()
	m, ok := pkt["payload"].(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return m
}
