package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/arcanabattle/api/sse"
	"github.com/kasuganosora/arcanabattle/api/ws"
	"github.com/kasuganosora/arcanabattle/game/player"
	"github.com/kasuganosora/arcanabattle/game/roster"
	"github.com/kasuganosora/arcanabattle/scheduler"
	"go.uber.org/zap"
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	sm       *player.SessionManager
	battles  *ws.BattleSessionManager
	store    *roster.Store
	sched    *scheduler.Scheduler
	announce *sse.Handler
	logger   *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(
	sm *player.SessionManager,
	battles *ws.BattleSessionManager,
	store *roster.Store,
	sched *scheduler.Scheduler,
	announce *sse.Handler,
	logger *zap.Logger,
) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{sm: sm, battles: battles, store: store, sched: sched, announce: announce, logger: logger}
}

// Metrics returns server health metrics.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"online_players":  h.sm.Count(),
		"local_battles":   h.battles.Count(),
		"active_leases":   h.store.ActiveLeases(),
		"scheduler_tasks": h.sched.ListTickers(),
	})
}

// ListPlayers returns a snapshot of all online players.
// GET /api/admin/players
func (h *AdminHandler) ListPlayers(c *gin.Context) {
	sessions := h.sm.All()
	type playerInfo struct {
		Owner    string `json:"owner"`
		BattleID string `json:"battle_id,omitempty"`
		TraceID  string `json:"trace_id"`
	}
	result := make([]playerInfo, 0, len(sessions))
	for _, s := range sessions {
		result = append(result, playerInfo{
			Owner:    s.Owner,
			BattleID: s.BattleID(),
			TraceID:  s.TraceID,
		})
	}
	c.JSON(http.StatusOK, gin.H{"players": result, "count": len(result)})
}

// KickPlayer forcibly disconnects a player. Their battle, if any, is
// stopped by the disconnect path.
// POST /api/admin/kick/:owner
func (h *AdminHandler) KickPlayer(c *gin.Context) {
	owner := c.Param("owner")
	s := h.sm.Get(owner)
	if s == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not online"})
		return
	}
	s.Close()
	h.logger.Info("admin kicked player", zap.String("owner", owner))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ListBattles returns battles running anywhere in the cluster, with the
// controller state of those hosted by this process.
// GET /api/admin/battles
func (h *AdminHandler) ListBattles(c *gin.Context) {
	ids, err := h.battles.ActiveIDs(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cache unavailable"})
		return
	}
	type battleInfo struct {
		ID    string `json:"id"`
		State string `json:"state,omitempty"`
		Local bool   `json:"local"`
	}
	result := make([]battleInfo, 0, len(ids))
	for _, id := range ids {
		info := battleInfo{ID: id}
		if st, ok := h.battles.State(id); ok {
			info.State = st.String()
			info.Local = true
		}
		result = append(result, info)
	}
	c.JSON(http.StatusOK, gin.H{"battles": result, "count": len(result)})
}

// StopBattle aborts a battle hosted by this process.
// POST /api/admin/battles/:id/stop
func (h *AdminHandler) StopBattle(c *gin.Context) {
	id := c.Param("id")
	if !h.battles.StopBattle(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "battle not hosted here"})
		return
	}
	h.logger.Info("admin stopped battle", zap.String("battle_id", id))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Announce broadcasts a message to every SSE announcement subscriber.
// POST /api/admin/announce
func (h *AdminHandler) Announce(c *gin.Context) {
	var req struct {
		Message string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.announce.Announce(c.Request.Context(), req.Message); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "publish failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ListSchedulerTasks returns names of all registered ticker tasks.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.ListTickers()})
}

// AdminAuth returns a middleware that checks the X-Admin-Key header.
// If adminKey is empty all admin endpoints are disabled (503) so the server
// cannot be accidentally deployed without protection.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		key := c.GetHeader("X-Admin-Key")
		if key != adminKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
