package ws

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/arcanabattle/config"
	"github.com/kasuganosora/arcanabattle/game/player"
	mw "github.com/kasuganosora/arcanabattle/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Handler is the Gin handler for GET /ws. It must sit behind mw.Auth.
type Handler struct {
	sm       *player.SessionManager
	battles  *BattleSessionManager
	router   *Router
	input    config.BattleConfig
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket Handler.
// sec.AllowedOrigins controls which WebSocket origins are accepted.
// An empty slice permits all origins (development only).
func NewHandler(
	sec config.SecurityConfig,
	bc config.BattleConfig,
	sm *player.SessionManager,
	battles *BattleSessionManager,
	router *Router,
	logger *zap.Logger,
) *Handler {
	h := &Handler{
		sm:      sm,
		battles: battles,
		router:  router,
		input:   bc,
		logger:  logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     OriginChecker(sec.AllowedOrigins),
	}
	return h
}

// OriginChecker accepts requests whose Origin header is in allowed, or any
// origin when allowed is empty.
func OriginChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		for _, o := range allowed {
			if o == origin {
				return true
			}
		}
		return false
	}
}

// ServeWS handles GET /ws?token=<jwt>.
func (h *Handler) ServeWS(c *gin.Context) {
	owner := mw.GetOwner(c)
	if owner == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing owner"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", zap.Error(err))
		return
	}

	var limiter *rate.Limiter
	if h.input.InputRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(h.input.InputRPS), h.input.InputBurst)
	}
	sess := player.NewPlayerSession(owner, conn, limiter, h.logger)
	sess.TraceID = mw.GetTraceID(c)

	h.sm.Register(sess)
	h.readPump(sess)
}

// readPump reads messages from the WebSocket connection and dispatches them.
func (h *Handler) readPump(s *player.PlayerSession) {
	defer h.handleDisconnect(s)

	s.SetReadDeadline()
	s.Conn.SetPongHandler(func(string) error {
		s.SetReadDeadline()
		return nil
	})

	for {
		_, raw, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close",
					zap.String("owner", s.Owner),
					zap.Error(err))
			}
			return
		}
		s.SetReadDeadline()
		h.router.Dispatch(s, raw)
	}
}

// handleDisconnect stops the session's battle and drops the session.
func (h *Handler) handleDisconnect(s *player.PlayerSession) {
	s.Close()
	if h.battles != nil {
		h.battles.OnDisconnect(s)
	}
	h.sm.Unregister(s)
	h.logger.Info("player disconnected", zap.String("owner", s.Owner))
}
