package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/arcanabattle/api/ws"
	"github.com/kasuganosora/arcanabattle/cache"
	mw "github.com/kasuganosora/arcanabattle/middleware"
	"go.uber.org/zap"
)

const announceChannel = "announce"

const keepaliveInterval = 30 * time.Second

// Handler streams server-sent events: operator announcements and live
// narration of running battles.
type Handler struct {
	pubsub cache.PubSub
	c      cache.Cache
	logger *zap.Logger
}

// NewHandler creates a new SSE Handler.
func NewHandler(pubsub cache.PubSub, c cache.Cache, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{pubsub: pubsub, c: c, logger: logger}
}

func writeHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
}

// ServeAnnounce handles GET /sse. Must sit behind mw.Auth.
func (h *Handler) ServeAnnounce(c *gin.Context) {
	h.stream(c, announceChannel, "announce", nil)
}

// ServeBattle handles GET /sse/battles/:id. Must sit behind mw.Auth.
// Any authenticated player may spectate; the stream ends with the battle.
func (h *Handler) ServeBattle(c *gin.Context) {
	id := c.Param("id")
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	ok, err := h.c.Exists(ctx, ws.BattleMetaKey(id))
	cancel()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "battle lookup unavailable"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "battle not found"})
		return
	}
	h.logger.Info("spectator joined",
		zap.String("battle_id", id),
		zap.String("owner", mw.GetOwner(c)))
	h.stream(c, ws.BattleChannel(id), "", isFinal)
}

// isFinal reports whether a mirrored battle packet closes the battle.
func isFinal(typ string) bool {
	return typ == "battle_end"
}

// stream relays a pub/sub channel as SSE. With an empty event name the
// packet type of each message is used. The stream closes after a message
// for which final returns true.
func (h *Handler) stream(c *gin.Context, channel, event string, final func(string) bool) {
	subCtx, subCancel := context.WithCancel(c.Request.Context())
	defer subCancel()

	msgCh, unsub, err := h.pubsub.Subscribe(subCtx, channel)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.String("channel", channel), zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	defer unsub()

	writeHeaders(c)
	fmt.Fprintf(c.Writer, "event: connected\ndata: {}\n\n")
	c.Writer.Flush()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			name := event
			if name == "" {
				name = packetType(msg.Payload)
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", name, msg.Payload)
			c.Writer.Flush()
			if final != nil && final(name) {
				return
			}

		case <-ticker.C:
			// Keepalive comment to prevent proxy timeouts.
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}

func packetType(payload string) string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(payload), &head); err != nil || head.Type == "" {
		return "message"
	}
	return head.Type
}

// Announce publishes an announcement message to all SSE subscribers.
func (h *Handler) Announce(ctx context.Context, message string) error {
	return h.pubsub.Publish(ctx, announceChannel, message)
}
