package ws

import (
	"context"
	"encoding/json"
	"runtime/debug"

	"github.com/google/uuid"
	"github.com/kasuganosora/arcanabattle/game/player"
	mw "github.com/kasuganosora/arcanabattle/middleware"
	"go.uber.org/zap"
)

// HandlerFunc processes a decoded WS message payload.
type HandlerFunc func(ctx context.Context, session *player.PlayerSession, payload json.RawMessage) error

// Router dispatches incoming WS packets to registered handlers.
type Router struct {
	handlers map[string]HandlerFunc
	logger   *zap.Logger
}

// NewRouter creates a new Router with the built-in ping handler.
func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
	r.On("ping", handlePing)
	return r
}

// On registers a HandlerFunc for the given message type.
func (r *Router) On(msgType string, fn HandlerFunc) {
	r.handlers[msgType] = fn
}

// Dispatch decodes raw bytes, validates seq, and invokes the appropriate handler.
// A panicking handler is logged and the connection stays up.
func (r *Router) Dispatch(s *player.PlayerSession, raw []byte) {
	var pkt player.Packet
	if err := json.Unmarshal(raw, &pkt); err != nil {
		r.logger.Warn("malformed packet",
			zap.String("owner", s.Owner),
			zap.Error(err))
		return
	}

	// Monotonic seq check (anti-replay). Seq == 0 means no seq tracking.
	if pkt.Seq != 0 && pkt.Seq <= s.LastSeq {
		r.logger.Warn("replayed or out-of-order packet",
			zap.String("owner", s.Owner),
			zap.Uint64("seq", pkt.Seq),
			zap.Uint64("last_seq", s.LastSeq))
		return
	}
	if pkt.Seq != 0 {
		s.LastSeq = pkt.Seq
	}

	fn, ok := r.handlers[pkt.Type]
	if !ok {
		r.logger.Debug("unhandled message type",
			zap.String("type", pkt.Type),
			zap.String("owner", s.Owner))
		return
	}

	s.TraceID = uuid.NewString()
	ctx := mw.WithTraceID(context.Background(), s.TraceID)

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler panicked",
				zap.String("type", pkt.Type),
				zap.String("owner", s.Owner),
				zap.String("trace_id", s.TraceID),
				zap.Any("recover", rec),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	if err := fn(ctx, s, pkt.Payload); err != nil {
		r.logger.Error("handler error",
			zap.String("type", pkt.Type),
			zap.String("owner", s.Owner),
			zap.String("trace_id", s.TraceID),
			zap.Error(err))
	}
}

func handlePing(_ context.Context, s *player.PlayerSession, payload json.RawMessage) error {
	var req struct {
		TS int64 `json:"ts"`
	}
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &req)
	}
	s.SendHeartbeatPong(req.TS)
	return nil
}
