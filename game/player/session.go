package player

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	sendChanBuf   = 256
	writeDeadline = 10 * time.Second
	readDeadlineS = 60 * time.Second
	pingInterval  = 30 * time.Second // server-side WS ping
)

// Packet is the unified WS message envelope.
type Packet struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewPacket marshals payload into a Packet of the given type.
func NewPacket(typ string, payload interface{}) (*Packet, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return &Packet{Type: typ, Payload: raw}, nil
}

// PlayerSession represents a connected player's WebSocket session. At most
// one battle is bound to a session at a time.
type PlayerSession struct {
	Owner string
	Conn  *websocket.Conn

	SendChan chan []byte
	Done     chan struct{}
	TraceID  string
	LastSeq  uint64

	limiter *rate.Limiter

	mu        sync.Mutex
	battleID  string
	closeOnce sync.Once
	logger    *zap.Logger
}

// NewPlayerSession creates a session and starts its write goroutine when
// conn is non-nil. limiter throttles inbound battle input; nil disables it.
func NewPlayerSession(owner string, conn *websocket.Conn, limiter *rate.Limiter, logger *zap.Logger) *PlayerSession {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PlayerSession{
		Owner:    owner,
		Conn:     conn,
		SendChan: make(chan []byte, sendChanBuf),
		Done:     make(chan struct{}),
		limiter:  limiter,
		logger:   logger,
	}
	if conn != nil {
		go s.writePump()
	}
	return s
}

// writePump drains SendChan and writes to the WebSocket connection.
// Also sends periodic WebSocket pings to detect dead connections quickly.
func (s *PlayerSession) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer s.Conn.Close()
	for {
		select {
		case data := <-s.SendChan:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Warn("ws write error",
					zap.String("owner", s.Owner),
					zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.Done:
			_ = s.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send encodes pkt and sends it non-blocking. Drops if channel full or closed.
func (s *PlayerSession) Send(pkt *Packet) {
	if s.IsClosed() {
		return
	}
	data, err := json.Marshal(pkt)
	if err != nil {
		s.logger.Error("marshal packet", zap.String("type", pkt.Type), zap.Error(err))
		return
	}
	s.SendRaw(data)
}

// SendRaw sends raw bytes non-blocking. Drops if channel full or closed.
func (s *PlayerSession) SendRaw(data []byte) {
	if s.IsClosed() {
		return
	}
	select {
	case s.SendChan <- data:
	case <-s.Done:
	default:
		if !s.IsClosed() {
			s.logger.Warn("send channel full, dropping packet",
				zap.String("owner", s.Owner))
		}
	}
}

// SendError sends an "error" packet carrying msg.
func (s *PlayerSession) SendError(msg string) {
	pkt, _ := NewPacket("error", map[string]string{"message": msg})
	s.Send(pkt)
}

// Close signals the writePump to shut down. Safe to call more than once.
func (s *PlayerSession) Close() {
	s.closeOnce.Do(func() { close(s.Done) })
}

// IsClosed returns true if the session has been closed.
func (s *PlayerSession) IsClosed() bool {
	select {
	case <-s.Done:
		return true
	default:
		return false
	}
}

// Allow spends one input token.
func (s *PlayerSession) Allow() bool {
	if s.limiter == nil {
		return true
	}
	return s.limiter.Allow()
}

// BindBattle records the running battle. It fails if one is already bound.
func (s *PlayerSession) BindBattle(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.battleID != "" {
		return false
	}
	s.battleID = id
	return true
}

// BattleID returns the bound battle, or "".
func (s *PlayerSession) BattleID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.battleID
}

// UnbindBattle clears the binding if it still refers to id.
func (s *PlayerSession) UnbindBattle(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.battleID == id {
		s.battleID = ""
	}
}

// SendHeartbeatPong sends a pong packet in response to a client ping.
func (s *PlayerSession) SendHeartbeatPong(clientTS int64) {
	type pongPayload struct {
		ClientTS int64 `json:"client_ts"`
		ServerTS int64 `json:"server_ts"`
	}
	pkt, _ := NewPacket("pong", pongPayload{
		ClientTS: clientTS,
		ServerTS: time.Now().UnixMilli(),
	})
	s.Send(pkt)
}

// SetReadDeadline resets the WebSocket read deadline to 60 s from now.
func (s *PlayerSession) SetReadDeadline() {
	_ = s.Conn.SetReadDeadline(time.Now().Add(readDeadlineS))
}
