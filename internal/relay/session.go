package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"drawing-board/internal/canvas"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 256
)

// Session is one connected WebSocket.
type Session struct {
	ID     string
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	// ctx is cancelled once the session is gone, aborting any delegated
	// login still in flight.
	ctx    context.Context
	cancel context.CancelFunc

	registered chan struct{}
	snapshot   *canvas.Snapshot

	// Owned by the dispatch loop.
	userID   string
	loginSeq uint64
	cursor   *rate.Limiter
	lagging  bool
}

func (s *Session) identified() bool { return s.userID != "" }

// writePump sends the connect snapshot, then everything the hub queues on
// send. It returns when send is closed or a write fails.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	if snap := s.snapshot; snap != nil {
		s.snapshot = nil
		src, err := snap.DataURL()
		if err != nil {
			s.logger.Error("encode snapshot", slog.Any("err", err))
			return
		}
		msg, err := json.Marshal(Message{Event: EventCanvasSnapshot, Data: CanvasSnapshot{Src: src}})
		if err != nil {
			s.logger.Error("marshal snapshot", slog.Any("err", err))
			return
		}
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}

	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump forwards decoded frames to the hub until the connection fails,
// then reports the disconnect.
func (s *Session) readPump(h *Hub) {
	defer func() {
		h.post(disconnectEvent{session: s})
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read", slog.Any("err", err))
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Debug("malformed frame", slog.Any("err", err))
			continue
		}
		if !h.post(messageEvent{session: s, env: env}) {
			return
		}
	}
}
