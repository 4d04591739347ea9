// internal/handler/stream_handler.go
package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"serial-bridge/internal/bridge"
	"serial-bridge/internal/utils"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings with this period; must be less than pongWait
	pingPeriod = 54 * time.Second
)

// StreamHandler runs streaming sessions that bridge WebSocket clients to
// the serial device: scrollback replay on attach, then a bidirectional
// byte relay until either side closes.
type StreamHandler struct {
	upgrader websocket.Upgrader
	manager  *bridge.Manager
	logger   *zap.Logger
}

// NewStreamHandler creates a new streaming session handler
func NewStreamHandler(manager *bridge.Manager, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// In production, implement proper origin checking
				return true
			},
		},
		manager: manager,
		logger:  logger,
	}
}

// RegisterRoutes registers the streaming session route
func (h *StreamHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/ws", h.HandleSession)
}

// HandleSession upgrades the request and runs one client session to
// completion.
func (h *StreamHandler) HandleSession(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	session := &streamSession{
		conn:    conn,
		manager: h.manager,
		logger:  utils.NewSessionLogger(h.logger, uuid.New().String(), c.Request.RemoteAddr),
	}
	session.run()
}

// streamSession is the bridging logic for one attached client.
type streamSession struct {
	conn    *websocket.Conn
	manager *bridge.Manager
	logger  *utils.SessionLogger
}

// run replays the scrollback, then relays both directions concurrently.
// Whichever relay ends first cancels the other; the session is closed once
// both have stopped.
func (s *streamSession) run() {
	defer s.conn.Close()

	snapshot, sub := s.manager.Attach()
	defer sub.Cancel()

	s.logger.Info("Session attached", zap.Int("scrollback_bytes", len(snapshot)))

	// Late joiners see recent history as one message before any live data.
	if len(snapshot) > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.BinaryMessage, snapshot); err != nil {
			s.logger.Warn("Scrollback replay failed", zap.Error(err))
			return
		}
	}

	var deviceRelay sync.WaitGroup
	deviceRelay.Add(1)
	go func() {
		defer deviceRelay.Done()
		// Closing the connection ends the client relay when the device
		// relay dies first.
		defer s.conn.Close()
		s.relayDeviceOutput(sub)
	}()

	s.relayClientInput()

	sub.Cancel()
	s.conn.Close()
	deviceRelay.Wait()

	s.logger.Info("Session closed")
}

// relayDeviceOutput forwards fan-out chunks to the client as binary
// messages. Lag is logged, not surfaced as a protocol error.
func (s *streamSession) relayDeviceOutput(sub *bridge.Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case chunk, ok := <-sub.C():
			if !ok {
				return
			}
			if chunk.Dropped > 0 {
				s.logger.LogLag(chunk.Dropped)
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk.Data); err != nil {
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

// relayClientInput forwards client frames to the device. Binary and text
// frames are the same thing here: raw bytes to write.
func (s *streamSession) relayClientInput() {
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
			) {
				s.logger.Warn("Session read error", zap.Error(err))
			}
			return
		}

		if messageType != websocket.BinaryMessage && messageType != websocket.TextMessage {
			continue
		}

		// Resolve the producer per message; with no device open the write
		// is silently dropped.
		sender, ok := s.manager.Sender()
		if !ok {
			continue
		}
		if err := sender.Send(data); err != nil {
			// The write is lost for this client only
			s.logger.Warn("Device write lost", zap.Error(err))
		}
	}
}
