// internal/bridge/manager.go
package bridge

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"serial-bridge/internal/config"
	"serial-bridge/internal/model"
	"serial-bridge/internal/serialport"
)

// ErrAlreadyOpen is returned by Open while another device connection exists.
var ErrAlreadyOpen = errors.New("bridge: a device is already connected")

// Manager is the single authority over the device connection slot. It
// coordinates exclusive open/close, wires the pumps, and resolves producer
// handles and session attachments against the current connection.
type Manager struct {
	// mu guards the connection slot. Open and Close hold it end to end so
	// creation and destruction are serialized; Status and Sender only take
	// a snapshot under it.
	mu   sync.Mutex
	conn *Connection

	// attachMu serializes scrollback append + fan-out publish against
	// session attach (snapshot + subscribe), so a late joiner sees the
	// byte stream exactly once with no gap at the replay boundary.
	attachMu sync.Mutex

	opener     serialport.Opener
	scrollback *Scrollback
	fanout     *FanOut
	cfg        config.BridgeConfig
	logger     *zap.Logger
}

// NewManager creates a bridge manager with no device connected.
func NewManager(opener serialport.Opener, cfg config.BridgeConfig, logger *zap.Logger) *Manager {
	return &Manager{
		opener:     opener,
		scrollback: NewScrollback(cfg.ScrollbackMaxBytes),
		fanout:     NewFanOut(cfg.SubscriberBuffer),
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "bridge")),
	}
}

// Open opens the configured device and starts the pumps. It fails with
// ErrAlreadyOpen while a connection exists, and with the underlying I/O
// error when the port cannot be opened; in both cases no state changes
// beyond the scrollback reset for the new session.
func (m *Manager) Open(cfg model.PortConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil {
		return ErrAlreadyOpen
	}

	// One scrollback generation per connection: output from a previous
	// device session never leaks into the new one.
	m.scrollback.Reset()

	port, err := m.opener.Open(cfg)
	if err != nil {
		return err
	}

	conn := newConnection(port, cfg, newOutboundQueue(m.cfg.OutboundQueueSize),
		m.logger.With(zap.String("port", cfg.Port)))
	conn.start(m, m.cfg.ReadBufferSize)
	m.conn = conn

	m.logger.Info("Serial port opened",
		zap.String("port", cfg.Port),
		zap.Int("baud_rate", cfg.BaudRate),
	)
	return nil
}

// Close disconnects the current device, stopping both pumps even if they
// are blocked in I/O, and clears the scrollback. Calling Close with nothing
// open is a no-op; ok reports whether a device was actually closed.
func (m *Manager) Close() (port string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		return "", false
	}

	conn := m.conn
	m.conn = nil

	conn.shutdown()
	m.scrollback.Reset()

	m.logger.Info("Serial port closed", zap.String("port", conn.config.Port))
	return conn.config.Port, true
}

// Status reports the current connection state. No side effects.
func (m *Manager) Status() model.PortStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		return model.PortStatus{Connected: false}
	}

	cfg := m.conn.config
	return model.PortStatus{
		Connected: true,
		Port:      &cfg.Port,
		Config:    &cfg,
	}
}

// Sender resolves a producer handle for the current outbound queue. ok is
// false when no device is open; callers drop the write silently in that
// case.
func (m *Manager) Sender() (*Sender, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		return nil, false
	}
	return &Sender{queue: m.conn.queue}, true
}

// Attach snapshots the scrollback and subscribes to live output as one
// atomic step: the snapshot ends exactly where the subscription begins.
func (m *Manager) Attach() ([]byte, *Subscription) {
	m.attachMu.Lock()
	defer m.attachMu.Unlock()

	return m.scrollback.Bytes(), m.fanout.Subscribe()
}

// ingest records device output in the scrollback and republishes it to all
// subscribers, as one atomic step with respect to Attach. Called only by
// the inbound pump.
func (m *Manager) ingest(data []byte) {
	m.attachMu.Lock()
	defer m.attachMu.Unlock()

	m.scrollback.Append(data)
	m.fanout.Publish(data)
}

// Shutdown closes any open connection and terminates every subscription.
// Used at process shutdown only.
func (m *Manager) Shutdown() {
	m.Close()
	m.fanout.Close()
}
