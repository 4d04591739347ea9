// internal/handler/handler_test.go
package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"serial-bridge/internal/bridge"
	"serial-bridge/internal/config"
	"serial-bridge/internal/model"
	"serial-bridge/internal/serialport"
	"serial-bridge/internal/utils"
)

// fakePort is an in-memory serial device for end-to-end handler tests.
type fakePort struct {
	incoming chan []byte
	pending  []byte

	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written bytes.Buffer
}

func newFakePort() *fakePort {
	return &fakePort{
		incoming: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
}

func (p *fakePort) Read(buf []byte) (int, error) {
	if len(p.pending) == 0 {
		select {
		case data, ok := <-p.incoming:
			if !ok {
				return 0, nil
			}
			p.pending = data
		case <-p.closed:
			return 0, io.ErrClosedPipe
		}
	}
	n := copy(buf, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *fakePort) Write(data []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, io.ErrClosedPipe
	default:
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(data)
}

func (p *fakePort) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePort) emit(data []byte) { p.incoming <- data }

func (p *fakePort) writtenString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

type fakeOpener struct {
	mu    sync.Mutex
	ports []*fakePort
}

func (o *fakeOpener) Open(cfg model.PortConfig) (serialport.Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	port := newFakePort()
	o.ports = append(o.ports, port)
	return port, nil
}

func (o *fakeOpener) lastPort() *fakePort {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.ports) == 0 {
		return nil
	}
	return o.ports[len(o.ports)-1]
}

// testServer wires the handlers onto a plain gin engine behind httptest,
// backed by a fake opener instead of real hardware.
type testServer struct {
	*httptest.Server
	manager *bridge.Manager
	opener  *fakeOpener
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Bridge: config.BridgeConfig{
			ScrollbackMaxBytes: 128 * 1024,
			ReadBufferSize:     1024,
			OutboundQueueSize:  256,
			SubscriberBuffer:   64,
		},
		Serial: config.SerialConfig{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "none"},
	}

	logger := zap.NewNop()
	opener := &fakeOpener{}
	manager := bridge.NewManager(opener, cfg.Bridge, logger)
	t.Cleanup(manager.Shutdown)

	engine := gin.New()
	NewSerialHandler(manager, cfg, logger).RegisterRoutes(engine.Group("/api"))
	NewStreamHandler(manager, logger).RegisterRoutes(engine)

	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, manager: manager, opener: opener}
}

func (s *testServer) postJSON(t *testing.T, path, body string) (*http.Response, utils.APIResponse) {
	t.Helper()
	resp, err := http.Post(s.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()

	var envelope utils.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("POST %s: decoding response: %v", path, err)
	}
	return resp, envelope
}

func (s *testServer) getStatus(t *testing.T) model.PortStatus {
	t.Helper()
	resp, err := http.Get(s.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/status: unexpected code %d", resp.StatusCode)
	}
	var status model.PortStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("GET /api/status: decoding response: %v", err)
	}
	return status
}

func (s *testServer) dialWS(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readBinary(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	messageType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	if messageType != websocket.BinaryMessage {
		t.Fatalf("unexpected frame type %d", messageType)
	}
	return data
}

func TestConnectDisconnectLifecycle(t *testing.T) {
	srv := newTestServer(t)

	if status := srv.getStatus(t); status.Connected {
		t.Fatal("fresh server reported a connection")
	}

	resp, envelope := srv.postJSON(t, "/api/connect", `{"port":"/dev/ttyUSB0","baud_rate":115200}`)
	if resp.StatusCode != http.StatusOK || !envelope.Success {
		t.Fatalf("connect failed: %d %+v", resp.StatusCode, envelope)
	}
	if envelope.Message != "Connected to /dev/ttyUSB0" {
		t.Fatalf("unexpected connect message: %q", envelope.Message)
	}

	resp, envelope = srv.postJSON(t, "/api/connect", `{"port":"/dev/ttyUSB1"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second connect: expected 409, got %d", resp.StatusCode)
	}
	if envelope.Error == nil || envelope.Error.Code != "CONFLICT" {
		t.Fatalf("second connect: unexpected error payload: %+v", envelope.Error)
	}

	status := srv.getStatus(t)
	if !status.Connected || status.Port == nil || *status.Port != "/dev/ttyUSB0" {
		t.Fatalf("unexpected status after connect: %+v", status)
	}
	if status.Config == nil || status.Config.BaudRate != 115200 {
		t.Fatalf("status config not echoed: %+v", status.Config)
	}

	resp, envelope = srv.postJSON(t, "/api/disconnect", "")
	if resp.StatusCode != http.StatusOK || envelope.Message != "Disconnected from /dev/ttyUSB0" {
		t.Fatalf("disconnect failed: %d %q", resp.StatusCode, envelope.Message)
	}

	resp, envelope = srv.postJSON(t, "/api/disconnect", "")
	if resp.StatusCode != http.StatusOK || envelope.Message != "Not connected" {
		t.Fatalf("idempotent disconnect: %d %q", resp.StatusCode, envelope.Message)
	}

	if status := srv.getStatus(t); status.Connected {
		t.Fatal("still connected after disconnect")
	}
}

func TestConnectValidation(t *testing.T) {
	srv := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"missing port", `{"baud_rate":9600}`},
		{"malformed json", `{"port":`},
		{"bad data bits", `{"port":"/dev/ttyUSB0","data_bits":9}`},
		{"bad stop bits", `{"port":"/dev/ttyUSB0","stop_bits":3}`},
		{"bad parity", `{"port":"/dev/ttyUSB0","parity":"mark"}`},
		{"negative baud", `{"port":"/dev/ttyUSB0","baud_rate":-1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, envelope := srv.postJSON(t, "/api/connect", tc.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.StatusCode)
			}
			if envelope.Error == nil || envelope.Error.Code != "BAD_REQUEST" {
				t.Fatalf("unexpected error payload: %+v", envelope.Error)
			}
		})
	}

	if status := srv.getStatus(t); status.Connected {
		t.Fatal("rejected request opened a connection")
	}
}

func TestConnectAppliesConfiguredDefaults(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := srv.postJSON(t, "/api/connect", `{"port":"/dev/ttyUSB0"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("connect failed: %d", resp.StatusCode)
	}

	status := srv.getStatus(t)
	cfg := status.Config
	if cfg == nil {
		t.Fatal("no config in status")
	}
	if cfg.BaudRate != 9600 || cfg.DataBits != 8 || cfg.StopBits != 1 || cfg.Parity != "none" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestStreamSessionReplayAndRelay(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := srv.postJSON(t, "/api/connect", `{"port":"/dev/ttyUSB0"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("connect failed: %d", resp.StatusCode)
	}
	port := srv.opener.lastPort()

	// Device output before any client attaches lands in the scrollback.
	port.emit([]byte("boot complete\r\n"))
	waitForScrollback(t, srv.manager, len("boot complete\r\n"))

	conn := srv.dialWS(t)

	// First frame is the scrollback replay.
	if got := readBinary(t, conn); string(got) != "boot complete\r\n" {
		t.Fatalf("unexpected replay: %q", got)
	}

	// Live output follows.
	port.emit([]byte("ready> "))
	if got := readBinary(t, conn); string(got) != "ready> " {
		t.Fatalf("unexpected live frame: %q", got)
	}

	// Client input goes to the device.
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("AT\r\n")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	waitFor(t, func() bool { return port.writtenString() == "AT\r\n" },
		"device never received client input")

	// Text frames carry raw bytes too.
	if err := conn.WriteMessage(websocket.TextMessage, []byte("ATI\r\n")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	waitFor(t, func() bool { return port.writtenString() == "AT\r\nATI\r\n" },
		"device never received text frame bytes")
}

func TestStreamSessionMultipleClients(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := srv.postJSON(t, "/api/connect", `{"port":"/dev/ttyUSB0"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("connect failed: %d", resp.StatusCode)
	}
	port := srv.opener.lastPort()

	first := srv.dialWS(t)
	second := srv.dialWS(t)

	port.emit([]byte("broadcast"))
	if got := readBinary(t, first); string(got) != "broadcast" {
		t.Fatalf("first client missed output: %q", got)
	}
	if got := readBinary(t, second); string(got) != "broadcast" {
		t.Fatalf("second client missed output: %q", got)
	}

	// Closing one client does not disturb the other.
	first.Close()
	port.emit([]byte("still here"))
	if got := readBinary(t, second); string(got) != "still here" {
		t.Fatalf("surviving client missed output: %q", got)
	}
}

func TestStreamSessionWithoutDevice(t *testing.T) {
	srv := newTestServer(t)

	conn := srv.dialWS(t)

	// With nothing connected there is no replay and writes vanish silently.
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("anyone?")); err != nil {
		t.Fatalf("client write: %v", err)
	}

	// The session stays up; once a device connects its output flows.
	resp, _ := srv.postJSON(t, "/api/connect", `{"port":"/dev/ttyUSB0"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("connect failed: %d", resp.StatusCode)
	}
	srv.opener.lastPort().emit([]byte("hello"))
	if got := readBinary(t, conn); string(got) != "hello" {
		t.Fatalf("pre-connect session missed output: %q", got)
	}
}

// waitForScrollback polls until the manager's scrollback holds n bytes.
func waitForScrollback(t *testing.T, m *bridge.Manager, n int) {
	t.Helper()
	waitFor(t, func() bool {
		snapshot, sub := m.Attach()
		sub.Cancel()
		return len(snapshot) == n
	}, "scrollback never reached expected size")
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}
