// internal/bridge/connection.go
package bridge

import (
	"sync"

	"go.uber.org/zap"

	"serial-bridge/internal/model"
	"serial-bridge/internal/serialport"
)

// Connection owns one open serial port and the two pumps moving bytes
// through it. At most one Connection exists per process; the Manager
// enforces that. The inbound pump owns the read side of the port, the
// outbound pump the write side.
type Connection struct {
	config model.PortConfig
	port   serialport.Port
	queue  *outboundQueue

	stop     chan struct{}
	stopOnce sync.Once
	pumps    sync.WaitGroup

	logger *zap.Logger
}

func newConnection(port serialport.Port, cfg model.PortConfig, queue *outboundQueue, logger *zap.Logger) *Connection {
	return &Connection{
		config: cfg,
		port:   port,
		queue:  queue,
		stop:   make(chan struct{}),
		logger: logger,
	}
}

// start spawns the inbound and outbound pumps.
func (c *Connection) start(m *Manager, readBufferSize int) {
	c.pumps.Add(2)
	go c.inboundPump(m, readBufferSize)
	go c.outboundPump()
}

// inboundPump moves device output into the scrollback buffer and fan-out,
// preserving the order bytes arrived in. The pump stops on EOF or a read
// error; that does not tear the Connection down, it just means no more
// inbound data until an explicit disconnect and reconnect.
func (c *Connection) inboundPump(m *Manager, readBufferSize int) {
	defer c.pumps.Done()

	buf := make([]byte, readBufferSize)
	for {
		n, err := c.port.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			m.ingest(data)
		}
		if err != nil {
			select {
			case <-c.stop:
				// Interrupted by Close
			default:
				c.logger.Error("Serial read error, device output stopped", zap.Error(err))
			}
			return
		}
		if n == 0 {
			c.logger.Info("Serial port reader reached EOF")
			return
		}
	}
}

// outboundPump drains the queue in FIFO order, fully writing each chunk
// before taking the next. A write failure permanently closes the queue so
// producers fail fast instead of piling up.
func (c *Connection) outboundPump() {
	defer c.pumps.Done()
	defer c.queue.close()

	for {
		select {
		case <-c.stop:
			return
		case data := <-c.queue.ch:
			if err := c.writeAll(data); err != nil {
				select {
				case <-c.stop:
				default:
					c.logger.Error("Serial write error, outbound pump stopped", zap.Error(err))
				}
				return
			}
		}
	}
}

func (c *Connection) writeAll(data []byte) error {
	for written := 0; written < len(data); {
		n, err := c.port.Write(data[written:])
		if err != nil {
			return err
		}
		written += n
	}
	return nil
}

// shutdown stops both pumps unconditionally. Closing the port interrupts a
// pump blocked mid-read or mid-write, so shutdown latency is bounded by the
// driver, not by device traffic.
func (c *Connection) shutdown() {
	c.stopOnce.Do(func() { close(c.stop) })
	if err := c.port.Close(); err != nil {
		c.logger.Warn("Serial port close error", zap.Error(err))
	}
	c.queue.close()
	c.pumps.Wait()
}
