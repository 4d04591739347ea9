// internal/model/serial.go
package model

// Parity values accepted in a PortConfig
const (
	ParityNone = "none"
	ParityOdd  = "odd"
	ParityEven = "even"
)

// PortConfig describes how a serial port is opened. It is immutable once a
// connection is open and is echoed back verbatim by the status endpoint.
type PortConfig struct {
	Port     string `json:"port" binding:"required"`
	BaudRate int    `json:"baud_rate" binding:"omitempty,gt=0"`
	DataBits int    `json:"data_bits" binding:"omitempty,oneof=5 6 7 8"`
	StopBits int    `json:"stop_bits" binding:"omitempty,oneof=1 2"`
	Parity   string `json:"parity" binding:"omitempty,oneof=none odd even"`
}

// ApplyDefaults fills fields that were omitted from a connect request. The
// defaults come from configuration, not hardcoded values.
func (c *PortConfig) ApplyDefaults(baudRate, dataBits, stopBits int, parity string) {
	if c.BaudRate == 0 {
		c.BaudRate = baudRate
	}
	if c.DataBits == 0 {
		c.DataBits = dataBits
	}
	if c.StopBits == 0 {
		c.StopBits = stopBits
	}
	if c.Parity == "" {
		c.Parity = parity
	}
}

// PortInfo describes one enumerated serial port.
type PortInfo struct {
	Name     string `json:"name"`
	PortType string `json:"port_type"`
}

// PortStatus is the response body of the status endpoint.
type PortStatus struct {
	Connected bool        `json:"connected"`
	Port      *string     `json:"port"`
	Config    *PortConfig `json:"config"`
}
