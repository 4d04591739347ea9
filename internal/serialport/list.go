// internal/serialport/list.go
package serialport

import (
	"fmt"

	"go.bug.st/serial/enumerator"

	"serial-bridge/internal/model"
)

// List enumerates the serial ports visible to the process.
func List() ([]model.PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	infos := make([]model.PortInfo, 0, len(ports))
	for _, port := range ports {
		infos = append(infos, model.PortInfo{
			Name:     port.Name,
			PortType: portTypeString(port),
		})
	}

	return infos, nil
}

// portTypeString builds a human-readable type string for a port.
func portTypeString(port *enumerator.PortDetails) string {
	if !port.IsUSB {
		return "Unknown"
	}
	if port.Product != "" {
		return fmt.Sprintf("USB (VID:%s PID:%s) %s", port.VID, port.PID, port.Product)
	}
	return fmt.Sprintf("USB (VID:%s PID:%s)", port.VID, port.PID)
}
