package hardware

import (
	"fmt"

	"go.bug.st/serial/enumerator"
)

// SerialCollector finds serial ports through the platform enumerator.
type SerialCollector struct{}

// Category implements Collector.
func (SerialCollector) Category() string { return "COM" }

// Collect implements Collector.
func (SerialCollector) Collect() ([]Device, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}

	devices := make([]Device, 0, len(ports))
	for _, port := range ports {
		devices = append(devices, Device{
			Name:        port.Name,
			Description: port.Product,
			DeviceID:    portHWID(port),
		})
	}
	return devices, nil
}

// portHWID renders the port's hardware identity: VID:PID plus serial
// number for USB-backed ports, the port name otherwise.
func portHWID(p *enumerator.PortDetails) string {
	if !p.IsUSB {
		return p.Name
	}
	id := fmt.Sprintf("USB VID:PID=%s:%s", p.VID, p.PID)
	if p.SerialNumber != "" {
		id += " SER=" + p.SerialNumber
	}
	return id
}

var _ Collector = SerialCollector{}
