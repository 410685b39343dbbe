//go:build windows

package hardware

import (
	"fmt"
	"strings"

	"github.com/yusufpapurcu/wmi"
)

// win32PnPEntity mirrors the fields selected from Win32_PnPEntity.
// String fields are pointers because WMI reports absent values as NULL.
type win32PnPEntity struct {
	Name        *string
	Description *string
	DeviceID    *string
}

// The two imaging class GUIDs plus the usbvideo service catch UVC
// webcams across Windows versions.
const cameraQuery = `SELECT Name, Description, DeviceID FROM Win32_PnPEntity WHERE ClassGuid='{6bdd1fc6-810f-11d0-bec7-08002be2092f}' OR ClassGuid='{ca3e7ab9-b4c3-4ae6-8251-579ef933890f}' OR PNPClass='Camera' OR Service='usbvideo'`

const usbQuery = `SELECT Name, Description, DeviceID FROM Win32_PnPEntity WHERE DeviceID LIKE 'USB\\%'`

// CameraCollector finds imaging devices through WMI.
type CameraCollector struct{}

// Category implements Collector.
func (CameraCollector) Category() string { return "Camera" }

// Collect implements Collector. The class-GUID and service clauses in
// the query overlap, so results are deduplicated by device ID.
func (CameraCollector) Collect() ([]Device, error) {
	var entities []win32PnPEntity
	if err := wmi.Query(cameraQuery, &entities); err != nil {
		return nil, fmt.Errorf("query camera devices: %w", err)
	}

	seen := make(map[string]bool)
	devices := make([]Device, 0, len(entities))
	for _, e := range entities {
		d := entityDevice(e)
		if d.DeviceID != "" && seen[d.DeviceID] {
			continue
		}
		seen[d.DeviceID] = true
		devices = append(devices, d)
	}
	return devices, nil
}

// USBCollector finds user-attached USB devices through WMI, skipping
// hubs, composite parents, and root devices.
type USBCollector struct{}

// Category implements Collector.
func (USBCollector) Category() string { return "USB" }

// Collect implements Collector.
func (USBCollector) Collect() ([]Device, error) {
	var entities []win32PnPEntity
	if err := wmi.Query(usbQuery, &entities); err != nil {
		return nil, fmt.Errorf("query usb devices: %w", err)
	}

	devices := make([]Device, 0, len(entities))
	for _, e := range entities {
		d := entityDevice(e)
		if d.Name == "" || isUSBNoise(d.Name) {
			continue
		}
		devices = append(devices, d)
	}
	return devices, nil
}

var usbNoiseWords = []string{"hub", "composite", "root"}

func isUSBNoise(name string) bool {
	lower := strings.ToLower(name)
	for _, word := range usbNoiseWords {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

func entityDevice(e win32PnPEntity) Device {
	return Device{
		Name:        deref(e.Name),
		Description: deref(e.Description),
		DeviceID:    deref(e.DeviceID),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var (
	_ Collector = CameraCollector{}
	_ Collector = USBCollector{}
)
