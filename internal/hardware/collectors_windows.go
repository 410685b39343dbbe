//go:build windows

package hardware

// DefaultCollectors returns the collectors available on this platform.
func DefaultCollectors() []Collector {
	return []Collector{
		SerialCollector{},
		CameraCollector{},
		USBCollector{},
	}
}
