//go:build !windows

package hardware

// DefaultCollectors returns the collectors available on this platform.
// Camera and USB enumeration go through WMI, so only serial ports are
// covered off Windows.
func DefaultCollectors() []Collector {
	return []Collector{
		SerialCollector{},
	}
}
