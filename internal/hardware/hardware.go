// Package hardware enumerates attached devices so each scan session
// records what was plugged in when the event log was read.
package hardware

// Device is one discovered hardware endpoint.
type Device struct {
	Name        string
	Description string
	DeviceID    string
}

// Collector discovers devices of one category.
type Collector interface {
	// Category labels the devices this collector finds, e.g. "COM".
	Category() string
	// Collect enumerates currently attached devices.
	Collect() ([]Device, error)
}
