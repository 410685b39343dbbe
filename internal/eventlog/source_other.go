//go:build !windows

package eventlog

import "fmt"

// Compile-time interface check
var _ Source = SystemSource{}

// SystemSource reads from the host's native event log service, which
// only exists on Windows. Open always fails elsewhere; the scan then
// degrades to zero matches.
type SystemSource struct{}

// Open reports the platform gap as an ordinary open failure.
func (SystemSource) Open(name string) (Cursor, error) {
	return nil, fmt.Errorf("event log %q: native event log API unavailable on this platform", name)
}
