// Package eventlog selects records from a named system event log,
// reading newest-first under a fixed record cap and matching on
// source names or event IDs.
package eventlog

import (
	"errors"
	"fmt"
	"time"
)

// Time layouts for matched records. Detail lines carry the local
// wall-clock form, structured records the ISO 8601 form.
const (
	DetailTimeLayout = "2006-01-02 15:04:05"
	RecordTimeLayout = "2006-01-02T15:04:05"
)

// ErrNoCriteria is returned when both the source list and the ID list
// are empty. Such a scan would match nothing, so it is refused before
// the log is even opened.
var ErrNoCriteria = errors.New("no match criteria: need at least one source name or event ID")

// AccessError reports that the event log could not be opened or read.
// A scan that hits one yields no partial results.
type AccessError struct {
	Log string
	Err error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("event log %q access failed: %v", e.Log, e.Err)
}

func (e *AccessError) Unwrap() error { return e.Err }

// Criteria selects records whose source name appears in Sources or
// whose effective event ID appears in EventIDs (OR semantics).
type Criteria struct {
	Sources  []string
	EventIDs []uint16
}

// Empty reports whether no criteria are configured at all.
func (c Criteria) Empty() bool {
	return len(c.Sources) == 0 && len(c.EventIDs) == 0
}

// Match is one selected record. Analysis and Abnormal start empty and
// false; an escalation pass may fill them in later.
type Match struct {
	Time     time.Time
	Source   string
	EventID  uint16
	Message  string
	Analysis string
	Abnormal bool
}

// Timestamp renders the record time in ISO 8601 form for persistence.
func (m Match) Timestamp() string {
	return m.Time.Format(RecordTimeLayout)
}

// RawRecord is one entry handed out by a Cursor before match filtering.
// RawID keeps the provider's full 32-bit value; vendors pack severity
// and facility flags into the upper bits, so matching uses EffectiveID.
// RenderErr is set when the record's message text could not be
// produced; such records still scan, with a placeholder message.
type RawRecord struct {
	Time      time.Time
	Source    string
	RawID     uint32
	Message   string
	RenderErr error
}

// EffectiveID strips the vendor flag bits from the raw event ID.
func (r RawRecord) EffectiveID() uint16 {
	return uint16(r.RawID & 0xFFFF)
}

// Source opens named event logs.
type Source interface {
	Open(name string) (Cursor, error)
}

// Cursor reads raw records newest-first in batches. Read returns
// io.EOF once the log is exhausted. Implementations need not be safe
// for concurrent use.
type Cursor interface {
	Read(max int) ([]RawRecord, error)
	Close() error
}
