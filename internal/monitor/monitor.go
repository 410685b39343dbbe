// Package monitor runs the scan pipeline: open a session, snapshot
// connected hardware, scan the event log for configured disconnect
// events, escalate to the analysis model once the match count crosses
// the threshold, persist everything, and close the session.
//
// A run never fails as a whole. Every collaborator failure is logged
// and degraded to a zero-effect default so the session always closes
// with a summary.
package monitor

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/osmetric/devwatch/internal/eventlog"
	"github.com/osmetric/devwatch/internal/hardware"
	"github.com/osmetric/devwatch/internal/llm"
	"github.com/osmetric/devwatch/internal/notification"
	"github.com/osmetric/devwatch/internal/storage"
)

// TextNotAnalyzed is the report's analysis text when no escalation ran.
const TextNotAnalyzed = "analysis not performed"

// Scanner matches event log records against fixed criteria.
type Scanner interface {
	Scan(criteria eventlog.Criteria, maxRecords int) (*eventlog.Result, error)
}

// Analyzer escalates matched detail lines to the analysis model.
// Configured reports whether a credential is present to do so.
type Analyzer interface {
	Configured() bool
	Analyze(ctx context.Context, details []string, criteria eventlog.Criteria) llm.Verdict
}

// Store persists sessions, hardware snapshots, and matched events. All
// methods must tolerate a zero session ID as a no-op.
type Store interface {
	StartSession(runID string) (int64, error)
	EndSession(sessionID int64, res storage.SessionResult) error
	StoreHardware(sessionID int64, category string, devices []hardware.Device) (int, error)
	StoreEvents(sessionID int64, events []storage.Event) (int, error)
}

// Notifier delivers an alert when a scan ends with an abnormal verdict.
type Notifier interface {
	SendScanAlert(alert notification.ScanAlert) error
}

// Config holds the scan parameters one Monitor runs with.
type Config struct {
	LogName         string
	MaxRecords      int
	Criteria        eventlog.Criteria
	AnalysisEnabled bool
	Threshold       int // match count at which escalation triggers
}

// Deps are the collaborators a Monitor drives. Notifier may be nil
// when alerting is not configured.
type Deps struct {
	Scanner    Scanner
	Collectors []hardware.Collector
	Analyzer   Analyzer
	Store      Store
	Notifier   Notifier
}

// Monitor executes scan runs. Not safe for concurrent use; each run
// gets its own session identity.
type Monitor struct {
	cfg        Config
	scanner    Scanner
	collectors []hardware.Collector
	analyzer   Analyzer
	store      Store
	notifier   Notifier
	log        zerolog.Logger
	newRunID   func() string // injectable for tests
}

// New creates a monitor over the given collaborators.
func New(cfg Config, deps Deps, log zerolog.Logger) *Monitor {
	return &Monitor{
		cfg:        cfg,
		scanner:    deps.Scanner,
		collectors: deps.Collectors,
		analyzer:   deps.Analyzer,
		store:      deps.Store,
		notifier:   deps.Notifier,
		log:        log,
		newRunID:   func() string { return uuid.New().String() },
	}
}

// Report is the outcome of one run.
type Report struct {
	SessionID         int64
	RunID             string
	EventsFound       int
	DevicesFound      int
	AnalysisPerformed bool
	Analysis          string
	Abnormal          bool
	Summary           string
}

// skipReason records why an escalation did not run.
type skipReason int

const (
	skipNone skipReason = iota
	skipDisabled
	skipBelowThreshold
	skipNoCredential
)

// suffix is the session summary fragment for a skip reason.
func (r skipReason) suffix() string {
	switch r {
	case skipDisabled:
		return ", analysis disabled"
	case skipBelowThreshold:
		return ", analysis threshold not met"
	case skipNoCredential:
		return ", analysis skipped (no API credential)"
	default:
		return ""
	}
}

// Run executes one scan pass and always returns a complete report.
// Session open failure degrades persistence to no-ops, hardware and
// scan failures degrade to zero counts, and analysis failures surface
// as sentinel verdict text; the session is closed on every path.
func (m *Monitor) Run(ctx context.Context) *Report {
	runID := m.newRunID()
	report := &Report{RunID: runID, Analysis: TextNotAnalyzed}

	log := m.log.With().Str("run_id", runID).Logger()
	log.Info().Str("log", m.cfg.LogName).Msg("Scan run started")

	sessionID, err := m.store.StartSession(runID)
	if err != nil {
		log.Warn().Err(err).Msg("Session open failed, continuing without persistence")
		sessionID = 0
	}
	report.SessionID = sessionID

	report.DevicesFound = m.collectHardware(sessionID, log)

	result := m.scanEvents(log)
	report.EventsFound = result.Count

	verdict, performed, skip := m.decide(ctx, result, log)
	report.AnalysisPerformed = performed
	if performed {
		report.Analysis = verdict.Text
		report.Abnormal = verdict.Abnormal
		for i := range result.Records {
			result.Records[i].Analysis = verdict.Text
			result.Records[i].Abnormal = verdict.Abnormal
		}
	}

	m.storeEvents(sessionID, result.Records, log)

	report.Summary = summarize(report, skip)

	if err := m.store.EndSession(sessionID, storage.SessionResult{
		EventsFound:       report.EventsFound,
		DevicesFound:      report.DevicesFound,
		AnalysisPerformed: report.AnalysisPerformed,
		Summary:           report.Summary,
	}); err != nil {
		log.Warn().Err(err).Msg("Session close failed")
	}

	if report.Abnormal && m.notifier != nil {
		alert := notification.ScanAlert{
			RunID:        runID,
			LogName:      m.cfg.LogName,
			EventsFound:  report.EventsFound,
			DevicesFound: report.DevicesFound,
			Verdict:      report.Analysis,
		}
		if err := m.notifier.SendScanAlert(alert); err != nil {
			log.Warn().Err(err).Msg("Alert not delivered")
		}
	}

	log.Info().
		Int("events_found", report.EventsFound).
		Int("devices_found", report.DevicesFound).
		Bool("analysis_performed", report.AnalysisPerformed).
		Bool("abnormal", report.Abnormal).
		Msg("Scan run complete")

	return report
}

// collectHardware runs every collector and stores each snapshot. A
// failing collector contributes zero devices; a failing store call
// loses the snapshot but not the count.
func (m *Monitor) collectHardware(sessionID int64, log zerolog.Logger) int {
	total := 0
	for _, c := range m.collectors {
		devices, err := c.Collect()
		if err != nil {
			log.Warn().Err(err).Str("category", c.Category()).Msg("Hardware collection failed")
			continue
		}
		total += len(devices)
		log.Debug().Str("category", c.Category()).Int("devices", len(devices)).Msg("Hardware collected")

		if _, err := m.store.StoreHardware(sessionID, c.Category(), devices); err != nil {
			log.Warn().Err(err).Str("category", c.Category()).Msg("Hardware snapshot not stored")
		}
	}
	return total
}

// scanEvents runs the log scan. Any failure, including unreadable or
// missing logs, yields an empty result so the run proceeds.
func (m *Monitor) scanEvents(log zerolog.Logger) *eventlog.Result {
	result, err := m.scanner.Scan(m.cfg.Criteria, m.cfg.MaxRecords)
	if err != nil {
		log.Error().Err(err).Str("log", m.cfg.LogName).Msg("Event scan failed")
		return &eventlog.Result{}
	}
	log.Info().Int("events", result.Count).Msg("Event scan complete")
	return result
}

// decide applies the escalation gate: match count at or above the
// threshold, analysis enabled, and a credential present. The returned
// verdict is meaningful only when performed is true.
func (m *Monitor) decide(ctx context.Context, result *eventlog.Result, log zerolog.Logger) (llm.Verdict, bool, skipReason) {
	switch {
	case !m.cfg.AnalysisEnabled:
		log.Debug().Msg("Analysis disabled, skipping escalation")
		return llm.Verdict{}, false, skipDisabled
	case result.Count < m.cfg.Threshold:
		log.Debug().
			Int("count", result.Count).
			Int("threshold", m.cfg.Threshold).
			Msg("Match count below threshold, skipping escalation")
		return llm.Verdict{}, false, skipBelowThreshold
	case !m.analyzer.Configured():
		log.Warn().Msg("No analysis credential, skipping escalation")
		return llm.Verdict{}, false, skipNoCredential
	}

	log.Info().
		Int("count", result.Count).
		Int("threshold", m.cfg.Threshold).
		Msg("Threshold met, escalating to analysis model")

	verdict := m.analyzer.Analyze(ctx, result.Details, m.cfg.Criteria)
	log.Info().
		Str("outcome", verdict.Kind.String()).
		Bool("abnormal", verdict.Abnormal).
		Msg("Analysis verdict received")
	return verdict, true, skipNone
}

// storeEvents hands the matched batch to the store. Called exactly
// once per run; the store itself no-ops on a zero session.
func (m *Monitor) storeEvents(sessionID int64, records []eventlog.Match, log zerolog.Logger) {
	if len(records) == 0 {
		return
	}
	events := make([]storage.Event, len(records))
	for i, rec := range records {
		events[i] = storage.Event{
			Timestamp: rec.Time,
			Source:    rec.Source,
			EventID:   uint32(rec.EventID),
			Message:   rec.Message,
			Analysis:  rec.Analysis,
			Abnormal:  rec.Abnormal,
		}
	}
	stored, err := m.store.StoreEvents(sessionID, events)
	if err != nil {
		log.Warn().Err(err).Msg("Matched events not stored")
		return
	}
	log.Debug().Int("stored", stored).Msg("Matched events stored")
}

// summarize composes the session summary line. An abnormal verdict
// outranks any skip suffix; a performed, normal analysis adds nothing
// beyond the counters.
func summarize(report *Report, skip skipReason) string {
	summary := fmt.Sprintf("events found: %d, devices found: %d",
		report.EventsFound, report.DevicesFound)
	switch {
	case report.Abnormal:
		summary += ", abnormal pattern detected"
	case skip != skipNone:
		summary += skip.suffix()
	}
	return summary
}
