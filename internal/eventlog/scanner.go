package eventlog

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// defaultBatchSize caps how many records one Cursor.Read may return.
const defaultBatchSize = 128

// Result is the product of one scan.
// Count == len(Details) == len(Records) always holds.
type Result struct {
	Count   int
	Details []string
	Records []Match
}

// Scanner matches event log records against fixed criteria.
// Not safe for concurrent use.
type Scanner struct {
	source  Source
	logName string
	batch   int
	log     zerolog.Logger
}

// NewScanner creates a scanner over the named log.
func NewScanner(source Source, logName string, log zerolog.Logger) *Scanner {
	return &Scanner{
		source:  source,
		logName: logName,
		batch:   defaultBatchSize,
		log:     log,
	}
}

// Scan examines up to maxRecords records, newest first, and collects
// those whose source name or effective event ID matches the criteria.
// The log handle is released on every exit path. Open or read failures
// return an AccessError and discard any partial results.
func (s *Scanner) Scan(criteria Criteria, maxRecords int) (*Result, error) {
	if criteria.Empty() {
		return nil, ErrNoCriteria
	}

	sources := make(map[string]struct{}, len(criteria.Sources))
	for _, name := range criteria.Sources {
		sources[name] = struct{}{}
	}
	ids := make(map[uint16]struct{}, len(criteria.EventIDs))
	for _, id := range criteria.EventIDs {
		ids[id] = struct{}{}
	}

	cursor, err := s.source.Open(s.logName)
	if err != nil {
		return nil, &AccessError{Log: s.logName, Err: err}
	}
	defer func() {
		if cerr := cursor.Close(); cerr != nil {
			s.log.Warn().Err(cerr).Str("log", s.logName).Msg("Event log close failed")
		}
	}()

	result := &Result{}
	examined := 0
	for examined < maxRecords {
		want := s.batch
		if remaining := maxRecords - examined; remaining < want {
			want = remaining
		}

		records, err := cursor.Read(want)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &AccessError{Log: s.logName, Err: err}
		}
		if len(records) == 0 {
			break
		}

		for _, rec := range records {
			if examined >= maxRecords {
				break
			}
			examined++

			if _, ok := sources[rec.Source]; !ok {
				if _, ok := ids[rec.EffectiveID()]; !ok {
					continue
				}
			}
			appendMatch(result, rec)
		}
	}

	s.log.Debug().
		Str("log", s.logName).
		Int("examined", examined).
		Int("matched", result.Count).
		Msg("Event log scan complete")

	return result, nil
}

// appendMatch adds one matching record to the result. A record whose
// message could not be rendered is still counted, with a placeholder
// message carrying the render failure.
func appendMatch(result *Result, rec RawRecord) {
	message := strings.TrimSpace(rec.Message)
	display := message
	if rec.RenderErr != nil {
		message = fmt.Sprintf("format error: %v", rec.RenderErr)
		display = "(" + message + ")"
	}

	result.Count++
	result.Details = append(result.Details, fmt.Sprintf(
		"time: %s, source: %s, id: %d, message: %s",
		rec.Time.Format(DetailTimeLayout), rec.Source, rec.EffectiveID(), display))
	result.Records = append(result.Records, Match{
		Time:    rec.Time,
		Source:  rec.Source,
		EventID: rec.EffectiveID(),
		Message: message,
	})
}
