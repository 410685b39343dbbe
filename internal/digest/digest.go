// Package digest condenses matched event detail lines into the
// compact grouped text handed to the analysis model.
package digest

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/osmetric/devwatch/internal/eventlog"
)

// NoData is returned for empty input. Callers short-circuit on it
// instead of sending an empty digest out for analysis.
const NoData = "no relevant event log content to analyze"

// Groups larger than groupFullLimit are compressed to their first
// groupHeadCount and last groupTailCount entries.
const (
	groupFullLimit = 5
	groupHeadCount = 3
	groupTailCount = 2
)

var (
	timePattern   = regexp.MustCompile(`time: ([\d-]+ [\d:]+)`)
	sourcePattern = regexp.MustCompile(`source: ([^,]+)`)
	idPattern     = regexp.MustCompile(`id: (\d+)`)
)

// epoch is the sentinel timestamp for lines whose time could not be
// parsed; it sorts before any real record time.
var epoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.Local)

type entry struct {
	when   time.Time
	source string
	id     string
	line   string
}

type group struct {
	key     string
	entries []entry
}

// Build condenses detail lines (newest first) into the digest text.
// Only the first maxLines lines participate when maxLines > 0. Build
// is a pure function: the same input always yields the same digest.
func Build(details []string, maxLines int) string {
	if len(details) == 0 {
		return NoData
	}
	if maxLines > 0 && len(details) > maxLines {
		details = details[:maxLines]
	}

	entries := make([]entry, 0, len(details))
	for _, line := range details {
		entries = append(entries, parseLine(line))
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].when.Before(entries[j].when)
	})

	groups := make(map[string]*group)
	var ordered []*group
	for _, e := range entries {
		key := fmt.Sprintf("%s (ID: %s)", e.source, e.id)
		g, ok := groups[key]
		if !ok {
			g = &group{key: key}
			groups[key] = g
			ordered = append(ordered, g)
		}
		g.entries = append(g.entries, e)
	}

	lines := []string{
		"## Summary",
		fmt.Sprintf("- Total entries: %d", len(entries)),
		fmt.Sprintf("- Time range: %s ~ %s",
			entries[0].when.Format(eventlog.DetailTimeLayout),
			entries[len(entries)-1].when.Format(eventlog.DetailTimeLayout)),
		fmt.Sprintf("- Distinct event groups: %d", len(ordered)),
		"",
	}

	for _, g := range ordered {
		lines = append(lines, fmt.Sprintf("## %s - %d matches", g.key, len(g.entries)))

		display := g.entries
		if len(g.entries) > groupFullLimit {
			lines = append(lines, fmt.Sprintf("showing %d of %d entries (first %d, last %d)",
				groupHeadCount+groupTailCount, len(g.entries), groupHeadCount, groupTailCount))
			display = make([]entry, 0, groupHeadCount+groupTailCount)
			display = append(display, g.entries[:groupHeadCount]...)
			display = append(display, g.entries[len(g.entries)-groupTailCount:]...)
		}
		for _, e := range display {
			lines = append(lines, fmt.Sprintf("[%s] %s",
				e.when.Format(eventlog.DetailTimeLayout), e.line))
		}
		lines = append(lines, "")
	}

	return strings.Join(lines, "\n")
}

// parseLine extracts the time, source, and ID fields from one detail
// line. Each field degrades independently; a line with none of them
// still participates under the epoch timestamp and a "parse failed"
// source label.
func parseLine(line string) entry {
	e := entry{
		when:   epoch,
		source: "parse failed",
		id:     "0",
		line:   line,
	}
	if m := timePattern.FindStringSubmatch(line); m != nil {
		if ts, err := time.ParseInLocation(eventlog.DetailTimeLayout, m[1], time.Local); err == nil {
			e.when = ts
		}
	}
	if m := sourcePattern.FindStringSubmatch(line); m != nil {
		e.source = strings.TrimSpace(m[1])
	}
	if m := idPattern.FindStringSubmatch(line); m != nil {
		e.id = m[1]
	}
	return e
}
