package digest

import (
	"fmt"
	"strings"
	"testing"
)

func detailLine(ts, source string, id int, message string) string {
	return fmt.Sprintf("time: %s, source: %s, id: %d, message: %s", ts, source, id, message)
}

func TestBuild_Empty(t *testing.T) {
	if got := Build(nil, 20); got != NoData {
		t.Errorf("Build(nil) = %q, want no-data sentinel", got)
	}
	if got := Build([]string{}, 20); got != NoData {
		t.Errorf("Build(empty) = %q, want no-data sentinel", got)
	}
}

func TestBuild_Idempotent(t *testing.T) {
	details := []string{
		detailLine("2024-05-01 12:00:00", "DriverX", 7, "disconnect"),
		detailLine("2024-05-01 11:00:00", "DriverX", 7, "disconnect"),
		detailLine("2024-05-01 10:00:00", "Other", 3, "warning"),
		"completely unparseable noise",
	}

	first := Build(details, 20)
	second := Build(details, 20)

	if first != second {
		t.Errorf("Digest not idempotent:\nfirst:\n%s\nsecond:\n%s", first, second)
	}
}

func TestBuild_Header(t *testing.T) {
	details := []string{
		detailLine("2024-05-01 12:00:00", "DriverX", 7, "newest"),
		detailLine("2024-05-01 10:00:00", "Other", 3, "oldest"),
	}

	got := Build(details, 20)

	for _, want := range []string{
		"## Summary",
		"- Total entries: 2",
		"- Time range: 2024-05-01 10:00:00 ~ 2024-05-01 12:00:00",
		"- Distinct event groups: 2",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Digest missing %q:\n%s", want, got)
		}
	}
}

func TestBuild_SortsAscending(t *testing.T) {
	// Input is newest-first, digest must come out oldest-first.
	details := []string{
		detailLine("2024-05-01 12:00:00", "DriverX", 7, "third"),
		detailLine("2024-05-01 11:00:00", "DriverX", 7, "second"),
		detailLine("2024-05-01 10:00:00", "DriverX", 7, "first"),
	}

	got := Build(details, 20)

	first := strings.Index(got, "first")
	second := strings.Index(got, "second")
	third := strings.Index(got, "third")
	if first < 0 || second < 0 || third < 0 {
		t.Fatalf("Digest missing entries:\n%s", got)
	}
	if !(first < second && second < third) {
		t.Errorf("Entries not in ascending time order:\n%s", got)
	}
}

func TestBuild_GroupCompression(t *testing.T) {
	var details []string
	for i := 6; i >= 1; i-- {
		details = append(details,
			detailLine(fmt.Sprintf("2024-05-01 10:0%d:00", i), "DriverX", 7, fmt.Sprintf("entry%d", i)))
	}

	got := Build(details, 20)

	if !strings.Contains(got, "## DriverX (ID: 7) - 6 matches") {
		t.Errorf("Missing group header:\n%s", got)
	}
	if !strings.Contains(got, "showing 5 of 6 entries (first 3, last 2)") {
		t.Errorf("Missing compression note:\n%s", got)
	}
	// First 3 and last 2 of the ascending sequence 1..6.
	for _, want := range []string{"entry1", "entry2", "entry3", "entry5", "entry6"} {
		if !strings.Contains(got, want) {
			t.Errorf("Compressed group missing %s:\n%s", want, got)
		}
	}
	if strings.Contains(got, "entry4") {
		t.Errorf("entry4 should be elided:\n%s", got)
	}
}

func TestBuild_SmallGroupShownInFull(t *testing.T) {
	details := []string{
		detailLine("2024-05-01 11:00:00", "DriverX", 7, "two"),
		detailLine("2024-05-01 10:00:00", "DriverX", 7, "one"),
	}

	got := Build(details, 20)

	if !strings.Contains(got, "## DriverX (ID: 7) - 2 matches") {
		t.Errorf("Missing group header:\n%s", got)
	}
	if strings.Contains(got, "showing") {
		t.Errorf("Small group must not be compressed:\n%s", got)
	}
	for _, want := range []string{"one", "two"} {
		if !strings.Contains(got, want) {
			t.Errorf("Missing %s:\n%s", want, got)
		}
	}
}

func TestBuild_ExactlyFiveNotCompressed(t *testing.T) {
	var details []string
	for i := 5; i >= 1; i-- {
		details = append(details,
			detailLine(fmt.Sprintf("2024-05-01 10:0%d:00", i), "DriverX", 7, fmt.Sprintf("entry%d", i)))
	}

	got := Build(details, 20)

	if strings.Contains(got, "showing") {
		t.Errorf("Five-entry group must be shown in full:\n%s", got)
	}
	if !strings.Contains(got, "entry4") {
		t.Errorf("All five entries expected:\n%s", got)
	}
}

func TestBuild_UnparseableLine(t *testing.T) {
	details := []string{"!!not a detail line!!"}

	got := Build(details, 20)

	if !strings.Contains(got, "## parse failed (ID: 0) - 1 matches") {
		t.Errorf("Unparseable line should land in the parse-failed group:\n%s", got)
	}
	if !strings.Contains(got, "[1970-01-01 00:00:00] !!not a detail line!!") {
		t.Errorf("Unparseable line should carry the epoch timestamp:\n%s", got)
	}
}

func TestBuild_UnparseableSortsFirst(t *testing.T) {
	details := []string{
		detailLine("2024-05-01 10:00:00", "DriverX", 7, "real"),
		"garbage",
	}

	got := Build(details, 20)

	garbage := strings.Index(got, "[1970-01-01 00:00:00] garbage")
	real := strings.Index(got, "real")
	if garbage < 0 || real < 0 {
		t.Fatalf("Digest missing entries:\n%s", got)
	}
	if garbage > real {
		t.Errorf("Epoch-stamped entries should sort first:\n%s", got)
	}
}

func TestBuild_MaxLinesWindow(t *testing.T) {
	var details []string
	for i := 0; i < 30; i++ {
		details = append(details,
			detailLine("2024-05-01 10:00:00", "DriverX", 7, fmt.Sprintf("m%d", i)))
	}

	got := Build(details, 20)

	if !strings.Contains(got, "- Total entries: 20") {
		t.Errorf("Only the first 20 lines should be digested:\n%s", got)
	}
	// The newest window keeps m0..m19, drops the rest.
	if strings.Contains(got, "m25]") || strings.Contains(got, "message: m25") {
		t.Errorf("Line beyond the window leaked in:\n%s", got)
	}
}

func TestBuild_GroupOrderByFirstOccurrence(t *testing.T) {
	details := []string{
		detailLine("2024-05-01 12:00:00", "Late", 9, "late entry"),
		detailLine("2024-05-01 10:00:00", "Early", 1, "early entry"),
	}

	got := Build(details, 20)

	early := strings.Index(got, "## Early (ID: 1)")
	late := strings.Index(got, "## Late (ID: 9)")
	if early < 0 || late < 0 {
		t.Fatalf("Missing group headers:\n%s", got)
	}
	if early > late {
		t.Errorf("Groups should appear in first-occurrence order after sorting:\n%s", got)
	}
}
