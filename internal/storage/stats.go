package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strconv"
	"time"
)

// Statistics aggregates stored events over a period.
type Statistics struct {
	Period    StatsPeriod    `json:"period"`
	Daily     []DailyCount   `json:"daily"`
	BySource  []SourceCount  `json:"by_source"`
	ByEventID []EventIDCount `json:"by_event_id"`

	TotalEvents   int `json:"total_events"`
	TotalAbnormal int `json:"total_abnormal"`
}

// StatsPeriod bounds the window the statistics cover.
type StatsPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Days  int       `json:"days"`
}

// DailyCount is the per-day event tally.
type DailyCount struct {
	Day      string `json:"day"`
	Count    int    `json:"count"`
	Abnormal int    `json:"abnormal_count"`
}

// SourceCount is the per-source event tally.
type SourceCount struct {
	Source   string `json:"source"`
	Count    int    `json:"count"`
	Abnormal int    `json:"abnormal_count"`
}

// EventIDCount is the per-event-ID tally.
type EventIDCount struct {
	EventID  uint32 `json:"event_id"`
	Count    int    `json:"count"`
	Abnormal int    `json:"abnormal_count"`
}

// Statistics aggregates events from the last N days by day, source,
// and event ID.
func (s *Storage) Statistics(days int) (*Statistics, error) {
	now := time.Now()
	cutoffTime := now.AddDate(0, 0, -days)
	cutoff := cutoffTime.Format(time.RFC3339)

	stats := &Statistics{
		Period: StatsPeriod{Start: cutoffTime, End: now, Days: days},
	}

	daily, err := s.queryCounts(
		`SELECT substr(timestamp, 1, 10) AS day, COUNT(*), SUM(abnormal_flag)
		 FROM events WHERE timestamp > ? GROUP BY day ORDER BY day`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily statistics: %w", err)
	}
	for _, row := range daily {
		stats.Daily = append(stats.Daily, DailyCount{Day: row.key, Count: row.count, Abnormal: row.abnormal})
		stats.TotalEvents += row.count
		stats.TotalAbnormal += row.abnormal
	}

	bySource, err := s.queryCounts(
		`SELECT source, COUNT(*), SUM(abnormal_flag)
		 FROM events WHERE timestamp > ? GROUP BY source ORDER BY COUNT(*) DESC`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query source statistics: %w", err)
	}
	for _, row := range bySource {
		stats.BySource = append(stats.BySource, SourceCount{Source: row.key, Count: row.count, Abnormal: row.abnormal})
	}

	byID, err := s.queryCounts(
		`SELECT CAST(event_id AS TEXT), COUNT(*), SUM(abnormal_flag)
		 FROM events WHERE timestamp > ? GROUP BY event_id ORDER BY COUNT(*) DESC`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query event id statistics: %w", err)
	}
	for _, row := range byID {
		id, err := strconv.ParseUint(row.key, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("failed to parse event id %q: %w", row.key, err)
		}
		stats.ByEventID = append(stats.ByEventID, EventIDCount{EventID: uint32(id), Count: row.count, Abnormal: row.abnormal})
	}

	return stats, nil
}

// countRow is one (key, count, abnormal) aggregation row.
type countRow struct {
	key      string
	count    int
	abnormal int
}

func (s *Storage) queryCounts(query, cutoff string) ([]countRow, error) {
	rows, err := s.db.Query(query, cutoff)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		err = rows.Close()
		if err != nil {
			log.Printf("storage: failed to close database rows: %v", err)
		}
	}(rows)

	var out []countRow
	for rows.Next() {
		var row countRow
		var abnormal sql.NullInt64
		if err := rows.Scan(&row.key, &row.count, &abnormal); err != nil {
			return nil, err
		}
		row.abnormal = int(abnormal.Int64)
		out = append(out, row)
	}
	return out, rows.Err()
}

// ExportEvents writes events from the last N days to w as indented
// JSON. Returns how many events were exported.
func (s *Storage) ExportEvents(w io.Writer, days int) (int, error) {
	events, err := s.RecentEvents(days, exportLimit)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	encoded, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to encode events: %w", err)
	}
	if _, err := w.Write(encoded); err != nil {
		return 0, fmt.Errorf("failed to write export: %w", err)
	}

	return len(events), nil
}
