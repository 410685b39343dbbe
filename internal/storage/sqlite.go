package storage

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/osmetric/devwatch/internal/hardware"
)

// Storage handles database operations
type Storage struct {
	db *sql.DB
}

// Session represents one monitoring run
type Session struct {
	ID                int64
	RunID             string
	StartTime         time.Time
	EndTime           time.Time // zero while the session is open
	EventsFound       int
	DevicesFound      int
	AnalysisPerformed bool
	Summary           string
}

// SessionResult carries the final counters written when a session ends
type SessionResult struct {
	EventsFound       int
	DevicesFound      int
	AnalysisPerformed bool
	Summary           string
}

// Event is one matched log record together with its analysis outcome
type Event struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	EventID   uint32    `json:"event_id"`
	Message   string    `json:"message"`
	Analysis  string    `json:"llm_analysis"`
	Abnormal  bool      `json:"abnormal"`
}

// Database configuration constants
const (
	// busyTimeoutMs is how long SQLite waits when the database is locked
	busyTimeoutMs = 5000
	// maxOpenConns limits concurrent connections (SQLite works best with 1)
	maxOpenConns = 1
	// maxIdleConns is the number of idle connections to keep
	maxIdleConns = 1
	// connMaxLifetime is how long a connection can be reused
	connMaxLifetime = 30 * time.Minute
	// exportLimit caps how many events one export can carry
	exportLimit = 10000
)

// New creates a new storage instance
func New(dbPath string) (*Storage, error) {
	// Create directory if it doesn't exist (0700 for security - owner only)
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// The _busy_timeout pragma prevents "database is locked" errors by waiting
	dsn := fmt.Sprintf("%s?_busy_timeout=%d", dbPath, busyTimeoutMs)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single connection to avoid lock contention
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	storage := &Storage{db: db}

	if err := storage.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// InitDatabase creates (or with force, recreates) the database file and
// its schema without keeping a connection open.
func InitDatabase(dbPath string, force bool) error {
	if force {
		if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove existing database: %w", err)
		}
	}

	s, err := New(dbPath)
	if err != nil {
		return err
	}
	return s.Close()
}

// Schema version constants
const (
	// currentSchemaVersion is the latest schema version
	// Increment this when adding new migrations
	currentSchemaVersion = 2
)

// initSchema creates the database schema if it doesn't exist
func (s *Storage) initSchema() error {
	// Create schema_version table first (tracks migration state)
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	version := s.getSchemaVersion()

	if err := s.migrateSchema(version); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	return nil
}

// getSchemaVersion returns the current schema version (0 if not set)
func (s *Storage) getSchemaVersion() int {
	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if err != nil {
		return 0 // No version set, needs full migration
	}
	return version
}

// setSchemaVersion updates the schema version
func (s *Storage) setSchemaVersion(version int) error {
	// Delete existing and insert new (simpler than upsert for single row)
	if _, err := s.db.Exec(`DELETE FROM schema_version`); err != nil {
		return err
	}
	if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, version); err != nil {
		return err
	}
	return nil
}

// migrateSchema runs migrations from currentVersion to latest
func (s *Storage) migrateSchema(currentVersion int) error {
	if currentVersion >= currentSchemaVersion {
		return nil // Already up to date
	}

	log.Printf("storage: migrating schema from version %d to %d", currentVersion, currentSchemaVersion)

	// Migration 0 -> 1: Create base tables
	if currentVersion < 1 {
		if err := s.migrateV1(); err != nil {
			return fmt.Errorf("migration v1 failed: %w", err)
		}
	}

	// Migration 1 -> 2: Add run_id column and query indexes
	if currentVersion < 2 {
		if err := s.migrateV2(); err != nil {
			return fmt.Errorf("migration v2 failed: %w", err)
		}
	}

	if err := s.setSchemaVersion(currentSchemaVersion); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}

	log.Printf("storage: schema migration completed successfully (now at version %d)", currentSchemaVersion)
	return nil
}

// migrateV1 creates the base tables
func (s *Storage) migrateV1() error {
	log.Printf("storage: running migration v1 - create base tables")

	schema := `
	CREATE TABLE IF NOT EXISTS scan_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		start_time TEXT NOT NULL,
		end_time TEXT,
		events_found INTEGER DEFAULT 0,
		hw_devices_found INTEGER DEFAULT 0,
		llm_analysis_performed INTEGER DEFAULT 0,
		summary TEXT,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS hardware_info (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL DEFAULT 0,
		timestamp TEXT NOT NULL,
		hw_type TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		device_id TEXT,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL DEFAULT 0,
		timestamp TEXT NOT NULL,
		source TEXT NOT NULL,
		event_id INTEGER NOT NULL,
		message TEXT,
		llm_analysis TEXT,
		abnormal_flag INTEGER DEFAULT 0,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// migrateV2 adds the run_id column and the query indexes
func (s *Storage) migrateV2() error {
	log.Printf("storage: running migration v2 - add run_id column and indexes")

	// Check if the column already exists (for databases migrated before
	// version tracking)
	var hasRunID bool
	rows, err := s.db.Query("PRAGMA table_info(scan_sessions)")
	if err != nil {
		return fmt.Errorf("failed to get table info: %w", err)
	}
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			_ = rows.Close()
			return fmt.Errorf("failed to scan column info: %w", err)
		}
		if name == "run_id" {
			hasRunID = true
			break
		}
	}
	_ = rows.Close()

	if !hasRunID {
		if _, err := s.db.Exec(`ALTER TABLE scan_sessions ADD COLUMN run_id TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("failed to add run_id column: %w", err)
		}
	}

	indexes := `
	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
	CREATE INDEX IF NOT EXISTS idx_hardware_session ON hardware_info(session_id);
	`
	if _, err := s.db.Exec(indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

// StartSession opens a new scan session and returns its ID.
func (s *Storage) StartSession(runID string) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO scan_sessions (run_id, start_time) VALUES (?, ?)`,
		runID,
		time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert session: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}
	return id, nil
}

// EndSession closes a session with its final counters. A zero session
// ID means no session was opened and the call is a no-op.
func (s *Storage) EndSession(sessionID int64, res SessionResult) error {
	if sessionID <= 0 {
		return nil
	}

	_, err := s.db.Exec(
		`UPDATE scan_sessions SET end_time=?, events_found=?, hw_devices_found=?, llm_analysis_performed=?, summary=? WHERE id=?`,
		time.Now().Format(time.RFC3339),
		res.EventsFound,
		res.DevicesFound,
		boolToInt(res.AnalysisPerformed),
		res.Summary,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

// StoreHardware saves one category of collected devices under a
// session. Returns how many rows were written.
func (s *Storage) StoreHardware(sessionID int64, category string, devices []hardware.Device) (int, error) {
	if sessionID <= 0 || len(devices) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	timestamp := time.Now().Format(time.RFC3339)
	count := 0
	for _, device := range devices {
		_, err := tx.Exec(
			`INSERT INTO hardware_info (session_id, timestamp, hw_type, name, description, device_id) VALUES (?, ?, ?, ?, ?, ?)`,
			sessionID,
			timestamp,
			category,
			device.Name,
			device.Description,
			device.DeviceID,
		)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("failed to insert hardware row: %w", err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit hardware rows: %w", err)
	}
	return count, nil
}

// StoreEvents saves matched events under a session. Returns how many
// rows were written.
func (s *Storage) StoreEvents(sessionID int64, events []Event) (int, error) {
	if sessionID <= 0 || len(events) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	count := 0
	for _, event := range events {
		timestamp := event.Timestamp
		if timestamp.IsZero() {
			timestamp = time.Now()
		}
		_, err := tx.Exec(
			`INSERT INTO events (session_id, timestamp, source, event_id, message, llm_analysis, abnormal_flag) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sessionID,
			timestamp.Format(time.RFC3339),
			event.Source,
			event.EventID,
			event.Message,
			event.Analysis,
			boolToInt(event.Abnormal),
		)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("failed to insert event row: %w", err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit event rows: %w", err)
	}
	return count, nil
}

// RecentEvents retrieves events from the last N days, newest first.
func (s *Storage) RecentEvents(days, limit int) ([]Event, error) {
	cutoff := time.Now().AddDate(0, 0, -days).Format(time.RFC3339)

	rows, err := s.db.Query(
		`SELECT id, session_id, timestamp, source, event_id, message, llm_analysis, abnormal_flag
		 FROM events WHERE timestamp > ? ORDER BY timestamp DESC LIMIT ?`,
		cutoff,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func(rows *sql.Rows) {
		err = rows.Close()
		if err != nil {
			log.Printf("storage: failed to close database rows: %v", err)
		}
	}(rows)

	var events []Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	return events, rows.Err()
}

// RecentSessions retrieves the latest scan sessions, newest first.
func (s *Storage) RecentSessions(limit int) ([]Session, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, start_time, end_time, events_found, hw_devices_found, llm_analysis_performed, summary
		 FROM scan_sessions ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func(rows *sql.Rows) {
		err = rows.Close()
		if err != nil {
			log.Printf("storage: failed to close database rows: %v", err)
		}
	}(rows)

	var sessions []Session
	for rows.Next() {
		var (
			sess      Session
			start     string
			end       sql.NullString
			performed int
			summary   sql.NullString
		)
		if err := rows.Scan(&sess.ID, &sess.RunID, &start, &end, &sess.EventsFound,
			&sess.DevicesFound, &performed, &summary); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, start); err == nil {
			sess.StartTime = t
		}
		if end.Valid {
			if t, err := time.Parse(time.RFC3339, end.String); err == nil {
				sess.EndTime = t
			}
		}
		sess.AnalysisPerformed = performed != 0
		sess.Summary = summary.String
		sessions = append(sessions, sess)
	}

	return sessions, rows.Err()
}

// CleanupOldEvents deletes events, hardware rows, and closed sessions
// older than N days. Returns how many rows were removed in total.
func (s *Storage) CleanupOldEvents(days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days).Format(time.RFC3339)

	var total int64
	for _, query := range []string{
		`DELETE FROM events WHERE timestamp < ?`,
		`DELETE FROM hardware_info WHERE timestamp < ?`,
		`DELETE FROM scan_sessions WHERE start_time < ? AND end_time IS NOT NULL`,
	} {
		result, err := s.db.Exec(query, cutoff)
		if err != nil {
			return total, fmt.Errorf("failed to cleanup old rows: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to get rows affected: %w", err)
		}
		total += affected
	}

	return total, nil
}

// scanEvent scans a database row into an Event struct
func scanEvent(rows *sql.Rows) (Event, error) {
	var (
		id, sessionID     int64
		timestamp, source string
		eventID           int64
		message, analysis sql.NullString
		abnormalFlag      int
	)

	err := rows.Scan(&id, &sessionID, &timestamp, &source, &eventID, &message, &analysis, &abnormalFlag)
	if err != nil {
		return Event{}, fmt.Errorf("failed to scan row: %w", err)
	}

	ts, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return Event{}, fmt.Errorf("failed to parse timestamp: %w", err)
	}

	return Event{
		ID:        id,
		SessionID: sessionID,
		Timestamp: ts,
		Source:    source,
		EventID:   uint32(eventID),
		Message:   message.String,
		Analysis:  analysis.String,
		Abnormal:  abnormalFlag != 0,
	}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Close closes the database connection
func (s *Storage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
