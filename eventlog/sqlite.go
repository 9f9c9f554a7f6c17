package eventlog

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/hupe1980/taskmesh/core"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a durable LogStore backed by an embedded SQLite database.
// Append order is preserved through a monotonic sequence column per log.
// Use ":memory:" as the path for a throwaway database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema. Callers own Close.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS logs (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		log_id TEXT NOT NULL REFERENCES logs(id),
		event_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		author TEXT,
		correlation TEXT,
		created_at TIMESTAMP NOT NULL,
		content TEXT,
		metadata TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_events_log ON events(log_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Create inserts an empty log row, replacing any previous log with that id.
func (s *SQLiteStore) Create(id string) (*core.Log, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM events WHERE log_id = ?`, id); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(
		`INSERT INTO logs (id) VALUES (?) ON CONFLICT(id) DO UPDATE SET updated_at = CURRENT_TIMESTAMP`, id,
	); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return core.NewLog(id), nil
}

// Get loads the full log, creating it lazily if absent.
func (s *SQLiteStore) Get(id string) (*core.Log, error) {
	events, err := s.Snapshot(id)
	if err != nil {
		return nil, err
	}
	l := core.NewLog(id)
	for _, ev := range events {
		l.Append(ev)
	}
	return l, nil
}

// AppendEvent persists one event at the tail of the log.
func (s *SQLiteStore) AppendEvent(id string, ev core.Event) error {
	content, err := encodeContent(ev.Content)
	if err != nil {
		return err
	}

	var metadata *string
	if len(ev.Metadata) > 0 {
		data, err := json.Marshal(ev.Metadata)
		if err != nil {
			return err
		}
		str := string(data)
		metadata = &str
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO logs (id) VALUES (?) ON CONFLICT(id) DO UPDATE SET updated_at = CURRENT_TIMESTAMP`, id,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO events (log_id, event_id, kind, author, correlation, created_at, content, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, ev.ID, string(ev.Kind), ev.Author, ev.Correlation, ev.Timestamp.UTC(), string(content), metadata,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// Snapshot returns the ordered event sequence for the log id. A missing log
// yields an empty slice, matching the in-memory store.
func (s *SQLiteStore) Snapshot(id string) ([]core.Event, error) {
	rows, err := s.db.Query(
		`SELECT event_id, kind, author, correlation, created_at, content, metadata
		 FROM events WHERE log_id = ? ORDER BY seq`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []core.Event{}
	for rows.Next() {
		var (
			ev          core.Event
			kind        string
			correlation sql.NullString
			createdAt   time.Time
			content     sql.NullString
			metadata    sql.NullString
		)

		if err := rows.Scan(&ev.ID, &kind, &ev.Author, &correlation, &createdAt, &content, &metadata); err != nil {
			return nil, err
		}

		ev.ConversationID = id
		ev.Kind = core.EventKind(kind)
		ev.Timestamp = createdAt
		if correlation.Valid {
			ev.Correlation = correlation.String
		}
		if content.Valid {
			c, err := decodeContent([]byte(content.String))
			if err != nil {
				return nil, err
			}
			ev.Content = c
		}
		if metadata.Valid {
			var md map[string]string
			if err := json.Unmarshal([]byte(metadata.String), &md); err == nil {
				ev.Metadata = md
			}
		}

		events = append(events, ev)
	}

	return events, rows.Err()
}
