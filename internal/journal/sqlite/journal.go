// Package sqlite persists dispatched coordination events. The core itself
// keeps nothing across restarts; the journal is an external collaborator
// hung on the dispatch pipeline through Recorder().
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"swarmcore/internal/coordination"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS coordination_events (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	source_agent TEXT NOT NULL,
	targets TEXT NOT NULL,
	priority INTEGER NOT NULL,
	payload TEXT NOT NULL,
	emitted_at INTEGER NOT NULL,
	ttl_ms INTEGER NOT NULL,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_coordination_events_type ON coordination_events(type, recorded_at);
CREATE INDEX IF NOT EXISTS idx_coordination_events_recorded ON coordination_events(recorded_at);

CREATE TABLE IF NOT EXISTS agent_lifecycle (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id TEXT NOT NULL,
	action TEXT NOT NULL,
	occurred_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agent_lifecycle_agent ON agent_lifecycle(agent_id, occurred_at);
`

type Journal struct {
	db *sql.DB
}

// LifecycleEntry is one agent_join/agent_leave observation.
type LifecycleEntry struct {
	ID         int64     `json:"id"`
	AgentID    string    `json:"agent_id"`
	Action     string    `json:"action"`
	OccurredAt time.Time `json:"occurred_at"`
}

func Open(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set sqlite pragma %q: %w", stmt, err)
		}
	}

	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) Migrate(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// RecordEvent stores a dispatched event. Recording the same event id twice
// is a no-op, so the journal can sit behind a retrying handler.
func (j *Journal) RecordEvent(ctx context.Context, ev coordination.Event) error {
	targets, err := json.Marshal(ev.Targets)
	if err != nil {
		return fmt.Errorf("marshal targets: %w", err)
	}
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = j.db.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO coordination_events(
			id, type, source_agent, targets, priority, payload, emitted_at, ttl_ms, recorded_at
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Type), ev.Source, string(targets), int(ev.Priority), string(payload),
		ev.Timestamp.Unix(), ev.TTL.Milliseconds(), time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// ListEvents returns the most recently recorded events, newest first.
func (j *Journal) ListEvents(ctx context.Context, limit int) ([]coordination.Event, error) {
	rows, err := j.db.QueryContext(
		ctx,
		`SELECT id, type, source_agent, targets, priority, payload, emitted_at, ttl_ms
		FROM coordination_events
		ORDER BY recorded_at DESC, id
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListAgentEvents returns recorded events that targeted the given agent or
// were emitted by it, newest first.
func (j *Journal) ListAgentEvents(ctx context.Context, agentID string, limit int) ([]coordination.Event, error) {
	rows, err := j.db.QueryContext(
		ctx,
		`SELECT id, type, source_agent, targets, priority, payload, emitted_at, ttl_ms
		FROM coordination_events
		WHERE source_agent = ? OR targets LIKE ?
		ORDER BY recorded_at DESC, id
		LIMIT ?`,
		agentID, `%"`+agentID+`"%`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list agent events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// CountByType returns recorded event counts keyed by event type.
func (j *Journal) CountByType(ctx context.Context) (map[coordination.EventType]int, error) {
	rows, err := j.db.QueryContext(
		ctx,
		`SELECT type, COUNT(*) FROM coordination_events GROUP BY type`,
	)
	if err != nil {
		return nil, fmt.Errorf("count events by type: %w", err)
	}
	defer rows.Close()

	result := make(map[coordination.EventType]int)
	for rows.Next() {
		var eventType string
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		result[coordination.EventType(eventType)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event counts: %w", err)
	}
	return result, nil
}

// RecordLifecycle stores one agent join/leave observation.
func (j *Journal) RecordLifecycle(ctx context.Context, agentID, action string) error {
	_, err := j.db.ExecContext(
		ctx,
		`INSERT INTO agent_lifecycle(agent_id, action, occurred_at) VALUES(?, ?, ?)`,
		agentID, action, time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("record lifecycle: %w", err)
	}
	return nil
}

// ListLifecycle returns the most recent lifecycle entries, newest first.
func (j *Journal) ListLifecycle(ctx context.Context, limit int) ([]LifecycleEntry, error) {
	rows, err := j.db.QueryContext(
		ctx,
		`SELECT id, agent_id, action, occurred_at
		FROM agent_lifecycle
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list lifecycle: %w", err)
	}
	defer rows.Close()

	result := make([]LifecycleEntry, 0, limit)
	for rows.Next() {
		var entry LifecycleEntry
		var occurred int64
		if err := rows.Scan(&entry.ID, &entry.AgentID, &entry.Action, &occurred); err != nil {
			return nil, fmt.Errorf("scan lifecycle entry: %w", err)
		}
		entry.OccurredAt = time.Unix(occurred, 0).UTC()
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lifecycle entries: %w", err)
	}
	return result, nil
}

// Recorder adapts the journal into a dispatch handler. Lifecycle events
// additionally land in the agent_lifecycle table.
func (j *Journal) Recorder(ctx context.Context) coordination.Handler {
	return func(ev coordination.Event) error {
		if err := j.RecordEvent(ctx, ev); err != nil {
			return err
		}
		switch ev.Type {
		case coordination.EventTypeAgentJoin:
			return j.RecordLifecycle(ctx, ev.Source, "join")
		case coordination.EventTypeAgentLeave:
			return j.RecordLifecycle(ctx, ev.Source, "leave")
		}
		return nil
	}
}

func scanEvents(rows *sql.Rows) ([]coordination.Event, error) {
	result := make([]coordination.Event, 0)
	for rows.Next() {
		var ev coordination.Event
		var eventType, targets, payload string
		var priority int
		var emitted, ttlMS int64
		if err := rows.Scan(&ev.ID, &eventType, &ev.Source, &targets, &priority, &payload, &emitted, &ttlMS); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = coordination.EventType(eventType)
		ev.Priority = coordination.EventPriority(priority)
		ev.Timestamp = time.Unix(emitted, 0).UTC()
		ev.TTL = time.Duration(ttlMS) * time.Millisecond
		if err := json.Unmarshal([]byte(targets), &ev.Targets); err != nil {
			return nil, fmt.Errorf("unmarshal targets: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		result = append(result, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return result, nil
}
