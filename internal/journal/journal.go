// Package journal is the driver's local, append-only record of protocol
// actions: role resolution, discoveries, submissions, cycles. It is
// observability for the driver itself; protocol state of record stays on the
// connector service.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const defaultDBName = "swarmline.db"

// Entry is one journaled action.
type Entry struct {
	ID       int64          `json:"id,omitempty"`
	TS       string         `json:"ts,omitempty"`
	Type     string         `json:"type"`
	AgentID  string         `json:"agent_id,omitempty"`
	TaskID   string         `json:"task_id,omitempty"`
	Endpoint string         `json:"endpoint,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// Recorder accepts journal entries. Components record through this interface
// so tests run without a database; a failed write never interrupts the
// protocol loops.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(context.Context, Entry) {}

// Journal is a sqlite-backed Recorder.
type Journal struct {
	DB      *sql.DB
	AgentID string
	Now     func() time.Time
	Logger  *log.Logger
}

// Config locates the journal database.
type Config struct {
	Workspace string
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".swarmline", defaultDBName)
}

// EnsureWorkspace creates the workspace data directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	path := filepath.Join(workspace, ".swarmline")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the journal database and applies migrations.
func Open(cfg Config) (*Journal, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", dbPath(cfg.Workspace))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &Journal{DB: conn, Now: time.Now}, nil
}

// Path returns the journal db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}

func (j *Journal) Close() error {
	return j.DB.Close()
}

func (j *Journal) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now()
}

// Append writes one entry.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal journal payload: %w", err)
	}
	agent := e.AgentID
	if agent == "" {
		agent = j.AgentID
	}
	_, err = j.DB.ExecContext(ctx,
		`INSERT INTO events(ts,type,agent_id,task_id,endpoint,payload_json) VALUES (?,?,?,?,?,?)`,
		j.now().UTC().Format(time.RFC3339), e.Type, agent, nullable(e.TaskID), nullable(e.Endpoint), string(data))
	return err
}

// Record implements Recorder; append failures are logged, never propagated.
func (j *Journal) Record(ctx context.Context, e Entry) {
	if err := j.Append(ctx, e); err != nil {
		logger := j.Logger
		if logger == nil {
			logger = log.Default()
		}
		logger.Printf("journal append %s: %v", e.Type, err)
	}
}

// Filters narrows Tail results.
type Filters struct {
	Type   string
	TaskID string
}

// Tail returns the most recent n entries, newest first.
func (j *Journal) Tail(ctx context.Context, n int, f Filters) ([]Entry, error) {
	if n <= 0 {
		n = 20
	}
	query := `SELECT id, ts, type, agent_id, COALESCE(task_id,''), COALESCE(endpoint,''), payload_json FROM events`
	var where []string
	var args []any
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if f.TaskID != "" {
		where = append(where, "task_id = ?")
		args = append(args, f.TaskID)
	}
	for i, cond := range where {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, n)

	rows, err := j.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var payload string
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.AgentID, &e.TaskID, &e.Endpoint, &payload); err != nil {
			return nil, err
		}
		if payload != "" {
			_ = json.Unmarshal([]byte(payload), &e.Payload)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
