// Package store persists tool artifacts, execution traces, and repair
// records in a single SQLite database. Metadata lives here; tool payloads
// live on disk under the artifacts directory.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the evolution database. All methods are safe for concurrent
// use; SQLite serializes writes underneath.
type Store struct {
	mu sync.RWMutex
	db *sql.DB
}

// Open creates (if needed) and opens the database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tool_artifacts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		semantic_version TEXT NOT NULL DEFAULT '0.1.0',
		file_path TEXT NOT NULL,
		content_hash TEXT NOT NULL UNIQUE,
		code_content TEXT NOT NULL,
		args_schema TEXT NOT NULL DEFAULT '{}',
		dependencies TEXT NOT NULL DEFAULT '[]',
		permissions TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL DEFAULT 'provisional',
		parent_tool_ids TEXT NOT NULL DEFAULT '[]',
		test_cases TEXT NOT NULL DEFAULT '[]',
		category TEXT NOT NULL DEFAULT '',
		indicator TEXT NOT NULL DEFAULT '',
		data_type TEXT NOT NULL DEFAULT '',
		input_requirements TEXT NOT NULL DEFAULT '[]',
		capabilities TEXT NOT NULL DEFAULT '[]',
		contract_id TEXT NOT NULL DEFAULT '',
		verification_stage INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_tools_name ON tool_artifacts(name);
	CREATE INDEX IF NOT EXISTS idx_tools_status ON tool_artifacts(status);
	CREATE INDEX IF NOT EXISTS idx_tools_contract ON tool_artifacts(contract_id);

	CREATE TABLE IF NOT EXISTS execution_traces (
		trace_id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		tool_id INTEGER,
		input_args TEXT NOT NULL DEFAULT '{}',
		output_repr TEXT NOT NULL DEFAULT '',
		exit_code INTEGER NOT NULL DEFAULT 0,
		std_out TEXT,
		std_err TEXT,
		execution_time_ms INTEGER NOT NULL DEFAULT 0,
		llm_config TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_traces_task ON execution_traces(task_id);

	CREATE TABLE IF NOT EXISTS error_reports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trace_id TEXT NOT NULL,
		error_type TEXT NOT NULL,
		root_cause TEXT NOT NULL,
		occurred_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_errors_trace ON error_reports(trace_id);

	CREATE TABLE IF NOT EXISTS tool_patches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		error_report_id INTEGER NOT NULL,
		base_tool_id INTEGER NOT NULL,
		patch_diff TEXT NOT NULL DEFAULT '',
		rationale TEXT NOT NULL DEFAULT '',
		resulting_tool_id INTEGER,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS batch_merge_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_tool_ids TEXT NOT NULL DEFAULT '[]',
		canonical_tool_id INTEGER,
		strategy TEXT NOT NULL DEFAULT 'generalization',
		regression_stats TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func marshalJSON(v any) string {
	if v == nil {
		return "null"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func unmarshalInto(data string, v any) {
	if data == "" {
		return
	}
	_ = json.Unmarshal([]byte(data), v)
}
