package store

import (
	"database/sql"
	"fmt"

	"github.com/zeussilver/insitu-finance-agent/internal/types"
)

// InsertTrace records one execution trace. Re-inserting the same trace ID
// replaces the row.
func (s *Store) InsertTrace(tr *types.ExecutionTrace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO execution_traces
		(trace_id, task_id, tool_id, input_args, output_repr, exit_code,
		 std_out, std_err, execution_time_ms, llm_config)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.TraceID, tr.TaskID, nullableID(tr.ToolID),
		marshalJSON(tr.InputArgs), tr.OutputRepr, tr.ExitCode,
		tr.Stdout, tr.Stderr, tr.ExecutionTimeMS, marshalJSON(tr.LLMConfig))
	if err != nil {
		return fmt.Errorf("insert trace: %w", err)
	}
	return nil
}

// GetTrace fetches one trace by ID, nil when absent.
func (s *Store) GetTrace(traceID string) (*types.ExecutionTrace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(`
		SELECT trace_id, task_id, tool_id, input_args, output_repr,
		       exit_code, std_out, std_err, execution_time_ms, llm_config, created_at
		FROM execution_traces WHERE trace_id = ?`, traceID)
	return scanTrace(row)
}

// GetTracesByTask returns every trace recorded for a task.
func (s *Store) GetTracesByTask(taskID string) ([]*types.ExecutionTrace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`
		SELECT trace_id, task_id, tool_id, input_args, output_repr,
		       exit_code, std_out, std_err, execution_time_ms, llm_config, created_at
		FROM execution_traces WHERE task_id = ? ORDER BY created_at`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query traces: %w", err)
	}
	defer rows.Close()
	var traces []*types.ExecutionTrace
	for rows.Next() {
		tr, err := scanTrace(rows)
		if err != nil {
			return nil, err
		}
		if tr != nil {
			traces = append(traces, tr)
		}
	}
	return traces, rows.Err()
}

func scanTrace(row rowScanner) (*types.ExecutionTrace, error) {
	var (
		tr       types.ExecutionTrace
		toolID   sql.NullInt64
		stdout   sql.NullString
		stderr   sql.NullString
		args, lc string
	)
	err := row.Scan(&tr.TraceID, &tr.TaskID, &toolID, &args, &tr.OutputRepr,
		&tr.ExitCode, &stdout, &stderr, &tr.ExecutionTimeMS, &lc, &tr.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan trace: %w", err)
	}
	tr.ToolID = toolID.Int64
	tr.Stdout = stdout.String
	tr.Stderr = stderr.String
	unmarshalInto(args, &tr.InputArgs)
	unmarshalInto(lc, &tr.LLMConfig)
	return &tr, nil
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
