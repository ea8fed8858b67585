package store

import (
	"database/sql"
	"fmt"

	"github.com/zeussilver/insitu-finance-agent/internal/types"
)

// InsertErrorReport stores an analyzed failure and returns its ID.
func (s *Store) InsertErrorReport(r *types.ErrorReport) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`
		INSERT INTO error_reports (trace_id, error_type, root_cause)
		VALUES (?, ?, ?)`,
		r.TraceID, r.ErrorType, r.RootCause)
	if err != nil {
		return 0, fmt.Errorf("insert error report: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	r.ID = id
	return id, nil
}

// GetErrorReportsByTrace returns reports for one trace.
func (s *Store) GetErrorReportsByTrace(traceID string) ([]*types.ErrorReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`
		SELECT id, trace_id, error_type, root_cause, occurred_at
		FROM error_reports WHERE trace_id = ? ORDER BY id`, traceID)
	if err != nil {
		return nil, fmt.Errorf("query error reports: %w", err)
	}
	defer rows.Close()
	var reports []*types.ErrorReport
	for rows.Next() {
		var r types.ErrorReport
		if err := rows.Scan(&r.ID, &r.TraceID, &r.ErrorType, &r.RootCause, &r.OccurredAt); err != nil {
			return nil, err
		}
		reports = append(reports, &r)
	}
	return reports, rows.Err()
}

// InsertPatch records one repair attempt outcome.
func (s *Store) InsertPatch(p *types.ToolPatch) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`
		INSERT INTO tool_patches
		(error_report_id, base_tool_id, patch_diff, rationale, resulting_tool_id)
		VALUES (?, ?, ?, ?, ?)`,
		p.ErrorReportID, p.BaseToolID, p.PatchDiff, p.Rationale,
		nullableID(p.ResultingToolID))
	if err != nil {
		return 0, fmt.Errorf("insert patch: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	p.ID = id
	return id, nil
}

// InsertMergeRecord documents a deduplication decision.
func (s *Store) InsertMergeRecord(r *types.BatchMergeRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`
		INSERT INTO batch_merge_records
		(source_tool_ids, canonical_tool_id, strategy, regression_stats)
		VALUES (?, ?, ?, ?)`,
		marshalJSON(r.SourceToolIDs), nullableID(r.CanonicalToolID),
		r.Strategy, marshalJSON(r.RegressionStats))
	if err != nil {
		return 0, fmt.Errorf("insert merge record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	r.ID = id
	return id, nil
}

// ListMergeRecords returns all dedup decisions, newest last.
func (s *Store) ListMergeRecords() ([]*types.BatchMergeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`
		SELECT id, source_tool_ids, canonical_tool_id, strategy,
		       regression_stats, created_at
		FROM batch_merge_records ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query merge records: %w", err)
	}
	defer rows.Close()
	var records []*types.BatchMergeRecord
	for rows.Next() {
		var (
			r            types.BatchMergeRecord
			canonical    sql.NullInt64
			sources, rs  string
		)
		if err := rows.Scan(&r.ID, &sources, &canonical, &r.Strategy, &rs, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.CanonicalToolID = canonical.Int64
		unmarshalInto(sources, &r.SourceToolIDs)
		unmarshalInto(rs, &r.RegressionStats)
		records = append(records, &r)
	}
	return records, rows.Err()
}
