package store

import (
	"database/sql"
	"fmt"

	"github.com/zeussilver/insitu-finance-agent/internal/types"
)

const toolColumns = `id, name, semantic_version, file_path, content_hash,
	code_content, args_schema, dependencies, permissions, status,
	parent_tool_ids, test_cases, category, indicator, data_type,
	input_requirements, capabilities, contract_id, verification_stage,
	created_at`

// InsertTool stores a new artifact row and returns its ID.
func (s *Store) InsertTool(t *types.ToolArtifact) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO tool_artifacts
		(name, semantic_version, file_path, content_hash, code_content,
		 args_schema, dependencies, permissions, status, parent_tool_ids,
		 test_cases, category, indicator, data_type, input_requirements,
		 capabilities, contract_id, verification_stage)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Name, t.SemanticVersion, t.FilePath, t.ContentHash, t.CodeContent,
		marshalJSON(t.ArgsSchema), marshalJSON(t.Dependencies),
		marshalJSON(t.Permissions), string(t.Status),
		marshalJSON(t.ParentToolIDs), marshalJSON(t.TestCases),
		t.Category, t.Indicator, t.DataType,
		marshalJSON(t.InputRequirements), marshalJSON(t.Capabilities),
		t.ContractID, t.VerificationStage)
	if err != nil {
		return 0, fmt.Errorf("insert tool: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	t.ID = id
	return id, nil
}

// GetToolByHash fetches the artifact with the given content hash, nil when
// absent. Used for deduplication.
func (s *Store) GetToolByHash(hash string) (*types.ToolArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(`SELECT `+toolColumns+` FROM tool_artifacts WHERE content_hash = ?`, hash)
	return s.scanTool(row)
}

// GetToolByID fetches one artifact by primary key.
func (s *Store) GetToolByID(id int64) (*types.ToolArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(`SELECT `+toolColumns+` FROM tool_artifacts WHERE id = ?`, id)
	return s.scanTool(row)
}

// GetToolsByName returns every version of a named tool.
func (s *Store) GetToolsByName(name string) ([]*types.ToolArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`SELECT `+toolColumns+` FROM tool_artifacts WHERE name = ?`, name)
	if err != nil {
		return nil, fmt.Errorf("query tools by name: %w", err)
	}
	defer rows.Close()
	return s.scanTools(rows)
}

// ListTools returns all artifacts, optionally filtered by status.
func (s *Store) ListTools(status types.ToolStatus) ([]*types.ToolArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = s.db.Query(`SELECT ` + toolColumns + ` FROM tool_artifacts ORDER BY id`)
	} else {
		rows, err = s.db.Query(`SELECT `+toolColumns+` FROM tool_artifacts WHERE status = ? ORDER BY id`, string(status))
	}
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	defer rows.Close()
	return s.scanTools(rows)
}

// FindToolsByContract returns artifacts registered under a contract.
func (s *Store) FindToolsByContract(contractID string) ([]*types.ToolArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`SELECT `+toolColumns+` FROM tool_artifacts WHERE contract_id = ? ORDER BY id`, contractID)
	if err != nil {
		return nil, fmt.Errorf("query tools by contract: %w", err)
	}
	defer rows.Close()
	return s.scanTools(rows)
}

// FindToolBySchema returns the newest non-deprecated artifact matching the
// category and, when non-empty, the indicator tag.
func (s *Store) FindToolBySchema(category, indicator string) (*types.ToolArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	query := `SELECT ` + toolColumns + ` FROM tool_artifacts
		WHERE category = ? AND status NOT IN ('deprecated', 'failed')`
	args := []any{category}
	if indicator != "" {
		query += ` AND indicator = ?`
		args = append(args, indicator)
	}
	query += ` ORDER BY id DESC LIMIT 1`
	row := s.db.QueryRow(query, args...)
	return s.scanTool(row)
}

// UpdateToolStatus sets the lifecycle status of one artifact.
func (s *Store) UpdateToolStatus(id int64, status types.ToolStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE tool_artifacts SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

// UpdateToolSchema records the lookup tags extracted after registration.
func (s *Store) UpdateToolSchema(id int64, category, indicator, dataType string, inputReqs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		UPDATE tool_artifacts
		SET category = ?, indicator = ?, data_type = ?, input_requirements = ?
		WHERE id = ?`,
		category, indicator, dataType, marshalJSON(inputReqs), id)
	if err != nil {
		return fmt.Errorf("update schema: %w", err)
	}
	return nil
}

// UpdateToolVerification stamps verification provenance onto an artifact.
func (s *Store) UpdateToolVerification(id int64, capabilities []string, contractID string, stage int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		UPDATE tool_artifacts
		SET capabilities = ?, contract_id = ?, verification_stage = ?
		WHERE id = ?`,
		marshalJSON(capabilities), contractID, stage, id)
	if err != nil {
		return fmt.Errorf("update verification: %w", err)
	}
	return nil
}

// DeleteAllTools removes every artifact row. Used by the eval harness for
// cold-start runs.
func (s *Store) DeleteAllTools() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM tool_artifacts`)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanTool(row rowScanner) (*types.ToolArtifact, error) {
	var (
		t                             types.ToolArtifact
		argsSchema, deps, perms       string
		parents, testCases, inputReqs string
		caps, status                  string
	)
	err := row.Scan(&t.ID, &t.Name, &t.SemanticVersion, &t.FilePath,
		&t.ContentHash, &t.CodeContent, &argsSchema, &deps, &perms, &status,
		&parents, &testCases, &t.Category, &t.Indicator, &t.DataType,
		&inputReqs, &caps, &t.ContractID, &t.VerificationStage, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan tool: %w", err)
	}
	t.Status = types.ToolStatus(status)
	unmarshalInto(argsSchema, &t.ArgsSchema)
	unmarshalInto(deps, &t.Dependencies)
	unmarshalInto(perms, &t.Permissions)
	unmarshalInto(parents, &t.ParentToolIDs)
	unmarshalInto(testCases, &t.TestCases)
	unmarshalInto(inputReqs, &t.InputRequirements)
	unmarshalInto(caps, &t.Capabilities)
	return &t, nil
}

func (s *Store) scanTools(rows *sql.Rows) ([]*types.ToolArtifact, error) {
	var tools []*types.ToolArtifact
	for rows.Next() {
		t, err := s.scanTool(rows)
		if err != nil {
			return nil, err
		}
		if t != nil {
			tools = append(tools, t)
		}
	}
	return tools, rows.Err()
}

// ToolStats aggregates the registry state for metrics and CLI output.
type ToolStats struct {
	Total      int
	Active     int
	Deprecated int
	Failed     int
}

// GetToolStats counts artifacts by lifecycle state.
func (s *Store) GetToolStats() (ToolStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st ToolStats
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM tool_artifacts GROUP BY status`)
	if err != nil {
		return st, fmt.Errorf("tool stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return st, err
		}
		st.Total += n
		switch types.ToolStatus(status) {
		case types.StatusDeprecated:
			st.Deprecated += n
		case types.StatusFailed:
			st.Failed += n
		default:
			st.Active += n
		}
	}
	return st, rows.Err()
}
