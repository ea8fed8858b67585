// Package types holds the shared data model: tool artifacts, execution
// traces, repair records, and the enumerations that describe tool
// lifecycle, permissions, and verification progress.
package types

import (
	"time"
)

// ToolStatus is the lifecycle state of a registered tool.
type ToolStatus string

const (
	StatusProvisional ToolStatus = "provisional" // passed self-tests only
	StatusVerified    ToolStatus = "verified"    // passed batch merge verification
	StatusDeprecated  ToolStatus = "deprecated"  // superseded by a better tool
	StatusFailed      ToolStatus = "failed"      // repair failed or security risk
)

// Permission grants a tool a class of operations at execution time.
type Permission string

const (
	PermCalcOnly    Permission = "calc_only"    // pure computation
	PermNetworkRead Permission = "network_read" // outbound GET for market data
	PermFileWrite   Permission = "file_write"   // cache writes only
)

// Capability is a fine-grained ability attached to a tool category.
type Capability string

const (
	CapCalculate   Capability = "calculate"
	CapFetch       Capability = "fetch"
	CapCacheWrite  Capability = "cache_write"
	CapNetworkRead Capability = "network_read"
	CapFileRead    Capability = "file_read"
)

// Tool categories.
const (
	CategoryFetch       = "fetch"
	CategoryCalculation = "calculation"
	CategoryComposite   = "composite"
)

// CategoryCapabilities maps each category to the capabilities it is granted.
var CategoryCapabilities = map[string][]Capability{
	CategoryFetch:       {CapFetch, CapNetworkRead, CapCacheWrite, CapCalculate},
	CategoryCalculation: {CapCalculate},
	CategoryComposite:   {CapCalculate},
}

// CapabilitiesFor returns the capabilities for a category, defaulting to
// the calculation set for unknown categories.
func CapabilitiesFor(category string) []Capability {
	if caps, ok := CategoryCapabilities[category]; ok {
		return caps
	}
	return CategoryCapabilities[CategoryCalculation]
}

// ToolArtifact is the registry record for one tool. Code is duplicated
// into the row for convenience; the canonical payload lives on disk under
// the artifacts directory.
type ToolArtifact struct {
	ID              int64             `json:"id"`
	Name            string            `json:"name"`
	SemanticVersion string            `json:"semantic_version"`
	FilePath        string            `json:"file_path"` // relative to artifacts/
	ContentHash     string            `json:"content_hash"`
	CodeContent     string            `json:"code_content"`
	ArgsSchema      map[string]string `json:"args_schema"`
	Dependencies    []int64           `json:"dependencies"`
	Permissions     []string          `json:"permissions"`
	Status          ToolStatus        `json:"status"`
	ParentToolIDs   []int64           `json:"parent_tool_ids"`
	TestCases       []map[string]any  `json:"test_cases"`

	// Schema tags used for warm-start lookup.
	Category          string   `json:"category,omitempty"`
	Indicator         string   `json:"indicator,omitempty"`
	DataType          string   `json:"data_type,omitempty"`
	InputRequirements []string `json:"input_requirements,omitempty"`

	// Verification provenance.
	Capabilities      []string `json:"capabilities,omitempty"`
	ContractID        string   `json:"contract_id,omitempty"`
	VerificationStage int      `json:"verification_stage"`

	CreatedAt time.Time `json:"created_at"`
}

// ExecutionTrace captures one tool execution for debugging and refinement.
type ExecutionTrace struct {
	TraceID         string         `json:"trace_id"`
	TaskID          string         `json:"task_id"`
	ToolID          int64          `json:"tool_id,omitempty"`
	InputArgs       map[string]any `json:"input_args"`
	OutputRepr      string         `json:"output_repr"`
	ExitCode        int            `json:"exit_code"`
	Stdout          string         `json:"std_out"`
	Stderr          string         `json:"std_err"`
	ExecutionTimeMS int64          `json:"execution_time_ms"`
	LLMConfig       map[string]any `json:"llm_config,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// ErrorReport is an LLM-analyzed diagnosis of a failed trace.
type ErrorReport struct {
	ID         int64     `json:"id"`
	TraceID    string    `json:"trace_id"`
	ErrorType  string    `json:"error_type"`
	RootCause  string    `json:"root_cause"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ToolPatch links an error report to the repaired tool it produced.
type ToolPatch struct {
	ID              int64     `json:"id"`
	ErrorReportID   int64     `json:"error_report_id"`
	BaseToolID      int64     `json:"base_tool_id"`
	PatchDiff       string    `json:"patch_diff"`
	Rationale       string    `json:"rationale"`
	ResultingToolID int64     `json:"resulting_tool_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// BatchMergeRecord documents a deduplication decision: which tools were
// deprecated in favor of a canonical one.
type BatchMergeRecord struct {
	ID              int64          `json:"id"`
	SourceToolIDs   []int64        `json:"source_tool_ids"`
	CanonicalToolID int64          `json:"canonical_tool_id"`
	Strategy        string         `json:"strategy"`
	RegressionStats map[string]any `json:"regression_stats"`
	CreatedAt       time.Time      `json:"created_at"`
}
