// Package verifier runs the multi-stage verification pipeline on
// generated tool source: AST security, self-test, contract validation,
// and (for fetch tools with real data) an integration run. A tool is
// promotable only when every applicable stage passes.
package verifier

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/zeussilver/insitu-finance-agent/internal/contracts"
	"github.com/zeussilver/insitu-finance-agent/internal/executor"
	"github.com/zeussilver/insitu-finance-agent/internal/logging"
	"github.com/zeussilver/insitu-finance-agent/internal/toolsrc"
)

// Stage numbers the verification ladder. Zero means no stage passed.
type Stage int

const (
	StageNone Stage = iota
	StageASTSecurity
	StageSelfTest
	StageContractValid
	StageIntegration
)

// Names for reports and logs.
var stageNames = map[Stage]string{
	StageNone:          "NONE",
	StageASTSecurity:   "AST_SECURITY",
	StageSelfTest:      "SELF_TEST",
	StageContractValid: "CONTRACT_VALID",
	StageIntegration:   "INTEGRATION",
}

// Name returns the stage's report name.
func (s Stage) Name() string { return stageNames[s] }

// Result is the outcome of one stage.
type Result string

const (
	ResultPass Result = "pass"
	ResultFail Result = "fail"
	ResultSkip Result = "skip" // stage not applicable
)

// StageResult records one stage of the pipeline.
type StageResult struct {
	Stage   Stage          `json:"stage"`
	Result  Result         `json:"result"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Report is the complete verification outcome for one tool.
type Report struct {
	ToolName   string        `json:"tool_name"`
	Category   string        `json:"category"`
	Stages     []StageResult `json:"stages"`
	FinalStage Stage         `json:"final_stage"`
	Passed     bool          `json:"passed"`
}

func (r *Report) addStage(sr StageResult) {
	r.Stages = append(r.Stages, sr)
	if sr.Result == ResultPass && sr.Stage > r.FinalStage {
		r.FinalStage = sr.Stage
	}
	if sr.Result == ResultFail {
		r.Passed = false
	}
}

// FailureMessages collects the messages of failed stages.
func (r *Report) FailureMessages() []string {
	var msgs []string
	for _, s := range r.Stages {
		if s.Result == ResultFail {
			msgs = append(msgs, fmt.Sprintf("%s: %s", s.Stage.Name(), s.Message))
		}
	}
	return msgs
}

// Verifier drives the pipeline.
type Verifier struct {
	exec       *executor.Executor
	maxRetries int
	retryDelay time.Duration
}

// New builds a verifier over the executor. maxRetries bounds the
// integration-stage network retries.
func New(exec *executor.Executor, maxRetries int, retryDelay time.Duration) *Verifier {
	if maxRetries <= 0 {
		maxRetries = 2
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return &Verifier{exec: exec, maxRetries: maxRetries, retryDelay: retryDelay}
}

// VerifyAllStages runs the pipeline over the source. The contract stage
// is skipped (not failed) when contract is nil; the integration stage
// runs only for fetch tools when realData is provided.
func (v *Verifier) VerifyAllStages(ctx context.Context, code, category, taskID string, contract *contracts.Contract, realData map[string]any) (bool, *Report) {
	funcName := toolsrc.ExtractFunctionName(code)
	if funcName == "" {
		funcName = "unknown"
	}
	report := &Report{ToolName: funcName, Category: category, Passed: true}
	log := logging.Get(logging.CategoryVerifier)

	// Stage 1: AST security.
	if err := v.exec.StaticCheck(code, category); err != nil {
		report.addStage(StageResult{
			Stage:   StageASTSecurity,
			Result:  ResultFail,
			Message: "AST security check failed: " + err.Error(),
			Details: map[string]any{"error": err.Error()},
		})
		log.Warnw("verification failed", "tool", funcName, "stage", "AST_SECURITY", "error", err)
		return false, report
	}
	report.addStage(StageResult{Stage: StageASTSecurity, Result: ResultPass, Message: "AST security check passed"})

	// Stage 2: self-test.
	trace := v.exec.RunSelfTest(ctx, code, taskID, category)
	if trace.ExitCode != 0 {
		report.addStage(StageResult{
			Stage:   StageSelfTest,
			Result:  ResultFail,
			Message: "Self-test failed: " + truncate(trace.Stderr, 200),
			Details: map[string]any{"exit_code": trace.ExitCode, "stderr": truncate(trace.Stderr, 500)},
		})
		return false, report
	}
	report.addStage(StageResult{Stage: StageSelfTest, Result: ResultPass, Message: "Self-test passed"})

	// Stage 3: contract validation.
	if contract == nil {
		report.addStage(StageResult{Stage: StageContractValid, Result: ResultSkip, Message: "No contract provided"})
	} else {
		sr := v.verifyContract(ctx, code, funcName, category, taskID, contract)
		report.addStage(sr)
		if sr.Result == ResultFail {
			return false, report
		}
	}

	// Stage 4: integration (fetch tools with real data only).
	if category == "fetch" && len(realData) > 0 {
		sr := v.verifyIntegration(ctx, code, category, taskID, realData)
		report.addStage(sr)
		if sr.Result == ResultFail {
			return false, report
		}
	} else {
		report.addStage(StageResult{Stage: StageIntegration, Result: ResultSkip, Message: "Integration test not applicable"})
	}

	log.Infow("verification passed", "tool", funcName, "final_stage", report.FinalStage.Name())
	return true, report
}

func (v *Verifier) verifyContract(ctx context.Context, code, funcName, category, taskID string, contract *contracts.Contract) StageResult {
	testArgs := GenerateTestArgs(contract)
	trace := v.exec.Execute(ctx, code, funcName, testArgs, taskID, category)
	if trace.ExitCode != 0 {
		return StageResult{
			Stage:   StageContractValid,
			Result:  ResultFail,
			Message: "Contract test execution failed: " + truncate(trace.Stderr, 200),
			Details: map[string]any{"exit_code": trace.ExitCode, "stderr": truncate(trace.Stderr, 500)},
		}
	}

	output, err := v.exec.ExtractResult(trace)
	if err != nil {
		return StageResult{
			Stage:   StageContractValid,
			Result:  ResultFail,
			Message: "Contract output extraction failed: " + err.Error(),
		}
	}

	if msg, ok := ValidateOutput(output, contract); !ok {
		return StageResult{
			Stage:   StageContractValid,
			Result:  ResultFail,
			Message: "Contract validation failed: " + msg,
			Details: map[string]any{"validation_error": msg, "contract": contract.ID},
		}
	}
	return StageResult{
		Stage:   StageContractValid,
		Result:  ResultPass,
		Message: "Contract validation passed",
		Details: map[string]any{"contract": contract.ID},
	}
}

// networkErrorMarkers classify retriable integration failures.
var networkErrorMarkers = []string{
	"timeout", "connection", "network", "rate limit", "503", "504", "429",
}

func isNetworkError(stderr string) bool {
	s := strings.ToLower(stderr)
	for _, marker := range networkErrorMarkers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

func (v *Verifier) verifyIntegration(ctx context.Context, code, category, taskID string, realData map[string]any) StageResult {
	var lastErr string
	for attempt := 0; attempt <= v.maxRetries; attempt++ {
		trace := v.exec.Execute(ctx, code, "integration", realData, taskID, category)
		if trace.ExitCode != 0 {
			lastErr = trace.Stderr
			if isNetworkError(trace.Stderr) && attempt < v.maxRetries {
				logging.Get(logging.CategoryVerifier).Infow("integration retry",
					"attempt", attempt+1, "max", v.maxRetries)
				time.Sleep(v.retryDelay * time.Duration(attempt+1))
				continue
			}
			return StageResult{
				Stage:   StageIntegration,
				Result:  ResultFail,
				Message: "Integration test failed: " + truncate(trace.Stderr, 200),
				Details: map[string]any{"attempts": attempt + 1, "stderr": truncate(trace.Stderr, 500)},
			}
		}

		output, err := v.exec.ExtractResult(trace)
		if err != nil || output == nil {
			return StageResult{
				Stage:   StageIntegration,
				Result:  ResultFail,
				Message: "Integration test returned empty output",
				Details: map[string]any{"attempts": attempt + 1},
			}
		}
		return StageResult{
			Stage:   StageIntegration,
			Result:  ResultPass,
			Message: "Integration test passed",
			Details: map[string]any{"attempts": attempt + 1},
		}
	}
	return StageResult{
		Stage:   StageIntegration,
		Result:  ResultFail,
		Message: fmt.Sprintf("Integration test failed after %d attempts", v.maxRetries+1),
		Details: map[string]any{"last_error": lastErr},
	}
}

// ValidateOutput checks a decoded tool result against the contract.
func ValidateOutput(output any, contract *contracts.Contract) (string, bool) {
	if output == nil {
		if contract.AllowNone {
			return "nil output allowed by contract", true
		}
		return "output is nil but contract doesn't allow nil", false
	}

	switch contract.OutputType {
	case contracts.OutputNumeric:
		return validateNumeric(output, contract)
	case contracts.OutputDict:
		return validateDict(output, contract)
	case contracts.OutputBoolean:
		return validateBoolean(output)
	case contracts.OutputList:
		return validateList(output)
	case contracts.OutputTable:
		return validateTable(output, contract)
	case contracts.OutputAny, "":
		return "any output accepted", true
	}
	return fmt.Sprintf("unknown output type: %s", contract.OutputType), false
}

func asFloat(output any) (float64, bool) {
	switch v := output.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

func validateNumeric(output any, contract *contracts.Contract) (string, bool) {
	value, ok := asFloat(output)
	if !ok {
		return fmt.Sprintf("could not parse numeric output: %v", output), false
	}
	if math.IsNaN(value) {
		if contract.AllowNaN {
			return "NaN output allowed", true
		}
		return "output is NaN", false
	}
	c := contract.OutputConstraints
	if c.Min != nil && value < *c.Min {
		return fmt.Sprintf("value %g below min %g", value, *c.Min), false
	}
	if c.Max != nil && value > *c.Max {
		return fmt.Sprintf("value %g above max %g", value, *c.Max), false
	}
	return fmt.Sprintf("numeric value %g within constraints", value), true
}

func validateDict(output any, contract *contracts.Contract) (string, bool) {
	m, ok := output.(map[string]any)
	if !ok {
		// String fallback: look for the required keys in the rendered
		// output, mirroring loosely-formatted tool results.
		s, isStr := output.(string)
		if !isStr {
			return fmt.Sprintf("expected object, got %T", output), false
		}
		lower := strings.ToLower(s)
		var missing []string
		for _, key := range contract.RequiredKeys {
			if !strings.Contains(lower, strings.ToLower(key)) {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			return fmt.Sprintf("missing required keys: %v", missing), false
		}
		return "required keys found in output string", true
	}
	for _, key := range contract.RequiredKeys {
		found := false
		for k := range m {
			if strings.EqualFold(k, key) {
				found = true
				break
			}
		}
		if !found {
			return "missing required key: " + key, false
		}
	}
	return fmt.Sprintf("object contains required keys: %v", contract.RequiredKeys), true
}

func validateBoolean(output any) (string, bool) {
	switch v := output.(type) {
	case bool:
		return fmt.Sprintf("boolean value: %v", v), true
	case float64:
		if v == 0 || v == 1 {
			return fmt.Sprintf("boolean value: %v", v), true
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "false", "1", "0", "yes", "no":
			return "boolean value: " + v, true
		}
	}
	return fmt.Sprintf("not a boolean: %v", output), false
}

func validateList(output any) (string, bool) {
	switch v := output.(type) {
	case []any:
		return "list output validated", true
	case string:
		s := strings.TrimSpace(v)
		if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
			return "list output format validated", true
		}
		if strings.Contains(s, ",") || strings.Contains(s, "\n") {
			return "list-like output detected", true
		}
	}
	return fmt.Sprintf("not a list: %v", output), false
}

func validateTable(output any, contract *contracts.Contract) (string, bool) {
	// Tables arrive either as column-keyed objects or as rendered text;
	// either way the required columns must be present.
	switch v := output.(type) {
	case map[string]any:
		return validateDict(output, contract)
	case string:
		lower := strings.ToLower(v)
		for _, key := range contract.RequiredKeys {
			if !strings.Contains(lower, strings.ToLower(key)) {
				return "table missing column: " + key, false
			}
		}
		return fmt.Sprintf("table contains required columns: %v", contract.RequiredKeys), true
	default:
		return fmt.Sprintf("expected table, got %T", v), false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
