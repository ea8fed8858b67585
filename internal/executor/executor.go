package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"

	"github.com/zeussilver/insitu-finance-agent/internal/constraints"
	"github.com/zeussilver/insitu-finance-agent/internal/logging"
	"github.com/zeussilver/insitu-finance-agent/internal/types"
)

// Sentinels framing tool output on stdout.
const (
	ResultStart = "<<RESULT_START>>"
	ResultEnd   = "<<RESULT_END>>"
	VerifyPass  = "<<VERIFY_PASS>>"
)

// ExitTimeout is the exit code reported when a tool run is cut off.
const ExitTimeout = 124

// Mode selects how tool source is executed.
type Mode string

const (
	ModeInterp     Mode = "interp"     // in-process yaegi interpretation
	ModeSubprocess Mode = "subprocess" // compile to a binary, run isolated
)

// Executor runs generated tool source under the configured sandbox.
type Executor struct {
	checker     *Checker
	constraints *constraints.Store
	logsDir     string
	mode        Mode
}

// New builds an executor. logsDir receives security_violations.log.
func New(cs *constraints.Store, logsDir string, mode Mode) *Executor {
	if mode == "" {
		mode = ModeInterp
	}
	return &Executor{
		checker:     NewChecker(cs),
		constraints: cs,
		logsDir:     logsDir,
		mode:        mode,
	}
}

// StaticCheck runs only the AST security pass.
func (e *Executor) StaticCheck(code, category string) error {
	return e.checker.Check(code, category)
}

// Execute runs the tool's Run entry point with the given arguments and
// returns a trace. Security violations never execute: they produce an
// exit-code-1 trace with a SecurityException stderr and an entry in
// security_violations.log. Timeouts produce exit code 124.
func (e *Executor) Execute(ctx context.Context, code, toolName string, args map[string]any, taskID, category string) *types.ExecutionTrace {
	trace := &types.ExecutionTrace{
		TraceID:   newTraceID(),
		TaskID:    taskID,
		InputArgs: args,
		CreatedAt: time.Now(),
	}
	timer := logging.StartTimer(logging.CategoryExecutor, "execute_"+toolName)
	defer timer.Stop()

	if err := e.StaticCheck(code, category); err != nil {
		trace.ExitCode = 1
		trace.Stderr = err.Error()
		if secErr, ok := err.(*SecurityError); ok {
			e.logSecurityViolation(secErr.Violation, taskID)
		}
		return trace
	}

	argsJSON, err := json.Marshal(sanitizeArgs(args))
	if err != nil {
		trace.ExitCode = 1
		trace.Stderr = fmt.Sprintf("marshal args: %v", err)
		return trace
	}

	limits := e.constraints.Execution()
	timeout := time.Duration(limits.TimeoutSec) * time.Second
	start := time.Now()

	var out string
	switch e.mode {
	case ModeSubprocess:
		out, err = e.runSubprocess(ctx, code, string(argsJSON), timeout)
	default:
		out, err = e.runInterpreted(ctx, code, "main.Run", string(argsJSON), timeout)
	}
	trace.ExecutionTimeMS = time.Since(start).Milliseconds()

	if err != nil {
		if isTimeout(err) {
			trace.ExitCode = ExitTimeout
			trace.Stderr = fmt.Sprintf("TimeoutError: execution exceeded %ds", limits.TimeoutSec)
		} else {
			trace.ExitCode = 1
			trace.Stderr = err.Error()
		}
		return trace
	}

	trace.ExitCode = 0
	trace.Stdout = ResultStart + "\n" + out + "\n" + ResultEnd
	trace.OutputRepr = truncate(out, 2000)
	return trace
}

// RunSelfTest executes the tool's SelfTest entry point. A passing run
// carries the VERIFY_PASS sentinel on stdout.
func (e *Executor) RunSelfTest(ctx context.Context, code, taskID, category string) *types.ExecutionTrace {
	trace := &types.ExecutionTrace{
		TraceID:   newTraceID(),
		TaskID:    taskID,
		CreatedAt: time.Now(),
	}

	if err := e.StaticCheck(code, category); err != nil {
		trace.ExitCode = 1
		trace.Stderr = err.Error()
		if secErr, ok := err.(*SecurityError); ok {
			e.logSecurityViolation(secErr.Violation, taskID)
		}
		return trace
	}

	limits := e.constraints.Execution()
	timeout := time.Duration(limits.TimeoutSec) * time.Second
	start := time.Now()
	err := e.runSelfTestInterp(ctx, code, timeout)
	trace.ExecutionTimeMS = time.Since(start).Milliseconds()

	if err != nil {
		if isTimeout(err) {
			trace.ExitCode = ExitTimeout
			trace.Stderr = fmt.Sprintf("TimeoutError: self-test exceeded %ds", limits.TimeoutSec)
		} else {
			trace.ExitCode = 1
			trace.Stderr = err.Error()
		}
		return trace
	}
	trace.ExitCode = 0
	trace.Stdout = VerifyPass
	return trace
}

// ExtractResult pulls the JSON payload framed by the result sentinels out
// of a trace and decodes it, repairing slightly malformed JSON first.
func (e *Executor) ExtractResult(trace *types.ExecutionTrace) (any, error) {
	if trace == nil || trace.Stdout == "" {
		return nil, fmt.Errorf("no output to extract")
	}
	startIdx := strings.Index(trace.Stdout, ResultStart)
	endIdx := strings.Index(trace.Stdout, ResultEnd)
	if startIdx < 0 || endIdx < 0 || endIdx <= startIdx {
		return nil, fmt.Errorf("result sentinels missing in output")
	}
	payload := strings.TrimSpace(trace.Stdout[startIdx+len(ResultStart) : endIdx])

	var result any
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		repaired, repErr := jsonrepair.JSONRepair(payload)
		if repErr != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &result); err != nil {
			return nil, fmt.Errorf("decode repaired result: %w", err)
		}
	}
	return result, nil
}

func (e *Executor) logSecurityViolation(violation, taskID string) {
	logging.Get(logging.CategoryExecutor).Warnw("security violation blocked",
		"task_id", taskID, "violation", violation)
	if e.logsDir == "" {
		return
	}
	line := fmt.Sprintf("%s\ttask=%s\t%s\n", time.Now().Format(time.RFC3339), taskID, violation)
	path := filepath.Join(e.logsDir, "security_violations.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(line)
}

// sanitizeArgs replaces NaN and infinities, which JSON cannot encode.
func sanitizeArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			out[k] = nil
			continue
		}
		out[k] = v
	}
	return out
}

func newTraceID() string {
	return "t_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func isTimeout(err error) bool {
	return err == context.DeadlineExceeded ||
		strings.Contains(err.Error(), "deadline exceeded") ||
		strings.Contains(err.Error(), "timed out")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
