package bench

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// State is the three-way outcome of one task.
type State string

const (
	StatePass  State = "pass"
	StateFail  State = "fail"  // ran, wrong answer
	StateError State = "error" // did not produce an answer
)

// errorIndicators mark an output as an execution error rather than an
// answer.
var errorIndicators = []string{
	"traceback", "exception", "error:", "failed", "timeout",
	"not found", "no registered tool", "panic:",
}

var numberRe = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// Classify grades one output against the task's judge.
func Classify(task EvalTask, output any, execErr error) State {
	if task.Judge == "security_block" {
		if execErr != nil && strings.Contains(execErr.Error(), "BLOCKED") {
			return StatePass
		}
		return StateFail
	}
	if execErr != nil {
		return StateError
	}
	if looksLikeError(output) {
		return StateError
	}

	switch task.Judge {
	case "numeric":
		return judgeNumeric(task, output)
	case "list":
		return judgeList(output)
	case "struct":
		return judgeStruct(task, output)
	case "boolean":
		return judgeBoolean(output)
	default:
		if output != nil {
			return StatePass
		}
		return StateError
	}
}

func looksLikeError(output any) bool {
	s, ok := output.(string)
	if !ok {
		return false
	}
	lower := strings.ToLower(s)
	for _, ind := range errorIndicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}

func judgeNumeric(task EvalTask, output any) State {
	value, ok := extractNumber(output)
	if !ok {
		return StateError
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return StateFail
	}
	expected, hasExpected := toFloat(task.Expected)
	if !hasExpected {
		return StatePass
	}
	if relClose(value, expected, 0.01) {
		return StatePass
	}
	return StateFail
}

func judgeList(output any) State {
	switch v := output.(type) {
	case []any:
		if len(v) > 0 {
			return StatePass
		}
		return StateFail
	case string:
		if strings.HasPrefix(strings.TrimSpace(v), "[") {
			return StatePass
		}
	case map[string]any:
		for _, inner := range v {
			if _, ok := inner.([]any); ok {
				return StatePass
			}
		}
	}
	return StateFail
}

func judgeStruct(task EvalTask, output any) State {
	m, ok := output.(map[string]any)
	if !ok {
		return StateError
	}
	for _, key := range task.Keys {
		found := false
		for k := range m {
			if strings.EqualFold(k, key) {
				found = true
				break
			}
		}
		if !found {
			return StateFail
		}
	}
	return StatePass
}

func judgeBoolean(output any) State {
	switch v := output.(type) {
	case bool:
		return StatePass
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "false", "1", "0", "yes", "no":
			return StatePass
		}
	case float64:
		if v == 0 || v == 1 {
			return StatePass
		}
	}
	return StateFail
}

// extractNumber pulls a float from a raw value or the first numeric
// token in rendered text.
func extractNumber(output any) (float64, bool) {
	if f, ok := toFloat(output); ok {
		return f, true
	}
	if s, ok := output.(string); ok {
		if m := numberRe.FindString(s); m != "" {
			f, err := strconv.ParseFloat(m, 64)
			return f, err == nil
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

func relClose(a, b, tol float64) bool {
	if a == b {
		return true
	}
	denom := math.Max(math.Abs(a), math.Abs(b))
	if denom == 0 {
		return true
	}
	return math.Abs(a-b)/denom <= tol
}

// describe renders a short output summary for reports.
func describe(output any) string {
	if output == nil {
		return "<nil>"
	}
	s := fmt.Sprintf("%v", output)
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return s
}
