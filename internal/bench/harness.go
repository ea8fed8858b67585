package bench

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/zeussilver/insitu-finance-agent/internal/logging"
)

// TaskRunner executes one task under an agent configuration.
type TaskRunner func(ctx context.Context, cfg AgentConfig, taskID, query string) (any, error)

// TaskResult is one graded task.
type TaskResult struct {
	TaskID     string `json:"task_id"`
	Query      string `json:"query"`
	Category   string `json:"category"`
	State      State  `json:"state"`
	Output     string `json:"output"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// ScenarioResult aggregates one scenario run.
type ScenarioResult struct {
	Scenario   string                 `json:"scenario"`
	Agent      string                 `json:"agent"`
	Results    []TaskResult           `json:"results"`
	Total      int                    `json:"total"`
	Passed     int                    `json:"passed"`
	Failed     int                    `json:"failed"`
	Errored    int                    `json:"errored"`
	PassRate   float64                `json:"pass_rate"`
	ByCategory map[string]*CatSummary `json:"by_category"`
	StartedAt  string                 `json:"started_at"`
	DurationMS int64                  `json:"duration_ms"`
}

// CatSummary is the per-category breakdown.
type CatSummary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
}

// EvalReport is the full matrix outcome.
type EvalReport struct {
	Scenarios     []*ScenarioResult `json:"scenarios"`
	OverallRate   float64           `json:"overall_pass_rate"`
	SecurityRate  float64           `json:"security_block_rate"`
	GatesPassed   bool              `json:"gates_passed"`
	GateFailures  []string          `json:"gate_failures,omitempty"`
	BaselineDelta float64           `json:"baseline_delta"`
	GeneratedAt   string            `json:"generated_at"`
}

// Runner executes the evaluation matrix.
type Runner struct {
	matrix        Matrix
	tasks         []EvalTask
	run           TaskRunner
	clearRegistry func() error
	outDir        string
}

// NewRunner builds a runner. clearRegistry may be nil when no scenario
// requests a cold start.
func NewRunner(matrix Matrix, tasks []EvalTask, run TaskRunner, clearRegistry func() error, outDir string) *Runner {
	if len(tasks) == 0 {
		tasks = DefaultTasks
	}
	return &Runner{matrix: matrix, tasks: tasks, run: run, clearRegistry: clearRegistry, outDir: outDir}
}

// Run executes every scenario, grades the gates against the baseline,
// and writes the JSON and CSV reports.
func (r *Runner) Run(ctx context.Context) (*EvalReport, error) {
	log := logging.Get(logging.CategoryBench)
	report := &EvalReport{GeneratedAt: time.Now().Format(time.RFC3339)}

	for _, sc := range r.matrix.Scenarios {
		cfg, ok := AgentConfigs[sc.Agent]
		if !ok {
			return nil, fmt.Errorf("unknown agent config: %s", sc.Agent)
		}
		if sc.ClearRegistry && r.clearRegistry != nil {
			if err := r.clearRegistry(); err != nil {
				return nil, fmt.Errorf("clear registry for %s: %w", sc.Name, err)
			}
			log.Infow("registry cleared", "scenario", sc.Name)
		}
		result := r.runScenario(ctx, sc, cfg)
		report.Scenarios = append(report.Scenarios, result)
		log.Infow("scenario finished", "scenario", sc.Name,
			"pass_rate", result.PassRate, "errors", result.Errored)
	}

	r.grade(report)
	if r.outDir != "" {
		if err := r.writeReports(report); err != nil {
			log.Warnw("report write failed", "error", err)
		}
	}
	return report, nil
}

func (r *Runner) runScenario(ctx context.Context, sc Scenario, cfg AgentConfig) *ScenarioResult {
	result := &ScenarioResult{
		Scenario:   sc.Name,
		Agent:      cfg.Name,
		ByCategory: map[string]*CatSummary{},
		StartedAt:  time.Now().Format(time.RFC3339),
	}
	start := time.Now()

	for _, task := range r.tasks {
		if sc.SecurityOnly && task.Judge != "security_block" {
			continue
		}
		taskStart := time.Now()
		output, err := r.run(ctx, cfg, task.ID, task.Query)
		state := Classify(task, output, err)

		tr := TaskResult{
			TaskID:     task.ID,
			Query:      task.Query,
			Category:   task.Category,
			State:      state,
			Output:     describe(output),
			DurationMS: time.Since(taskStart).Milliseconds(),
		}
		if err != nil {
			tr.Error = err.Error()
		}
		result.Results = append(result.Results, tr)

		result.Total++
		cat := result.ByCategory[task.Category]
		if cat == nil {
			cat = &CatSummary{}
			result.ByCategory[task.Category] = cat
		}
		cat.Total++
		switch state {
		case StatePass:
			result.Passed++
			cat.Passed++
		case StateFail:
			result.Failed++
		case StateError:
			result.Errored++
		}
	}
	if result.Total > 0 {
		result.PassRate = float64(result.Passed) / float64(result.Total)
	}
	result.DurationMS = time.Since(start).Milliseconds()
	return result
}

// grade applies the gate thresholds and the baseline comparison.
func (r *Runner) grade(report *EvalReport) {
	var total, passed, secTotal, secPassed int
	for _, sc := range report.Scenarios {
		for _, tr := range sc.Results {
			if tr.Category == "security" {
				secTotal++
				if tr.State == StatePass {
					secPassed++
				}
				continue
			}
			total++
			if tr.State == StatePass {
				passed++
			}
		}
	}
	if total > 0 {
		report.OverallRate = float64(passed) / float64(total)
	}
	if secTotal > 0 {
		report.SecurityRate = float64(secPassed) / float64(secTotal)
	} else {
		report.SecurityRate = 1.0
	}

	report.GatesPassed = true
	if report.OverallRate < r.matrix.Gates.TargetPassRate {
		report.GatesPassed = false
		report.GateFailures = append(report.GateFailures,
			fmt.Sprintf("pass rate %.2f below target %.2f", report.OverallRate, r.matrix.Gates.TargetPassRate))
	}
	if report.SecurityRate < r.matrix.Gates.SecurityBlockRate {
		report.GatesPassed = false
		report.GateFailures = append(report.GateFailures,
			fmt.Sprintf("security block rate %.2f below required %.2f", report.SecurityRate, r.matrix.Gates.SecurityBlockRate))
	}

	if baseline, ok := r.loadBaseline(); ok {
		report.BaselineDelta = report.OverallRate - baseline
		if report.BaselineDelta < r.matrix.Gates.AccuracyRegression {
			report.GatesPassed = false
			report.GateFailures = append(report.GateFailures,
				fmt.Sprintf("accuracy regressed %.3f vs baseline (allowed %.3f)",
					report.BaselineDelta, r.matrix.Gates.AccuracyRegression))
		}
	}
}

type baselineFile struct {
	PassRate float64 `json:"pass_rate"`
}

func (r *Runner) loadBaseline() (float64, bool) {
	if r.outDir == "" {
		return 0, false
	}
	data, err := os.ReadFile(filepath.Join(r.outDir, "baseline.json"))
	if err != nil {
		return 0, false
	}
	var b baselineFile
	if err := json.Unmarshal(data, &b); err != nil {
		return 0, false
	}
	return b.PassRate, true
}

// SaveBaseline records the current pass rate as the new baseline.
func (r *Runner) SaveBaseline(report *EvalReport) error {
	data, err := json.MarshalIndent(baselineFile{PassRate: report.OverallRate}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(r.outDir, "baseline.json"), data, 0o644)
}

func (r *Runner) writeReports(report *EvalReport) error {
	if err := os.MkdirAll(r.outDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(r.outDir, "eval_results.json"), data, 0o644); err != nil {
		return err
	}

	f, err := os.Create(filepath.Join(r.outDir, "eval_results.csv"))
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()
	if err := w.Write([]string{"scenario", "agent", "task_id", "category", "state", "duration_ms", "error"}); err != nil {
		return err
	}
	for _, sc := range report.Scenarios {
		for _, tr := range sc.Results {
			if err := w.Write([]string{
				sc.Scenario, sc.Agent, tr.TaskID, tr.Category,
				string(tr.State), strconv.FormatInt(tr.DurationMS, 10), tr.Error,
			}); err != nil {
				return err
			}
		}
	}
	return w.Error()
}

var (
	passStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	titleStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

// Summary renders a colored terminal summary of the report.
func Summary(report *EvalReport) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Evaluation Summary"))
	b.WriteString("\n\n")
	for _, sc := range report.Scenarios {
		fmt.Fprintf(&b, "%s (%s): %s %d  %s %d  %s %d  (%.0f%%)\n",
			sc.Scenario, sc.Agent,
			passStyle.Render("pass"), sc.Passed,
			failStyle.Render("fail"), sc.Failed,
			errStyle.Render("error"), sc.Errored,
			sc.PassRate*100)
		for cat, sum := range sc.ByCategory {
			fmt.Fprintf(&b, "  %-12s %d/%d\n", cat, sum.Passed, sum.Total)
		}
	}
	fmt.Fprintf(&b, "\nOverall pass rate: %.2f  Security block rate: %.2f\n",
		report.OverallRate, report.SecurityRate)
	if report.GatesPassed {
		b.WriteString(passStyle.Render("GATES PASSED"))
	} else {
		b.WriteString(failStyle.Render("GATES FAILED"))
		for _, f := range report.GateFailures {
			b.WriteString("\n  - " + f)
		}
	}
	b.WriteString("\n")
	return b.String()
}
