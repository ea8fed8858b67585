package synth

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/zeussilver/insitu-finance-agent/internal/registry"
)

// RoundMetrics is one JSONL line in the evolution metrics file.
type RoundMetrics struct {
	RoundNumber      int            `json:"round_number"`
	BatchID          string         `json:"batch_id"`
	Timestamp        string         `json:"timestamp"`
	TotalTasks       int            `json:"total_tasks"`
	Synthesized      int            `json:"synthesized"`
	Registered       int            `json:"registered"`
	Reused           int            `json:"reused"`
	DedupMerged      int            `json:"dedup_merged"`
	DurationMS       int64          `json:"duration_ms"`
	SynthesisRate    float64        `json:"synthesis_rate"`
	RegistrationRate float64        `json:"registration_rate"`
	ReuseRate        float64        `json:"reuse_rate"`
	FailuresByStage  map[string]int `json:"failures_by_stage"`

	RegistryTotal      int `json:"registry_total"`
	RegistryActive     int `json:"registry_active"`
	RegistryDeprecated int `json:"registry_deprecated"`
	RegistryFailed     int `json:"registry_failed"`
}

// Recorder appends round metrics to evolution_metrics.jsonl and renders
// summaries.
type Recorder struct {
	mu   sync.Mutex
	path string
}

// NewRecorder stores metrics under dir.
func NewRecorder(dir string) *Recorder {
	return &Recorder{path: filepath.Join(dir, "evolution_metrics.jsonl")}
}

// RecordBatch converts a batch report into a metrics line, snapshotting
// registry state at the end of the round.
func (r *Recorder) RecordBatch(report *BatchReport, reg *registry.Registry) error {
	m := RoundMetrics{
		RoundNumber:      report.Round,
		BatchID:          report.BatchID,
		Timestamp:        time.Now().Format(time.RFC3339),
		TotalTasks:       report.Total,
		Synthesized:      report.Synthesized,
		Registered:       report.Registered,
		Reused:           report.Reused,
		DedupMerged:      report.DedupMerged,
		DurationMS:       report.DurationMS,
		SynthesisRate:    report.SynthesisRate(),
		RegistrationRate: report.RegistrationRate(),
		ReuseRate:        report.ReuseRate(),
		FailuresByStage:  map[string]int{},
	}
	for _, res := range report.Results {
		if !res.Success && res.FailedStage != "" {
			m.FailuresByStage[res.FailedStage]++
		}
	}
	if reg != nil {
		if stats, err := reg.Stats(); err == nil {
			m.RegistryTotal = stats.Total
			m.RegistryActive = stats.Active
			m.RegistryDeprecated = stats.Deprecated
			m.RegistryFailed = stats.Failed
		}
	}
	return r.append(m)
}

func (r *Recorder) append(m RoundMetrics) error {
	line, err := json.Marshal(m)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}

// Load reads every recorded round.
func (r *Recorder) Load() ([]RoundMetrics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rounds []RoundMetrics
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var m RoundMetrics
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			continue
		}
		rounds = append(rounds, m)
	}
	return rounds, nil
}

// SummaryMarkdown builds the per-round summary table.
func SummaryMarkdown(rounds []RoundMetrics) string {
	var b strings.Builder
	b.WriteString("# Evolution Summary\n\n")
	b.WriteString("| Round | Batch | Tasks | Registered | Reused | Dedup | Reg. Rate | Reuse Rate | Duration |\n")
	b.WriteString("|-------|-------|-------|------------|--------|-------|-----------|------------|----------|\n")
	for _, m := range rounds {
		fmt.Fprintf(&b, "| %d | %s | %d | %d | %d | %d | %.0f%% | %.0f%% | %dms |\n",
			m.RoundNumber, m.BatchID, m.TotalTasks, m.Registered, m.Reused,
			m.DedupMerged, m.RegistrationRate*100, m.ReuseRate*100, m.DurationMS)
	}
	if len(rounds) > 0 {
		last := rounds[len(rounds)-1]
		fmt.Fprintf(&b, "\nRegistry: %d total, %d active, %d deprecated, %d failed\n",
			last.RegistryTotal, last.RegistryActive, last.RegistryDeprecated, last.RegistryFailed)
	}
	return b.String()
}

// RenderSummary renders the markdown summary for the terminal.
func (r *Recorder) RenderSummary() (string, error) {
	rounds, err := r.Load()
	if err != nil {
		return "", err
	}
	md := SummaryMarkdown(rounds)
	out, err := glamour.Render(md, "dark")
	if err != nil {
		return md, nil
	}
	return out, nil
}

// ExportCSV writes the recorded rounds to a CSV file.
func (r *Recorder) ExportCSV(path string) error {
	rounds, err := r.Load()
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	header := []string{
		"round", "batch_id", "timestamp", "total_tasks", "synthesized",
		"registered", "reused", "dedup_merged", "duration_ms",
		"synthesis_rate", "registration_rate", "reuse_rate",
		"registry_total", "registry_active", "registry_deprecated", "registry_failed",
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, m := range rounds {
		row := []string{
			strconv.Itoa(m.RoundNumber), m.BatchID, m.Timestamp,
			strconv.Itoa(m.TotalTasks), strconv.Itoa(m.Synthesized),
			strconv.Itoa(m.Registered), strconv.Itoa(m.Reused),
			strconv.Itoa(m.DedupMerged), strconv.FormatInt(m.DurationMS, 10),
			fmt.Sprintf("%.4f", m.SynthesisRate),
			fmt.Sprintf("%.4f", m.RegistrationRate),
			fmt.Sprintf("%.4f", m.ReuseRate),
			strconv.Itoa(m.RegistryTotal), strconv.Itoa(m.RegistryActive),
			strconv.Itoa(m.RegistryDeprecated), strconv.Itoa(m.RegistryFailed),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return w.Error()
}
