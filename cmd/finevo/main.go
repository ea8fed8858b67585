// Command finevo drives the tool-evolution engine: initialize state,
// seed bootstrap tools, run tasks, evolve tool batches, inspect the
// registry, and run the evaluation matrix.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/zeussilver/insitu-finance-agent/internal/bench"
	"github.com/zeussilver/insitu-finance-agent/internal/config"
	"github.com/zeussilver/insitu-finance-agent/internal/constraints"
	"github.com/zeussilver/insitu-finance-agent/internal/executor"
	"github.com/zeussilver/insitu-finance-agent/internal/finance"
	"github.com/zeussilver/insitu-finance-agent/internal/gates"
	"github.com/zeussilver/insitu-finance-agent/internal/gateway"
	"github.com/zeussilver/insitu-finance-agent/internal/llm"
	"github.com/zeussilver/insitu-finance-agent/internal/logging"
	"github.com/zeussilver/insitu-finance-agent/internal/registry"
	"github.com/zeussilver/insitu-finance-agent/internal/store"
	"github.com/zeussilver/insitu-finance-agent/internal/synth"
	"github.com/zeussilver/insitu-finance-agent/internal/types"
	"github.com/zeussilver/insitu-finance-agent/internal/verifier"
)

var (
	flagDataDir     string
	flagConstraints string
	flagExecMode    string
)

func main() {
	root := &cobra.Command{
		Use:          "finevo",
		Short:        "Self-evolving financial tool synthesis engine",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory (default $FINEVO_DATA_DIR or ./data)")
	root.PersistentFlags().StringVar(&flagConstraints, "constraints", "", "constraints YAML (default embedded)")
	root.PersistentFlags().StringVar(&flagExecMode, "exec-mode", "interp", "tool execution mode: interp or subprocess")

	root.AddCommand(
		newInitCmd(),
		newBootstrapCmd(),
		newListCmd(),
		newTaskCmd(),
		newEvolveCmd(),
		newEvalCmd(),
		newSecurityCheckCmd(),
		newMetricsCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
	logging.Sync()
}

// engine bundles the wired component graph.
type engine struct {
	layout      config.Layout
	constraints *constraints.Store
	store       *store.Store
	registry    *registry.Registry
	executor    *executor.Executor
	gateway     *gateway.Gateway
	synthesizer *synth.Synthesizer
	refiner     *synth.Refiner
	proxy       *finance.DataProxy
	metrics     *synth.Recorder
	dedup       *synth.Deduplicator
	client      types.LLMClient
}

func buildEngine(ctx context.Context) (*engine, error) {
	layout := config.DefaultLayout(flagDataDir)
	if err := layout.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("prepare data dirs: %w", err)
	}
	if err := logging.Init(layout.LogsDir); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	cs := constraints.Default()
	if flagConstraints != "" {
		loaded, err := constraints.Load(flagConstraints)
		if err != nil {
			return nil, fmt.Errorf("load constraints: %w", err)
		}
		cs = loaded
		if err := cs.Watch(ctx); err != nil {
			return nil, fmt.Errorf("watch constraints: %w", err)
		}
	}

	st, err := store.Open(layout.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	reg := registry.New(st, layout.BootstrapDir, layout.GeneratedDir)
	exec := executor.New(cs, layout.LogsDir, executor.Mode(flagExecMode))

	vl := cs.Verification()
	verif := verifier.New(exec, vl.MaxRetries, time.Duration(vl.RetryDelaySec*float64(time.Second)))

	gp := cs.Gates()
	cm, err := gates.NewCheckpointManager(layout.CheckpointsDir)
	if err != nil {
		return nil, err
	}
	if n, err := cm.RecoverStale(time.Duration(gp.CheckpointTimeoutSec) * time.Second); err != nil {
		return nil, fmt.Errorf("recover checkpoints: %w", err)
	} else if n > 0 {
		logging.Get(logging.CategorySystem).Infow("recovered stale checkpoints", "count", n)
	}
	gateAudit := logging.NewAuditLog(filepath.Join(layout.LogsDir, "evolution_gates.log"))
	gk := gates.NewGatekeeper(gates.Mode(gp.DefaultMode), cm, gateAudit, nil).
		WithApprovalTimeout(time.Duration(gp.ApprovalTimeoutSec) * time.Second)

	attempts := logging.NewAuditLog(filepath.Join(layout.LogsDir, "gateway_attempts.jsonl"))
	gw := gateway.New(verif, gk, reg, cm, attempts)

	client := llm.NewClient(ctx, config.LLMFromEnv())
	refiner := synth.NewRefiner(client, st, cs.Execution().MaxRetries)
	synthesizer := synth.New(client, gw, st, refiner)

	return &engine{
		layout:      layout,
		constraints: cs,
		store:       st,
		registry:    reg,
		executor:    exec,
		gateway:     gw,
		synthesizer: synthesizer,
		refiner:     refiner,
		proxy:       finance.NewDataProxy(layout.CacheDir, finance.ModeAuto, nil),
		metrics:     synth.NewRecorder(layout.LogsDir),
		dedup:       synth.NewDeduplicator(reg, st),
		client:      client,
	}, nil
}

func (e *engine) Close() {
	if e.store != nil {
		_ = e.store.Close()
	}
}

// synthHook adapts the synthesizer to the task executor's hook.
type synthHook struct {
	s          *synth.Synthesizer
	useRefiner bool
}

func (h synthHook) SynthesizeTool(ctx context.Context, taskID, query string) (*types.ToolArtifact, error) {
	var out *synth.Outcome
	if h.useRefiner {
		out = h.s.SynthesizeWithRefine(ctx, taskID, query)
	} else {
		out = h.s.SynthesizeWithRetry(ctx, taskID, query, 2)
	}
	if out.Err != nil {
		return nil, out.Err
	}
	return out.Tool, nil
}

func (e *engine) taskExecutor(allowSynthesis, useRefiner bool) *finance.TaskExecutor {
	return finance.NewTaskExecutor(e.registry, e.executor, e.proxy,
		synthHook{s: e.synthesizer, useRefiner: useRefiner}, allowSynthesis)
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the data directory and database",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.Close()
			fmt.Printf("initialized data dir %s\n", eng.layout.DataDir)
			return nil
		},
	}
}

func newBootstrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Register the built-in market data tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.Close()
			if err := finance.RegisterBootstrapTools(eng.registry); err != nil {
				return err
			}
			stats, err := eng.registry.Stats()
			if err != nil {
				return err
			}
			fmt.Printf("bootstrap complete: %d tools registered\n", stats.Total)
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.Close()
			tools, err := eng.registry.List(types.ToolStatus(status))
			if err != nil {
				return err
			}
			for _, t := range tools {
				fmt.Printf("%-4d %-28s v%-8s %-12s stage=%d contract=%s\n",
					t.ID, t.Name, t.SemanticVersion, t.Status, t.VerificationStage, t.ContractID)
			}
			fmt.Printf("%d tools\n", len(tools))
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (provisional, verified, deprecated, failed)")
	return cmd
}

func newTaskCmd() *cobra.Command {
	var taskID string
	var noSynthesis bool
	cmd := &cobra.Command{
		Use:   "task [query]",
		Short: "Execute a financial task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.Close()
			if taskID == "" {
				taskID = fmt.Sprintf("task_%d", time.Now().Unix())
			}
			te := eng.taskExecutor(!noSynthesis, true)
			result, err := te.Execute(cmd.Context(), taskID, args[0])
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(result, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&taskID, "task-id", "", "stable task identifier")
	cmd.Flags().BoolVar(&noSynthesis, "no-synthesis", false, "fail instead of synthesizing a missing tool")
	return cmd
}

func newEvolveCmd() *cobra.Command {
	var rounds, workers int
	var tasksPath string
	cmd := &cobra.Command{
		Use:   "evolve",
		Short: "Run batch evolution rounds over a task set",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.Close()

			tasks, err := loadEvolveTasks(tasksPath)
			if err != nil {
				return err
			}
			taskTimeout := time.Duration(eng.constraints.Execution().TimeoutSec+60) * time.Second
			bm := synth.NewBatchManager(eng.synthesizer, eng.registry, eng.dedup, eng.metrics, workers, true, taskTimeout)
			reports, err := bm.EvolveMultiRound(cmd.Context(), rounds, tasks)
			if err != nil {
				return err
			}
			for _, r := range reports {
				fmt.Printf("round %d: %d/%d registered, %d reused, %d deduped (%.0f%%)\n",
					r.Round, r.Registered, r.Total, r.Reused, r.DedupMerged, r.RegistrationRate()*100)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&rounds, "rounds", 1, "evolution rounds")
	cmd.Flags().IntVar(&workers, "workers", 3, "parallel synthesis workers")
	cmd.Flags().StringVar(&tasksPath, "tasks", "", "JSONL task file (default built-in suite)")
	return cmd
}

func loadEvolveTasks(path string) ([]synth.Task, error) {
	if path == "" {
		tasks := make([]synth.Task, 0, len(bench.DefaultTasks))
		for _, t := range bench.DefaultTasks {
			if t.Category == "security" {
				continue
			}
			tasks = append(tasks, synth.Task{ID: t.ID, Query: t.Query})
		}
		return tasks, nil
	}
	evalTasks, err := bench.LoadTasks(path)
	if err != nil {
		return nil, err
	}
	tasks := make([]synth.Task, 0, len(evalTasks))
	for _, t := range evalTasks {
		tasks = append(tasks, synth.Task{ID: t.ID, Query: t.Query})
	}
	return tasks, nil
}

func newEvalCmd() *cobra.Command {
	var matrixPath, tasksPath string
	var saveBaseline bool
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Run the evaluation matrix",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.Close()

			matrix, err := bench.LoadMatrix(matrixPath)
			if err != nil {
				return err
			}
			var tasks []bench.EvalTask
			if tasksPath != "" {
				tasks, err = bench.LoadTasks(tasksPath)
				if err != nil {
					return err
				}
			}

			run := func(ctx context.Context, cfg bench.AgentConfig, taskID, query string) (any, error) {
				te := eng.taskExecutor(cfg.AllowSynthesis, cfg.UseRefiner)
				return te.Execute(ctx, taskID, query)
			}
			runner := bench.NewRunner(matrix, tasks, run, eng.store.DeleteAllTools, eng.layout.LogsDir)
			report, err := runner.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Print(bench.Summary(report))
			if saveBaseline {
				if err := runner.SaveBaseline(report); err != nil {
					return err
				}
				fmt.Println("baseline updated")
			}
			if !report.GatesPassed {
				return fmt.Errorf("evaluation gates failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&matrixPath, "matrix", "", "scenario matrix YAML (default built-in)")
	cmd.Flags().StringVar(&tasksPath, "tasks", "", "JSONL task file (default built-in suite)")
	cmd.Flags().BoolVar(&saveBaseline, "save-baseline", false, "record this run as the regression baseline")
	return cmd
}

func newSecurityCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "security-check [file]",
		Short: "Run the static security check against a tool source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.Close()
			code, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if err := eng.executor.StaticCheck(string(code), types.CategoryCalculation); err != nil {
				fmt.Printf("REJECTED: %v\n", err)
				return fmt.Errorf("security check failed")
			}
			fmt.Println("PASSED")
			return nil
		},
	}
}

func newMetricsCmd() *cobra.Command {
	var csvPath string
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show evolution metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.Close()
			if csvPath != "" {
				if err := eng.metrics.ExportCSV(csvPath); err != nil {
					return err
				}
				fmt.Printf("exported %s\n", csvPath)
				return nil
			}
			out, err := eng.metrics.RenderSummary()
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&csvPath, "csv", "", "export metrics to a CSV file instead")
	return cmd
}
