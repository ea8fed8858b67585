// Package logging provides category-scoped file loggers and JSONL audit
// trails. Each category writes to its own date-prefixed file under the
// logs directory so one noisy subsystem never drowns out another.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names one log stream.
type Category string

const (
	CategoryExecutor Category = "executor"
	CategoryVerifier Category = "verifier"
	CategoryGateway  Category = "gateway"
	CategoryGates    Category = "gates"
	CategoryRegistry Category = "registry"
	CategorySynth    Category = "synthesizer"
	CategoryRefiner  Category = "refiner"
	CategoryBatch    Category = "batch"
	CategoryLLM      Category = "llm"
	CategoryFinance  Category = "finance"
	CategoryBench    Category = "bench"
	CategorySystem   Category = "system"
)

var (
	mu      sync.RWMutex
	logsDir string
	loggers = map[Category]*zap.SugaredLogger{}
	nop     = zap.NewNop().Sugar()
)

// Init points all category loggers at dir. Safe to call more than once;
// later calls rebind new categories only.
func Init(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create logs dir: %w", err)
	}
	mu.Lock()
	logsDir = dir
	mu.Unlock()
	return nil
}

// Get returns the logger for a category, creating it on first use. Before
// Init is called it returns a no-op logger so library code never has to
// check for setup.
func Get(cat Category) *zap.SugaredLogger {
	mu.RLock()
	if lg, ok := loggers[cat]; ok {
		mu.RUnlock()
		return lg
	}
	dir := logsDir
	mu.RUnlock()

	if dir == "" {
		return nop
	}

	mu.Lock()
	defer mu.Unlock()
	if lg, ok := loggers[cat]; ok {
		return lg
	}
	lg, err := build(dir, cat)
	if err != nil {
		return nop
	}
	loggers[cat] = lg
	return lg
}

func build(dir string, cat Category) (*zap.SugaredLogger, error) {
	name := fmt.Sprintf("%s_%s.log", time.Now().Format("2006-01-02"), cat)
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(f), zapcore.DebugLevel)
	return zap.New(core).Named(string(cat)).Sugar(), nil
}

// Sync flushes every open logger. Called on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	for _, lg := range loggers {
		_ = lg.Sync()
	}
}

// Timer measures the duration of one named operation.
type Timer struct {
	cat   Category
	op    string
	start time.Time
}

// StartTimer begins timing op on the category's logger.
func StartTimer(cat Category, op string) *Timer {
	return &Timer{cat: cat, op: op, start: time.Now()}
}

// Stop logs the elapsed time and returns it.
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	Get(t.cat).Debugw("operation complete", "op", t.op, "duration_ms", d.Milliseconds())
	return d
}

// StopWithThreshold logs at warn level when the operation exceeded the
// threshold, debug otherwise.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	d := time.Since(t.start)
	lg := Get(t.cat)
	if d > threshold {
		lg.Warnw("slow operation", "op", t.op, "duration_ms", d.Milliseconds())
	} else {
		lg.Debugw("operation complete", "op", t.op, "duration_ms", d.Milliseconds())
	}
	return d
}
