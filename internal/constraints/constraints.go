// Package constraints is the single source of truth for what generated
// tools may import and call, and for execution limits. Values load from
// YAML; an embedded default ships with the binary and a runtime file can
// override it, with hot reload via fsnotify.
package constraints

import (
	"context"
	"fmt"
	"os"
	"sync"

	_ "embed"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/zeussilver/insitu-finance-agent/internal/logging"
)

//go:embed defaults.yaml
var defaultYAML []byte

// ExecutionLimits bound a single tool run.
type ExecutionLimits struct {
	TimeoutSec    int     `yaml:"timeout_sec"`
	MemoryMB      int     `yaml:"memory_mb"`
	MaxRetries    int     `yaml:"max_retries"`
	RetryDelaySec float64 `yaml:"retry_delay_sec"`
}

// CategoryRule scopes imports per tool category.
type CategoryRule struct {
	AllowedImports []string `yaml:"allowed_imports"`
	BannedImports  []string `yaml:"banned_imports"`
}

// VerificationLimits tune the multi-stage verifier.
type VerificationLimits struct {
	MaxRetries                   int     `yaml:"max_retries"`
	RetryDelaySec                float64 `yaml:"retry_delay_sec"`
	SchemaExtractionAccuracyGate float64 `yaml:"schema_extraction_accuracy_gate"`
}

// GatePolicy configures the evolution gatekeeper.
type GatePolicy struct {
	DefaultMode          string `yaml:"default_mode"`
	CheckpointTimeoutSec int    `yaml:"checkpoint_timeout_sec"`
	ApprovalTimeoutSec   int    `yaml:"approval_timeout_sec"`
}

// Config is the full constraint document.
type Config struct {
	Execution             ExecutionLimits         `yaml:"execution"`
	Capabilities          map[string]CategoryRule `yaml:"capabilities"`
	AlwaysBannedImports   []string                `yaml:"always_banned_imports"`
	AlwaysBannedCalls     []string                `yaml:"always_banned_calls"`
	AlwaysBannedSelectors []string                `yaml:"always_banned_selectors"`
	Verification          VerificationLimits      `yaml:"verification"`
	EvolutionGates        GatePolicy              `yaml:"evolution_gates"`
}

// Store holds the active constraints and supports live reload.
type Store struct {
	mu   sync.RWMutex
	cfg  Config
	path string
}

// Default returns a store backed by the embedded constraint file.
func Default() *Store {
	var cfg Config
	if err := yaml.Unmarshal(defaultYAML, &cfg); err != nil {
		// The embedded file is validated by tests; an unmarshal failure
		// here is a build defect.
		panic(fmt.Sprintf("constraints: embedded defaults invalid: %v", err))
	}
	return &Store{cfg: cfg}
}

// Load reads constraints from path, falling back to defaults for a
// missing file.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s := Default()
		s.path = path
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read constraints: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse constraints: %w", err)
	}
	return &Store{cfg: cfg, path: path}, nil
}

// Snapshot returns a copy of the current configuration.
func (s *Store) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Execution returns the execution limits.
func (s *Store) Execution() ExecutionLimits {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Execution
}

// Verification returns the verifier limits.
func (s *Store) Verification() VerificationLimits {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Verification
}

// Gates returns the gate policy.
func (s *Store) Gates() GatePolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.EvolutionGates
}

// AllowedImports returns the import allowlist for a category. Unknown
// categories fall back to the calculation rules.
func (s *Store) AllowedImports(category string) map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.cfg.Capabilities[category]
	if !ok || len(rule.AllowedImports) == 0 {
		rule = s.cfg.Capabilities["calculation"]
	}
	out := make(map[string]bool, len(rule.AllowedImports))
	for _, imp := range rule.AllowedImports {
		out[imp] = true
	}
	return out
}

// BannedImports returns the union of the always-banned set and the
// category-specific bans.
func (s *Store) BannedImports(category string) map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool)
	for _, imp := range s.cfg.AlwaysBannedImports {
		out[imp] = true
	}
	rule, ok := s.cfg.Capabilities[category]
	if !ok {
		rule = s.cfg.Capabilities["calculation"]
	}
	for _, imp := range rule.BannedImports {
		out[imp] = true
	}
	return out
}

// BannedCalls returns the always-banned call set.
func (s *Store) BannedCalls() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.cfg.AlwaysBannedCalls))
	for _, c := range s.cfg.AlwaysBannedCalls {
		out[c] = true
	}
	return out
}

// BannedSelectors returns the always-banned selector set.
func (s *Store) BannedSelectors() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.cfg.AlwaysBannedSelectors))
	for _, sel := range s.cfg.AlwaysBannedSelectors {
		out[sel] = true
	}
	return out
}

// Reload re-reads the backing file, keeping the old config on error.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse constraints: %w", err)
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

// Watch reloads the constraint file when it changes on disk, until the
// context is cancelled. No-op for stores without a backing file.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(s.path); err != nil {
		watcher.Close()
		return err
	}
	go func() {
		defer watcher.Close()
		log := logging.Get(logging.CategorySystem)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := s.Reload(); err != nil {
					log.Warnw("constraints reload failed", "error", err)
				} else {
					log.Infow("constraints reloaded", "path", s.path)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warnw("constraints watcher error", "error", err)
			}
		}
	}()
	return nil
}
