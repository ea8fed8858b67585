// Package gates implements tiered evolution control: every
// state-changing action is classified AUTO, CHECKPOINT, or APPROVAL,
// and checkpoint records give an audit trail for anything above AUTO.
package gates

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/zeussilver/insitu-finance-agent/internal/logging"
)

// Gate is the control tier for an action.
type Gate int

const (
	GateAuto       Gate = 1 // proceed, log only
	GateCheckpoint Gate = 2 // record a checkpoint, then proceed
	GateApproval   Gate = 3 // requires an approval decision
)

func (g Gate) String() string {
	switch g {
	case GateAuto:
		return "AUTO"
	case GateCheckpoint:
		return "CHECKPOINT"
	case GateApproval:
		return "APPROVAL"
	}
	return "UNKNOWN"
}

// ActionGates maps known actions to their tier. Unknown actions fall
// back to CHECKPOINT.
var ActionGates = map[string]Gate{
	"read_cached_data":    GateAuto,
	"execute_calculation": GateAuto,
	"list_tools":          GateAuto,
	"get_tool_info":       GateAuto,

	"create_tool":   GateCheckpoint,
	"modify_tool":   GateCheckpoint,
	"execute_fetch": GateCheckpoint,
	"refine_tool":   GateCheckpoint,

	"persist_tool":              GateApproval,
	"delete_tool":               GateApproval,
	"modify_verification_rules": GateApproval,
	"modify_constraints":        GateApproval,
}

// GateFor classifies an action.
func GateFor(action string) Gate {
	if g, ok := ActionGates[action]; ok {
		return g
	}
	return GateCheckpoint
}

// Mode selects approval behavior. In dev mode APPROVAL-tier actions are
// auto-approved with a warning; in prod they require an approver.
type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

// Checkpoint is the persisted record of one gated action.
type Checkpoint struct {
	ID        string         `json:"checkpoint_id"`
	Action    string         `json:"action"`
	Gate      string         `json:"gate"`
	Status    string         `json:"status"` // pending, completed, failed
	Context   map[string]any `json:"context,omitempty"`
	CreatedAt string         `json:"created_at"`
	ClosedAt  string         `json:"closed_at,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// CheckpointManager persists checkpoint files under a directory.
type CheckpointManager struct {
	dir string
}

// NewCheckpointManager ensures the checkpoint directory exists.
func NewCheckpointManager(dir string) (*CheckpointManager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &CheckpointManager{dir: dir}, nil
}

// Create writes a pending checkpoint for the action and returns it.
func (m *CheckpointManager) Create(action string, ctx map[string]any) (*Checkpoint, error) {
	short := action
	if len(short) > 20 {
		short = short[:20]
	}
	cp := &Checkpoint{
		ID:        fmt.Sprintf("cp_%s_%s", time.Now().Format("20060102_150405"), short),
		Action:    action,
		Gate:      GateFor(action).String(),
		Status:    "pending",
		Context:   ctx,
		CreatedAt: time.Now().Format(time.RFC3339),
	}
	if err := m.write(cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// Complete marks a checkpoint completed.
func (m *CheckpointManager) Complete(cp *Checkpoint) error {
	cp.Status = "completed"
	cp.ClosedAt = time.Now().Format(time.RFC3339)
	return m.write(cp)
}

// Fail marks a checkpoint failed with the reason.
func (m *CheckpointManager) Fail(cp *Checkpoint, reason string) error {
	cp.Status = "failed"
	cp.Error = reason
	cp.ClosedAt = time.Now().Format(time.RFC3339)
	return m.write(cp)
}

// Pending lists checkpoints still awaiting a decision.
func (m *CheckpointManager) Pending() ([]*Checkpoint, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}
	var pending []*Checkpoint
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.dir, e.Name()))
		if err != nil {
			continue
		}
		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			continue
		}
		if cp.Status == "pending" {
			pending = append(pending, &cp)
		}
	}
	return pending, nil
}

// RecoverStale fails pending checkpoints older than olderThan. Run at
// startup so checkpoints abandoned by a crashed process do not stay
// pending forever. olderThan <= 0 fails every pending checkpoint.
func (m *CheckpointManager) RecoverStale(olderThan time.Duration) (int, error) {
	pending, err := m.Pending()
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-olderThan)
	recovered := 0
	for _, cp := range pending {
		if olderThan > 0 {
			created, err := time.Parse(time.RFC3339, cp.CreatedAt)
			if err == nil && created.After(cutoff) {
				continue
			}
		}
		if err := m.Fail(cp, "stale pending checkpoint recovered at startup"); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

func (m *CheckpointManager) write(cp *Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(m.dir, cp.ID+".json"), data, 0o644)
}

// Approver decides APPROVAL-tier actions in prod mode.
type Approver func(action string, ctx map[string]any) (bool, error)

// Gatekeeper executes actions under their gate tier.
type Gatekeeper struct {
	mode            Mode
	checkpoints     *CheckpointManager
	audit           *logging.AuditLog
	approver        Approver
	approvalTimeout time.Duration
}

// NewGatekeeper builds a gatekeeper. approver may be nil; in prod mode a
// nil approver denies APPROVAL-tier actions.
func NewGatekeeper(mode Mode, cm *CheckpointManager, audit *logging.AuditLog, approver Approver) *Gatekeeper {
	if mode == "" {
		mode = ModeDev
	}
	return &Gatekeeper{mode: mode, checkpoints: cm, audit: audit, approver: approver}
}

// WithApprovalTimeout bounds how long a prod approval decision may
// take; past the deadline the action is denied. Zero waits forever.
func (g *Gatekeeper) WithApprovalTimeout(d time.Duration) *Gatekeeper {
	g.approvalTimeout = d
	return g
}

// Execute runs fn under the gate tier for action. AUTO runs immediately,
// CHECKPOINT records before and after, APPROVAL additionally requires a
// decision (auto-approved with a warning in dev mode).
func (g *Gatekeeper) Execute(action string, ctx map[string]any, fn func() error) error {
	gate := GateFor(action)
	log := logging.Get(logging.CategoryGates)

	if gate == GateAuto {
		err := fn()
		g.logEvent(action, gate, err)
		return err
	}

	cp, cpErr := g.checkpoints.Create(action, ctx)
	if cpErr != nil {
		log.Warnw("checkpoint creation failed", "action", action, "error", cpErr)
	}

	if gate == GateApproval {
		approved, err := g.decide(action, ctx)
		if err != nil || !approved {
			if err == nil {
				err = fmt.Errorf("action %s denied at %s gate", action, gate)
			}
			if cp != nil {
				_ = g.checkpoints.Fail(cp, err.Error())
			}
			g.logEvent(action, gate, err)
			return err
		}
	}

	err := fn()
	if cp != nil {
		if err != nil {
			_ = g.checkpoints.Fail(cp, err.Error())
		} else {
			_ = g.checkpoints.Complete(cp)
		}
	}
	g.logEvent(action, gate, err)
	return err
}

func (g *Gatekeeper) decide(action string, ctx map[string]any) (bool, error) {
	if g.mode == ModeDev {
		logging.Get(logging.CategoryGates).Warnw("auto-approving in dev mode",
			"action", action, "gate", GateApproval.String())
		return true, nil
	}
	if g.approver == nil {
		return false, fmt.Errorf("no approver configured for %s", action)
	}
	if g.approvalTimeout <= 0 {
		return g.approver(action, ctx)
	}

	type decision struct {
		approved bool
		err      error
	}
	ch := make(chan decision, 1)
	go func() {
		approved, err := g.approver(action, ctx)
		ch <- decision{approved, err}
	}()
	select {
	case d := <-ch:
		return d.approved, d.err
	case <-time.After(g.approvalTimeout):
		return false, fmt.Errorf("approval for %s timed out after %s", action, g.approvalTimeout)
	}
}

func (g *Gatekeeper) logEvent(action string, gate Gate, err error) {
	ev := logging.AuditEvent{
		Event:   "gate_decision",
		Action:  action,
		Success: err == nil,
		Fields: map[string]any{
			"gate":        gate.String(),
			"mode":        string(g.mode),
			"decision_id": uuid.NewString()[:8],
		},
	}
	if err != nil {
		ev.Error = err.Error()
	}
	if g.audit != nil {
		_ = g.audit.Append(ev)
	}
}
