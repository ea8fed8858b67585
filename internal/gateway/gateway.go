// Package gateway is the single entry point for tool registration.
// Every candidate passes through the verification pipeline and the gate
// tier for its action before it may reach the registry; each attempt is
// appended to a JSONL audit trail.
package gateway

import (
	"context"
	"fmt"

	"github.com/zeussilver/insitu-finance-agent/internal/contracts"
	"github.com/zeussilver/insitu-finance-agent/internal/gates"
	"github.com/zeussilver/insitu-finance-agent/internal/logging"
	"github.com/zeussilver/insitu-finance-agent/internal/registry"
	"github.com/zeussilver/insitu-finance-agent/internal/toolsrc"
	"github.com/zeussilver/insitu-finance-agent/internal/types"
	"github.com/zeussilver/insitu-finance-agent/internal/verifier"
)

// Attempt events recorded in the audit trail.
const (
	eventSubmit             = "SUBMIT"
	eventRegistered         = "REGISTERED"
	eventVerificationFailed = "VERIFICATION_FAILED"
	eventGateDenied         = "GATE_DENIED"
)

// SubmitRequest describes one registration candidate.
type SubmitRequest struct {
	Code       string
	Category   string
	TaskID     string
	Query      string              // free text used for schema tagging
	Contract   *contracts.Contract // explicit contract wins
	ContractID string              // else resolved by ID
	RealData   map[string]any      // enables the integration stage for fetch tools
	Force      bool                // bypass the gate tier, not verification
}

// SubmitResult reports the outcome of a submission.
type SubmitResult struct {
	Tool   *types.ToolArtifact
	Report *verifier.Report
	Err    error
}

// Gateway connects the verifier, gatekeeper, and registry.
type Gateway struct {
	verifier    *verifier.Verifier
	gatekeeper  *gates.Gatekeeper
	registry    *registry.Registry
	checkpoints *gates.CheckpointManager
	attempts    *logging.AuditLog
}

// New builds a gateway. cm records the submit checkpoint for every
// candidate; attempts receives the per-submission audit trail
// (gateway_attempts.jsonl).
func New(v *verifier.Verifier, gk *gates.Gatekeeper, reg *registry.Registry, cm *gates.CheckpointManager, attempts *logging.AuditLog) *Gateway {
	return &Gateway{verifier: v, gatekeeper: gk, registry: reg, checkpoints: cm, attempts: attempts}
}

// Submit verifies and registers a tool. Verification is never bypassed;
// Force only skips the gate tier. A submit checkpoint opens before
// verification and closes failed on verification failure, gate denial,
// or registration error, completed otherwise. A failed submission
// leaves the registry untouched.
func (g *Gateway) Submit(ctx context.Context, req SubmitRequest) *SubmitResult {
	name := toolsrc.ExtractFunctionName(req.Code)
	if name == "" {
		err := fmt.Errorf("could not determine tool name from source")
		g.logAttempt(eventSubmit, name, req.TaskID, err)
		return &SubmitResult{Err: err}
	}

	contract := g.resolveContract(req)
	g.logAttempt(eventSubmit, name, req.TaskID, nil)
	cp := g.openCheckpoint(name, req)

	passed, report := g.verifier.VerifyAllStages(ctx, req.Code, req.Category, req.TaskID, contract, req.RealData)
	if !passed {
		err := fmt.Errorf("verification failed: %v", report.FailureMessages())
		g.closeCheckpoint(cp, err)
		g.logAttempt(eventVerificationFailed, name, req.TaskID, err)
		return &SubmitResult{Report: report, Err: err}
	}

	var tool *types.ToolArtifact
	register := func() error {
		var err error
		tool, err = g.register(name, req, contract, report)
		return err
	}

	if req.Force {
		if err := register(); err != nil {
			g.closeCheckpoint(cp, err)
			g.logAttempt(eventRegistered, name, req.TaskID, err)
			return &SubmitResult{Report: report, Err: err}
		}
	} else {
		action := "create_tool"
		if existing, _ := g.registry.GetByName(name); existing != nil {
			action = "modify_tool"
		}
		gateCtx := map[string]any{"tool_name": name, "task_id": req.TaskID, "category": req.Category}
		if err := g.gatekeeper.Execute(action, gateCtx, register); err != nil {
			g.closeCheckpoint(cp, err)
			g.logAttempt(eventGateDenied, name, req.TaskID, err)
			return &SubmitResult{Report: report, Err: err}
		}
	}

	g.closeCheckpoint(cp, nil)
	g.logAttempt(eventRegistered, name, req.TaskID, nil)
	return &SubmitResult{Tool: tool, Report: report}
}

// VerifyOnly runs the pipeline without touching the registry.
func (g *Gateway) VerifyOnly(ctx context.Context, code, category, taskID string, contract *contracts.Contract) (bool, *verifier.Report) {
	return g.verifier.VerifyAllStages(ctx, code, category, taskID, contract, nil)
}

// RegistrationStats aggregates the audit trail.
type RegistrationStats struct {
	Submitted  int `json:"submitted"`
	Registered int `json:"registered"`
	Failed     int `json:"failed"`
	GateDenied int `json:"gate_denied"`
}

// Stats replays the attempt log into aggregate counts.
func (g *Gateway) Stats() (RegistrationStats, error) {
	var stats RegistrationStats
	if g.attempts == nil {
		return stats, nil
	}
	events, err := g.attempts.ReadAll()
	if err != nil {
		return stats, err
	}
	for _, ev := range events {
		switch ev.Event {
		case eventSubmit:
			stats.Submitted++
		case eventRegistered:
			if ev.Success {
				stats.Registered++
			}
		case eventVerificationFailed:
			stats.Failed++
		case eventGateDenied:
			stats.GateDenied++
		}
	}
	return stats, nil
}

func (g *Gateway) resolveContract(req SubmitRequest) *contracts.Contract {
	if req.Contract != nil {
		return req.Contract
	}
	if req.ContractID != "" {
		if c := contracts.ByID(req.ContractID); c != nil {
			return c
		}
	}
	if req.TaskID != "" {
		if c := contracts.ForTask(req.TaskID); c != nil {
			return c
		}
	}
	if req.Query != "" {
		return contracts.InferFromQuery(req.Query, req.Category)
	}
	return nil
}

func (g *Gateway) register(name string, req SubmitRequest, contract *contracts.Contract, report *verifier.Report) (*types.ToolArtifact, error) {
	perms := []string{string(types.PermCalcOnly)}
	if req.Category == types.CategoryFetch {
		perms = []string{string(types.PermNetworkRead), string(types.PermCalcOnly)}
	}

	tool, err := g.registry.Register(name, req.Code, registry.RegisterOptions{
		ArgsSchema:  toolsrc.ExtractArgsSchema(req.Code),
		Permissions: perms,
	})
	if err != nil {
		return nil, err
	}

	indicator := toolsrc.InferIndicator(req.Query)
	dataType := toolsrc.InferDataType(req.Query)
	var inputReqs []string
	if contract != nil {
		inputReqs = contract.RequiredInputs
	}
	if err := g.registry.UpdateSchema(tool.ID, req.Category, indicator, dataType, inputReqs); err != nil {
		return nil, err
	}

	caps := make([]string, 0, 4)
	for _, c := range types.CapabilitiesFor(req.Category) {
		caps = append(caps, string(c))
	}
	contractID := ""
	if contract != nil {
		contractID = contract.ID
	}
	if err := g.registry.UpdateVerification(tool.ID, caps, contractID, int(report.FinalStage)); err != nil {
		return nil, err
	}

	tool.Category = req.Category
	tool.Indicator = indicator
	tool.DataType = dataType
	tool.InputRequirements = inputReqs
	tool.Capabilities = caps
	tool.ContractID = contractID
	tool.VerificationStage = int(report.FinalStage)
	return tool, nil
}

func (g *Gateway) openCheckpoint(name string, req SubmitRequest) *gates.Checkpoint {
	if g.checkpoints == nil {
		return nil
	}
	cp, err := g.checkpoints.Create("submit_tool", map[string]any{
		"tool_name": name, "task_id": req.TaskID, "category": req.Category,
	})
	if err != nil {
		logging.Get(logging.CategoryGateway).Warnw("submit checkpoint creation failed",
			"tool", name, "error", err)
		return nil
	}
	return cp
}

func (g *Gateway) closeCheckpoint(cp *gates.Checkpoint, err error) {
	if cp == nil {
		return
	}
	if err != nil {
		_ = g.checkpoints.Fail(cp, err.Error())
	} else {
		_ = g.checkpoints.Complete(cp)
	}
}

func (g *Gateway) logAttempt(event, name, taskID string, err error) {
	ev := logging.AuditEvent{
		Event:   event,
		Target:  name,
		Success: err == nil,
		Fields:  map[string]any{"task_id": taskID},
	}
	if err != nil {
		ev.Error = err.Error()
	}
	if g.attempts != nil {
		_ = g.attempts.Append(ev)
	}
	logging.Get(logging.CategoryGateway).Infow("gateway attempt",
		"event", event, "tool", name, "task_id", taskID, "ok", err == nil)
}
