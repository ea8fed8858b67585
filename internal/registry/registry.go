// Package registry manages tool artifacts: metadata in the database,
// payloads on disk. Registration deduplicates by content hash and bumps
// the patch version for repeated names.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zeussilver/insitu-finance-agent/internal/logging"
	"github.com/zeussilver/insitu-finance-agent/internal/store"
	"github.com/zeussilver/insitu-finance-agent/internal/types"
)

// Registry stores and retrieves tool artifacts.
type Registry struct {
	store        *store.Store
	bootstrapDir string
	generatedDir string
}

// New builds a registry writing payloads under the two artifact dirs.
func New(st *store.Store, bootstrapDir, generatedDir string) *Registry {
	return &Registry{store: st, bootstrapDir: bootstrapDir, generatedDir: generatedDir}
}

// RegisterOptions carry the optional registration metadata.
type RegisterOptions struct {
	ArgsSchema  map[string]string
	Permissions []string
	TestCases   []map[string]any
	IsBootstrap bool
}

// Register stores a tool. A content-hash hit returns the existing
// artifact untouched; otherwise the code is written to disk as
// <name>_v<version>_<hash8>.go and a new metadata row is created with
// status PROVISIONAL.
func (r *Registry) Register(name, code string, opts RegisterOptions) (*types.ToolArtifact, error) {
	hash := contentHash(code)

	if existing, err := r.store.GetToolByHash(hash); err != nil {
		return nil, err
	} else if existing != nil {
		logging.Get(logging.CategoryRegistry).Infow("dedup hit",
			"name", name, "existing_id", existing.ID, "hash", hash[:8])
		return existing, nil
	}

	version, err := r.nextVersion(name)
	if err != nil {
		return nil, err
	}

	filename := fmt.Sprintf("%s_v%s_%s.go", name, version, hash[:8])
	targetDir := r.generatedDir
	subdir := "generated"
	if opts.IsBootstrap {
		targetDir = r.bootstrapDir
		subdir = "bootstrap"
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(targetDir, filename), []byte(code), 0o644); err != nil {
		return nil, fmt.Errorf("write artifact: %w", err)
	}

	perms := opts.Permissions
	if len(perms) == 0 {
		perms = []string{string(types.PermCalcOnly)}
	}
	tool := &types.ToolArtifact{
		Name:            name,
		SemanticVersion: version,
		FilePath:        filepath.Join(subdir, filename),
		ContentHash:     hash,
		CodeContent:     code,
		ArgsSchema:      opts.ArgsSchema,
		Permissions:     perms,
		Status:          types.StatusProvisional,
		TestCases:       opts.TestCases,
	}
	if _, err := r.store.InsertTool(tool); err != nil {
		return nil, err
	}
	logging.Get(logging.CategoryRegistry).Infow("tool registered",
		"name", name, "version", version, "id", tool.ID, "file", tool.FilePath)
	return tool, nil
}

// nextVersion returns 0.1.0 for a fresh name, otherwise the patch bump of
// the highest existing version.
func (r *Registry) nextVersion(name string) (string, error) {
	existing, err := r.store.GetToolsByName(name)
	if err != nil {
		return "", err
	}
	if len(existing) == 0 {
		return "0.1.0", nil
	}
	latest := existing[0].SemanticVersion
	for _, t := range existing[1:] {
		if compareVersions(t.SemanticVersion, latest) > 0 {
			latest = t.SemanticVersion
		}
	}
	major, minor, patch := parseVersion(latest)
	return fmt.Sprintf("%d.%d.%d", major, minor, patch+1), nil
}

// GetByName returns the latest version of a named tool, nil when absent.
func (r *Registry) GetByName(name string) (*types.ToolArtifact, error) {
	tools, err := r.store.GetToolsByName(name)
	if err != nil || len(tools) == 0 {
		return nil, err
	}
	best := tools[0]
	for _, t := range tools[1:] {
		if compareVersions(t.SemanticVersion, best.SemanticVersion) > 0 {
			best = t
		}
	}
	return best, nil
}

// GetByHash returns the tool with the given content hash.
func (r *Registry) GetByHash(hash string) (*types.ToolArtifact, error) {
	return r.store.GetToolByHash(hash)
}

// GetByID returns one tool by primary key.
func (r *Registry) GetByID(id int64) (*types.ToolArtifact, error) {
	return r.store.GetToolByID(id)
}

// List returns all tools, optionally filtered by status ("" for all).
func (r *Registry) List(status types.ToolStatus) ([]*types.ToolArtifact, error) {
	return r.store.ListTools(status)
}

// UpdateStatus sets a tool's lifecycle status.
func (r *Registry) UpdateStatus(id int64, status types.ToolStatus) error {
	return r.store.UpdateToolStatus(id, status)
}

// UpdateSchema stamps the lookup tags onto a registered tool.
func (r *Registry) UpdateSchema(id int64, category, indicator, dataType string, inputReqs []string) error {
	return r.store.UpdateToolSchema(id, category, indicator, dataType, inputReqs)
}

// UpdateVerification records capabilities, contract, and the final
// verification stage reached.
func (r *Registry) UpdateVerification(id int64, capabilities []string, contractID string, stage int) error {
	return r.store.UpdateToolVerification(id, capabilities, contractID, stage)
}

// FindByContractID returns all tools registered under a contract.
func (r *Registry) FindByContractID(contractID string) ([]*types.ToolArtifact, error) {
	return r.store.FindToolsByContract(contractID)
}

// FindBySchema returns the newest active tool matching category and
// indicator ("" matches any indicator).
func (r *Registry) FindBySchema(category, indicator string) (*types.ToolArtifact, error) {
	return r.store.FindToolBySchema(category, indicator)
}

// SearchSimilar is a placeholder for embedding-based retrieval; schema
// lookup covers reuse for now.
func (r *Registry) SearchSimilar(query string, topK int) []*types.ToolArtifact {
	return nil
}

// Stats returns aggregate lifecycle counts.
func (r *Registry) Stats() (store.ToolStats, error) {
	return r.store.GetToolStats()
}

func contentHash(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func parseVersion(v string) (major, minor, patch int) {
	parts := strings.SplitN(v, ".", 3)
	if len(parts) == 3 {
		major, _ = strconv.Atoi(parts[0])
		minor, _ = strconv.Atoi(parts[1])
		patch, _ = strconv.Atoi(parts[2])
	}
	return
}

func compareVersions(a, b string) int {
	am, an, ap := parseVersion(a)
	bm, bn, bp := parseVersion(b)
	switch {
	case am != bm:
		return am - bm
	case an != bn:
		return an - bn
	default:
		return ap - bp
	}
}
