// Package executor runs generated tools in a sandbox: a static AST
// security pass first, then interpreted (or compiled subprocess)
// execution under a timeout, producing execution traces.
package executor

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"

	"github.com/zeussilver/insitu-finance-agent/internal/constraints"
)

// SecurityError marks a static-check rejection. The refiner treats these
// as unfixable and fails fast.
type SecurityError struct {
	Violation string
}

func (e *SecurityError) Error() string {
	return "SecurityException: " + e.Violation
}

// Checker vets tool source against the active constraints before any
// execution.
type Checker struct {
	constraints *constraints.Store
}

// NewChecker builds a checker over the given constraint store.
func NewChecker(cs *constraints.Store) *Checker {
	return &Checker{constraints: cs}
}

// Check parses the source and walks the AST looking for banned imports,
// imports outside the category allowlist, banned call targets, banned
// selectors, and banned identifiers hidden in string literals. The first
// violation is returned as a *SecurityError.
func (c *Checker) Check(src, category string) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "tool.go", src, parser.ParseComments)
	if err != nil {
		return fmt.Errorf("parse tool source: %w", err)
	}

	allowed := c.constraints.AllowedImports(category)
	banned := c.constraints.BannedImports(category)
	bannedCalls := c.constraints.BannedCalls()
	bannedSelectors := c.constraints.BannedSelectors()

	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		if banned[path] {
			return &SecurityError{Violation: fmt.Sprintf("Unallowed import: %q is banned", path)}
		}
		if !allowed[path] {
			return &SecurityError{Violation: fmt.Sprintf("Unallowed import: %q not in %s allowlist", path, category)}
		}
	}

	var violation *SecurityError
	ast.Inspect(file, func(n ast.Node) bool {
		if violation != nil {
			return false
		}
		switch node := n.(type) {
		case *ast.CallExpr:
			if name := callName(node); name != "" && bannedCalls[name] {
				violation = &SecurityError{Violation: fmt.Sprintf("Unallowed call: %s", name)}
				return false
			}
		case *ast.SelectorExpr:
			if name := selectorName(node); name != "" && bannedSelectors[name] {
				violation = &SecurityError{Violation: fmt.Sprintf("Unallowed attribute: %s", name)}
				return false
			}
		case *ast.BasicLit:
			if node.Kind != token.STRING {
				return true
			}
			lit, err := strconv.Unquote(node.Value)
			if err != nil {
				return true
			}
			// Dotted banned names smuggled through string literals
			// (obfuscation attempts); bare words like "panic" are
			// ordinary prose and stay legal.
			for call := range bannedCalls {
				if !strings.Contains(call, ".") {
					continue
				}
				if containsIdentifier(lit, call) {
					violation = &SecurityError{Violation: fmt.Sprintf("Unallowed call reference in literal: %s", call)}
					return false
				}
			}
		}
		return true
	})
	if violation != nil {
		return violation
	}
	return nil
}

// callName renders a called expression as "pkg.Func" or "func".
func callName(call *ast.CallExpr) string {
	switch fn := call.Fun.(type) {
	case *ast.Ident:
		return fn.Name
	case *ast.SelectorExpr:
		return selectorName(fn)
	}
	return ""
}

func selectorName(sel *ast.SelectorExpr) string {
	if ident, ok := sel.X.(*ast.Ident); ok {
		return ident.Name + "." + sel.Sel.Name
	}
	return ""
}

// containsIdentifier reports whether name occurs in text as a standalone
// identifier rather than a substring of a longer word.
func containsIdentifier(text, name string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], name)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(name)
		beforeOK := start == 0 || !isIdentChar(text[start-1])
		afterOK := end == len(text) || !isIdentChar(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isIdentChar(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
