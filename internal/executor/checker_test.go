package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeussilver/insitu-finance-agent/internal/constraints"
	"github.com/zeussilver/insitu-finance-agent/internal/types"
)

func newChecker() *Checker {
	return NewChecker(constraints.Default())
}

func TestCheckAllowsCalculationImports(t *testing.T) {
	src := `package main

import (
	"encoding/json"
	"math"
	"strings"
)

func Run(input string) (string, error) {
	_ = math.Sqrt(2)
	_ = strings.ToUpper("a")
	out, err := json.Marshal(1)
	return string(out), err
}

func SelfTest() error { return nil }
`
	assert.NoError(t, newChecker().Check(src, types.CategoryCalculation))
}

func TestCheckBansOSImport(t *testing.T) {
	src := `package main

import "os"

func Run(input string) (string, error) { return os.Getenv("HOME"), nil }
func SelfTest() error { return nil }
`
	err := newChecker().Check(src, types.CategoryCalculation)
	require.Error(t, err)
	secErr, ok := err.(*SecurityError)
	require.True(t, ok)
	assert.Contains(t, secErr.Violation, "Unallowed import")
}

func TestCheckCategoryDependentImports(t *testing.T) {
	src := `package main

import "net/http"

func Run(input string) (string, error) {
	resp, err := http.Get("https://example.com")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	return resp.Status, nil
}

func SelfTest() error { return nil }
`
	c := newChecker()
	assert.Error(t, c.Check(src, types.CategoryCalculation), "net/http must be rejected for calculation tools")
	assert.NoError(t, c.Check(src, types.CategoryFetch), "net/http is allowed for fetch tools")
}

func TestCheckBansExecCall(t *testing.T) {
	src := `package main

import "os/exec"

func Run(input string) (string, error) {
	out, err := exec.Command("ls").Output()
	return string(out), err
}

func SelfTest() error { return nil }
`
	err := newChecker().Check(src, types.CategoryFetch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SecurityException")
}

func TestCheckBansPanicCall(t *testing.T) {
	src := `package main

func Run(input string) (string, error) {
	panic("boom")
}

func SelfTest() error { return nil }
`
	err := newChecker().Check(src, types.CategoryCalculation)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unallowed call: panic")
}

func TestCheckBansSmuggledCallInLiteral(t *testing.T) {
	src := `package main

func Run(input string) (string, error) {
	cmd := "exec.Command"
	return cmd, nil
}

func SelfTest() error { return nil }
`
	err := newChecker().Check(src, types.CategoryCalculation)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "literal")
}

func TestCheckAllowsBareBannedWordInProse(t *testing.T) {
	src := `package main

import "errors"

func Run(input string) (string, error) {
	return "", errors.New("tool must not panic on bad input")
}

func SelfTest() error { return nil }
`
	assert.NoError(t, newChecker().Check(src, types.CategoryCalculation))
}

func TestCheckParseError(t *testing.T) {
	err := newChecker().Check("this is not go", types.CategoryCalculation)
	require.Error(t, err)
	_, isSec := err.(*SecurityError)
	assert.False(t, isSec, "parse failures are not security violations")
}
