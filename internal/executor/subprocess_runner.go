package executor

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeussilver/insitu-finance-agent/internal/logging"
)

// harnessSource is compiled next to the tool source. It bridges stdin
// JSON to the tool's Run entry point and frames output with sentinels.
const harnessSource = `package main

import (
	"bufio"
	"fmt"
	"os"
)

func main() {
	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var input string
	if sc.Scan() {
		input = sc.Text()
	}
	if input == "__selftest__" {
		if err := SelfTest(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("<<VERIFY_PASS>>")
		return
	}
	out, err := Run(input)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println("<<RESULT_START>>")
	fmt.Println(out)
	fmt.Println("<<RESULT_END>>")
}
`

// runSubprocess compiles the tool in a throwaway module and executes the
// binary with the arguments on stdin. Isolation is at the process level;
// the static check has already constrained the source.
func (e *Executor) runSubprocess(ctx context.Context, code, argsJSON string, timeout time.Duration) (string, error) {
	binPath, buildDir, err := e.compile(ctx, code)
	if buildDir != "" {
		defer os.RemoveAll(buildDir)
	}
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, binPath)
	cmd.Stdin = strings.NewReader(argsJSON + "\n")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = []string{"PATH=" + os.Getenv("PATH")}

	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return "", context.DeadlineExceeded
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("tool process failed: %s", msg)
	}

	out := stdout.String()
	start := strings.Index(out, ResultStart)
	end := strings.Index(out, ResultEnd)
	if start < 0 || end < 0 || end <= start {
		if strings.Contains(out, VerifyPass) {
			return "", nil
		}
		return "", fmt.Errorf("result sentinels missing in tool output")
	}
	return strings.TrimSpace(out[start+len(ResultStart) : end]), nil
}

// compile writes the tool and harness into a temp module and builds a
// static binary. Returns the binary path, the build dir for cleanup, and
// the build error if any.
func (e *Executor) compile(ctx context.Context, code string) (string, string, error) {
	buildDir, err := os.MkdirTemp("", "finevo-tool-*")
	if err != nil {
		return "", "", fmt.Errorf("create build dir: %w", err)
	}

	files := map[string]string{
		"go.mod":     "module toolrun\n\ngo 1.24\n",
		"tool.go":    code,
		"harness.go": harnessSource,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(buildDir, name), []byte(content), 0o644); err != nil {
			return "", buildDir, fmt.Errorf("write %s: %w", name, err)
		}
	}

	binPath := filepath.Join(buildDir, "tool.bin")
	buildCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	cmd := exec.CommandContext(buildCtx, "go", "build", "-ldflags", "-s -w", "-o", binPath, ".")
	cmd.Dir = buildDir
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0", "GOFLAGS=-mod=mod")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", buildDir, fmt.Errorf("compile tool: %s", strings.TrimSpace(stderr.String()))
	}

	if data, err := os.ReadFile(binPath); err == nil {
		sum := sha256.Sum256(data)
		logging.Get(logging.CategoryExecutor).Debugw("tool compiled",
			"binary_hash", hex.EncodeToString(sum[:])[:12], "size_bytes", len(data))
	}
	return binPath, buildDir, nil
}
