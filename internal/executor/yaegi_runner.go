package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// runInterpreted evaluates the tool source with yaegi and invokes the
// named entry point (main.Run) with the JSON-encoded arguments. The
// interpreter only exposes stdlib symbols; the static check has already
// restricted which of those the source may import.
func (e *Executor) runInterpreted(ctx context.Context, code, entry, argsJSON string, timeout time.Duration) (string, error) {
	type outcome struct {
		result string
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		i := interp.New(interp.Options{})
		if err := i.Use(stdlib.Symbols); err != nil {
			done <- outcome{err: fmt.Errorf("interpreter setup: %w", err)}
			return
		}
		if _, err := i.Eval(code); err != nil {
			done <- outcome{err: fmt.Errorf("evaluate tool source: %w", err)}
			return
		}
		v, err := i.Eval(entry)
		if err != nil {
			done <- outcome{err: fmt.Errorf("entry point %s not found: %w", entry, err)}
			return
		}
		run, ok := v.Interface().(func(string) (string, error))
		if !ok {
			done <- outcome{err: fmt.Errorf("entry point %s has wrong signature", entry)}
			return
		}
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		out, err := run(argsJSON)
		done <- outcome{result: out, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-time.After(timeout):
		return "", context.DeadlineExceeded
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// runSelfTestInterp evaluates the source and calls main.SelfTest.
func (e *Executor) runSelfTestInterp(ctx context.Context, code string, timeout time.Duration) error {
	done := make(chan error, 1)

	go func() {
		i := interp.New(interp.Options{})
		if err := i.Use(stdlib.Symbols); err != nil {
			done <- fmt.Errorf("interpreter setup: %w", err)
			return
		}
		if _, err := i.Eval(code); err != nil {
			done <- fmt.Errorf("evaluate tool source: %w", err)
			return
		}
		v, err := i.Eval("main.SelfTest")
		if err != nil {
			done <- fmt.Errorf("SelfTest not found: %w", err)
			return
		}
		selfTest, ok := v.Interface().(func() error)
		if !ok {
			done <- fmt.Errorf("SelfTest has wrong signature")
			return
		}
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("self-test panicked: %v", r)
			}
		}()
		done <- selfTest()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return context.DeadlineExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}
