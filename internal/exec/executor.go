// Package exec abstracts command execution so git invocations can be
// replaced by recorded responses in tests.
package exec

import (
	"context"
	"os/exec"
	"sync"
)

// CommandExecutor runs external commands in a working directory.
type CommandExecutor interface {
	// Output executes a command and returns stdout.
	Output(ctx context.Context, dir string, name string, args ...string) ([]byte, error)

	// CombinedOutput executes a command and returns stdout and stderr interleaved.
	CombinedOutput(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
}

// RealExecutor executes commands using os/exec.
type RealExecutor struct{}

// NewRealExecutor returns a new RealExecutor.
func NewRealExecutor() *RealExecutor {
	return &RealExecutor{}
}

// Output executes a command and returns stdout.
func (e *RealExecutor) Output(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.Output()
}

// CombinedOutput executes a command and returns combined stdout+stderr.
func (e *RealExecutor) CombinedOutput(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// MockResponse is the canned result of a mocked command.
type MockResponse struct {
	Output []byte
	Err    error
}

// MockCall records a command invocation for verification.
type MockCall struct {
	Dir  string
	Name string
	Args []string
}

type mockRule struct {
	name   string
	prefix []string
	resp   MockResponse
}

func (r mockRule) matches(name string, args []string) bool {
	if r.name != name || len(args) < len(r.prefix) {
		return false
	}
	for i, arg := range r.prefix {
		if args[i] != arg {
			return false
		}
	}
	return true
}

// MockExecutor returns canned responses. Rules are matched in registration
// order; unmatched commands succeed with empty output.
type MockExecutor struct {
	mu    sync.Mutex
	rules []mockRule
	calls []MockCall
}

// NewMockExecutor creates an empty MockExecutor.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{}
}

// On registers a response for commands whose arguments start with prefix.
func (e *MockExecutor) On(name string, prefix []string, resp MockResponse) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, mockRule{name: name, prefix: prefix, resp: resp})
}

// Calls returns a copy of every recorded invocation.
func (e *MockExecutor) Calls() []MockCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	calls := make([]MockCall, len(e.calls))
	copy(calls, e.calls)
	return calls
}

func (e *MockExecutor) run(dir, name string, args []string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, MockCall{Dir: dir, Name: name, Args: append([]string(nil), args...)})
	for _, rule := range e.rules {
		if rule.matches(name, args) {
			return rule.resp.Output, rule.resp.Err
		}
	}
	return nil, nil
}

// Output executes a mocked command.
func (e *MockExecutor) Output(_ context.Context, dir string, name string, args ...string) ([]byte, error) {
	return e.run(dir, name, args)
}

// CombinedOutput executes a mocked command.
func (e *MockExecutor) CombinedOutput(_ context.Context, dir string, name string, args ...string) ([]byte, error) {
	return e.run(dir, name, args)
}

var _ CommandExecutor = (*RealExecutor)(nil)
var _ CommandExecutor = (*MockExecutor)(nil)
