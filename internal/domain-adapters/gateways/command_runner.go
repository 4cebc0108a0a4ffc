package gateways

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// Runner runs one external command with fully captured output
type Runner interface {
	Run(ctx context.Context, config RunConfig) *RunResult
}

// CommandRunner runs external tools synchronously
type CommandRunner struct {
	defaultTimeout time.Duration
}

// NewCommandRunner creates a runner; a zero timeout means two minutes
func NewCommandRunner(timeout time.Duration) *CommandRunner {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &CommandRunner{defaultTimeout: timeout}
}

// RunConfig contains configuration for one invocation
type RunConfig struct {
	Name    string
	Args    []string
	Dir     string
	Env     map[string]string
	Timeout time.Duration
	// DiscardStdout drops stdout instead of capturing it
	DiscardStdout bool
}

// RunResult contains the result of an invocation. ExitCode is -1 when the
// process could not be started or was killed by the timeout.
type RunResult struct {
	Success  bool
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	Error    error
}

// Started reports whether the process ran at all
func (r *RunResult) Started() bool {
	return r.ExitCode >= 0
}

// Run executes the command and waits for it
func (r *CommandRunner) Run(ctx context.Context, config RunConfig) *RunResult {
	startTime := time.Now()
	result := &RunResult{}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = r.defaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	//nolint:gosec // G204: the tool path comes from configuration
	cmd := exec.CommandContext(execCtx, config.Name, config.Args...)
	if config.Dir != "" {
		cmd.Dir = config.Dir
	}
	if len(config.Env) > 0 {
		env := os.Environ()
		for key, value := range config.Env {
			env = append(env, fmt.Sprintf("%s=%s", key, value))
		}
		cmd.Env = env
	}

	var stdout, stderr bytes.Buffer
	if config.DiscardStdout {
		cmd.Stdout = io.Discard
	} else {
		cmd.Stdout = &stdout
	}
	cmd.Stderr = &stderr

	err := cmd.Run()
	result.Duration = time.Since(startTime)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	if err != nil {
		result.Error = err
		var exitErr *exec.ExitError
		switch {
		case execCtx.Err() == context.DeadlineExceeded:
			result.Error = fmt.Errorf("%s timed out after %v", config.Name, timeout)
			result.ExitCode = -1
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitCode()
		default:
			result.ExitCode = -1
		}
		return result
	}

	result.Success = true
	return result
}
