// Package execution runs one script invocation in isolation and durably
// records its outcome. Backend and storage are separate seams composed by a
// runner, so tests can swap either without touching orchestration.
package execution

import (
	"bytes"
	"context"
	"os/exec"
	"syscall"
	"time"
)

// timeoutExitCode is the synthetic exit code reported when the backend
// kills a run at its deadline, matching the timeout(1) convention.
const timeoutExitCode = 124

// RunRequest describes one script invocation.
type RunRequest struct {
	ScriptPath string
	Args       []string
	Dir        string
	Timeout    time.Duration
}

// RunResult captures the outcome of one invocation. Failures are data, not
// errors: a non-zero exit, a timeout, or a spawn failure all land here so
// orchestration can branch on them.
type RunResult struct {
	ExitCode int           `yaml:"exit_code" json:"exit_code"`
	Stdout   string        `yaml:"-" json:"-"`
	Stderr   string        `yaml:"-" json:"-"`
	Duration time.Duration `yaml:"-" json:"-"`
	TimedOut bool          `yaml:"timed_out,omitempty" json:"timed_out,omitempty"`
}

// Backend executes one script invocation. Run blocks until the process has
// exited or been forcibly terminated; callers must not assume the process
// is gone until Run returns.
type Backend interface {
	Run(ctx context.Context, req RunRequest) RunResult
}

// SubprocessBackend runs scripts as child processes in their own process
// group. The timeout is a hard wall-clock ceiling: at the deadline the
// whole process group is killed rather than waited on.
type SubprocessBackend struct{}

func NewSubprocessBackend() *SubprocessBackend {
	return &SubprocessBackend{}
}

func (b *SubprocessBackend) Run(ctx context.Context, req RunRequest) RunResult {
	start := time.Now()

	runCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := exec.Command(req.ScriptPath, req.Args...)
	cmd.Dir = req.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Own process group so a timeout kill reaches grandchildren too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return RunResult{
			ExitCode: -1,
			Stderr:   err.Error(),
			Duration: time.Since(start),
		}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-done:
	case <-runCtx.Done():
		// Kill the whole group (negative PID) and wait for reaping so the
		// caller sees a fully terminated process tree.
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		waitErr = <-done
		timedOut = runCtx.Err() == context.DeadlineExceeded
	}

	result := RunResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
		TimedOut: timedOut,
	}

	switch {
	case timedOut:
		result.ExitCode = timeoutExitCode
	case waitErr == nil:
		result.ExitCode = 0
	default:
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
			if result.Stderr == "" {
				result.Stderr = waitErr.Error()
			}
		}
	}
	return result
}
