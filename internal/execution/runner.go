package execution

import (
	"context"
	"fmt"
	"time"

	"loopsmith/internal/model"
)

// Runner composes a backend and storage: allocate a run directory, invoke
// the backend, persist manifest and log, return the result. Manifest and
// log are written even when the run failed; only a storage failure makes
// Run return an error, and the result still carries what the backend saw.
type Runner struct {
	backend Backend
	storage Storage
}

func NewRunner(backend Backend, storage Storage) *Runner {
	return &Runner{backend: backend, storage: storage}
}

// Run executes one script invocation for a workflow and records it.
// The returned dir is where manifest and log were persisted ("" when
// directory allocation itself failed).
func (r *Runner) Run(ctx context.Context, workflowID string, req RunRequest) (RunResult, string, error) {
	dir, err := r.storage.CreateRunDir(workflowID)
	if err != nil {
		return RunResult{ExitCode: -1}, "", fmt.Errorf("allocate run dir: %w", err)
	}

	result := r.backend.Run(ctx, req)

	m := &RunManifest{
		WorkflowID: workflowID,
		ExitCode:   result.ExitCode,
		DurationMs: result.Duration.Milliseconds(),
		Args:       req.Args,
		Timestamp:  model.Timestamp(time.Now()),
		TimedOut:   result.TimedOut,
	}
	if err := r.storage.SaveManifest(dir, m); err != nil {
		return result, dir, fmt.Errorf("persist run manifest: %w", err)
	}
	if err := r.storage.SaveOutputLog(dir, result.Stdout, result.Stderr); err != nil {
		return result, dir, fmt.Errorf("persist output log: %w", err)
	}

	return result, dir, nil
}
