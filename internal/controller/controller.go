package controller

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"loopsmith/internal/config"
	"loopsmith/internal/enforcer"
	"loopsmith/internal/events"
	"loopsmith/internal/execution"
	"loopsmith/internal/journal"
	"loopsmith/internal/lock"
	"loopsmith/internal/manifest"
	"loopsmith/internal/model"
	"loopsmith/internal/workflow"
)

// CancelFileName inside a session directory requests an abort. The
// controller watches for it and interrupts whatever is blocking.
const CancelFileName = "cancel"

// Exit codes for Run.
const (
	ExitSuccess = 0
	ExitFailure = 1
	ExitAborted = 130
)

// maxJournaledOutput caps gate output stored in a journal record; full
// output stays in the run directory's output log.
const maxJournaledOutput = 8 * 1024

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func parseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// ResumeError reports that a prior session's journal could not be replayed.
// It is fatal to the resume attempt only; callers may fall back to a fresh
// build.
type ResumeError struct {
	SessionID string
	Err       error
}

func (e *ResumeError) Error() string {
	return fmt.Sprintf("resume session %s: %v", e.SessionID, e.Err)
}

func (e *ResumeError) Unwrap() error { return e.Err }

// Controller orchestrates build sessions. One Controller may run multiple
// sessions sequentially or concurrently; each session owns its own journal
// and session directory.
type Controller struct {
	dir      string
	cfg      *config.Config
	planner  Planner
	executor ToolExecutor
	exec     *execution.Container
	resolver *workflow.Resolver
	bus      *events.Bus
	logger   *log.Logger
	logLevel LogLevel
	logFile  io.Closer
}

// New creates a controller logging to <dir>/logs/controller.log. The
// execution container is rooted at <dir>/runs.
func New(dir string, cfg *config.Config, planner Planner, executor ToolExecutor, bus *events.Bus) (*Controller, error) {
	logPath := filepath.Join(dir, "logs", "controller.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open controller log: %w", err)
	}
	c := newController(dir, cfg, planner, executor, bus, logFile)
	c.logFile = logFile
	return c, nil
}

// newController is the internal constructor for testing.
func newController(dir string, cfg *config.Config, planner Planner, executor ToolExecutor, bus *events.Bus, w io.Writer) *Controller {
	if bus == nil {
		bus = events.NewBus(0)
	}
	return &Controller{
		dir:      dir,
		cfg:      cfg,
		planner:  planner,
		executor: executor,
		exec:     execution.NewContainer(filepath.Join(dir, "runs")),
		resolver: workflow.NewResolver(cfg.Workflow.SearchPaths),
		bus:      bus,
		logger:   log.New(w, "", 0),
		logLevel: parseLogLevel(cfg.Logging.Level),
	}
}

// Execution returns the container so tests can swap backend and storage.
func (c *Controller) Execution() *execution.Container { return c.exec }

// SessionDir returns the directory a session's journal and manifest live in.
func (c *Controller) SessionDir(sessionID string) string {
	return filepath.Join(c.dir, "sessions", sessionID)
}

// Close releases the controller's log file.
func (c *Controller) Close() error {
	if c.logFile != nil {
		return c.logFile.Close()
	}
	return nil
}

// session is the state of one Run invocation.
type session struct {
	id           string
	workflowID   string
	workflowPath string
	dir          string
	budget       model.Budget
	startedAt    time.Time
	state        model.SessionState
	iteration    int
	journal      *journal.Journal
	events       []journal.Event
	skip         map[string]bool
	resumedFrom  string
	feedback     []model.GateResult
	abortReason  string
}

// Run drives one build session to a terminal state and returns its exit
// code. Configuration problems are reported before any session state is
// recorded; a failed resume replay is a ResumeError.
func (c *Controller) Run(ctx context.Context, workflowID string, budget model.Budget, resumeFrom string) (int, error) {
	if workflowID == "" {
		return ExitFailure, fmt.Errorf("%w: workflow id is required", config.ErrConfiguration)
	}
	if budget.MaxIterations < 1 {
		return ExitFailure, fmt.Errorf("%w: max_iterations must be at least 1, got %d", config.ErrConfiguration, budget.MaxIterations)
	}
	if budget.MaxWallTime <= 0 {
		return ExitFailure, fmt.Errorf("%w: max_wall_time must be positive, got %s", config.ErrConfiguration, budget.MaxWallTime)
	}
	workflowPath, err := c.resolver.Resolve(workflowID)
	if err != nil {
		return ExitFailure, fmt.Errorf("%w: resolve workflow %q: %v", config.ErrConfiguration, workflowID, err)
	}

	skip := make(map[string]bool)
	if resumeFrom != "" {
		prior, err := manifest.FromJournal(c.SessionDir(resumeFrom))
		if err != nil {
			return ExitFailure, &ResumeError{SessionID: resumeFrom, Err: err}
		}
		skip = prior.SuccessSteps()
		c.log(LogLevelInfo, "resuming session=%s completed_steps=%d", resumeFrom, len(skip))
	}

	id, err := model.GenerateID(model.IDTypeSession)
	if err != nil {
		return ExitFailure, fmt.Errorf("generate session id: %w", err)
	}
	sessionDir := c.SessionDir(id)
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return ExitFailure, fmt.Errorf("create session dir: %w", err)
	}

	// One writer per journal.
	fl := lock.NewFileLock(filepath.Join(sessionDir, "session.lock"))
	if err := fl.TryLock(); err != nil {
		return ExitFailure, fmt.Errorf("session lock: %w", err)
	}
	defer fl.Unlock()

	jnl, err := journal.Open(sessionDir)
	if err != nil {
		return ExitFailure, fmt.Errorf("open journal: %w", err)
	}
	defer jnl.Close()

	s := &session{
		id:           id,
		workflowID:   workflowID,
		workflowPath: workflowPath,
		dir:          sessionDir,
		budget:       budget,
		startedAt:    time.Now().UTC(),
		state:        model.SessionInit,
		journal:      jnl,
		skip:         skip,
		resumedFrom:  resumeFrom,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := c.watchCancel(runCtx, s, cancel); err != nil {
		return ExitFailure, fmt.Errorf("watch session dir: %w", err)
	}

	if err := c.append(s, journal.SessionStarted(id, workflowID, budget, resumeFrom)); err != nil {
		return ExitFailure, fmt.Errorf("journal session start: %w", err)
	}
	c.log(LogLevelInfo, "session started session=%s workflow=%s max_iterations=%d max_wall_time=%s",
		id, workflowID, budget.MaxIterations, budget.MaxWallTime)

	return c.loop(runCtx, s)
}

// loop runs plan/execute/verify cycles until a terminal state.
func (c *Controller) loop(ctx context.Context, s *session) (int, error) {
	deadline := s.startedAt.Add(s.budget.MaxWallTime)

	for {
		if ctx.Err() != nil {
			return c.abort(s)
		}
		if s.iteration >= s.budget.MaxIterations {
			return c.finish(s, model.SessionDoneFailure,
				fmt.Sprintf("gates still failing after %d of %d iterations, iteration budget exhausted",
					s.iteration, s.budget.MaxIterations))
		}
		if !time.Now().Before(deadline) {
			return c.finish(s, model.SessionDoneFailure,
				fmt.Sprintf("wall time budget %s exceeded after %d iterations", s.budget.MaxWallTime, s.iteration))
		}

		s.iteration++
		c.bus.Publish(events.ProgressIterationStarted, s.id, map[string]any{"iteration": s.iteration})

		if err := c.transition(s, model.SessionPlanning); err != nil {
			return ExitFailure, err
		}
		plan, err := c.runPlanning(ctx, s)
		if err != nil {
			if ctx.Err() != nil {
				return c.abort(s)
			}
			return c.finish(s, model.SessionDoneFailure, fmt.Sprintf("planning failed: %v", err))
		}

		if err := c.transition(s, model.SessionExecuting); err != nil {
			return ExitFailure, err
		}
		if err := c.runExecuting(ctx, s, plan); err != nil {
			return c.abort(s)
		}

		if err := c.transition(s, model.SessionVerifying); err != nil {
			return ExitFailure, err
		}
		results, allPass, err := c.runGates(ctx, s)
		if err != nil {
			return c.abort(s)
		}
		if allPass {
			return c.finish(s, model.SessionDoneSuccess, "all gates passed")
		}

		s.feedback = failingGates(results)
		_ = c.append(s, journal.IterationCompleted(s.id, s.workflowID, s.iteration))
		c.saveManifest(s)
		c.log(LogLevelInfo, "iteration completed session=%s iteration=%d failing_gates=%d",
			s.id, s.iteration, len(s.feedback))
	}
}

// runPlanning drives one planning pass. Tool calls stream in on a channel
// the controller drains; each is decided before anything executes and a
// denial goes back to the planner as a structured failure.
func (c *Controller) runPlanning(ctx context.Context, s *session) (*Plan, error) {
	calls := make(chan ToolCall)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for call := range calls {
			call.Reply <- c.dispatchCall(ctx, s, model.PhasePlan, call.Request)
		}
	}()

	req := PlanRequest{
		WorkflowID:     s.workflowID,
		WorkflowPath:   s.workflowPath,
		Iteration:      s.iteration,
		GateFeedback:   s.feedback,
		CompletedSteps: s.skip,
	}
	plan, err := c.planner.Plan(ctx, req, calls)
	close(calls)
	wg.Wait()

	if err != nil {
		return nil, err
	}
	if plan == nil || len(plan.Steps) == 0 {
		return nil, fmt.Errorf("planner produced an empty plan")
	}
	return plan, nil
}

// dispatchCall decides one tool call against the phase policy, journals the
// decision, and executes it if allowed.
func (c *Controller) dispatchCall(ctx context.Context, s *session, phase model.Phase, req model.ToolCallRequest) ToolResult {
	d := enforcer.Decide(phase, req.Tool, req.Args)
	_ = c.append(s, journal.ToolCallDecided(s.id, s.workflowID, req.Tool, d.Allowed, d.Reason))
	if !d.Allowed {
		c.log(LogLevelWarn, "tool call denied session=%s phase=%s tool=%s reason=%q", s.id, phase, req.Tool, d.Reason)
		return ToolResult{
			Denied: true,
			Error:  fmt.Sprintf("tool call %q denied in %s phase: %s", req.Tool, phase, d.Reason),
		}
	}
	return c.executor.Execute(ctx, req)
}

// runExecuting performs the plan's steps in order. Steps in the skip-set
// are recorded as skipped, never re-executed. A failed step is journaled
// and execution continues; the verify cycle decides what it means.
func (c *Controller) runExecuting(ctx context.Context, s *session, plan *Plan) error {
	for _, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.skip[step.Name] {
			_ = c.append(s, journal.StepSkipped(s.id, s.workflowID, step.Name, "succeeded in resumed session"))
			c.log(LogLevelDebug, "step skipped session=%s step=%s", s.id, step.Name)
			continue
		}

		_ = c.append(s, journal.StepStarted(s.id, s.workflowID, step.Name))
		start := time.Now()
		res := c.dispatchCall(ctx, s, model.PhaseExecute, step.Tool)
		elapsed := time.Since(start)
		if err := ctx.Err(); err != nil {
			return err
		}

		if res.OK {
			_ = c.append(s, journal.StepCompleted(s.id, s.workflowID, step.Name, elapsed))
		} else {
			_ = c.append(s, journal.StepFailed(s.id, s.workflowID, step.Name, elapsed, res.Error))
		}
		c.bus.Publish(events.ProgressStepFinished, s.id, map[string]any{
			"step": step.Name,
			"ok":   res.OK,
		})
		c.log(LogLevelInfo, "step finished session=%s step=%s ok=%t duration=%s", s.id, step.Name, res.OK, elapsed)
	}
	return nil
}

// runGates evaluates the configured gates in order through the execution
// engine. Default policy is fail-fast; aggregate_gates runs every gate and
// collects all failures for the next plan.
func (c *Controller) runGates(ctx context.Context, s *session) ([]model.GateResult, bool, error) {
	runner := c.exec.Runner()
	var results []model.GateResult
	allPass := true

	for _, gate := range c.cfg.Gates {
		if err := ctx.Err(); err != nil {
			return results, false, err
		}

		args := append(append([]string{}, gate.Args...), s.workflowPath)
		res, runDir, err := runner.Run(ctx, s.workflowID, execution.RunRequest{
			ScriptPath: gate.Command,
			Args:       args,
			Timeout:    gate.Timeout(),
		})
		if ctx.Err() != nil {
			return results, false, ctx.Err()
		}

		output := res.Stdout
		if res.Stderr != "" {
			output += "\n" + res.Stderr
		}
		if res.TimedOut {
			output = fmt.Sprintf("gate timed out after %s\n%s", gate.Timeout(), output)
		}
		if err != nil {
			// Storage failure: the gate outcome is kept but the run is
			// reported failed with the error surfaced.
			output = fmt.Sprintf("%s\nrun storage error: %v", output, err)
		}
		passed := err == nil && !res.TimedOut && res.ExitCode == 0

		results = append(results, model.GateResult{Gate: gate.Name, Passed: passed, Output: output})
		_ = c.append(s, journal.GateEvaluated(s.id, s.workflowID, gate.Name, passed, truncate(output, maxJournaledOutput), s.iteration))
		c.bus.Publish(events.ProgressGateEvaluated, s.id, map[string]any{
			"gate":   gate.Name,
			"passed": passed,
		})
		c.log(LogLevelInfo, "gate evaluated session=%s gate=%s passed=%t exit_code=%d run_dir=%s",
			s.id, gate.Name, passed, res.ExitCode, runDir)

		if !passed {
			allPass = false
			if !c.cfg.AggregateGates {
				break
			}
		}
	}
	return results, allPass, nil
}

// finish records the terminal outcome and returns the process exit code.
func (c *Controller) finish(s *session, outcome model.SessionState, reason string) (int, error) {
	if err := model.ValidateSessionTransition(s.state, outcome); err != nil {
		return ExitFailure, err
	}
	s.state = outcome
	if err := c.append(s, journal.SessionCompleted(s.id, s.workflowID, outcome, reason)); err != nil {
		c.log(LogLevelError, "journal terminal record session=%s err=%v", s.id, err)
	}
	c.saveManifest(s)
	c.bus.Publish(events.ProgressSessionFinished, s.id, map[string]any{
		"outcome": string(outcome),
		"reason":  reason,
	})
	c.log(LogLevelInfo, "session finished session=%s outcome=%s reason=%q iterations=%d", s.id, outcome, reason, s.iteration)

	if outcome == model.SessionDoneSuccess {
		return ExitSuccess, nil
	}
	return ExitFailure, nil
}

// abort persists the abort record before returning; the process must not
// exit with the journal missing the abort.
func (c *Controller) abort(s *session) (int, error) {
	reason := s.abortReason
	if reason == "" {
		reason = "interrupted"
	}
	if err := model.ValidateSessionTransition(s.state, model.SessionAborted); err != nil {
		return ExitAborted, err
	}
	s.state = model.SessionAborted
	if err := c.append(s, journal.SessionAborted(s.id, s.workflowID, reason)); err != nil {
		c.log(LogLevelError, "journal abort record session=%s err=%v", s.id, err)
	}
	c.saveManifest(s)
	c.bus.Publish(events.ProgressSessionFinished, s.id, map[string]any{
		"outcome": string(model.SessionAborted),
		"reason":  reason,
	})
	c.log(LogLevelWarn, "session aborted session=%s reason=%q", s.id, reason)
	return ExitAborted, nil
}

func (c *Controller) transition(s *session, to model.SessionState) error {
	if err := model.ValidateSessionTransition(s.state, to); err != nil {
		return err
	}
	from := s.state
	s.state = to
	_ = c.append(s, journal.PhaseChanged(s.id, s.workflowID, from, to, s.iteration))
	c.bus.Publish(events.ProgressPhaseChanged, s.id, map[string]any{
		"from":      string(from),
		"to":        string(to),
		"iteration": s.iteration,
	})
	c.log(LogLevelDebug, "phase changed session=%s from=%s to=%s iteration=%d", s.id, from, to, s.iteration)
	return nil
}

// append journals one event and keeps the in-memory copy the manifest is
// derived from.
func (c *Controller) append(s *session, ev journal.Event) error {
	if err := s.journal.Append(&ev); err != nil {
		c.log(LogLevelError, "journal append session=%s event=%s err=%v", s.id, ev.Type, err)
		return err
	}
	s.events = append(s.events, ev)
	return nil
}

// saveManifest derives the manifest from the session's events and writes it
// atomically for inspection tooling.
func (c *Controller) saveManifest(s *session) {
	m, err := manifest.Reduce(s.events)
	if err != nil {
		c.log(LogLevelError, "reduce manifest session=%s err=%v", s.id, err)
		return
	}
	if err := manifest.Save(s.dir, m); err != nil {
		c.log(LogLevelError, "save manifest session=%s err=%v", s.id, err)
	}
}

func failingGates(results []model.GateResult) []model.GateResult {
	var failing []model.GateResult
	for _, r := range results {
		if !r.Passed {
			failing = append(failing, r)
		}
	}
	return failing
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... (truncated)"
}

func (c *Controller) log(level LogLevel, format string, args ...any) {
	if level < c.logLevel {
		return
	}
	levelStr := [...]string{"DEBUG", "INFO", "WARN", "ERROR"}[level]
	c.logger.Printf("%s [%s] %s",
		time.Now().UTC().Format(time.RFC3339), levelStr, fmt.Sprintf(format, args...))
}
