package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"loopsmith/internal/config"
	"loopsmith/internal/controller"
	"loopsmith/internal/daemon"
	"loopsmith/internal/events"
	"loopsmith/internal/execution"
	"loopsmith/internal/manifest"
	"loopsmith/internal/model"
	"loopsmith/internal/uds"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "build":
		runBuild(os.Args[2:])
	case "resume":
		runResume(os.Args[2:])
	case "daemon":
		runDaemon(os.Args[2:])
	case "runs":
		runRuns(os.Args[2:])
	case "cancel":
		runCancel(os.Args[2:])
	case "version":
		fmt.Printf("loopsmith %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`loopsmith - LLM-assisted workflow build loop

Usage:
  loopsmith build <workflow> [--max-iterations <n>] [--max-wall-time-min <n>]
  loopsmith resume <session-id> [--workflow <id>]
  loopsmith daemon
  loopsmith runs [--waiting]
  loopsmith cancel <session-id>
  loopsmith version
  loopsmith help`)
}

// findLoopsmithDir walks upward from the working directory looking for an
// existing .loopsmith directory.
func findLoopsmithDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".loopsmith")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadEnv resolves the loopsmith directory and its configuration. The
// config file loopsmith.yaml sits next to the directory in the project
// root; a missing file means defaults.
func loadEnv(create bool) (string, *config.Config) {
	lsDir := findLoopsmithDir()
	root := ""
	if lsDir != "" {
		root = filepath.Dir(lsDir)
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "getwd: %v\n", err)
			os.Exit(1)
		}
		root = cwd
	}

	cfg, err := config.Load(filepath.Join(root, "loopsmith.yaml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if lsDir == "" {
		lsDir = filepath.Join(root, cfg.Dir)
		if !create {
			fmt.Fprintln(os.Stderr, "error: no .loopsmith directory found; run a build first")
			os.Exit(1)
		}
	}
	if create {
		if err := os.MkdirAll(lsDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "create %s: %v\n", lsDir, err)
			os.Exit(1)
		}
	}
	return lsDir, cfg
}

func runBuild(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: loopsmith build <workflow> [options]")
		os.Exit(1)
	}
	workflowID := args[0]
	rest := args[1:]

	dir, cfg := loadEnv(true)
	budget := model.Budget{
		MaxIterations: cfg.Budget.MaxIterations,
		MaxWallTime:   cfg.MaxWallTime(),
	}
	resumeFrom := ""

	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--max-iterations":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "--max-iterations requires a value")
				os.Exit(1)
			}
			i++
			n, err := strconv.Atoi(rest[i])
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid --max-iterations value: %s\n", rest[i])
				os.Exit(1)
			}
			budget.MaxIterations = n
		case "--max-wall-time-min":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "--max-wall-time-min requires a value")
				os.Exit(1)
			}
			i++
			n, err := strconv.Atoi(rest[i])
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid --max-wall-time-min value: %s\n", rest[i])
				os.Exit(1)
			}
			budget.MaxWallTime = time.Duration(n) * time.Minute
		case "--resume":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "--resume requires a session id")
				os.Exit(1)
			}
			i++
			resumeFrom = rest[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown option: %s\n", rest[i])
			os.Exit(1)
		}
	}

	os.Exit(runSession(dir, cfg, workflowID, budget, resumeFrom))
}

func runResume(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: loopsmith resume <session-id> [--workflow <id>]")
		os.Exit(1)
	}
	sessionID := args[0]
	rest := args[1:]

	dir, cfg := loadEnv(false)
	workflowID := ""
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--workflow":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "--workflow requires a value")
				os.Exit(1)
			}
			i++
			workflowID = rest[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown option: %s\n", rest[i])
			os.Exit(1)
		}
	}

	if workflowID == "" {
		m, err := manifestForSession(dir, sessionID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "resume: %v (pass --workflow to override)\n", err)
			os.Exit(1)
		}
		workflowID = m
	}

	budget := model.Budget{
		MaxIterations: cfg.Budget.MaxIterations,
		MaxWallTime:   cfg.MaxWallTime(),
	}
	os.Exit(runSession(dir, cfg, workflowID, budget, sessionID))
}

func runSession(dir string, cfg *config.Config, workflowID string, budget model.Budget, resumeFrom string) int {
	bus := events.NewBus(64)
	defer bus.Close()
	subscribeProgress(bus)

	backend := execution.NewSubprocessBackend()
	ctrl, err := controller.New(dir, cfg, controller.NewWorkflowPlanner(), controller.NewToolRunner(backend), bus)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build: %v\n", err)
		return controller.ExitFailure
	}
	defer ctrl.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code, err := ctrl.Run(ctx, workflowID, budget, resumeFrom)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build: %v\n", err)
	}
	return code
}

func subscribeProgress(bus *events.Bus) {
	bus.Subscribe(events.ProgressIterationStarted, func(p events.Progress) {
		fmt.Printf("iteration %v started\n", p.Data["iteration"])
	})
	bus.Subscribe(events.ProgressStepFinished, func(p events.Progress) {
		fmt.Printf("  step %v ok=%v\n", p.Data["step"], p.Data["ok"])
	})
	bus.Subscribe(events.ProgressGateEvaluated, func(p events.Progress) {
		fmt.Printf("  gate %v passed=%v\n", p.Data["gate"], p.Data["passed"])
	})
	bus.Subscribe(events.ProgressSessionFinished, func(p events.Progress) {
		fmt.Printf("session %s finished outcome=%v reason=%v\n", p.SessionID, p.Data["outcome"], p.Data["reason"])
	})
}

func manifestForSession(dir, sessionID string) (string, error) {
	m, err := manifest.Load(filepath.Join(dir, "sessions", sessionID))
	if err != nil {
		return "", err
	}
	if m.Workflow.ID == "" {
		return "", fmt.Errorf("session %s manifest has no workflow id", sessionID)
	}
	return m.Workflow.ID, nil
}

func runDaemon(_ []string) {
	dir, cfg := loadEnv(true)
	d, err := daemon.New(dir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create daemon: %v\n", err)
		os.Exit(1)
	}
	if err := d.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "daemon: %v\n", err)
		os.Exit(1)
	}
}

func runRuns(args []string) {
	dir, _ := loadEnv(false)
	command := "run.list"
	for _, a := range args {
		switch a {
		case "--waiting":
			command = "run.list_waiting"
		default:
			fmt.Fprintf(os.Stderr, "unknown option: %s\n", a)
			os.Exit(1)
		}
	}

	client := uds.NewClient(filepath.Join(dir, uds.SocketName))
	var result daemon.ListResult
	if err := client.Call(command, nil, &result); err != nil {
		fmt.Fprintf(os.Stderr, "runs: %v\n", err)
		os.Exit(1)
	}

	if len(result.Runs) == 0 {
		fmt.Println("no connected runs")
		return
	}
	fmt.Printf("%-28s %-20s %-10s %-8s %s\n", "RUN ID", "WORKFLOW", "STATUS", "PID", "LAST HEARTBEAT")
	for _, r := range result.Runs {
		fmt.Printf("%-28s %-20s %-10s %-8d %s\n",
			r.RunID, r.WorkflowID, r.Status, r.PID, r.LastHeartbeat.Format(time.RFC3339))
		if r.WaitingFor != nil {
			fmt.Printf("    waiting for %s at step %q until %s\n",
				r.WaitingFor.EventType, r.WaitingFor.StepName, r.WaitingFor.TimeoutAt.Format(time.RFC3339))
		}
	}
}

func runCancel(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: loopsmith cancel <session-id>")
		os.Exit(1)
	}
	sessionID := args[0]
	dir, _ := loadEnv(false)

	sessionDir := filepath.Join(dir, "sessions", sessionID)
	if _, err := os.Stat(sessionDir); err != nil {
		fmt.Fprintf(os.Stderr, "cancel: session %s not found\n", sessionID)
		os.Exit(1)
	}
	cancelPath := filepath.Join(sessionDir, controller.CancelFileName)
	if err := os.WriteFile(cancelPath, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "cancel: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("cancel requested for session %s\n", sessionID)
}
