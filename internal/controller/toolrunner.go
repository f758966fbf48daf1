package controller

import (
	"context"
	"fmt"
	"os"
	"time"

	"loopsmith/internal/execution"
	"loopsmith/internal/model"
)

// defaultShellTimeout bounds a single shell tool call.
const defaultShellTimeout = 10 * time.Minute

// ToolRunner is the concrete ToolExecutor: shell commands go through an
// execution backend, file tools hit the filesystem directly. Unknown tools
// come back as structured failures, never errors.
type ToolRunner struct {
	backend execution.Backend
	timeout time.Duration
}

func NewToolRunner(backend execution.Backend) *ToolRunner {
	return &ToolRunner{backend: backend, timeout: defaultShellTimeout}
}

func (t *ToolRunner) SetTimeout(d time.Duration) {
	t.timeout = d
}

func (t *ToolRunner) Execute(ctx context.Context, req model.ToolCallRequest) ToolResult {
	switch req.Tool {
	case "shell", "bash", "sh", "run_command":
		return t.runShell(ctx, req.Args)
	case "read_file":
		return t.readFile(req.Args)
	case "write":
		return t.writeFile(req.Args)
	default:
		return ToolResult{Error: fmt.Sprintf("unknown tool %q", req.Tool)}
	}
}

func (t *ToolRunner) runShell(ctx context.Context, args map[string]any) ToolResult {
	cmd, ok := stringArg(args, "command")
	if !ok {
		return ToolResult{Error: "shell tool requires a string \"command\" argument"}
	}
	res := t.backend.Run(ctx, execution.RunRequest{
		ScriptPath: "sh",
		Args:       []string{"-c", cmd},
		Timeout:    t.timeout,
	})

	output := res.Stdout
	if res.Stderr != "" {
		output += "\n" + res.Stderr
	}
	if res.TimedOut {
		return ToolResult{Output: output, Error: fmt.Sprintf("command timed out after %s", t.timeout)}
	}
	if res.ExitCode != 0 {
		return ToolResult{Output: output, Error: fmt.Sprintf("command exited with code %d", res.ExitCode)}
	}
	return ToolResult{OK: true, Output: output}
}

func (t *ToolRunner) readFile(args map[string]any) ToolResult {
	path, ok := stringArg(args, "path")
	if !ok {
		return ToolResult{Error: "read_file tool requires a string \"path\" argument"}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ToolResult{Error: fmt.Sprintf("read %s: %v", path, err)}
	}
	return ToolResult{OK: true, Output: string(data)}
}

func (t *ToolRunner) writeFile(args map[string]any) ToolResult {
	path, ok := stringArg(args, "path")
	if !ok {
		return ToolResult{Error: "write tool requires a string \"path\" argument"}
	}
	content, ok := stringArg(args, "content")
	if !ok {
		return ToolResult{Error: "write tool requires a string \"content\" argument"}
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return ToolResult{Error: fmt.Sprintf("write %s: %v", path, err)}
	}
	return ToolResult{OK: true}
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}
