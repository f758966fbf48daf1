// Package enforcer decides whether a tool call is permitted in the current
// phase. Decide is total and side-effect free: every input maps to a
// decision, nothing is executed here, and nothing panics.
package enforcer

import (
	"fmt"
	"regexp"

	"loopsmith/internal/model"
)

// Decision is the outcome for one tool call. Reason is set only on denial.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// writeTools are tools that modify state. All are denied during planning.
var writeTools = map[string]bool{
	"write":      true,
	"edit":       true,
	"patch":      true,
	"delete":     true,
	"move":       true,
	"copy":       true,
	"mkdir":      true,
	"git_commit": true,
	"git_add":    true,
	"git_push":   true,
}

// shellTools are generic command runners whose command text must be
// inspected rather than trusted by name.
var shellTools = map[string]bool{
	"shell":       true,
	"bash":        true,
	"sh":          true,
	"exec":        true,
	"run_command": true,
}

type destructivePattern struct {
	re     *regexp.Regexp
	reason string
}

// Destructive shell command classes denied during planning. Matching is
// case-insensitive and anchored on word boundaries so "ls -la" or
// "grep remove" never trip it.
var destructivePatterns = []destructivePattern{
	{regexp.MustCompile(`(?i)(^|[\s;&|])rm(\s|$)`), "file removal (rm)"},
	{regexp.MustCompile(`(?i)(^|[\s;&|])rmdir(\s|$)`), "directory removal (rmdir)"},
	{regexp.MustCompile(`(?i)(^|[\s;&|])mv(\s|$)`), "file move (mv)"},
	{regexp.MustCompile(`(?i)(^|[\s;&|])cp(\s|$)`), "file copy (cp)"},
	{regexp.MustCompile(`(?i)(^|[\s;&|])dd(\s|$)`), "raw device write (dd)"},
	{regexp.MustCompile(`(?i)(^|[\s;&|])mkfs(\.|\s|$)`), "filesystem format (mkfs)"},
	{regexp.MustCompile(`>{1,2}`), "output redirection"},
	{regexp.MustCompile(`(?i)\bgit\s+(commit|push|merge|rebase|reset|checkout\s+--)\b`), "state-mutating git command"},
	{regexp.MustCompile(`(?i)\b(npm|yarn|pnpm|pip3?|gem|cargo|go|apt|apt-get|dnf|yum|brew)\s+(install|add|remove|uninstall|upgrade)\b`), "package manager mutation"},
	{regexp.MustCompile(`(?i)(^|[\s;&|])(chmod|chown)(\s|$)`), "permission change"},
	{regexp.MustCompile(`(?i)(^|[\s;&|])truncate(\s|$)`), "file truncation"},
}

// Decide applies the plan-mode policy. During execute everything is
// allowed; during plan, write tools are denied outright and shell commands
// are denied when their command text matches a destructive class.
func Decide(phase model.Phase, tool string, args map[string]any) Decision {
	if phase != model.PhasePlan {
		return Decision{Allowed: true}
	}

	if writeTools[tool] {
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("tool %q is a write operation, not permitted during planning", tool),
		}
	}

	if shellTools[tool] {
		if cmd := commandText(args); cmd != "" {
			for _, p := range destructivePatterns {
				if p.re.MatchString(cmd) {
					return Decision{
						Allowed: false,
						Reason:  fmt.Sprintf("command matches destructive class: %s", p.reason),
					}
				}
			}
		}
	}

	return Decision{Allowed: true}
}

// commandText pulls the command string out of schemaless tool arguments.
// Non-string or absent values yield "", which is always allowed.
func commandText(args map[string]any) string {
	for _, key := range []string{"command", "cmd", "script"} {
		if v, ok := args[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
