package enforcer

import (
	"testing"

	"loopsmith/internal/model"
)

func TestDecidePlanPhase(t *testing.T) {
	tests := []struct {
		name    string
		tool    string
		args    map[string]any
		allowed bool
	}{
		{"write tool denied", "write", map[string]any{}, false},
		{"edit tool denied", "edit", map[string]any{"path": "a.txt"}, false},
		{"git_push denied", "git_push", nil, false},
		{"benign shell allowed", "shell", map[string]any{"command": "ls -la"}, true},
		{"rm denied", "shell", map[string]any{"command": "rm -rf build"}, false},
		{"rm piped denied", "shell", map[string]any{"command": "find . | rm -f"}, false},
		{"mv denied", "bash", map[string]any{"command": "mv a b"}, false},
		{"dd denied", "sh", map[string]any{"command": "dd if=/dev/zero of=/dev/sda"}, false},
		{"mkfs denied", "shell", map[string]any{"command": "mkfs.ext4 /dev/sdb1"}, false},
		{"redirect denied", "shell", map[string]any{"command": "echo hi > out.txt"}, false},
		{"append redirect denied", "shell", map[string]any{"command": "cat a >> b"}, false},
		{"git commit denied", "shell", map[string]any{"command": "git commit -m fix"}, false},
		{"git rebase denied", "shell", map[string]any{"command": "git rebase main"}, false},
		{"git log allowed", "shell", map[string]any{"command": "git log --oneline"}, true},
		{"npm install denied", "shell", map[string]any{"command": "npm install left-pad"}, false},
		{"pip install denied", "run_command", map[string]any{"command": "pip install requests"}, false},
		{"chmod denied", "shell", map[string]any{"command": "chmod +x run.sh"}, false},
		{"grep remove allowed", "shell", map[string]any{"command": "grep remove notes.txt"}, true},
		{"case insensitive", "shell", map[string]any{"command": "RM -rf /"}, false},
		{"cmd key inspected", "shell", map[string]any{"cmd": "rm x"}, false},
		{"non-string command allowed", "shell", map[string]any{"command": 42}, true},
		{"read tool allowed", "read_file", map[string]any{"path": "wf.yaml"}, true},
		{"unknown tool allowed", "telescope", nil, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := Decide(model.PhasePlan, tc.tool, tc.args)
			if d.Allowed != tc.allowed {
				t.Errorf("Decide(plan, %q, %v) = %v, want allowed=%v (reason %q)",
					tc.tool, tc.args, d.Allowed, tc.allowed, d.Reason)
			}
			if !d.Allowed && d.Reason == "" {
				t.Error("denial must carry a reason")
			}
		})
	}
}

func TestDecideExecutePhaseAllowsEverything(t *testing.T) {
	calls := []struct {
		tool string
		args map[string]any
	}{
		{"write", map[string]any{}},
		{"shell", map[string]any{"command": "rm -rf build"}},
		{"git_push", nil},
	}
	for _, c := range calls {
		if d := Decide(model.PhaseExecute, c.tool, c.args); !d.Allowed {
			t.Errorf("Decide(execute, %q) denied: %s", c.tool, d.Reason)
		}
	}
}

func TestDecideNeverPanics(t *testing.T) {
	Decide(model.PhasePlan, "", nil)
	Decide("weird", "shell", map[string]any{"command": nil})
	Decide(model.PhasePlan, "shell", nil)
}
