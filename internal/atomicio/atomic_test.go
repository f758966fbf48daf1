package atomicio

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	yamlv3 "gopkg.in/yaml.v3"
)

func TestWriteYAMLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	in := map[string]any{"name": "fetch", "retries": 2}

	if err := WriteYAML(path, in); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if err := yamlv3.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out["name"] != "fetch" || out["retries"] != 2 {
		t.Errorf("round trip mismatch: %v", out)
	}
}

func TestWriteYAMLOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := WriteYAML(path, map[string]string{"v": "one"}); err != nil {
		t.Fatal(err)
	}
	if err := WriteYAML(path, map[string]string{"v": "two"}); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "two") {
		t.Errorf("expected overwrite, got %s", data)
	}
}

func TestWriteRaw(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	if err := WriteRaw(path, []byte("line one\n")); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "line one\n" {
		t.Errorf("content = %q", data)
	}
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	if err := WriteYAML(filepath.Join(dir, "out.yaml"), map[string]int{"n": 1}); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".loopsmith-tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestWriteToMissingDir(t *testing.T) {
	err := WriteRaw(filepath.Join(t.TempDir(), "nope", "out.log"), []byte("x"))
	if err == nil {
		t.Fatal("expected error writing into missing directory")
	}
}
