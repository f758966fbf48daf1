package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MemoryBackend returns scripted results without spawning processes.
// Results are matched by script path; unmatched scripts get Default.
type MemoryBackend struct {
	mu      sync.Mutex
	Results map[string]RunResult
	Default RunResult
	Calls   []RunRequest
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{Results: make(map[string]RunResult)}
}

func (b *MemoryBackend) Run(_ context.Context, req RunRequest) RunResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Calls = append(b.Calls, req)
	if res, ok := b.Results[req.ScriptPath]; ok {
		return res
	}
	return b.Default
}

// CallCount returns how many invocations the backend has seen.
func (b *MemoryBackend) CallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Calls)
}

// MemoryStorage keeps run records in maps. FailSaves makes every persist
// call error, for exercising the runner's storage-failure path.
type MemoryStorage struct {
	mu        sync.Mutex
	seq       int
	Manifests map[string]*RunManifest
	Logs      map[string]string
	FailSaves bool
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		Manifests: make(map[string]*RunManifest),
		Logs:      make(map[string]string),
	}
}

func (s *MemoryStorage) CreateRunDir(workflowID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return fmt.Sprintf("mem/%s/%06d", workflowID, s.seq), nil
}

func (s *MemoryStorage) SaveManifest(dir string, m *RunManifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSaves {
		return errors.New("memory storage: saves disabled")
	}
	cp := *m
	s.Manifests[dir] = &cp
	return nil
}

func (s *MemoryStorage) SaveOutputLog(dir string, stdout, stderr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSaves {
		return errors.New("memory storage: saves disabled")
	}
	s.Logs[dir] = stdout + stderr
	return nil
}
