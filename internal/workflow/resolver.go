// Package workflow resolves short workflow identifiers to concrete file
// locations.
package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

var workflowExtensions = []string{".yaml", ".yml", ".json"}

// Resolver maps a workflow identifier to a workflow file. An identifier
// containing a path separator is treated as a path; a bare name is searched
// across the configured directories. Resolutions are cached, and concurrent
// lookups for the same identifier are collapsed with singleflight.
type Resolver struct {
	searchPaths []string

	mu    sync.RWMutex
	cache map[string]string
	group singleflight.Group
}

func NewResolver(searchPaths []string) *Resolver {
	return &Resolver{
		searchPaths: searchPaths,
		cache:       make(map[string]string),
	}
}

// Resolve returns the absolute path of the workflow file for id.
func (r *Resolver) Resolve(id string) (string, error) {
	r.mu.RLock()
	if path, ok := r.cache[id]; ok {
		r.mu.RUnlock()
		return path, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.group.Do(id, func() (any, error) {
		path, err := r.locate(id)
		if err != nil {
			return "", err
		}
		r.mu.Lock()
		r.cache[id] = path
		r.mu.Unlock()
		return path, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *Resolver) locate(id string) (string, error) {
	if strings.ContainsRune(id, os.PathSeparator) {
		abs, err := filepath.Abs(id)
		if err != nil {
			return "", fmt.Errorf("resolve workflow path %q: %w", id, err)
		}
		if _, err := os.Stat(abs); err != nil {
			return "", fmt.Errorf("workflow file %s: %w", abs, err)
		}
		return abs, nil
	}

	for _, dir := range r.searchPaths {
		for _, ext := range workflowExtensions {
			candidate := filepath.Join(dir, id+ext)
			if _, err := os.Stat(candidate); err == nil {
				abs, err := filepath.Abs(candidate)
				if err != nil {
					return "", fmt.Errorf("resolve workflow path %q: %w", candidate, err)
				}
				return abs, nil
			}
		}
	}

	return "", fmt.Errorf("workflow %q not found in search paths %v", id, r.searchPaths)
}

// Invalidate drops a cached resolution, e.g. after a workflow file moves.
func (r *Resolver) Invalidate(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, id)
}
