package execution

import "sync"

// Container holds the engine's backend and storage. It is constructed once
// and passed to dependents; Set/Reset are the explicit seam tests use
// instead of mutating package-level state.
type Container struct {
	mu      sync.Mutex
	root    string
	backend Backend
	storage Storage
}

// NewContainer builds the production composition: subprocess backend,
// filesystem storage rooted at root.
func NewContainer(root string) *Container {
	return &Container{
		root:    root,
		backend: NewSubprocessBackend(),
		storage: NewFSStorage(root),
	}
}

func (c *Container) SetBackend(b Backend) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backend = b
}

func (c *Container) SetStorage(s Storage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storage = s
}

// Reset restores the production backend and storage.
func (c *Container) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backend = NewSubprocessBackend()
	c.storage = NewFSStorage(c.root)
}

// Runner returns a runner over the current composition.
func (c *Container) Runner() *Runner {
	c.mu.Lock()
	defer c.mu.Unlock()
	return NewRunner(c.backend, c.storage)
}
