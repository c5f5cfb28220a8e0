package guard

import (
	"context"
	"sync"
)

// RunGuard keeps a job from running twice at once inside one process.
// Cross-process overlap is handled by the store's conditional updates.
type RunGuard struct {
	mu      sync.Mutex
	running map[string]bool
}

// NewRunGuard creates an empty RunGuard.
func NewRunGuard() *RunGuard {
	return &RunGuard{running: make(map[string]bool)}
}

// Acquire marks key as running, or refuses if it already is.
func (g *RunGuard) Acquire(_ context.Context, key string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running[key] {
		return deny("run_guard", key+" is already running", 0)
	}
	g.running[key] = true
	return allow
}

// Release clears key so the job can run again.
func (g *RunGuard) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.running, key)
}
