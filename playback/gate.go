package playback

import (
	"context"
	"sync"
)

// Gate records whether the shared output has been unlocked by a user
// gesture. It starts closed and, once open, stays open.
type Gate struct {
	engine Engine

	mu   sync.Mutex
	open bool
}

func NewGate(engine Engine) *Gate {
	return &Gate{engine: engine}
}

func (g *Gate) Open() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

// Unlock resumes the engine the first time it succeeds; later calls do
// nothing.
func (g *Gate) Unlock(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open {
		return nil
	}
	return g.resumeLocked(ctx)
}

// Resume resumes the engine even if the gate is already open.
func (g *Gate) Resume(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resumeLocked(ctx)
}

func (g *Gate) resumeLocked(ctx context.Context) error {
	if err := g.engine.Resume(ctx); err != nil {
		return err
	}
	g.open = true
	return nil
}
