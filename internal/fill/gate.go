package fill

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Gate holds a form's submit shut for the length of one pass. Engage blocks, Open
// releases; Open takes effect once and later calls are no-ops.
type Gate struct {
	form    Form
	logger  *zap.Logger
	mu      sync.Mutex
	blocked bool
	opened  bool
}

// NewGate wraps form.
func NewGate(form Form, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{form: form, logger: logger.Named("gate")}
}

// Engage starts cancelling submits.
func (g *Gate) Engage(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.opened {
		return fmt.Errorf("gate already opened")
	}
	if g.blocked {
		return nil
	}
	if err := g.form.Block(ctx); err != nil {
		return fmt.Errorf("failed to block form submission: %w", err)
	}
	g.blocked = true
	g.logger.Debug("Form submission blocked")
	return nil
}

// Open stops cancelling submits. It reports whether this call performed the transition.
func (g *Gate) Open(ctx context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.opened || !g.blocked {
		return false, nil
	}
	g.opened = true
	g.blocked = false
	if err := g.form.Unblock(ctx); err != nil {
		return true, fmt.Errorf("failed to unblock form submission: %w", err)
	}
	g.logger.Debug("Form submission released")
	return true, nil
}

// Blocked reports whether submits are currently being cancelled.
func (g *Gate) Blocked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.blocked
}
