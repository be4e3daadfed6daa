package editor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/foxzi/leadmail/internal/metrics"
	"github.com/foxzi/leadmail/internal/template"
)

// Source lists templates and signals changes
type Source interface {
	List(ctx context.Context, filter template.ListFilter) ([]*template.Template, error)
	Subscribe() (<-chan template.Event, func())
}

// Catalog caches the name-ordered template list and refreshes it whenever
// the source reports a change
type Catalog struct {
	source Source
	logger *slog.Logger

	mu        sync.RWMutex
	templates []*template.Template
	loaded    bool
}

// NewCatalog creates a catalog; call Run to keep it current
func NewCatalog(source Source, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{source: source, logger: logger}
}

// Run refreshes once and then on every change until ctx is done or the
// source closes the subscription
func (c *Catalog) Run(ctx context.Context) error {
	events, cancel := c.source.Subscribe()
	defer cancel()

	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("initial catalog refresh failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.logger.Debug("template changed", "type", ev.Type, "id", ev.ID)
			if err := c.Refresh(ctx); err != nil {
				c.logger.Warn("catalog refresh failed", "error", err)
			}
		}
	}
}

// Refresh refetches the full list
func (c *Catalog) Refresh(ctx context.Context) error {
	list, err := c.source.List(ctx, template.ListFilter{})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.templates = list
	c.loaded = true
	c.mu.Unlock()

	metrics.SetTemplates(int64(len(list)))
	return nil
}

// Templates returns the cached list
func (c *Catalog) Templates() []*template.Template {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*template.Template, len(c.templates))
	copy(out, c.templates)
	return out
}

// Loaded reports whether at least one refresh succeeded
func (c *Catalog) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}
