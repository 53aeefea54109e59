package funnel

import (
	"context"
	"log/slog"
	"sync"
)

// Source lists the active funnel definitions. Implemented by the store.
type Source interface {
	ListActiveFunnelDefinitions(ctx context.Context) ([]Definition, error)
}

// Cache holds the active funnel definitions for the tracker's lifetime.
// Until Load succeeds the cache is empty and matching is a no-op; a failed
// or malformed load is treated as "no funnels active", never an error.
type Cache struct {
	mu     sync.RWMutex
	defs   []Definition
	loaded bool
	logger *slog.Logger
}

// NewCache creates an empty funnel cache.
func NewCache(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{logger: logger}
}

// Load fetches definitions from the source, discarding any that fail
// validation. Safe to call from a goroutine at startup.
func (c *Cache) Load(ctx context.Context, src Source) {
	defs, err := src.ListActiveFunnelDefinitions(ctx)
	if err != nil {
		c.logger.Error("failed to load funnel definitions", "error", err)
		return
	}

	valid := make([]Definition, 0, len(defs))
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			c.logger.Warn("skipping invalid funnel definition",
				"funnel_id", d.ID,
				"error", err)
			continue
		}
		valid = append(valid, d)
	}

	c.mu.Lock()
	c.defs = valid
	c.loaded = true
	c.mu.Unlock()

	c.logger.Info("funnel definitions loaded",
		"active", len(valid),
		"skipped", len(defs)-len(valid))
}

// Definitions returns the loaded definitions. The returned slice must be
// treated as read-only.
func (c *Cache) Definitions() []Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defs
}

// Loaded reports whether a load has completed.
func (c *Cache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}
