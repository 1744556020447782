package detector

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Loader turns a weights file into a live ModelHandle. Loading is expensive,
// so the cache makes sure it happens at most once per identifier.
type Loader func(modelPath string) (*ModelHandle, error)

// Cache lazily loads models and keeps them for the lifetime of the process.
// There is no eviction: many distinct identifiers mean unbounded growth.
type Cache struct {
	dir    string
	load   Loader
	logger *zap.Logger

	mu     sync.Mutex
	models map[string]*cacheEntry
}

type cacheEntry struct {
	ready  chan struct{}
	handle *ModelHandle
	err    error
}

func NewCache(dir string, load Loader, logger *zap.Logger) *Cache {
	return &Cache{
		dir:    dir,
		load:   load,
		logger: logger,
		models: make(map[string]*cacheEntry),
	}
}

// Acquire returns the loaded handle for modelName, loading it on first use.
// Concurrent first requests for the same identifier share a single load; a
// load in flight for one identifier never blocks loads of other identifiers.
// Failed loads are not cached, so a later request retries.
func (c *Cache) Acquire(modelName string) (*ModelHandle, error) {
	c.mu.Lock()
	if entry, ok := c.models[modelName]; ok {
		c.mu.Unlock()
		return entry.wait()
	}
	c.mu.Unlock()

	path := filepath.Join(c.dir, filepath.Base(modelName))
	if _, err := os.Stat(path); err != nil {
		return nil, &ModelNotFoundError{Name: modelName}
	}

	c.mu.Lock()
	// Another request may have started the load while we were at the stat.
	if entry, ok := c.models[modelName]; ok {
		c.mu.Unlock()
		return entry.wait()
	}
	entry := &cacheEntry{ready: make(chan struct{})}
	c.models[modelName] = entry
	c.mu.Unlock()

	c.logger.Info("Loading model", zap.String("model", modelName))
	entry.handle, entry.err = c.load(path)
	close(entry.ready)

	if entry.err != nil {
		c.mu.Lock()
		delete(c.models, modelName)
		c.mu.Unlock()
		c.logger.Error("Model load failed",
			zap.String("model", modelName),
			zap.Error(entry.err),
		)
		return nil, entry.err
	}

	c.logger.Info("Model loaded",
		zap.String("model", modelName),
		zap.Int("classes", len(entry.handle.Classes)),
	)
	return entry.handle, nil
}

func (e *cacheEntry) wait() (*ModelHandle, error) {
	<-e.ready
	if e.err != nil {
		return nil, e.err
	}
	return e.handle, nil
}
