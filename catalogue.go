package taskgate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ModelSource fetches the full model list from the upstream catalogue (e.g.
// OpenRouter's /models endpoint). Concrete implementations live outside this
// package so the cache itself stays transport-agnostic.
type ModelSource interface {
	FetchModels(ctx context.Context) ([]ModelDescription, error)
}

// Catalogue is the Model Catalogue Cache (C3): a fetch-once-then-serve cache
// with a fixed TTL. Only one refetch may be in flight at a time; concurrent
// callers during a refetch share its result via singleflight.
type Catalogue struct {
	source ModelSource
	ttl    time.Duration

	mu        sync.RWMutex
	models    []ModelDescription
	byID      map[string]ModelDescription
	fetchedAt time.Time

	group singleflight.Group
}

// NewCatalogue creates a Catalogue with the given refresh TTL.
func NewCatalogue(source ModelSource, ttl time.Duration) *Catalogue {
	return &Catalogue{source: source, ttl: ttl}
}

func (c *Catalogue) stale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt.IsZero() || time.Since(c.fetchedAt) >= c.ttl
}

// ensureFresh refetches the catalogue if the cache is empty or past its TTL.
// Concurrent callers collapse onto a single in-flight fetch.
func (c *Catalogue) ensureFresh(ctx context.Context) error {
	if !c.stale() {
		return nil
	}
	_, err, _ := c.group.Do("refresh", func() (any, error) {
		if !c.stale() {
			return nil, nil
		}
		models, err := c.source.FetchModels(ctx)
		if err != nil {
			return nil, err
		}
		byID := make(map[string]ModelDescription, len(models))
		for _, m := range models {
			byID[m.ID] = m
		}
		c.mu.Lock()
		c.models = models
		c.byID = byID
		c.fetchedAt = time.Now()
		c.mu.Unlock()
		return nil, nil
	})
	return err
}

// GetAll returns models, optionally filtered by provider. An empty provider
// returns every cached model.
func (c *Catalogue) GetAll(ctx context.Context, provider string) ([]ModelDescription, error) {
	if err := c.ensureFresh(ctx); err != nil {
		return nil, WrapError(KindInternal, err, "refresh model catalogue")
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if provider == "" {
		out := make([]ModelDescription, len(c.models))
		copy(out, c.models)
		return out, nil
	}
	var out []ModelDescription
	for _, m := range c.models {
		if m.Provider == provider {
			out = append(out, m)
		}
	}
	return out, nil
}

// GetByID returns one model, or ok=false if the ID is unknown.
func (c *Catalogue) GetByID(ctx context.Context, id string) (ModelDescription, bool, error) {
	if err := c.ensureFresh(ctx); err != nil {
		return ModelDescription{}, false, WrapError(KindInternal, err, "refresh model catalogue")
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.byID[id]
	return m, ok, nil
}
