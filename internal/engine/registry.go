package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Registry holds the probed adapter set. Backends are registered once at
// startup; afterwards only availability flags change (flipped on load
// failure so the next selection skips the backend).
type Registry struct {
	mu       sync.RWMutex
	order    []string
	adapters map[string]Adapter
	failed   map[string]string
	log      *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		failed:   make(map[string]string),
		log:      log.With(slog.String("component", "engine")),
	}
}

// Register adds an adapter under its descriptor ID. Registration order is
// preserved for reporting.
func (r *Registry) Register(a Adapter) {
	desc := a.Descriptor()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.adapters[desc.ID]; !dup {
		r.order = append(r.order, desc.ID)
	}
	r.adapters[desc.ID] = a
	r.log.Debug("engine registered",
		slog.String("engine", desc.ID),
		slog.Bool("streaming", desc.Streaming))
}

// Get returns the adapter registered under id.
func (r *Registry) Get(id string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	return a, ok
}

// MarkFailed records a load failure so the backend is excluded from future
// selections in this process.
func (r *Registry) MarkFailed(id string, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[id] = reason
	r.log.Warn("engine marked unavailable",
		slog.String("engine", id),
		slog.String("reason", reason))
}

// Select returns the first usable adapter from preferred followed by
// fallbacks, skipping backends that probed unavailable or failed to load
// earlier.
func (r *Registry) Select(preferred string, fallbacks []string) (Adapter, error) {
	candidates := append([]string{preferred}, fallbacks...)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range candidates {
		a, ok := r.adapters[id]
		if !ok {
			continue
		}
		if _, failed := r.failed[id]; failed {
			continue
		}
		if !a.Descriptor().Available {
			continue
		}
		return a, nil
	}
	return nil, fmt.Errorf("%w: no usable engine among %v", ErrLoadFailed, candidates)
}

// Probe refreshes every adapter's descriptor concurrently and logs the
// resulting availability set. Descriptor probes may touch the filesystem
// or PATH, so they run in parallel and bail out when ctx is cancelled.
func (r *Registry) Probe(ctx context.Context) []Descriptor {
	r.mu.RLock()
	ids := append([]string(nil), r.order...)
	adapters := make([]Adapter, len(ids))
	for i, id := range ids {
		adapters[i] = r.adapters[id]
	}
	r.mu.RUnlock()

	descs := make([]Descriptor, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, a := range adapters {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			descs[i] = a.Descriptor()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.log.Warn("engine probe aborted", slog.String("error", err.Error()))
		return nil
	}

	for _, desc := range descs {
		r.log.Info("engine probed",
			slog.String("engine", desc.ID),
			slog.Bool("available", desc.Available),
			slog.String("detail", desc.Detail))
	}
	return descs
}

// Descriptors returns the registered descriptors in registration order, with
// recorded load failures folded into the availability flag.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		desc := r.adapters[id].Descriptor()
		if reason, failed := r.failed[id]; failed {
			desc.Available = false
			desc.Detail = reason
		}
		out = append(out, desc)
	}
	return out
}
