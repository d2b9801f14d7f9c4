package jobs

import (
	"context"
	"fmt"
	"sync"
)

// JobFunc is the executable behind a registered function reference. Output
// written through the capture in ctx (see logcapture.go) ends up in the
// execution's history row.
type JobFunc func(ctx context.Context, args []any, kwargs map[string]any) error

// Registry maps function references ("pkg:symbol" style strings) onto
// executables. It is populated at startup; unknown references fail at job
// creation time, not execution time.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]JobFunc
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]JobFunc)}
}

// Register binds a reference to a function, replacing any previous binding.
func (r *Registry) Register(ref string, fn JobFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[ref] = fn
}

// Resolve looks up a reference.
func (r *Registry) Resolve(ref string) (JobFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFuncNotFound, ref)
	}
	return fn, nil
}

// Refs returns the registered references, for diagnostics.
func (r *Registry) Refs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	refs := make([]string, 0, len(r.funcs))
	for ref := range r.funcs {
		refs = append(refs, ref)
	}
	return refs
}
