// Package registry implements the Model Registry: a keyed store from
// model_id to an ordered set of ModelEntry, append-only during boot
// and read-only after Seal, mirroring the teacher's discovery/registry
// split between a mutable build phase and an immutable serving phase.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/olla-project/inforoute/internal/core/domain"
	"github.com/olla-project/inforoute/internal/util/pattern"
)

// Registry implements ports.ModelRegistry.
type Registry struct {
	mu      sync.RWMutex
	sealed  bool
	entries map[string][]*domain.ModelEntry
	all     []*domain.ModelEntry
}

func New() *Registry {
	return &Registry{
		entries: make(map[string][]*domain.ModelEntry),
	}
}

// Register adds entry to the registry. It is only valid during the
// boot phase, before Seal is called.
func (r *Registry) Register(entry *domain.ModelEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("registry: cannot register %q after seal", entry.ModelID)
	}
	r.entries[entry.ModelID] = append(r.entries[entry.ModelID], entry)
	r.all = append(r.all, entry)
	return nil
}

// Seal freezes the registry for the remainder of the process
// lifetime; after Seal, Resolve/All are the only valid operations.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
	for modelID, list := range r.entries {
		sorted := make([]*domain.ModelEntry, len(list))
		copy(sorted, list)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })
		r.entries[modelID] = sorted
	}
}

// Resolve returns the ordered candidate entries for modelID that offer
// capability, highest priority first. Many concurrent readers are
// safe; there is no in-place mutation after Seal.
func (r *Registry) Resolve(modelID string, capability domain.Capability) ([]*domain.ModelEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list, ok := r.entries[modelID]
	if !ok {
		list = r.resolveByGlob(modelID)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoEngineAvailable, modelID)
	}

	filtered := make([]*domain.ModelEntry, 0, len(list))
	for _, e := range list {
		if e.HasCapability(capability) {
			filtered = append(filtered, e)
		}
	}
	if len(filtered) == 0 {
		return nil, fmt.Errorf("%w: %s has no entry supporting %s", domain.ErrNoEngineAvailable, modelID, capability)
	}
	return filtered, nil
}

// resolveByGlob falls back to matching modelID against any registered
// model_id containing a "*" (e.g. an upstream declaring "llama-3*" to
// serve every llama-3 variant without enumerating each one), used only
// when no exact entry exists. Matches from multiple patterns are
// merged and re-sorted by priority, since Seal only orders entries
// within a single exact modelID group.
func (r *Registry) resolveByGlob(modelID string) []*domain.ModelEntry {
	var matched []*domain.ModelEntry
	for registered, list := range r.entries {
		if !strings.Contains(registered, "*") {
			continue
		}
		if pattern.MatchesGlob(modelID, registered) {
			matched = append(matched, list...)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Priority > matched[j].Priority })
	return matched
}

func (r *Registry) All() []*domain.ModelEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.ModelEntry, len(r.all))
	copy(out, r.all)
	return out
}
