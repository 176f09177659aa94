package service

import (
	"fmt"
	"sort"
	"strings"
)

// Registry maps provider names to adapters. Populated once at startup and
// read-only afterwards, so lookups need no locking.
type Registry struct {
	adapters map[string]Adapter
	sealed   bool
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{}}
}

// Register adds an adapter under its descriptor name. Registration after Seal
// or with a duplicate name is a programming error.
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return fmt.Errorf("registry: nil adapter")
	}
	if r.sealed {
		return fmt.Errorf("registry: sealed")
	}
	name := strings.ToLower(strings.TrimSpace(adapter.Descriptor().Name))
	if name == "" {
		return fmt.Errorf("registry: adapter with empty name")
	}
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("registry: duplicate adapter %q", name)
	}
	r.adapters[name] = adapter
	return nil
}

// Seal marks startup registration as complete.
func (r *Registry) Seal() {
	r.sealed = true
}

// Resolve returns the adapter for a provider name.
func (r *Registry) Resolve(name string) (Adapter, error) {
	adapter, ok := r.adapters[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, Errorf(name, KindConfiguration, "unknown provider %q", name)
	}
	return adapter, nil
}

// Descriptors returns all registered descriptors sorted by name.
func (r *Registry) Descriptors() []Descriptor {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Descriptor, 0, len(names))
	for _, name := range names {
		out = append(out, r.adapters[name].Descriptor())
	}
	return out
}

// ValidateArea checks that both sides of an Area reference declared kinds with
// valid parameters. Returns a configuration error otherwise.
func (r *Registry) ValidateArea(actionProvider, actionKind string, actionParams map[string]any,
	reactionProvider, reactionKind string, reactionParams map[string]any) error {

	actionAdapter, errResolve := r.Resolve(actionProvider)
	if errResolve != nil {
		return errResolve
	}
	triggerSpec, ok := actionAdapter.Descriptor().TriggerSpec(actionKind)
	if !ok {
		return Errorf(actionProvider, KindConfiguration, "provider %q has no trigger %q", actionProvider, actionKind)
	}
	if errParams := triggerSpec.ValidateParams(actionParams); errParams != nil {
		return Errorf(actionProvider, KindConfiguration, "trigger %q: %v", actionKind, errParams)
	}

	reactionAdapter, errResolve := r.Resolve(reactionProvider)
	if errResolve != nil {
		return errResolve
	}
	reactionSpec, ok := reactionAdapter.Descriptor().ReactionSpec(reactionKind)
	if !ok {
		return Errorf(reactionProvider, KindConfiguration, "provider %q has no reaction %q", reactionProvider, reactionKind)
	}
	if errParams := reactionSpec.ValidateParams(reactionParams); errParams != nil {
		return Errorf(reactionProvider, KindConfiguration, "reaction %q: %v", reactionKind, errParams)
	}
	return nil
}
