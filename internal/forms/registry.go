package forms

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrNothingToDo is returned when batch resolution is invoked with neither
// app labels nor model names. That is a configuration error, not an empty
// result.
var ErrNothingToDo = errors.New("nothing to do: no app labels or model names given")

// Registry maps record-type identifiers (label_lower form,
// "app_label.modelname") to the form factory registered as their canonical
// editor. Consuming modules build their own registries at startup and add
// them to the process-wide site list.
type Registry struct {
	name string

	mu       sync.RWMutex
	bindings map[string]Binding
}

// NewRegistry creates an empty named registry.
func NewRegistry(name string) *Registry {
	return &Registry{
		name:     name,
		bindings: make(map[string]Binding),
	}
}

// Name returns the registry's name.
func (r *Registry) Name() string {
	return r.name
}

// Register binds a factory to a record type. Re-registering a type replaces
// the previous binding, mirroring later registries shadowing earlier ones.
func (r *Registry) Register(recordType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[recordType] = Binding{RecordType: recordType, Factory: factory}
}

// Binding returns the binding for a record type, if registered.
func (r *Registry) Binding(recordType string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	binding, ok := r.bindings[recordType]
	return binding, ok
}

// Bindings returns a copy of the registry's bindings.
func (r *Registry) Bindings() map[string]Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	copied := make(map[string]Binding, len(r.bindings))
	for k, v := range r.bindings {
		copied[k] = v
	}
	return copied
}

// Default is the process-wide registry most consumers register into.
var Default = NewRegistry("default")

var (
	sitesMu sync.Mutex
	sites   = []*Registry{Default}

	aggregateOnce sync.Once
	aggregated    map[string]Binding
)

// AddSite adds a registry to the process-wide site list. Sites added after
// the first resolve are not seen until process restart: the aggregated view
// is memoized for the process lifetime, matching the registry's startup-only
// population model.
func AddSite(registry *Registry) {
	sitesMu.Lock()
	defer sitesMu.Unlock()
	sites = append(sites, registry)
}

func allBindings() map[string]Binding {
	aggregateOnce.Do(func() {
		sitesMu.Lock()
		defer sitesMu.Unlock()
		aggregated = aggregateFrom(sites)
	})
	return aggregated
}

func aggregateFrom(registries []*Registry) map[string]Binding {
	merged := make(map[string]Binding)
	for _, registry := range registries {
		for recordType, binding := range registry.Bindings() {
			merged[recordType] = binding
		}
	}
	return merged
}

// FactoryFor returns the canonical binding for a record type across all
// registered sites.
func FactoryFor(recordType string) (Binding, bool) {
	binding, ok := allBindings()[recordType]
	return binding, ok
}

// Resolve selects bindings for batch invocation: by app label (every
// registered type under the label) or, failing that, by explicit record-type
// name. Types with no registered form are skipped. Neither selector is a
// configuration error.
func Resolve(appLabels, modelNames []string) ([]Binding, error) {
	if len(appLabels) == 0 && len(modelNames) == 0 {
		return nil, ErrNothingToDo
	}

	bindings := allBindings()

	var selected []Binding
	switch {
	case len(appLabels) > 0:
		wanted := make(map[string]struct{}, len(appLabels))
		for _, label := range appLabels {
			wanted[label] = struct{}{}
		}
		for recordType, binding := range bindings {
			app, _, found := strings.Cut(recordType, ".")
			if !found {
				continue
			}
			if _, ok := wanted[app]; ok {
				selected = append(selected, binding)
			}
		}
	case len(modelNames) > 0:
		for _, name := range modelNames {
			if binding, ok := bindings[name]; ok {
				selected = append(selected, binding)
			}
		}
	}

	sort.Slice(selected, func(i, j int) bool {
		return selected[i].RecordType < selected[j].RecordType
	})
	return selected, nil
}
