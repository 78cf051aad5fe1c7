package model

import (
	"sort"
	"sync"
)

type key struct {
	name    string
	version string
}

// Registry holds every model definition version seen since startup.
// Old versions stay resolvable so queued tasks survive definition edits.
type Registry struct {
	mu     sync.RWMutex
	models map[key]*Definition
	latest map[string]*Definition
}

func NewRegistry() *Registry {
	return &Registry{
		models: make(map[key]*Definition),
		latest: make(map[string]*Definition),
	}
}

// Add registers a definition version. A (name, version) pair already
// present is left untouched and reported as false; a new pair also
// becomes the latest version of its model. Abstract base fragments are
// never registered.
func (r *Registry) Add(def *Definition) bool {
	if def.Abstract {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{def.ShortName, def.Version}
	if _, ok := r.models[k]; ok {
		return false
	}
	r.models[k] = def
	r.latest[def.ShortName] = def
	return true
}

// Get returns the definition for an exact (name, version) pair.
func (r *Registry) Get(name, version string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.models[key{name, version}]
	return def, ok
}

// Latest returns the most recently loaded version of a model.
func (r *Registry) Latest(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.latest[name]
	return def, ok
}

// Has reports whether an exact (name, version) pair is registered.
func (r *Registry) Has(name, version string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.models[key{name, version}]
	return ok
}

// Names returns the sorted short names of all known models.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.latest))
	for name := range r.latest {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LatestAll returns the latest definition of every model, sorted by name.
func (r *Registry) LatestAll() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*Definition, 0, len(r.latest))
	for _, def := range r.latest {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ShortName < defs[j].ShortName })
	return defs
}

// Versions returns every registered (name, version) pair, sorted by
// name then version. Workers advertise this list when polling for work.
func (r *Registry) Versions() [][2]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pairs := make([][2]string, 0, len(r.models))
	for k := range r.models {
		pairs = append(pairs, [2]string{k.name, k.version})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})
	return pairs
}

// Len returns the number of registered (name, version) pairs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}
