package destination

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: map[string]Adapter{}}
	for _, a := range adapters {
		_ = r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Adapter) error {
	id := strings.ToLower(strings.TrimSpace(a.Metadata().ID))
	if id == "" {
		return fmt.Errorf("destination: adapter without id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[id]; ok {
		return fmt.Errorf("destination: %q already registered", id)
	}
	r.adapters[id] = a
	return nil
}

func (r *Registry) Get(id string) (Adapter, error) {
	r.mu.RLock()
	a, ok := r.adapters[strings.ToLower(strings.TrimSpace(id))]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDestination, id)
	}
	return a, nil
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (r *Registry) Metadata() []Metadata {
	ids := r.IDs()
	out := make([]Metadata, 0, len(ids))
	for _, id := range ids {
		a, err := r.Get(id)
		if err == nil {
			out = append(out, a.Metadata())
		}
	}
	return out
}

// UsernameShortcuts lists every adapter's username shortcuts in id order.
func (r *Registry) UsernameShortcuts() []UsernameShortcut {
	var out []UsernameShortcut
	for _, m := range r.Metadata() {
		out = append(out, m.UsernameShortcuts...)
	}
	return out
}
