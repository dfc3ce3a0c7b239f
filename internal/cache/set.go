package cache

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MarcoPoloResearchLab/skyportal/client/internal/resource"
)

// ErrDuplicateCache indicates two caches registered under the same name.
var ErrDuplicateCache = errors.New("cache: duplicate name")

// Entry is the kind-agnostic surface of a cache exposed to notification handlers.
type Entry interface {
	Name() string
	Kind() resource.Kind
	LoadedIdentity() (resource.Identity, bool)
	LastQuery() (resource.Query, bool)
}

// Set indexes every cache of the process by name and serves as the state
// reader handed to notification handlers.
type Set struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewSet constructs an empty set.
func NewSet() *Set {
	return &Set{entries: make(map[string]Entry)}
}

// Add registers entry.
func (s *Set) Add(entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[entry.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCache, entry.Name())
	}
	s.entries[entry.Name()] = entry
	return nil
}

// Names lists the registered cache names in sorted order.
func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadedIdentity implements dispatch.State.
func (s *Set) LoadedIdentity(name string) (resource.Identity, bool) {
	entry, ok := s.lookup(name)
	if !ok {
		return resource.Identity{}, false
	}
	return entry.LoadedIdentity()
}

// LastQuery implements dispatch.State.
func (s *Set) LastQuery(name string) (resource.Query, bool) {
	entry, ok := s.lookup(name)
	if !ok {
		return resource.Query{}, false
	}
	return entry.LastQuery()
}

func (s *Set) lookup(name string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[name]
	return entry, ok
}
