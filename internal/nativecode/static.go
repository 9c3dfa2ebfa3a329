package nativecode

import (
	"fmt"
	"sync"
)

// Static is a Loader over units registered by the host process, typically
// Go implementations of units plans refer to by name.
type Static struct {
	mu    sync.RWMutex
	units map[string]*Unit
}

// NewStatic returns a loader holding units.
func NewStatic(units ...*Unit) *Static {
	s := &Static{units: make(map[string]*Unit, len(units))}
	for _, u := range units {
		s.units[u.Name()] = u
	}
	return s
}

// Register adds or replaces a unit.
func (s *Static) Register(u *Unit) {
	s.mu.Lock()
	s.units[u.Name()] = u
	s.mu.Unlock()
}

func (s *Static) Load(name string) (*Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.units[name]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
}
