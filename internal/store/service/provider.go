package service

import (
	"context"
	"sync"
)

// Wildcard keys the endpoints used for services without their own entry.
const Wildcard = "*"

// EndpointProvider resolves the addresses serving a fully qualified service
// name such as "legend.FirmService". It must be safe for concurrent use.
type EndpointProvider interface {
	Endpoints(ctx context.Context, service string) ([]string, error)
}

// StaticEndpoints serves a fixed service→addresses table. The Wildcard
// entry answers for services that are not listed.
type StaticEndpoints struct {
	mu   sync.RWMutex
	data map[string][]string
}

func NewStaticEndpoints(m map[string][]string) *StaticEndpoints {
	cp := make(map[string][]string, len(m))
	for k, v := range m {
		cp[k] = append([]string(nil), v...)
	}
	return &StaticEndpoints{data: cp}
}

// Set replaces the endpoints of service.
func (s *StaticEndpoints) Set(service string, endpoints ...string) {
	s.mu.Lock()
	s.data[service] = append([]string(nil), endpoints...)
	s.mu.Unlock()
}

func (s *StaticEndpoints) Endpoints(_ context.Context, service string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	addrs := s.data[service]
	if len(addrs) == 0 {
		addrs = s.data[Wildcard]
	}
	if len(addrs) == 0 {
		return nil, ErrNoEndpoints
	}
	return append([]string(nil), addrs...), nil
}
