package carrier

import (
	"sort"
	"sync"
)

// Registry maps a service id to its single live Backend.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	backends map[uint16]*Backend
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[uint16]*Backend),
	}
}

// Lookup returns the Backend registered for service, if any.
func (reg *Registry) Lookup(service uint16) (be *Backend, found bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	be, found = reg.backends[service]
	return
}

// Register makes be the Backend for service, replacing any previous one.
func (reg *Registry) Register(service uint16, be *Backend) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.backends[service] = be
}

// Unregister removes the entry for service if it still refers to be.
// It returns true if an entry was removed. A nil be removes unconditionally.
func (reg *Registry) Unregister(service uint16, be *Backend) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if cur, ok := reg.backends[service]; ok && (be == nil || cur == be) {
		delete(reg.backends, service)
		return true
	}
	return false
}

// Services returns the registered service ids in ascending order.
func (reg *Registry) Services() []uint16 {
	reg.mu.RLock()
	services := make([]uint16, 0, len(reg.backends))
	for service := range reg.backends {
		services = append(services, service)
	}
	reg.mu.RUnlock()
	sort.Slice(services, func(i, j int) bool { return services[i] < services[j] })
	return services
}

// Len returns the number of registered services.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.backends)
}
