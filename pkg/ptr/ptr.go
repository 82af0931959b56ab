// Package ptr looks up and remembers reverse DNS names.
package ptr

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"
)

// PtrManager performs PTR lookups with a small in-memory cache. An empty
// cache entry marks a lookup that is in progress or that found nothing.
type PtrManager struct {
	mu    sync.Mutex
	cache map[string]string

	lookupFunc func(ctx context.Context, ip string) ([]string, error)
	retries    int
	retryDelay time.Duration
}

// NewPtrManager creates a PtrManager backed by the system resolver.
func NewPtrManager() *PtrManager {
	return &PtrManager{
		cache:      make(map[string]string),
		lookupFunc: net.DefaultResolver.LookupAddr,
		retries:    3,
		retryDelay: 100 * time.Millisecond,
	}
}

// RequestPTR looks up ip unless it is cached or already being looked up.
// It blocks until the lookup finishes, ctx ends or retries run out.
func (pm *PtrManager) RequestPTR(ctx context.Context, ip string) {
	pm.mu.Lock()
	if _, exists := pm.cache[ip]; exists {
		pm.mu.Unlock()
		return
	}
	pm.cache[ip] = ""
	pm.mu.Unlock()

	for attempt := range pm.retries {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pm.retryDelay):
			}
		}
		names, err := pm.lookupFunc(ctx, ip)
		if err == nil && len(names) > 0 {
			pm.mu.Lock()
			pm.cache[ip] = normalizePTR(names[0])
			pm.mu.Unlock()
			return
		}
	}
}

// GetPTR returns the cached name for ip and whether one is known.
func (pm *PtrManager) GetPTR(ip string) (string, bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	name := pm.cache[ip]
	return name, name != ""
}

// normalizePTR strips the trailing root dot.
func normalizePTR(name string) string {
	return strings.TrimSuffix(name, ".")
}
