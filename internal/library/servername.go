package library

import (
	"context"
	"strings"
	"sync"
	"time"
)

// NameResolver yields the display name of the media server. A configured
// name wins; otherwise the name reported by the server is cached for ttl.
type NameResolver struct {
	lib Library
	ttl time.Duration

	mu       sync.Mutex
	static   string
	cached   string
	cachedAt time.Time
	now      func() time.Time
}

func NewNameResolver(lib Library, static string, ttl time.Duration) *NameResolver {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &NameResolver{lib: lib, static: strings.TrimSpace(static), ttl: ttl, now: time.Now}
}

// SetStatic replaces the configured name (hot reload).
func (r *NameResolver) SetStatic(name string) {
	r.mu.Lock()
	r.static = strings.TrimSpace(name)
	r.mu.Unlock()
}

// ServerName never fails: on lookup errors it returns the last known name,
// which may be empty.
func (r *NameResolver) ServerName(ctx context.Context) string {
	r.mu.Lock()
	if r.static != "" {
		s := r.static
		r.mu.Unlock()
		return s
	}
	if r.cached != "" && r.now().Sub(r.cachedAt) < r.ttl {
		s := r.cached
		r.mu.Unlock()
		return s
	}
	last := r.cached
	r.mu.Unlock()

	if r.lib == nil {
		return last
	}
	name, err := r.lib.ServerName(ctx)
	if err != nil || strings.TrimSpace(name) == "" {
		return last
	}

	r.mu.Lock()
	r.cached = name
	r.cachedAt = r.now()
	r.mu.Unlock()
	return name
}
