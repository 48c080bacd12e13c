// Package dns enriches session views with reverse-DNS names, which often
// identify the crawler or cloud infrastructure behind an observed IP.
package dns

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

const (
	defaultTTL      = 15 * time.Minute
	lookupTimeout   = 2 * time.Second
	maxCacheEntries = 4096
)

type entry struct {
	names   []string
	expires time.Time
}

// Resolver performs cached PTR lookups.  Failures are cached too, so a
// dashboard refresh does not hammer the resolver for unresolvable probes.
type Resolver struct {
	mu     sync.RWMutex
	cache  map[string]entry
	ttl    time.Duration
	logger *slog.Logger

	lookupAddr func(ctx context.Context, addr string) ([]string, error)
}

// NewResolver creates a resolver with the default TTL.
func NewResolver(logger *slog.Logger) *Resolver {
	return &Resolver{
		cache:      make(map[string]entry),
		ttl:        defaultTTL,
		logger:     logger,
		lookupAddr: net.DefaultResolver.LookupAddr,
	}
}

// Reverse returns the PTR names for ip, without trailing dots.  Non-IP inputs
// (the honeypot records "unknown" when no client IP is derivable) and failed
// lookups return nil.
func (r *Resolver) Reverse(ctx context.Context, ip string) []string {
	if net.ParseIP(ip) == nil {
		return nil
	}

	r.mu.RLock()
	e, ok := r.cache[ip]
	r.mu.RUnlock()
	if ok && time.Now().Before(e.expires) {
		return e.names
	}

	lctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	names, err := r.lookupAddr(lctx, ip)
	if err != nil {
		r.logger.Debug("reverse dns lookup failed", "ip", ip, "err", err)
		names = nil
	}
	for i := range names {
		names[i] = strings.TrimSuffix(names[i], ".")
	}

	r.mu.Lock()
	if len(r.cache) >= maxCacheEntries {
		r.cache = make(map[string]entry, maxCacheEntries)
	}
	r.cache[ip] = entry{names: names, expires: time.Now().Add(r.ttl)}
	r.mu.Unlock()

	return names
}
