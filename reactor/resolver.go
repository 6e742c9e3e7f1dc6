// File: reactor/resolver.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// DNS resolution for sock streams. Literal addresses never hit the network;
// concurrent lookups of one host share a single query.

package reactor

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Resolver resolves a host name into addresses.
type Resolver interface {
	Resolve(ctx context.Context, host string) ([]net.IP, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, host string) ([]net.IP, error)

func (f ResolverFunc) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	return f(ctx, host)
}

type defaultResolver struct{}

// NewDefaultResolver resolves through net.DefaultResolver.
func NewDefaultResolver() Resolver { return defaultResolver{} }

func (defaultResolver) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, len(addrs))
	for i, ia := range addrs {
		ips[i] = ia.IP
	}
	return ips, nil
}

type cacheEntry struct {
	ips       []net.IP
	expiredAt time.Time
}

// CacheResolver memoizes results for a fixed lifetime.
type CacheResolver struct {
	next     Resolver
	lifetime time.Duration
	group    singleflight.Group

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewCacheResolver wraps next. A zero lifetime still de-duplicates
// concurrent lookups but keeps nothing.
func NewCacheResolver(next Resolver, lifetime time.Duration) *CacheResolver {
	if next == nil {
		next = NewDefaultResolver()
	}
	return &CacheResolver{next: next, lifetime: lifetime, cache: make(map[string]cacheEntry)}
}

// Resolve implements Resolver.
func (r *CacheResolver) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	if r.lifetime > 0 {
		r.mu.RLock()
		e, ok := r.cache[host]
		r.mu.RUnlock()
		if ok && time.Now().Before(e.expiredAt) {
			return e.ips, nil
		}
	}
	v, err, _ := r.group.Do(host, func() (any, error) {
		ips, err := r.next.Resolve(ctx, host)
		if err != nil {
			return nil, err
		}
		if r.lifetime > 0 && len(ips) > 0 {
			r.mu.Lock()
			r.cache[host] = cacheEntry{ips: ips, expiredAt: time.Now().Add(r.lifetime)}
			r.mu.Unlock()
		}
		return ips, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]net.IP), nil
}

// Forget drops a cached host, e.g. after a connect failure.
func (r *CacheResolver) Forget(host string) {
	r.mu.Lock()
	delete(r.cache, host)
	r.mu.Unlock()
}
