// Package dns caches host lookups for the transport dialer.
//
// Answers are kept for the record TTL when the resolver reports one, bounded
// below by MinTTL, and for DefaultTTL otherwise. Concurrent lookups of the
// same host share one query. A failed refresh falls back to the stale entry.
package dns

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL = 5 * time.Minute
	MinTTL     = 30 * time.Second
)

// Entry represents a cached DNS entry
type Entry struct {
	IPs       []net.IP
	ExpiresAt time.Time
	LookupAt  time.Time
}

// IsExpired checks if the entry has expired at now.
func (e *Entry) IsExpired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Cache provides TTL-aware DNS caching
type Cache struct {
	mu       sync.RWMutex
	entries  map[string]*Entry
	group    singleflight.Group
	resolver Resolver
	logger   *zap.Logger
	now      func() time.Time
}

// NewCache creates a cache in front of resolver. A nil resolver uses the
// system resolver; a nil logger discards.
func NewCache(resolver Resolver, logger *zap.Logger) *Cache {
	if resolver == nil {
		resolver = SystemResolver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		entries:  make(map[string]*Entry),
		resolver: resolver,
		logger:   logger,
		now:      time.Now,
	}
}

// Resolve looks up the IP addresses for a hostname
// Returns cached result if available and not expired
func (c *Cache) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	c.mu.RLock()
	entry, exists := c.entries[host]
	c.mu.RUnlock()
	if exists && !entry.IsExpired(c.now()) {
		return entry.IPs, nil
	}

	v, err, _ := c.group.Do(host, func() (any, error) {
		ips, ttl, err := c.resolver.LookupIP(ctx, host)
		if err != nil {
			return nil, err
		}
		switch {
		case ttl == 0:
			ttl = DefaultTTL
		case ttl < MinTTL:
			ttl = MinTTL
		}
		now := c.now()
		c.mu.Lock()
		c.entries[host] = &Entry{IPs: ips, ExpiresAt: now.Add(ttl), LookupAt: now}
		c.mu.Unlock()
		c.logger.Debug("resolved", zap.String("host", host), zap.Int("addrs", len(ips)), zap.Duration("ttl", ttl))
		return ips, nil
	})
	if err != nil {
		if exists {
			c.logger.Debug("lookup failed, serving stale entry", zap.String("host", host), zap.Error(err))
			return entry.IPs, nil
		}
		return nil, err
	}
	return v.([]net.IP), nil
}

// ResolveIPv6First returns IPv6 addresses first, then IPv4 addresses
// This is for strict IPv6 preference - try all IPv6 before falling back to IPv4
func (c *Cache) ResolveIPv6First(ctx context.Context, host string) (ipv6 []net.IP, ipv4 []net.IP, err error) {
	ips, err := c.Resolve(ctx, host)
	if err != nil {
		return nil, nil, err
	}
	if len(ips) == 0 {
		return nil, nil, &net.DNSError{Err: "no addresses found", Name: host}
	}
	for _, ip := range ips {
		if ip.To4() != nil {
			ipv4 = append(ipv4, ip)
		} else {
			ipv6 = append(ipv6, ip)
		}
	}
	return ipv6, ipv4, nil
}

// Invalidate removes a hostname from the cache
func (c *Cache) Invalidate(host string) {
	c.mu.Lock()
	delete(c.entries, host)
	c.mu.Unlock()
}

// Clear removes all entries from the cache
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*Entry)
	c.mu.Unlock()
}

// Stats returns cache statistics
func (c *Cache) Stats() (total int, expired int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	for _, entry := range c.entries {
		total++
		if entry.IsExpired(now) {
			expired++
		}
	}
	return
}

// Cleanup removes expired entries from the cache
func (c *Cache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for host, entry := range c.entries {
		if entry.IsExpired(now) {
			delete(c.entries, host)
		}
	}
}
