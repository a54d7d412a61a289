package pool

import (
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("connection pool is closed")
)

// Key identifies the connections that may serve a request. Connections made
// with different profiles or through different routes are never shared.
type Key struct {
	Scheme  string // "http" or "https"
	Addr    string // host:port
	Profile string // fingerprint profile id
	Route   string // proxy URL, or "" for direct
}

func (k Key) String() string {
	s := k.Scheme + "://" + k.Addr + " [" + k.Profile + "]"
	if k.Route != "" {
		s += " via " + k.Route
	}
	return s
}

// Host returns the host part of Addr.
func (k Key) Host() string {
	host, _, err := net.SplitHostPort(k.Addr)
	if err != nil {
		return k.Addr
	}
	return host
}

// Conn is a pooled connection. HTTP/1.1 connections serve one request at a
// time and are handed out exclusively; multiplexed (HTTP/2) connections stay
// in the pool while in use and are handed out to every caller.
type Conn interface {
	Close() error
	// Healthy reports whether the connection can carry another request.
	Healthy() bool
	Multiplexed() bool
}

// Config bounds what the pool keeps.
type Config struct {
	// MaxIdlePerHost caps the idle connections kept per Addr, summed over
	// every profile and route. Connections released beyond the cap are
	// closed. Zero means no idle connections are kept.
	MaxIdlePerHost int
	// IdleTimeout evicts connections unused for longer. Zero disables
	// eviction.
	IdleTimeout time.Duration
	// MaxConnAge evicts connections older than this. Zero disables it.
	MaxConnAge time.Duration
	// CleanupInterval is the eviction sweep period. Default: half of
	// IdleTimeout, at most 30s.
	CleanupInterval time.Duration
}

// DefaultConfig returns the pool defaults.
func DefaultConfig() Config {
	return Config{
		MaxIdlePerHost: 6,
		IdleTimeout:    90 * time.Second,
		MaxConnAge:     5 * time.Minute,
	}
}

type entry struct {
	conn      Conn
	createdAt time.Time
	lastUsed  time.Time
	uses      int64
}

// HostPool manages connections to a single Key
type HostPool struct {
	key     Key
	mu      sync.Mutex
	entries []*entry // most recently used last
	// out holds HTTP/1.1 connections handed out by Acquire, so their age
	// and use count survive the round trip.
	out map[Conn]*entry
}

// Manager manages connection pools for multiple hosts
type Manager struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	pools  map[Key]*HostPool
	closed bool

	stopCleanup chan struct{}
	done        chan struct{}
}

// NewManager creates a pool and starts its eviction loop. A nil logger
// discards.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
		pools:       make(map[Key]*HostPool),
		stopCleanup: make(chan struct{}),
		done:        make(chan struct{}),
	}

	interval := cfg.CleanupInterval
	if interval <= 0 && cfg.IdleTimeout > 0 {
		interval = min(cfg.IdleTimeout/2, 30*time.Second)
	}
	if interval > 0 {
		go m.cleanupLoop(interval)
	} else {
		close(m.done)
	}
	return m
}

// Acquire returns a pooled connection for key, or nil when none is usable.
// An HTTP/1.1 connection is removed from the pool until Release.
func (m *Manager) Acquire(key Key) (Conn, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p := m.pools[key]
	m.mu.Unlock()
	if p == nil {
		return nil, nil
	}

	now := m.now()
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := len(p.entries) - 1; i >= 0; i-- {
		e := p.entries[i]
		if !m.usable(e, now) {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			m.closeEntry(key, e, "stale")
			continue
		}
		e.lastUsed = now
		e.uses++
		if !e.conn.Multiplexed() {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			if p.out == nil {
				p.out = make(map[Conn]*entry)
			}
			p.out[e.conn] = e
		}
		m.logger.Debug("connection reused", zap.Stringer("key", key), zap.Int64("uses", e.uses))
		return e.conn, nil
	}
	return nil, nil
}

// Release returns conn to the pool. Unhealthy connections are closed, and
// releases beyond MaxIdlePerHost close the oldest idle connections of other
// keys for the same Addr, or conn itself when its own key is full. Releasing a multiplexed connection that
// is already pooled only refreshes its idle clock.
func (m *Manager) Release(key Key, conn Conn) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return
	}
	p := m.pools[key]
	if p == nil {
		p = &HostPool{key: key}
		m.pools[key] = p
	}
	m.mu.Unlock()

	if m.put(p, conn) {
		m.trimHost(key)
	}
}

// put pools conn in p and reports whether it was added as a new idle entry.
func (m *Manager) put(p *HostPool, conn Conn) bool {
	key := p.key
	now := m.now()
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, e := range p.entries {
		if e.conn == conn {
			if !conn.Healthy() {
				p.entries = append(p.entries[:i], p.entries[i+1:]...)
				m.closeEntry(key, e, "unhealthy")
				return false
			}
			e.lastUsed = now
			return false
		}
	}

	e, ok := p.out[conn]
	if ok {
		delete(p.out, conn)
		e.lastUsed = now
	} else {
		e = &entry{conn: conn, createdAt: now, lastUsed: now}
	}
	if !m.usable(e, now) {
		m.logger.Debug("connection closed on release", zap.Stringer("key", key), zap.String("reason", "stale"))
		conn.Close()
		return false
	}
	if len(p.entries) >= m.cfg.MaxIdlePerHost {
		m.logger.Debug("connection closed on release", zap.Stringer("key", key), zap.String("reason", "max idle per host"))
		conn.Close()
		return false
	}
	p.entries = append(p.entries, e)
	return true
}

// trimHost enforces MaxIdlePerHost across every Key dialing keep.Addr, so
// switching profiles or routes does not multiply the idle budget. Idle
// HTTP/1.1 connections of the other keys go first, least recently used
// first. Multiplexed connections may still carry streams and are left to
// the idle timeout. Pool locks are taken one at a time.
func (m *Manager) trimHost(keep Key) {
	m.mu.Lock()
	var others []*HostPool
	for k, p := range m.pools {
		if k != keep && k.Addr == keep.Addr {
			others = append(others, p)
		}
	}
	own := m.pools[keep]
	m.mu.Unlock()
	if len(others) == 0 || own == nil {
		return
	}

	total := own.idle()
	for _, p := range others {
		total += p.idle()
	}
	for _, p := range others {
		if total <= m.cfg.MaxIdlePerHost {
			return
		}
		p.mu.Lock()
		kept := p.entries[:0]
		for _, e := range p.entries {
			if total > m.cfg.MaxIdlePerHost && !e.conn.Multiplexed() {
				m.closeEntry(p.key, e, "max idle per host")
				total--
				continue
			}
			kept = append(kept, e)
		}
		clear(p.entries[len(kept):])
		p.entries = kept
		p.mu.Unlock()
	}
}

func (p *HostPool) idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Forget drops conn from the pool without closing it.
func (m *Manager) Forget(key Key, conn Conn) {
	m.mu.Lock()
	p := m.pools[key]
	m.mu.Unlock()
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.out, conn)
	for i, e := range p.entries {
		if e.conn == conn {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			return
		}
	}
}

func (m *Manager) usable(e *entry, now time.Time) bool {
	if !e.conn.Healthy() {
		return false
	}
	if m.cfg.IdleTimeout > 0 && now.Sub(e.lastUsed) > m.cfg.IdleTimeout {
		return false
	}
	if m.cfg.MaxConnAge > 0 && now.Sub(e.createdAt) > m.cfg.MaxConnAge {
		return false
	}
	return true
}

func (m *Manager) closeEntry(key Key, e *entry, reason string) {
	m.logger.Debug("connection evicted", zap.Stringer("key", key), zap.String("reason", reason))
	go e.conn.Close()
}

// cleanupLoop periodically cleans up idle connections
func (m *Manager) cleanupLoop(interval time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCleanup:
			return
		case <-ticker.C:
			m.CloseIdle()
		}
	}
}

// CloseIdle closes connections past their idle timeout or age, and drops
// empty host pools.
func (m *Manager) CloseIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, p := range m.pools {
		p.mu.Lock()
		active := p.entries[:0]
		for _, e := range p.entries {
			if m.usable(e, now) {
				active = append(active, e)
			} else {
				m.closeEntry(key, e, "idle timeout")
			}
		}
		clear(p.entries[len(active):])
		p.entries = active
		empty := len(active) == 0
		p.mu.Unlock()
		if empty {
			delete(m.pools, key)
		}
	}
}

// Close shuts down the manager and all pools
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.stopCleanup)
	pools := m.pools
	m.pools = nil
	m.mu.Unlock()

	for _, p := range pools {
		p.mu.Lock()
		for _, e := range p.entries {
			e.conn.Close()
		}
		p.entries = nil
		p.mu.Unlock()
	}
	<-m.done
}

// HostStats describes one host pool.
type HostStats struct {
	Conns int
	Uses  int64
}

// Stats returns overall manager statistics
func (m *Manager) Stats() map[Key]HostStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := make(map[Key]HostStats, len(m.pools))
	for key, p := range m.pools {
		p.mu.Lock()
		var s HostStats
		for _, e := range p.entries {
			s.Conns++
			s.Uses += e.uses
		}
		p.mu.Unlock()
		stats[key] = s
	}
	return stats
}
