package transport

import (
	"sync"
	"time"

	tls "github.com/refraction-networking/utls"
)

// TLSSessionMaxAge bounds how long a cached session is offered for resumption.
const TLSSessionMaxAge = 24 * time.Hour

// SessionCache stores TLS sessions for resumption. Sessions are scoped by
// profile and route, so a resumed handshake never mixes identities.
type SessionCache struct {
	mu       sync.RWMutex
	sessions map[string]*cachedSession
	now      func() time.Time
}

type cachedSession struct {
	state     *tls.ClientSessionState
	createdAt time.Time
}

// NewSessionCache creates an empty cache.
func NewSessionCache() *SessionCache {
	return &SessionCache{
		sessions: make(map[string]*cachedSession),
		now:      time.Now,
	}
}

// Scoped returns a tls.ClientSessionCache view whose keys are prefixed with
// scope.
func (c *SessionCache) Scoped(scope string) tls.ClientSessionCache {
	return scopedSessionCache{c: c, prefix: scope + "|"}
}

type scopedSessionCache struct {
	c      *SessionCache
	prefix string
}

func (s scopedSessionCache) Get(key string) (*tls.ClientSessionState, bool) {
	return s.c.Get(s.prefix + key)
}

func (s scopedSessionCache) Put(key string, cs *tls.ClientSessionState) {
	s.c.Put(s.prefix+key, cs)
}

// Get implements tls.ClientSessionCache
func (c *SessionCache) Get(sessionKey string) (*tls.ClientSessionState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, ok := c.sessions[sessionKey]
	if !ok || c.now().Sub(cached.createdAt) > TLSSessionMaxAge {
		return nil, false
	}
	return cached.state, true
}

// Put implements tls.ClientSessionCache. A nil state evicts the key.
func (c *SessionCache) Put(sessionKey string, cs *tls.ClientSessionState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cs == nil {
		delete(c.sessions, sessionKey)
		return
	}
	c.sessions[sessionKey] = &cachedSession{
		state:     cs,
		createdAt: c.now(),
	}
}

// Clear removes all cached sessions
func (c *SessionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = make(map[string]*cachedSession)
}

// Count returns the number of cached sessions
func (c *SessionCache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}
