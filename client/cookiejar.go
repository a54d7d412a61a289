package client

import (
	"iter"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"
)

// CookieJar is a domain/path-scoped cookie store. All mutations go through
// one mutex, so concurrent responses commit in arrival order.
type CookieJar struct {
	mu      sync.RWMutex
	cookies map[string]map[string]map[string]*Cookie // domain -> path -> name
	seq     uint64
	now     func() time.Time
}

// NewCookieJar creates a new empty cookie jar
func NewCookieJar() *CookieJar {
	return &CookieJar{
		cookies: make(map[string]map[string]map[string]*Cookie),
		now:     time.Now,
	}
}

// upsert stores c keyed by (domain, path, name). An existing record keeps its
// insertion position. An expired c removes the record instead.
// Caller holds j.mu.
func (j *CookieJar) upsert(c *Cookie) {
	paths := j.cookies[c.Domain]
	if c.IsExpired(j.now()) {
		if paths != nil {
			if names := paths[c.Path]; names != nil {
				delete(names, c.Name)
				j.prune(c.Domain, c.Path)
			}
		}
		return
	}
	if paths == nil {
		paths = make(map[string]map[string]*Cookie)
		j.cookies[c.Domain] = paths
	}
	names := paths[c.Path]
	if names == nil {
		names = make(map[string]*Cookie)
		paths[c.Path] = names
	}
	if old, ok := names[c.Name]; ok {
		c.seq = old.seq
	} else {
		j.seq++
		c.seq = j.seq
	}
	names[c.Name] = c
}

// prune drops empty maps. Caller holds j.mu.
func (j *CookieJar) prune(domain, path string) {
	paths := j.cookies[domain]
	if len(paths[path]) == 0 {
		delete(paths, path)
	}
	if len(paths) == 0 {
		delete(j.cookies, domain)
	}
}

// sorted returns every record in insertion order. Caller holds j.mu.
func (j *CookieJar) sorted(keep func(*Cookie) bool) []*Cookie {
	var out []*Cookie
	for _, paths := range j.cookies {
		for _, names := range paths {
			for _, c := range names {
				if keep(c) {
					out = append(out, c)
				}
			}
		}
	}
	slices.SortFunc(out, func(a, b *Cookie) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	return out
}

// Set stores name=value in the wildcard context (WildcardDomain, "/").
func (j *CookieJar) Set(name, value string) {
	j.SetScoped(name, value, "", "")
}

// SetScoped stores name=value under domain and path. Empty arguments select
// the wildcard context.
func (j *CookieJar) SetScoped(name, value, domain, path string) {
	if domain == "" {
		domain = WildcardDomain
	}
	if path == "" {
		path = "/"
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.upsert(&Cookie{
		Name:   name,
		Value:  value,
		Domain: strings.ToLower(strings.TrimPrefix(domain, ".")),
		Path:   path,
	})
}

// Update stores every pair under domain and path, in name order.
func (j *CookieJar) Update(cookies map[string]string, domain, path string) {
	for _, name := range sortedKeys(cookies) {
		j.SetScoped(name, cookies[name], domain, path)
	}
}

// Get returns the value of the cookie called name. A record in the wildcard
// context wins; otherwise the oldest matching record is used.
func (j *CookieJar) Get(name string) (string, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	now := j.now()
	if c, ok := j.cookies[WildcardDomain]["/"][name]; ok && !c.IsExpired(now) {
		return c.Value, nil
	}
	found := j.sorted(func(c *Cookie) bool { return c.Name == name && !c.IsExpired(now) })
	if len(found) == 0 {
		return "", ErrCookieNotFound
	}
	return found[0].Value, nil
}

// Delete removes every record called name.
func (j *CookieJar) Delete(name string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	removed := false
	for domain, paths := range j.cookies {
		for path, names := range paths {
			if _, ok := names[name]; ok {
				delete(names, name)
				removed = true
				j.prune(domain, path)
			}
		}
	}
	if !removed {
		return ErrCookieNotFound
	}
	return nil
}

// Clear removes all cookies from the jar
func (j *CookieJar) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cookies = make(map[string]map[string]map[string]*Cookie)
}

// Len returns the number of live records.
func (j *CookieJar) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	now := j.now()
	return len(j.sorted(func(c *Cookie) bool { return !c.IsExpired(now) }))
}

// All iterates (name, value) pairs in insertion order over a snapshot taken
// when iteration starts.
func (j *CookieJar) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for _, c := range j.Records() {
			if !yield(c.Name, c.Value) {
				return
			}
		}
	}
}

// Records returns copies of the live records in insertion order.
func (j *CookieJar) Records() []Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	now := j.now()
	live := j.sorted(func(c *Cookie) bool { return !c.IsExpired(now) })
	out := make([]Cookie, len(live))
	for i, c := range live {
		out[i] = *c
	}
	return out
}

// SetCookies stores each pair under the URL's host and default path. No
// other attributes are inferred.
func (j *CookieJar) SetCookies(u *url.URL, cookies map[string]string) {
	host := canonicalHost(u)
	path := defaultPath(u.Path)

	j.mu.Lock()
	defer j.mu.Unlock()
	for _, name := range sortedKeys(cookies) {
		j.upsert(&Cookie{Name: name, Value: cookies[name], Domain: host, Path: path})
	}
}

// GetCookies returns the cookies to send for u in insertion order. When
// several records share a name, the one with the longest path supplies the
// value. Expired records found on the way are purged.
func (j *CookieJar) GetCookies(u *url.URL) []CookiePair {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	var expired []*Cookie
	matched := j.sorted(func(c *Cookie) bool {
		if c.IsExpired(now) {
			expired = append(expired, c)
			return false
		}
		return c.Matches(u)
	})
	for _, c := range expired {
		delete(j.cookies[c.Domain][c.Path], c.Name)
		j.prune(c.Domain, c.Path)
	}

	out := make([]CookiePair, 0, len(matched))
	pathLen := make(map[string]int, len(matched))
	index := make(map[string]int, len(matched))
	for _, c := range matched {
		if i, ok := index[c.Name]; ok {
			if len(c.Path) > pathLen[c.Name] {
				out[i].Value = c.Value
				pathLen[c.Name] = len(c.Path)
			}
			continue
		}
		index[c.Name] = len(out)
		pathLen[c.Name] = len(c.Path)
		out = append(out, CookiePair{Name: c.Name, Value: c.Value})
	}
	return out
}

// SetFromResponse stores the Set-Cookie values received for u. Malformed
// values are skipped and returned as *CookieParseError; the rest are stored.
func (j *CookieJar) SetFromResponse(u *url.URL, setCookies []string) []error {
	if len(setCookies) == 0 {
		return nil
	}
	now := j.now()
	var errs []error
	parsed := make([]*Cookie, 0, len(setCookies))
	for _, header := range setCookies {
		c, err := ParseSetCookie(header, u, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		parsed = append(parsed, c)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range parsed {
		j.upsert(c)
	}
	return errs
}
