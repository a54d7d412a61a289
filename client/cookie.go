package client

import (
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"
	"golang.org/x/net/publicsuffix"
)

// WildcardDomain is the domain of cookies set without a URL. Records in this
// context are sent to every host.
const WildcardDomain = "0.0.0.0"

// Cookie represents an HTTP cookie
type Cookie struct {
	Name     string
	Value    string
	Domain   string // lowercase, no leading dot
	Path     string
	Expires  time.Time // zero for session cookies
	Secure   bool
	HttpOnly bool
	SameSite string // "Strict", "Lax", "None"
	// HostOnly cookies match Domain exactly instead of by suffix.
	HostOnly bool
	Raw      string // original Set-Cookie header

	expired bool // Max-Age <= 0 at parse time
	seq     uint64
}

// IsExpired reports whether the cookie must no longer be sent at now.
func (c *Cookie) IsExpired(now time.Time) bool {
	if c.expired {
		return true
	}
	return !c.Expires.IsZero() && !now.Before(c.Expires)
}

// String returns the cookie in "name=value" format for the Cookie header
func (c *Cookie) String() string {
	return c.Name + "=" + c.Value
}

// Matches returns true if this cookie should be sent for the given URL
func (c *Cookie) Matches(u *url.URL) bool {
	if !c.matchesDomain(canonicalHost(u)) {
		return false
	}
	if !c.matchesPath(u.Path) {
		return false
	}
	if c.Secure && u.Scheme != "https" {
		return false
	}
	return true
}

func (c *Cookie) matchesDomain(host string) bool {
	if c.Domain == WildcardDomain {
		return true
	}
	if host == c.Domain {
		return true
	}
	if c.HostOnly {
		return false
	}
	return strings.HasSuffix(host, "."+c.Domain)
}

func (c *Cookie) matchesPath(path string) bool {
	if c.Path == "" || c.Path == "/" {
		return true
	}
	if path == "" {
		path = "/"
	}

	// Path must be a prefix
	if strings.HasPrefix(path, c.Path) {
		// Exact match, cookie path ends in /, or followed by /
		if len(path) == len(c.Path) || c.Path[len(c.Path)-1] == '/' || path[len(c.Path)] == '/' {
			return true
		}
	}

	return false
}

// canonicalHost returns the lowercase host without port.
func canonicalHost(u *url.URL) string {
	return strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
}

// defaultPath implements the RFC 6265 default-path algorithm.
func defaultPath(p string) string {
	if p == "" || p[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(p, "/")
	if i == 0 {
		return "/"
	}
	return p[:i]
}

// ParseSetCookie parses a Set-Cookie header value received from requestURL.
// The returned error is always a *CookieParseError.
func ParseSetCookie(header string, requestURL *url.URL, now time.Time) (*Cookie, error) {
	fail := func(reason string) (*Cookie, error) {
		return nil, &CookieParseError{Header: header, Reason: reason}
	}

	parts := strings.Split(header, ";")
	nameValue := strings.TrimSpace(parts[0])
	eqIdx := strings.Index(nameValue, "=")
	if eqIdx == -1 {
		return fail("missing '=' in name=value pair")
	}

	host := canonicalHost(requestURL)
	cookie := &Cookie{
		Name:     strings.TrimSpace(nameValue[:eqIdx]),
		Value:    strings.Trim(strings.TrimSpace(nameValue[eqIdx+1:]), `"`),
		Domain:   host,
		HostOnly: true,
		Raw:      header,
	}
	if cookie.Name == "" {
		return fail("empty cookie name")
	}
	if !httpguts.ValidHeaderFieldName(cookie.Name) {
		return fail("illegal character in cookie name")
	}
	if !httpguts.ValidHeaderFieldValue(cookie.Value) || strings.ContainsAny(cookie.Value, ";\r\n") {
		return fail("illegal character in cookie value")
	}

	var maxAge *int
	for _, attr := range parts[1:] {
		attr = strings.TrimSpace(attr)
		if attr == "" {
			continue
		}

		name, value, _ := strings.Cut(attr, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)

		switch name {
		case "domain":
			if value == "" {
				continue
			}
			domain := strings.ToLower(strings.TrimPrefix(value, "."))
			if err := checkCookieDomain(domain, host); err != "" {
				return fail(err)
			}
			if domain != host {
				cookie.HostOnly = false
			}
			cookie.Domain = domain
		case "path":
			if strings.HasPrefix(value, "/") {
				cookie.Path = value
			}
		case "expires":
			// Max-Age wins over Expires, whatever the attribute order.
			if maxAge != nil {
				continue
			}
			if t, ok := parseExpires(value); ok {
				cookie.Expires = t
			}
		case "max-age":
			n, err := strconv.Atoi(value)
			if err != nil {
				continue
			}
			maxAge = &n
			if n <= 0 {
				cookie.expired = true
			} else {
				cookie.Expires = now.Add(time.Duration(n) * time.Second)
			}
		case "secure":
			cookie.Secure = true
		case "httponly":
			cookie.HttpOnly = true
		case "samesite":
			cookie.SameSite = value
		}
	}

	if cookie.Path == "" {
		cookie.Path = defaultPath(requestURL.Path)
	}
	return cookie, nil
}

// checkCookieDomain validates a Domain attribute against the request host.
// It returns a reason when the cookie must be rejected.
func checkCookieDomain(domain, host string) string {
	if domain == host {
		return ""
	}
	if net.ParseIP(host) != nil {
		return "Domain attribute on an IP host"
	}
	if !strings.HasSuffix(host, "."+domain) {
		return "Domain " + domain + " does not match host " + host
	}
	if ps, _ := publicsuffix.PublicSuffix(domain); ps == domain {
		return "Domain " + domain + " is a public suffix"
	}
	return ""
}

var expiresLayouts = []string{
	time.RFC1123,
	time.RFC1123Z,
	"Mon, 02-Jan-2006 15:04:05 MST",
	"Mon, 02 Jan 2006 15:04:05 MST",
	"Monday, 02-Jan-06 15:04:05 MST",
	"Mon, 02-Jan-06 15:04:05 MST",
	time.ANSIC,
}

// parseExpires parses the date formats seen in the wild in Expires.
func parseExpires(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range expiresLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
