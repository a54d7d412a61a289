package client

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// Auth produces the Authorization header of a request.
type Auth interface {
	// Authorization returns the header value for method and u, or "" to
	// send none.
	Authorization(method string, u *url.URL) (string, error)
	// HandleChallenge inspects the headers of a 401 response and reports
	// whether the request should be sent again.
	HandleChallenge(header http.Header) (bool, error)
}

// BasicAuth implements HTTP Basic authentication
type BasicAuth struct {
	Username string
	Password string
}

// NewBasicAuth creates a new BasicAuth
func NewBasicAuth(username, password string) *BasicAuth {
	return &BasicAuth{
		Username: username,
		Password: password,
	}
}

func (a *BasicAuth) Authorization(string, *url.URL) (string, error) {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(a.Username+":"+a.Password)), nil
}

// HandleChallenge never retries: the credentials were already sent.
func (a *BasicAuth) HandleChallenge(http.Header) (bool, error) {
	return false, nil
}

// DigestAuth implements HTTP Digest authentication (RFC 7616, MD5). The
// first request goes out without credentials; the 401 challenge is answered
// once.
type DigestAuth struct {
	Username string
	Password string

	mu        sync.Mutex
	realm     string
	nonce     string
	qop       string
	opaque    string
	algorithm string
	nc        int
}

// NewDigestAuth creates a new DigestAuth
func NewDigestAuth(username, password string) *DigestAuth {
	return &DigestAuth{
		Username: username,
		Password: password,
	}
}

func (a *DigestAuth) Authorization(method string, u *url.URL) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.nonce == "" {
		return "", nil
	}

	a.nc++
	nc := fmt.Sprintf("%08x", a.nc)
	cnonce := generateCnonce()
	uri := u.RequestURI()

	ha1 := md5Hash(a.Username + ":" + a.realm + ":" + a.Password)
	if strings.EqualFold(a.algorithm, "MD5-sess") {
		ha1 = md5Hash(ha1 + ":" + a.nonce + ":" + cnonce)
	}
	ha2 := md5Hash(method + ":" + uri)

	qop := pickQOP(a.qop)
	var response string
	if qop != "" {
		response = md5Hash(strings.Join([]string{ha1, a.nonce, nc, cnonce, qop, ha2}, ":"))
	} else {
		response = md5Hash(ha1 + ":" + a.nonce + ":" + ha2)
	}

	var b strings.Builder
	fmt.Fprintf(&b, `Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s"`,
		escapeQuotes(a.Username), a.realm, a.nonce, uri, response)
	if qop != "" {
		fmt.Fprintf(&b, `, qop=%s, nc=%s, cnonce="%s"`, qop, nc, cnonce)
	}
	if a.opaque != "" {
		fmt.Fprintf(&b, `, opaque="%s"`, a.opaque)
	}
	if a.algorithm != "" {
		fmt.Fprintf(&b, `, algorithm=%s`, a.algorithm)
	}
	return b.String(), nil
}

// HandleChallenge stores the Digest challenge of a 401 response. A second
// challenge for the same nonce is not answered again.
func (a *DigestAuth) HandleChallenge(header http.Header) (bool, error) {
	for _, v := range header.Values("WWW-Authenticate") {
		scheme, params, _ := strings.Cut(strings.TrimSpace(v), " ")
		if !strings.EqualFold(scheme, "digest") {
			continue
		}
		parsed := parseAuthParams(params)
		if parsed["nonce"] == "" {
			return false, fmt.Errorf("digest auth: missing nonce in challenge")
		}

		a.mu.Lock()
		defer a.mu.Unlock()
		if parsed["nonce"] == a.nonce && !strings.EqualFold(parsed["stale"], "true") {
			return false, nil
		}
		a.realm = parsed["realm"]
		a.nonce = parsed["nonce"]
		a.qop = parsed["qop"]
		a.opaque = parsed["opaque"]
		a.algorithm = parsed["algorithm"]
		a.nc = 0
		return true, nil
	}
	return false, nil
}

// parseAuthParams splits `k1="v, 1", k2=v2` honouring quoted commas.
func parseAuthParams(s string) map[string]string {
	out := make(map[string]string)
	for len(s) > 0 {
		s = strings.TrimLeft(s, " ,\t")
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			break
		}
		key := strings.ToLower(strings.TrimSpace(s[:eq]))
		s = strings.TrimLeft(s[eq+1:], " \t")

		var value string
		if strings.HasPrefix(s, `"`) {
			var b strings.Builder
			i := 1
			for ; i < len(s) && s[i] != '"'; i++ {
				if s[i] == '\\' && i+1 < len(s) {
					i++
				}
				b.WriteByte(s[i])
			}
			value = b.String()
			s = s[min(i+1, len(s)):]
		} else {
			end := strings.IndexByte(s, ',')
			if end < 0 {
				end = len(s)
			}
			value = strings.TrimSpace(s[:end])
			s = s[end:]
		}
		out[key] = value
	}
	return out
}

// pickQOP prefers "auth" from a qop list such as "auth,auth-int".
func pickQOP(offered string) string {
	if offered == "" {
		return ""
	}
	for _, q := range strings.Split(offered, ",") {
		if strings.TrimSpace(q) == "auth" {
			return "auth"
		}
	}
	return strings.TrimSpace(strings.Split(offered, ",")[0])
}

// md5Hash returns MD5 hash as hex string
func md5Hash(s string) string {
	hash := md5.Sum([]byte(s))
	return hex.EncodeToString(hash[:])
}

// generateCnonce generates a random client nonce
func generateCnonce() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// BearerAuth implements Bearer token authentication
type BearerAuth struct {
	Token string
}

// NewBearerAuth creates a new BearerAuth
func NewBearerAuth(token string) *BearerAuth {
	return &BearerAuth{Token: token}
}

func (a *BearerAuth) Authorization(string, *url.URL) (string, error) {
	return "Bearer " + a.Token, nil
}

// HandleChallenge handles 401 response - Bearer auth doesn't retry
func (a *BearerAuth) HandleChallenge(http.Header) (bool, error) {
	return false, nil
}
