// Package client provides an HTTP client that impersonates a browser.
//
// Requests carry the TLS ClientHello, HTTP/2 SETTINGS and header sequence of
// the selected browser profile, so they look like that browser on the wire.
//
// # Why Fingerprint Spoofing Matters
//
// Bot detection looks at three layers of a connection:
//
//  1. TLS Fingerprint (JA3/JA4): cipher suites, extensions, elliptic curves
//  2. HTTP/2 Fingerprint (Akamai): SETTINGS values and order, WINDOW_UPDATE, PRIORITY
//  3. Header Fingerprint: order, casing and values of the HTTP headers
//
// The profile fixes the first two; the planner in this package fixes the
// third: Host, Content-Length and a computed Content-Type lead, cookies and
// priority trail, and everything in between keeps the browser's order unless
// ordered headers say otherwise.
//
// # Basic Usage
//
//	c, err := client.NewClient(client.WithImpersonate("chrome_133"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	resp, err := c.Get(ctx, "https://example.com")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(resp.Text())
//
// # Configuration Changes
//
// Setters take effect for requests issued after they return. A request that
// is already running keeps the profile and headers it started with. A new
// profile applies to new connections; idle connections of the old profile
// age out of the pool.
package client

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sardanioss/primp/dns"
	"github.com/sardanioss/primp/fingerprint"
	"github.com/sardanioss/primp/keylog"
	"github.com/sardanioss/primp/pool"
	"github.com/sardanioss/primp/transport"
)

// Environment variables read once by NewClient.
const (
	EnvProxy      = "PRIMP_PROXY"
	EnvCABundle   = "PRIMP_CA_BUNDLE"
	EnvCACertFile = "CA_CERT_FILE"
)

// snapshot is an immutable view of the configuration. Requests load one
// snapshot at start and use it throughout.
type snapshot struct {
	cfg      ClientConfig
	profile  *fingerprint.Profile
	defaults *OrderedHeaders
	explicit *OrderedHeaders
	proxy    *url.URL
	auth     Auth
}

func buildSnapshot(cfg ClientConfig) (*snapshot, error) {
	profile, err := fingerprint.Resolve(cfg.Impersonate, cfg.ImpersonateOS)
	if err != nil {
		return nil, err
	}
	explicit := HeadersFromMap(cfg.Headers)
	if err := explicit.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.OrderedHeaders.Validate(); err != nil {
		return nil, err
	}
	proxy, err := parseProxy(cfg.Proxy)
	if err != nil {
		return nil, err
	}

	s := &snapshot{
		cfg:      cfg,
		profile:  profile,
		defaults: headersFromProfile(profile.DefaultHeaders()),
		explicit: explicit,
		proxy:    proxy,
		auth:     cfg.Auth,
	}
	if s.auth == nil && cfg.BearerToken != "" {
		s.auth = NewBearerAuth(cfg.BearerToken)
	}
	return s, nil
}

func parseProxy(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("invalid proxy URL %q: unsupported scheme %q", u.Redacted(), u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid proxy URL %q: missing host", u.Redacted())
	}
	return u, nil
}

// Client is an impersonating HTTP client. It is safe for concurrent use.
type Client struct {
	mu    sync.Mutex // serializes setters
	state atomic.Pointer[snapshot]

	jar    *CookieJar
	rt     RoundTripper
	tr     *transport.Transport // nil when a RoundTripper was injected
	keylog *keylog.Writer
	logger *zap.Logger
	closed atomic.Bool
}

// NewClient creates a client. Configuration errors, such as an unknown
// profile, an invalid proxy or header, or an unreadable ca_cert_file, are
// returned here rather than at the first request.
func NewClient(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Proxy == "" {
		cfg.Proxy = os.Getenv(EnvProxy)
	}

	s, err := buildSnapshot(cfg.clone())
	if err != nil {
		return nil, err
	}
	c := &Client{jar: NewCookieJar(), logger: logger}
	c.jar.Update(cfg.Cookies, "", "")
	c.state.Store(s)

	if cfg.RoundTripper != nil {
		c.rt = cfg.RoundTripper
		return c, nil
	}

	topts := transport.DefaultOptions()
	topts.TCPNoDelay = cfg.TCPNoDelay
	topts.TCPKeepAlive = cfg.TCPKeepAlive
	topts.InsecureSkipVerify = !cfg.Verify
	topts.Pool = pool.Config{
		MaxIdlePerHost: cfg.PoolMaxIdlePerHost,
		IdleTimeout:    cfg.PoolIdleTimeout,
		MaxConnAge:     pool.DefaultConfig().MaxConnAge,
	}
	topts.Logger = logger.Named("transport")

	if topts.RootCAs, err = loadRootCAs(cfg.CACertFile, logger); err != nil {
		return nil, err
	}
	if len(cfg.Nameservers) > 0 {
		topts.DNS = dns.NewCache(dns.NewNameserverResolver(cfg.Nameservers...), logger.Named("dns"))
	}
	if c.keylog, err = openKeyLog(cfg.KeyLogFile, logger); err != nil {
		return nil, err
	}
	if c.keylog != nil {
		topts.KeyLogWriter = c.keylog
	}

	c.tr = transport.New(topts)
	c.rt = c.tr
	logger.Debug("client created",
		zap.String("profile", s.profile.ID()),
		zap.Stringer("protocol", cfg.protocol()),
		zap.Bool("proxy", s.proxy != nil))
	return c, nil
}

// loadRootCAs reads the CA bundle. An explicit path must be readable; a
// path from the environment that is not is logged and ignored.
func loadRootCAs(path string, logger *zap.Logger) (*x509.CertPool, error) {
	fromEnv := false
	if path == "" {
		for _, env := range []string{EnvCABundle, EnvCACertFile} {
			if v := os.Getenv(env); v != "" {
				path, fromEnv = v, true
				break
			}
		}
	}
	if path == "" {
		return nil, nil
	}

	pem, err := os.ReadFile(path)
	if err == nil {
		roots := x509.NewCertPool()
		if roots.AppendCertsFromPEM(pem) {
			return roots, nil
		}
		err = errors.New("no PEM certificates found")
	}
	if fromEnv {
		logger.Warn("ignoring CA bundle from environment", zap.String("path", path), zap.Error(err))
		return nil, nil
	}
	return nil, fmt.Errorf("ca_cert_file %s: %w", path, err)
}

func openKeyLog(path string, logger *zap.Logger) (*keylog.Writer, error) {
	if path != "" {
		w, err := keylog.Open(path)
		if err != nil {
			return nil, fmt.Errorf("key_log_file %s: %w", path, err)
		}
		return w, nil
	}
	w, err := keylog.FromEnv()
	if err != nil {
		logger.Warn("ignoring "+keylog.EnvVar, zap.Error(err))
		return nil, nil
	}
	return w, nil
}

// update applies fn to a copy of the configuration and publishes it if it
// is valid.
func (c *Client) update(fn func(cfg *ClientConfig)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg := c.state.Load().cfg.clone()
	fn(&cfg)
	s, err := buildSnapshot(cfg)
	if err != nil {
		return err
	}
	c.state.Store(s)
	return nil
}

// SetImpersonate switches the browser profile. An empty os selects the
// profile's default OS.
func (c *Client) SetImpersonate(browser, os string) error {
	err := c.update(func(cfg *ClientConfig) {
		cfg.Impersonate = browser
		cfg.ImpersonateOS = os
	})
	if err == nil {
		c.logger.Debug("profile changed", zap.String("profile", c.Profile().ID()))
	}
	return err
}

// SetHeaders replaces the baseline headers.
func (c *Client) SetHeaders(headers map[string]string) error {
	return c.update(func(cfg *ClientConfig) {
		cfg.Headers = maps.Clone(headers)
	})
}

// UpdateHeaders merges headers into the baseline headers.
func (c *Client) UpdateHeaders(headers map[string]string) error {
	return c.update(func(cfg *ClientConfig) {
		if cfg.Headers == nil {
			cfg.Headers = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			for existing := range cfg.Headers {
				if strings.EqualFold(existing, k) {
					delete(cfg.Headers, existing)
				}
			}
			cfg.Headers[k] = v
		}
	})
}

// SetOrderedHeaders replaces the client-level ordered headers. Nil removes
// them.
func (c *Client) SetOrderedHeaders(h *OrderedHeaders) error {
	return c.update(func(cfg *ClientConfig) {
		cfg.OrderedHeaders = nil
		if h != nil {
			cfg.OrderedHeaders = h.Clone()
		}
	})
}

// UpdateOrderedHeaders changes the value of known ordered headers in place
// and appends new ones.
func (c *Client) UpdateOrderedHeaders(partial *OrderedHeaders) error {
	return c.update(func(cfg *ClientConfig) {
		cfg.OrderedHeaders = cfg.OrderedHeaders.Clone().Update(partial)
	})
}

// SetSplitCookies toggles one cookie header per pair.
func (c *Client) SetSplitCookies(split bool) {
	c.update(func(cfg *ClientConfig) { cfg.SplitCookies = split })
}

// SetCookieStore toggles automatic cookie persistence.
func (c *Client) SetCookieStore(enabled bool) {
	c.update(func(cfg *ClientConfig) { cfg.CookieStore = enabled })
}

// SetProxy changes the proxy for new requests. An empty URL disables it.
// Connections through the old route stay pooled under their own key.
func (c *Client) SetProxy(proxyURL string) error {
	return c.update(func(cfg *ClientConfig) { cfg.Proxy = proxyURL })
}

// SetTimeout sets the request timeout
func (c *Client) SetTimeout(timeout time.Duration) {
	c.update(func(cfg *ClientConfig) { cfg.Timeout = timeout })
}

// SetRetry sets the retry count and the fixed backoff.
func (c *Client) SetRetry(count int, backoff time.Duration) {
	c.update(func(cfg *ClientConfig) {
		cfg.RetryCount = count
		cfg.RetryBackoff = backoff
	})
}

// SetParams replaces the default query parameters.
func (c *Client) SetParams(params map[string]string) {
	c.update(func(cfg *ClientConfig) { cfg.Params = maps.Clone(params) })
}

// SetAuth sets the authentication for all requests. Nil removes it.
func (c *Client) SetAuth(auth Auth) {
	c.update(func(cfg *ClientConfig) { cfg.Auth = auth })
}

// SetBasicAuth sets basic authentication
func (c *Client) SetBasicAuth(username, password string) {
	c.SetAuth(NewBasicAuth(username, password))
}

// SetBearerToken sends a Bearer token with every request. It replaces any
// Auth set before.
func (c *Client) SetBearerToken(token string) {
	c.update(func(cfg *ClientConfig) {
		cfg.Auth = nil
		cfg.BearerToken = token
	})
}

// Config returns a copy of the current configuration.
func (c *Client) Config() ClientConfig {
	return c.state.Load().cfg.clone()
}

// Profile returns the active fingerprint profile.
func (c *Client) Profile() *fingerprint.Profile {
	return c.state.Load().profile
}

// Headers returns the headers every request starts from: profile defaults,
// baseline headers and client-level ordered headers, merged.
func (c *Client) Headers() *OrderedHeaders {
	s := c.state.Load()
	return mergeLayers(PlanInput{Defaults: s.defaults, Explicit: s.explicit, ClientOrdered: s.cfg.OrderedHeaders})
}

// Cookies returns the cookie jar
func (c *Client) Cookies() *CookieJar {
	return c.jar
}

// SetCookies stores cookies scoped to rawURL's host and path.
func (c *Client) SetCookies(rawURL string, cookies map[string]string) error {
	u, err := parseRequestURL(rawURL)
	if err != nil {
		return err
	}
	c.jar.SetCookies(u, cookies)
	return nil
}

// GetCookies returns the jar cookies that would be sent to rawURL.
func (c *Client) GetCookies(rawURL string) (map[string]string, error) {
	u, err := parseRequestURL(rawURL)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, p := range c.jar.GetCookies(u) {
		out[p.Name] = p.Value
	}
	return out, nil
}

// Transport returns the built-in transport, or nil when a RoundTripper was
// injected.
func (c *Client) Transport() *transport.Transport {
	return c.tr
}

// Close closes pooled connections and the key log. Requests after Close
// fail with ErrClientClosed.
func (c *Client) Close() {
	if c.closed.Swap(true) {
		return
	}
	if c.tr != nil {
		c.tr.Close()
	}
	c.keylog.Close()
}

// Do sends req. The timeout covers redirects, retries and, unless
// req.Stream is set, reading the body. With req.Stream the caller must
// Close the response.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	s := c.state.Load()

	timeout := s.cfg.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	resp, err := c.do(ctx, s, req)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.cancel = cancel
	if !req.Stream {
		if _, err := resp.Bytes(); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// hop is the state of one request in a redirect chain.
type hop struct {
	method     string
	url        *url.URL
	body       encodedBody
	auth       Auth
	referer    string
	sameOrigin bool // per-request cookies only go to the original host
}

func (c *Client) do(ctx context.Context, s *snapshot, req *Request) (*Response, error) {
	base, err := parseRequestURL(req.URL)
	if err != nil {
		return nil, err
	}
	body, err := encodeBody(req)
	if err != nil {
		return nil, err
	}
	h := hop{
		method:     strings.ToUpper(req.Method),
		url:        withParams(base, s.cfg.Params, req.Params),
		body:       body,
		auth:       req.auth(s),
		sameOrigin: true,
	}
	if h.method == "" {
		h.method = http.MethodGet
	}
	origin := h.url.Host
	log := c.logger.With(zap.String("request_id", uuid.NewString()))

	redirects := 0
	challenged := false
	for {
		if s.cfg.HTTPSOnly && h.url.Scheme != "https" {
			return nil, fmt.Errorf("%w: %s", ErrHTTPSOnly, redactURL(h.url))
		}
		headers, err := c.plan(s, req, h)
		if err != nil {
			return nil, err
		}
		treq := &transport.Request{
			Method:   h.method,
			URL:      h.url,
			Headers:  headers.Entries(),
			Profile:  s.profile,
			Protocol: s.cfg.protocol(),
			Proxy:    s.proxy,
		}
		if h.body.present {
			treq.Body = h.body.data
		}

		tresp, attempts, err := c.send(ctx, s, treq, log)
		if err != nil {
			return nil, err
		}
		cookies := c.storeCookies(s, h.url, tresp.Header, log)

		if tresp.StatusCode == http.StatusUnauthorized && h.auth != nil && !challenged {
			retry, err := h.auth.HandleChallenge(tresp.Header)
			if err != nil {
				log.Debug("auth challenge ignored", zap.Error(err))
			}
			if retry {
				challenged = true
				drain(tresp.Body)
				continue
			}
		}

		if loc := tresp.Header.Get("Location"); s.cfg.FollowRedirects && isRedirect(tresp.StatusCode) && loc != "" {
			drain(tresp.Body)
			if redirects >= s.cfg.MaxRedirects {
				return nil, fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, redirects)
			}
			next, err := h.url.Parse(loc)
			if err != nil {
				return nil, fmt.Errorf("redirect location %q: %w", loc, err)
			}
			redirects++
			log.Debug("following redirect",
				zap.Int("status", tresp.StatusCode),
				zap.String("location", redactURL(next)))

			switch tresp.StatusCode {
			case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther:
				if h.method != http.MethodHead {
					h.method = http.MethodGet
				}
				h.body = encodedBody{}
			}
			h.referer = ""
			if s.cfg.Referer && !(h.url.Scheme == "https" && next.Scheme == "http") {
				h.referer = redactURL(h.url)
			}
			if !strings.EqualFold(next.Hostname(), h.url.Hostname()) {
				h.auth = nil
			}
			h.sameOrigin = next.Host == origin
			h.url = next
			challenged = false
			continue
		}

		resp := newResponse(tresp.StatusCode, tresp.Status, tresp.Proto, tresp.Header, tresp.Body, h.url)
		resp.Cookies = cookies
		resp.Attempts = attempts
		log.Info("response",
			zap.String("url", redactURL(h.url)),
			zap.Int("status", tresp.StatusCode),
			zap.String("proto", tresp.Proto),
			zap.Int("attempts", attempts),
			zap.Int("redirects", redirects))
		return resp, nil
	}
}

// plan builds the header sequence of one hop.
func (c *Client) plan(s *snapshot, req *Request, h hop) (*OrderedHeaders, error) {
	explicit := s.explicit.Clone()
	for _, k := range sortedKeys(req.Headers) {
		explicit.Set(k, req.Headers[k])
	}
	if h.referer != "" && !explicit.Has("referer") {
		explicit.Set("Referer", h.referer)
	}
	if h.auth != nil {
		v, err := h.auth.Authorization(h.method, h.url)
		if err != nil {
			return nil, err
		}
		if v != "" {
			explicit.Set("Authorization", v)
		}
	}

	cookies := c.jar.GetCookies(h.url)
	if h.sameOrigin && len(req.Cookies) > 0 {
		extra := make([]CookiePair, 0, len(req.Cookies))
		for _, name := range sortedKeys(req.Cookies) {
			extra = append(extra, CookiePair{Name: name, Value: req.Cookies[name]})
		}
		cookies = mergeCookiePairs(cookies, extra)
	}

	return Plan(PlanInput{
		Defaults:       s.defaults,
		Explicit:       explicit,
		ClientOrdered:  s.cfg.OrderedHeaders,
		RequestOrdered: req.OrderedHeaders,
		ContentLength:  contentLength(h.method, h.body),
		ContentType:    h.body.contentType,
		Cookies:        cookies,
		SplitCookies:   s.cfg.SplitCookies,
	})
}

// send runs one hop under the retry policy.
func (c *Client) send(ctx context.Context, s *snapshot, treq *transport.Request, log *zap.Logger) (*transport.Response, int, error) {
	attempts := 0
	ex := RetryExecutor{
		Policy: RetryPolicy{MaxAttempts: s.cfg.RetryCount + 1, Backoff: s.cfg.RetryBackoff},
		OnRetry: func(next int, err error) {
			log.Warn("retrying request",
				zap.String("url", redactURL(treq.URL)),
				zap.Int("attempt", next),
				zap.Duration("backoff", s.cfg.RetryBackoff),
				zap.Error(err))
		},
	}
	resp, err := Execute(ctx, ex, func(ctx context.Context, attempt int) (*transport.Response, error) {
		attempts = attempt
		return c.rt.RoundTrip(ctx, treq)
	})
	return resp, attempts, err
}

// storeCookies returns the cookies set by a response and, with the cookie
// store enabled, commits them to the jar. Malformed entries are dropped.
func (c *Client) storeCookies(s *snapshot, u *url.URL, header http.Header, log *zap.Logger) map[string]string {
	values := header.Values("Set-Cookie")
	out := make(map[string]string, len(values))
	if len(values) == 0 {
		return out
	}
	now := time.Now()
	for _, v := range values {
		if ck, err := ParseSetCookie(v, u, now); err == nil {
			out[ck.Name] = ck.Value
		}
	}
	if s.cfg.CookieStore {
		for _, err := range c.jar.SetFromResponse(u, values) {
			log.Debug("cookie dropped", zap.Error(err))
		}
	}
	return out
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// Request sends a request built from method, url and opts.
func (c *Client) Request(ctx context.Context, method, url string, opts ...RequestOption) (*Response, error) {
	req := &Request{Method: method, URL: url}
	for _, opt := range opts {
		opt(req)
	}
	return c.Do(ctx, req)
}

// Get performs a GET request
func (c *Client) Get(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodGet, url, opts...)
}

// Head performs a HEAD request
func (c *Client) Head(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodHead, url, opts...)
}

// Options performs an OPTIONS request
func (c *Client) Options(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodOptions, url, opts...)
}

// Delete performs a DELETE request
func (c *Client) Delete(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodDelete, url, opts...)
}

// Post performs a POST request
func (c *Client) Post(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodPost, url, opts...)
}

// Put performs a PUT request
func (c *Client) Put(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodPut, url, opts...)
}

// Patch performs a PATCH request
func (c *Client) Patch(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodPatch, url, opts...)
}
