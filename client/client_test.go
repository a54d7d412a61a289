package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sardanioss/primp/fingerprint"
	"github.com/sardanioss/primp/transport"
)

// fakeRT records planned requests and answers them with handle.
type fakeRT struct {
	mu     sync.Mutex
	calls  []*transport.Request
	handle func(n int, req *transport.Request) (*transport.Response, error)
}

func (f *fakeRT) RoundTrip(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	n := len(f.calls)
	f.mu.Unlock()
	return f.handle(n, req)
}

func (f *fakeRT) call(i int) *transport.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func (f *fakeRT) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func textResponse(status int, body string, kv ...string) *transport.Response {
	h := make(http.Header)
	for i := 0; i+1 < len(kv); i += 2 {
		h.Add(kv[i], kv[i+1])
	}
	return &transport.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Proto:      "HTTP/1.1",
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func okRT() *fakeRT {
	return &fakeRT{handle: func(int, *transport.Request) (*transport.Response, error) {
		return textResponse(200, "ok"), nil
	}}
}

func newFakeClient(t *testing.T, rt RoundTripper, opts ...Option) *Client {
	t.Helper()
	c, err := NewClient(append([]Option{WithTransport(rt)}, opts...)...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func headerList(hs []fingerprint.Header) []string {
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = h.Name + ": " + h.Value
	}
	return out
}

func TestClient_PlannedHeaderSequence(t *testing.T) {
	rt := okRT()
	c := newFakeClient(t, rt, WithImpersonate("okhttp_5"), WithHeaders(map[string]string{"X-Test": "1"}))
	if err := c.SetCookies("https://example.com/", map[string]string{"sid": "abc"}); err != nil {
		t.Fatal(err)
	}

	_, err := c.Post(context.Background(), "https://example.com/api",
		WithJSON(map[string]int{"a": 1}),
		WithRequestCookies(map[string]string{"tmp": "1"}))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}

	got := headerList(rt.call(0).Headers)
	want := []string{
		"Content-Length: 7",
		"Content-Type: application/json",
		"Accept-Encoding: gzip",
		"User-Agent: " + c.Profile().UserAgent(),
		"X-Test: 1",
		"cookie: sid=abc; tmp=1",
	}
	if !equalStrings(got, want) {
		t.Errorf("headers:\nexpected %q\ngot      %q", want, got)
	}
	if string(rt.call(0).Body) != `{"a":1}` {
		t.Errorf("body: expected {\"a\":1}, got %q", rt.call(0).Body)
	}

	// per-request cookies are never stored
	if _, err := c.Cookies().Get("tmp"); !errors.Is(err, ErrCookieNotFound) {
		t.Errorf("request cookie leaked into the jar: %v", err)
	}
}

func TestClient_EmptyPostSendsZeroLength(t *testing.T) {
	rt := okRT()
	c := newFakeClient(t, rt, WithImpersonate("okhttp_5"))
	if _, err := c.Post(context.Background(), "https://example.com/"); err != nil {
		t.Fatal(err)
	}
	if got := rt.call(0).Headers[0]; got.Name != "Content-Length" || got.Value != "0" {
		t.Errorf("expected Content-Length: 0 first, got %+v", got)
	}
	if _, err := c.Get(context.Background(), "https://example.com/"); err != nil {
		t.Fatal(err)
	}
	for _, h := range rt.call(1).Headers {
		if strings.EqualFold(h.Name, "content-length") {
			t.Error("GET without body should carry no Content-Length")
		}
	}
}

func TestClient_SnapshotIsolation(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	rt := &fakeRT{handle: func(n int, _ *transport.Request) (*transport.Response, error) {
		if n == 1 {
			close(entered)
			<-release
		}
		return textResponse(200, "ok"), nil
	}}
	c := newFakeClient(t, rt, WithImpersonate("okhttp_5"), WithHeaders(map[string]string{"X-Version": "old"}))

	done := make(chan error)
	go func() {
		_, err := c.Get(context.Background(), "https://example.com/")
		done <- err
	}()
	<-entered
	if err := c.SetHeaders(map[string]string{"X-Version": "new"}); err != nil {
		t.Fatal(err)
	}
	if err := c.SetImpersonate("chrome_133", "windows"); err != nil {
		t.Fatal(err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(context.Background(), "https://example.com/"); err != nil {
		t.Fatal(err)
	}

	first, second := rt.call(0), rt.call(1)
	if v := valueOf(first.Headers, "X-Version"); v != "old" {
		t.Errorf("in-flight request: expected old header, got %q", v)
	}
	if first.Profile.ID() == second.Profile.ID() {
		t.Errorf("expected profile change for the next request, both used %s", first.Profile.ID())
	}
	if v := valueOf(second.Headers, "X-Version"); v != "new" {
		t.Errorf("next request: expected new header, got %q", v)
	}
}

func valueOf(hs []fingerprint.Header, name string) string {
	for _, h := range hs {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func TestClient_UnknownProfile(t *testing.T) {
	if _, err := NewClient(WithImpersonate("netscape_4")); !errors.Is(err, fingerprint.ErrUnknownProfile) {
		t.Errorf("NewClient: expected ErrUnknownProfile, got %v", err)
	}

	c := newFakeClient(t, okRT())
	before := c.Profile().ID()
	if err := c.SetImpersonate("chrome", "nonexistent-os"); !errors.Is(err, fingerprint.ErrUnknownProfile) {
		t.Errorf("SetImpersonate: expected ErrUnknownProfile, got %v", err)
	}
	if c.Profile().ID() != before {
		t.Errorf("failed SetImpersonate changed the profile to %s", c.Profile().ID())
	}
}

func TestClient_InvalidHeaderRejectedEarly(t *testing.T) {
	if _, err := NewClient(WithHeaders(map[string]string{"X-Bad": "a\r\nb"})); !errors.Is(err, ErrHeaderValue) {
		t.Errorf("NewClient: expected ErrHeaderValue, got %v", err)
	}

	rt := okRT()
	c := newFakeClient(t, rt)
	_, err := c.Get(context.Background(), "https://example.com/", WithRequestHeaders(map[string]string{"X-Bad": "a\nb"}))
	if !errors.Is(err, ErrHeaderValue) {
		t.Errorf("Get: expected ErrHeaderValue, got %v", err)
	}
	if rt.count() != 0 {
		t.Error("request with an invalid header reached the transport")
	}
}

func TestClient_RetryConnectErrors(t *testing.T) {
	rt := &fakeRT{handle: func(n int, _ *transport.Request) (*transport.Response, error) {
		if n < 3 {
			return nil, &transport.TransportError{Op: "dial", Host: "example.com", Cause: errors.New("refused"), Category: transport.ErrConnect}
		}
		return textResponse(200, "ok"), nil
	}}
	backoff := 10 * time.Millisecond
	c := newFakeClient(t, rt, WithRetry(2, backoff))

	start := time.Now()
	resp, err := c.Get(context.Background(), "https://example.com/")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resp.Attempts != 3 {
		t.Errorf("attempts: expected 3, got %d", resp.Attempts)
	}
	if elapsed := time.Since(start); elapsed < 2*backoff {
		t.Errorf("elapsed: expected at least %v, got %v", 2*backoff, elapsed)
	}
}

func TestClient_NoRetryOnStatusOrProtocolError(t *testing.T) {
	rt := &fakeRT{handle: func(int, *transport.Request) (*transport.Response, error) {
		return textResponse(503, "down"), nil
	}}
	c := newFakeClient(t, rt, WithRetry(3, 0))
	resp, err := c.Get(context.Background(), "https://example.com/")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 503 || rt.count() != 1 {
		t.Errorf("expected one 503 attempt, got status %d after %d attempts", resp.StatusCode, rt.count())
	}

	proto := &fakeRT{handle: func(int, *transport.Request) (*transport.Response, error) {
		return nil, &transport.TransportError{Op: "read", Cause: errors.New("bad frame"), Category: transport.ErrProtocol}
	}}
	c = newFakeClient(t, proto, WithRetry(3, 0))
	if _, err := c.Get(context.Background(), "https://example.com/"); !errors.Is(err, transport.ErrProtocol) {
		t.Errorf("expected ErrProtocol, got %v", err)
	}
	if proto.count() != 1 {
		t.Errorf("protocol error retried: %d attempts", proto.count())
	}
}

func TestClient_HTTPSOnly(t *testing.T) {
	rt := &fakeRT{handle: func(n int, _ *transport.Request) (*transport.Response, error) {
		return textResponse(302, "", "Location", "http://example.com/plain"), nil
	}}
	c := newFakeClient(t, rt, WithHTTPSOnly())

	if _, err := c.Get(context.Background(), "http://example.com/"); !errors.Is(err, ErrHTTPSOnly) {
		t.Errorf("plain URL: expected ErrHTTPSOnly, got %v", err)
	}
	if rt.count() != 0 {
		t.Fatal("plain URL reached the transport")
	}
	if _, err := c.Get(context.Background(), "https://example.com/"); !errors.Is(err, ErrHTTPSOnly) {
		t.Errorf("downgrade redirect: expected ErrHTTPSOnly, got %v", err)
	}
	if rt.count() != 1 {
		t.Errorf("expected only the https hop to be sent, got %d", rt.count())
	}
}

func TestClient_RedirectRules(t *testing.T) {
	tests := []struct {
		status     int
		method     string
		wantMethod string
		wantBody   bool
	}{
		{301, "POST", "GET", false},
		{302, "POST", "GET", false},
		{303, "PUT", "GET", false},
		{303, "HEAD", "HEAD", false},
		{307, "POST", "POST", true},
		{308, "PUT", "PUT", true},
	}
	for _, tt := range tests {
		rt := &fakeRT{handle: func(n int, _ *transport.Request) (*transport.Response, error) {
			if n == 1 {
				return textResponse(tt.status, "", "Location", "/next"), nil
			}
			return textResponse(200, "done"), nil
		}}
		c := newFakeClient(t, rt)
		_, err := c.Do(context.Background(), &Request{Method: tt.method, URL: "https://example.com/start", Content: []byte("payload")})
		if err != nil {
			t.Fatalf("%d %s: %v", tt.status, tt.method, err)
		}
		next := rt.call(1)
		if next.Method != tt.wantMethod {
			t.Errorf("%d %s: expected method %s, got %s", tt.status, tt.method, tt.wantMethod, next.Method)
		}
		if (next.Body != nil) != tt.wantBody {
			t.Errorf("%d %s: expected body kept=%v, got %q", tt.status, tt.method, tt.wantBody, next.Body)
		}
		if ref := valueOf(next.Headers, "Referer"); ref != "https://example.com/start" {
			t.Errorf("%d %s: expected Referer, got %q", tt.status, tt.method, ref)
		}
	}
}

func TestClient_RedirectDropsAuthAcrossHosts(t *testing.T) {
	rt := &fakeRT{handle: func(n int, _ *transport.Request) (*transport.Response, error) {
		switch n {
		case 1:
			return textResponse(302, "", "Location", "https://example.com/same"), nil
		case 2:
			return textResponse(302, "", "Location", "http://other.example/"), nil
		}
		return textResponse(200, "done"), nil
	}}
	c := newFakeClient(t, rt, WithBearerToken("secret"))
	if _, err := c.Get(context.Background(), "https://example.com/"); err != nil {
		t.Fatal(err)
	}
	if v := valueOf(rt.call(1).Headers, "Authorization"); v != "Bearer secret" {
		t.Errorf("same host hop: expected Authorization, got %q", v)
	}
	third := rt.call(2)
	if v := valueOf(third.Headers, "Authorization"); v != "" {
		t.Errorf("cross host hop: Authorization leaked: %q", v)
	}
	if v := valueOf(third.Headers, "Referer"); v != "" {
		t.Errorf("https->http hop: Referer leaked: %q", v)
	}
}

func TestClient_TooManyRedirects(t *testing.T) {
	rt := &fakeRT{handle: func(n int, _ *transport.Request) (*transport.Response, error) {
		return textResponse(302, "", "Location", fmt.Sprintf("/r%d", n)), nil
	}}
	c := newFakeClient(t, rt, WithRedirects(true, 3))
	if _, err := c.Get(context.Background(), "https://example.com/"); !errors.Is(err, ErrTooManyRedirects) {
		t.Errorf("expected ErrTooManyRedirects, got %v", err)
	}
	if rt.count() != 4 {
		t.Errorf("expected 4 requests (1 + 3 redirects), got %d", rt.count())
	}

	c = newFakeClient(t, rt, WithoutRedirects())
	resp, err := c.Get(context.Background(), "https://example.com/")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 302 {
		t.Errorf("without redirects: expected 302, got %d", resp.StatusCode)
	}
}

func TestClient_DigestChallenge(t *testing.T) {
	rt := &fakeRT{handle: func(n int, req *transport.Request) (*transport.Response, error) {
		if valueOf(req.Headers, "Authorization") == "" {
			return textResponse(401, "", "WWW-Authenticate", `Digest realm="r", nonce="n1", qop="auth"`), nil
		}
		return textResponse(200, "in"), nil
	}}
	c := newFakeClient(t, rt, WithAuth(NewDigestAuth("user", "pass")))
	resp, err := c.Get(context.Background(), "https://example.com/private")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 || rt.count() != 2 {
		t.Errorf("expected 200 after one challenge, got %d after %d requests", resp.StatusCode, rt.count())
	}
	if v := valueOf(rt.call(1).Headers, "Authorization"); !strings.HasPrefix(v, "Digest ") {
		t.Errorf("expected Digest credentials, got %q", v)
	}
}

func TestClient_CookieStore(t *testing.T) {
	rt := &fakeRT{handle: func(n int, _ *transport.Request) (*transport.Response, error) {
		return textResponse(200, "ok",
			"Set-Cookie", "sid=1; Path=/",
			"Set-Cookie", "bad cookie without equals",
			"Set-Cookie", "theme=dark"), nil
	}}

	c := newFakeClient(t, rt)
	resp, err := c.Get(context.Background(), "https://example.com/login")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Cookies["sid"] != "1" || resp.Cookies["theme"] != "dark" {
		t.Errorf("response cookies: got %v", resp.Cookies)
	}
	got, _ := c.GetCookies("https://example.com/")
	if got["sid"] != "1" {
		t.Errorf("jar: expected sid=1, got %v", got)
	}
	if _, err := c.Get(context.Background(), "https://example.com/next"); err != nil {
		t.Fatal(err)
	}
	if v := valueOf(rt.call(1).Headers, "cookie"); !strings.Contains(v, "sid=1") {
		t.Errorf("stored cookie not sent: %q", v)
	}

	off := newFakeClient(t, rt, WithCookieStore(false))
	resp, err = off.Get(context.Background(), "https://example.com/login")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Cookies["sid"] != "1" {
		t.Errorf("cookie store off: response cookies still expected, got %v", resp.Cookies)
	}
	if off.Cookies().Len() != 0 {
		t.Errorf("cookie store off: expected empty jar, got %d", off.Cookies().Len())
	}
}

func TestClient_SplitCookiesToggle(t *testing.T) {
	rt := okRT()
	c := newFakeClient(t, rt, WithImpersonate("okhttp_5"))
	c.Cookies().Set("a", "1")
	c.Cookies().Set("b", "2")

	c.Get(context.Background(), "https://example.com/")
	c.SetSplitCookies(true)
	c.Get(context.Background(), "https://example.com/")

	var joined, split []string
	for _, h := range rt.call(0).Headers {
		if h.Name == "cookie" {
			joined = append(joined, h.Value)
		}
	}
	for _, h := range rt.call(1).Headers {
		if h.Name == "cookie" {
			split = append(split, h.Value)
		}
	}
	if !equalStrings(joined, []string{"a=1; b=2"}) {
		t.Errorf("joined: got %q", joined)
	}
	if !equalStrings(split, []string{"a=1", "b=2"}) {
		t.Errorf("split: got %q", split)
	}
}

func TestClient_Params(t *testing.T) {
	rt := okRT()
	c := newFakeClient(t, rt, WithParams(map[string]string{"b": "2", "a": "1"}))
	c.Get(context.Background(), "https://example.com/s?q=x", WithRequestParams(map[string]string{"a": "9"}))
	if got := rt.call(0).URL.RawQuery; got != "q=x&a=9&b=2" {
		t.Errorf("query: expected q=x&a=9&b=2, got %q", got)
	}
}

func TestClient_EnvironmentReadOnce(t *testing.T) {
	t.Setenv(EnvProxy, "http://127.0.0.1:3128")
	c := newFakeClient(t, okRT())
	os.Setenv(EnvProxy, "http://127.0.0.1:9999")
	if got := c.Config().Proxy; got != "http://127.0.0.1:3128" {
		t.Errorf("proxy: expected the value at construction, got %q", got)
	}

	explicit := newFakeClient(t, okRT(), WithProxy("socks5h://127.0.0.1:1080"))
	if got := explicit.Config().Proxy; got != "socks5h://127.0.0.1:1080" {
		t.Errorf("explicit proxy lost to environment: %q", got)
	}
}

func TestClient_CABundle(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.pem")

	t.Setenv(EnvCABundle, missing)
	c, err := NewClient()
	if err != nil {
		t.Fatalf("unreadable %s should only warn: %v", EnvCABundle, err)
	}
	c.Close()

	if _, err := NewClient(WithCACertFile(missing)); err == nil {
		t.Error("unreadable ca_cert_file should fail construction")
	}
}

func TestClient_InvalidProxy(t *testing.T) {
	if _, err := NewClient(WithProxy("ftp://proxy:21")); err == nil {
		t.Error("expected error for ftp proxy")
	}
	c := newFakeClient(t, okRT())
	if err := c.SetProxy("://bad"); err == nil {
		t.Error("SetProxy: expected error for malformed URL")
	}
	if c.Config().Proxy != "" {
		t.Errorf("failed SetProxy changed the proxy to %q", c.Config().Proxy)
	}
}

func TestClient_Closed(t *testing.T) {
	c, err := NewClient(WithTransport(okRT()))
	if err != nil {
		t.Fatal(err)
	}
	c.Close()
	if _, err := c.Get(context.Background(), "https://example.com/"); !errors.Is(err, ErrClientClosed) {
		t.Errorf("expected ErrClientClosed, got %v", err)
	}
}

// End to end over the real transport.

func newLiveClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	c, err := NewClient(opts...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestClient_LiveRedirectWithCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/start":
			http.SetCookie(w, &http.Cookie{Name: "sid", Value: "42", Path: "/"})
			http.Redirect(w, r, "/final", http.StatusFound)
		case "/final":
			body, _ := io.ReadAll(r.Body)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{
				"method":  r.Method,
				"referer": r.Referer(),
				"cookie":  r.Header.Get("Cookie"),
				"body":    string(body),
			})
		}
	}))
	defer srv.Close()

	c := newLiveClient(t)
	resp, err := c.Post(context.Background(), srv.URL+"/start", WithData(map[string]string{"k": "v"}))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	var echo map[string]string
	if err := resp.JSON(&echo); err != nil {
		t.Fatalf("JSON: %v", err)
	}
	want := map[string]string{"method": "GET", "referer": srv.URL + "/start", "cookie": "sid=42", "body": ""}
	for k, v := range want {
		if echo[k] != v {
			t.Errorf("%s: expected %q, got %q", k, v, echo[k])
		}
	}
	if resp.URL.Path != "/final" {
		t.Errorf("final URL: expected /final, got %s", resp.URL)
	}
}

func TestClient_LiveStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 3; i++ {
			fmt.Fprintf(w, "chunk %d\n", i)
			w.(http.Flusher).Flush()
		}
	}))
	defer srv.Close()

	c := newLiveClient(t)
	resp, err := c.Get(context.Background(), srv.URL, WithStream())
	if err != nil {
		t.Fatal(err)
	}
	var got strings.Builder
	for chunk, err := range resp.Stream() {
		if err != nil {
			t.Fatalf("stream: %v", err)
		}
		got.Write(chunk)
	}
	if got.String() != "chunk 0\nchunk 1\nchunk 2\n" {
		t.Errorf("streamed body: got %q", got.String())
	}

	for _, err := range resp.Stream() {
		if !errors.Is(err, ErrStreamConsumed) {
			t.Errorf("second stream: expected ErrStreamConsumed, got %v", err)
		}
	}
	if _, err := resp.Bytes(); !errors.Is(err, ErrStreamConsumed) {
		t.Errorf("Bytes after stream: expected ErrStreamConsumed, got %v", err)
	}
}

func TestClient_LiveTimeout(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := newLiveClient(t, WithTimeout(100*time.Millisecond))
	_, err := c.Get(context.Background(), srv.URL)
	if !errors.Is(err, transport.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestClient_LiveTextCharset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=ISO-8859-1")
		w.Write([]byte{'c', 'a', 'f', 0xe9})
	}))
	defer srv.Close()

	c := newLiveClient(t)
	resp, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Encoding != "iso-8859-1" {
		t.Errorf("encoding: expected iso-8859-1, got %q", resp.Encoding)
	}
	text, err := resp.Text()
	if err != nil {
		t.Fatal(err)
	}
	if text != "café" {
		t.Errorf("text: expected café, got %q", text)
	}
}

func TestClient_LiveTimeoutWithRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := newLiveClient(t, WithTimeout(100*time.Millisecond), WithRetry(2, 50*time.Millisecond))
	_, err := c.Get(context.Background(), srv.URL)
	if !errors.Is(err, transport.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
	var te *transport.TransportError
	if !errors.As(err, &te) {
		t.Errorf("expected a *transport.TransportError in the chain, got %T", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestClient_RequestCookies(t *testing.T) {
	rt := okRT()
	c := newFakeClient(t, rt)
	if err := c.SetCookies("https://example.com/", map[string]string{"a": "jar", "b": "jar"}); err != nil {
		t.Fatal(err)
	}

	_, err := c.Get(context.Background(), "https://example.com/",
		WithRequestCookies(map[string]string{"b": "req", "z": "req"}))
	if err != nil {
		t.Fatal(err)
	}
	if v := valueOf(rt.call(0).Headers, "cookie"); v != "a=jar; b=req; z=req" {
		t.Errorf("cookie header: expected %q, got %q", "a=jar; b=req; z=req", v)
	}

	got, _ := c.GetCookies("https://example.com/")
	if len(got) != 2 || got["a"] != "jar" || got["b"] != "jar" {
		t.Errorf("jar: expected map[a:jar b:jar], got %v", got)
	}

	if _, err := c.Get(context.Background(), "https://example.com/"); err != nil {
		t.Fatal(err)
	}
	if v := valueOf(rt.call(1).Headers, "cookie"); v != "a=jar; b=jar" {
		t.Errorf("next request: expected %q, got %q", "a=jar; b=jar", v)
	}
}

func TestClient_InitialCookies(t *testing.T) {
	rt := okRT()
	c := newFakeClient(t, rt, WithCookies(map[string]string{"sid": "1", "lang": "en"}))

	if v, err := c.Cookies().Get("sid"); err != nil || v != "1" {
		t.Errorf("jar: expected sid=1, got %q (%v)", v, err)
	}
	for i, u := range []string{"https://example.com/", "https://other.org/deep/path"} {
		if _, err := c.Get(context.Background(), u); err != nil {
			t.Fatal(err)
		}
		if v := valueOf(rt.call(i).Headers, "cookie"); v != "lang=en; sid=1" {
			t.Errorf("%s: expected %q, got %q", u, "lang=en; sid=1", v)
		}
	}
}
