package client

import (
	"net/http"
	"net/url"
	"strings"
	"testing"
)

func TestBasicAuth(t *testing.T) {
	got, err := NewBasicAuth("user", "pass").Authorization("GET", nil)
	if err != nil {
		t.Fatal(err)
	}
	// Base64 of "user:pass" is "dXNlcjpwYXNz"
	if got != "Basic dXNlcjpwYXNz" {
		t.Errorf("expected Basic dXNlcjpwYXNz, got %s", got)
	}
}

func TestBearerAuth(t *testing.T) {
	got, _ := NewBearerAuth("my-token-123").Authorization("GET", nil)
	if got != "Bearer my-token-123" {
		t.Errorf("expected Bearer my-token-123, got %s", got)
	}
}

func TestDigestAuth(t *testing.T) {
	auth := NewDigestAuth("user", "pass")
	u, _ := url.Parse("https://example.com/protected?x=1")

	if v, _ := auth.Authorization("GET", u); v != "" {
		t.Errorf("before a challenge: expected no header, got %q", v)
	}

	h := make(http.Header)
	h.Set("WWW-Authenticate", `Digest realm="test, realm", nonce="abc123", qop="auth,auth-int", opaque="xyz"`)
	retry, err := auth.HandleChallenge(h)
	if err != nil || !retry {
		t.Fatalf("HandleChallenge: expected retry, got %v (%v)", retry, err)
	}

	v, err := auth.Authorization("GET", u)
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{
		`Digest username="user"`,
		`realm="test, realm"`,
		`nonce="abc123"`,
		`uri="/protected?x=1"`,
		`qop=auth,`,
		`nc=00000001`,
		`opaque="xyz"`,
	} {
		if !strings.Contains(v, field) {
			t.Errorf("Authorization %q: missing %s", v, field)
		}
	}

	// the same nonce again means the credentials were rejected
	if retry, _ := auth.HandleChallenge(h); retry {
		t.Error("repeated challenge should not be answered")
	}
	h.Set("WWW-Authenticate", `Digest realm="r", nonce="abc123", stale=true`)
	if retry, _ := auth.HandleChallenge(h); !retry {
		t.Error("stale challenge should be answered")
	}
}

func TestDigestAuth_MissingNonce(t *testing.T) {
	h := make(http.Header)
	h.Set("WWW-Authenticate", `Digest realm="r"`)
	if _, err := NewDigestAuth("u", "p").HandleChallenge(h); err == nil {
		t.Error("expected error for challenge without nonce")
	}
}

func TestParseAuthParams(t *testing.T) {
	got := parseAuthParams(`realm="a \"b\"", nonce=xyz, qop="auth"`)
	want := map[string]string{"realm": `a "b"`, "nonce": "xyz", "qop": "auth"}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s: expected %q, got %q", k, v, got[k])
		}
	}
}
