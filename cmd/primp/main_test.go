package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "primp.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
impersonate: firefox_135
impersonate_os: linux
timeout: 5s
cookie_store: false
headers:
  X-Test: yes
ordered_headers:
  Accept: "*/*"
  X-Second: "2"
`)
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Impersonate != "firefox_135" || cfg.ImpersonateOS != "linux" {
		t.Errorf("profile: expected firefox_135/linux, got %s/%s", cfg.Impersonate, cfg.ImpersonateOS)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("timeout: expected 5s, got %v", cfg.Timeout)
	}
	if cfg.CookieStore {
		t.Error("cookie_store: expected false")
	}
	if cfg.Headers["X-Test"] != "yes" {
		t.Errorf("headers: expected X-Test=yes, got %v", cfg.Headers)
	}
	if cfg.OrderedHeaders == nil || cfg.OrderedHeaders.Len() != 2 {
		t.Fatalf("ordered_headers: expected 2 entries, got %v", cfg.OrderedHeaders)
	}
	// untouched keys keep their defaults
	if cfg.MaxRedirects != 20 {
		t.Errorf("max_redirects: expected 20, got %d", cfg.MaxRedirects)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := loadConfig(writeConfig(t, "timeout: [1, 2]\n")); err == nil {
		t.Error("expected error for malformed config")
	}
}

func TestGetCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Served", "1")
		fmt.Fprintf(w, "%s|%s|%s|%s", r.Header.Get("X-Test"), r.Header.Get("X-Flag"), r.URL.Query().Get("q"), r.UserAgent())
	}))
	defer srv.Close()

	path := writeConfig(t, "impersonate: chrome_133\nheaders:\n  X-Test: cfg\n")
	out, err := execute(t, "get", "--config", path, "-b", "safari_18",
		"-H", "X-Flag: flag", "--param", "q=go", "--timeout", "5s", srv.URL)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	parts := strings.Split(out, "|")
	if len(parts) != 4 {
		t.Fatalf("unexpected output %q", out)
	}
	if parts[0] != "cfg" || parts[1] != "flag" || parts[2] != "go" {
		t.Errorf("expected cfg|flag|go, got %q", out)
	}
	if !strings.Contains(parts[3], "Version/18.0") {
		t.Errorf("user-agent: expected safari 18, got %q", parts[3])
	}
}

func TestGetCommand_Include(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Served", "1")
		w.Write([]byte("body"))
	}))
	defer srv.Close()

	out, err := execute(t, "get", "-i", srv.URL)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !strings.HasPrefix(out, "HTTP/1.1 200") {
		t.Errorf("expected status line first, got %q", out)
	}
	if !strings.Contains(out, "X-Served: 1\n") || !strings.HasSuffix(out, "\n\nbody") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestRequestCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := new(bytes.Buffer)
		b.ReadFrom(r.Body)
		fmt.Fprintf(w, "%s %s %s", r.Method, r.Header.Get("Content-Type"), b.String())
	}))
	defer srv.Close()

	out, err := execute(t, "request", "put", "--json", `{"a": 1}`, srv.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if out != `PUT application/json {"a":1}` {
		t.Errorf("unexpected output %q", out)
	}
}

func TestRequestCommand_BadJSON(t *testing.T) {
	if _, err := execute(t, "request", "post", "--json", "{", "http://127.0.0.1:1"); err == nil {
		t.Error("expected error for invalid --json")
	}
}

func TestFingerprintCommand(t *testing.T) {
	out, err := execute(t, "fingerprint", "okhttp_5")
	if err != nil {
		t.Fatalf("fingerprint failed: %v", err)
	}
	for _, want := range []string{"profile:    okhttp_5/android", "ja3:        771,", "akamai:", "ciphers 15, extensions 13, curves 3", "pseudo :method,:path,:authority,:scheme", "user-agent: okhttp/5.0.0-alpha.14"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output %q", want, out)
		}
	}

	if _, err := execute(t, "fingerprint", "netscape_4"); err == nil {
		t.Error("expected error for unknown profile")
	}
}

func TestProfilesCommand(t *testing.T) {
	out, err := execute(t, "profiles")
	if err != nil {
		t.Fatalf("profiles failed: %v", err)
	}
	for _, want := range []string{"chrome_133", "firefox_135", "okhttp_5"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output", want)
		}
	}
}

func TestParsePairs(t *testing.T) {
	got, err := parsePairs([]string{"a=1", " b = 2 ", "c="}, "=")
	if err != nil {
		t.Fatalf("parsePairs failed: %v", err)
	}
	if got["a"] != "1" || got["b"] != "2" || got["c"] != "" {
		t.Errorf("unexpected pairs %v", got)
	}
	if _, err := parsePairs([]string{"novalue"}, "="); err == nil {
		t.Error("expected error for missing separator")
	}
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"", "debug", "info", "warn"} {
		if _, err := newLogger(level); err != nil {
			t.Errorf("level %q: unexpected error %v", level, err)
		}
	}
	if _, err := newLogger("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}
