package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	tls "github.com/refraction-networking/utls"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		fallback error
		want     error
	}{
		{"canceled", context.Canceled, ErrProtocol, context.Canceled},
		{"deadline", context.DeadlineExceeded, ErrConnect, ErrTimeout},
		{"reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, ErrProtocol, ErrConnectionReset},
		{"refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, ErrProtocol, ErrConnect},
		{"dns", &net.DNSError{Err: "no such host", Name: "x.invalid"}, ErrProtocol, ErrConnect},
		{"eof on read", io.EOF, ErrProtocol, ErrConnectionReset},
		{"eof on handshake", io.EOF, ErrTLSHandshake, ErrTLSHandshake},
		{"other", errors.New("bad frame"), ErrProtocol, ErrProtocol},
	}
	for _, tt := range tests {
		err := wrapErr("op", "example.com", "h1", tt.err, tt.fallback)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: expected category %v, got %v", tt.name, tt.want, err)
		}
		if !errors.Is(err, tt.err) {
			t.Errorf("%s: cause lost in %v", tt.name, err)
		}
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&TransportError{Category: ErrConnect}, true},
		{&TransportError{Category: ErrTimeout}, true},
		{&TransportError{Category: ErrConnectionReset}, true},
		{&TransportError{Category: ErrTLSHandshake}, true},
		{&TransportError{Category: ErrProtocol}, false},
		{&TransportError{Category: ErrProxy}, false},
		{&TransportError{Category: context.Canceled}, false},
		{fmt.Errorf("wrapped: %w", &TransportError{Category: ErrTimeout}), true},
		{errors.New("plain"), false},
	}
	for i, tt := range tests {
		if got := Retryable(tt.err); got != tt.want {
			t.Errorf("case %d (%v): expected %v, got %v", i, tt.err, tt.want, got)
		}
	}
}

func TestWrapErrPassesThrough(t *testing.T) {
	inner := &TransportError{Op: "dial", Host: "a", Category: ErrConnect}
	if got := wrapErr("roundtrip", "b", "h2", inner, ErrProtocol); got != error(inner) {
		t.Errorf("expected the existing TransportError, got %v", got)
	}
}

func TestTransportErrorMessage(t *testing.T) {
	err := &TransportError{Op: "tls", Host: "example.com", Protocol: "h2", Cause: errors.New("bad cert"), Category: ErrTLSHandshake}
	want := "tls example.com (h2): tls handshake failed: bad cert"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}

func TestSessionCacheScopes(t *testing.T) {
	c := NewSessionCache()
	chrome := c.Scoped("chrome_133/windows|")
	firefox := c.Scoped("firefox_135/windows|")

	st := &tls.ClientSessionState{}
	chrome.Put("example.com", st)
	if got, ok := chrome.Get("example.com"); !ok || got != st {
		t.Error("expected session in its own scope")
	}
	if _, ok := firefox.Get("example.com"); ok {
		t.Error("session leaked across profiles")
	}
	if c.Count() != 1 {
		t.Errorf("expected 1 session, got %d", c.Count())
	}

	chrome.Put("example.com", nil)
	if c.Count() != 0 {
		t.Errorf("nil put should evict, got %d sessions", c.Count())
	}
}

func TestSessionCacheExpiry(t *testing.T) {
	c := NewSessionCache()
	now := time.Now()
	c.now = func() time.Time { return now }
	c.Put("k", &tls.ClientSessionState{})

	c.now = func() time.Time { return now.Add(TLSSessionMaxAge + time.Minute) }
	if _, ok := c.Get("k"); ok {
		t.Error("expired session returned")
	}
}
