package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// Error categories. TransportError.Category is one of these, so callers can
// use errors.Is(err, transport.ErrTimeout).
var (
	ErrConnect         = errors.New("connect failed")
	ErrTimeout         = errors.New("timed out")
	ErrConnectionReset = errors.New("connection reset")
	ErrTLSHandshake    = errors.New("tls handshake failed")
	ErrProtocol        = errors.New("protocol error")
	ErrClosed          = errors.New("transport closed")
	ErrProxy           = errors.New("proxy error")
)

// TransportError describes a failure below the HTTP layer.
type TransportError struct {
	Op       string // "dial", "tls", "write", "read", ...
	Host     string
	Protocol string // "h1" or "h2"
	Cause    error
	Category error
}

func (e *TransportError) Error() string {
	proto := ""
	if e.Protocol != "" {
		proto = " (" + e.Protocol + ")"
	}
	if e.Cause == nil || e.Cause == e.Category {
		return fmt.Sprintf("%s %s%s: %v", e.Op, e.Host, proto, e.Category)
	}
	return fmt.Sprintf("%s %s%s: %v: %v", e.Op, e.Host, proto, e.Category, e.Cause)
}

func (e *TransportError) Unwrap() []error {
	if e.Cause == nil || e.Cause == e.Category {
		return []error{e.Category}
	}
	return []error{e.Category, e.Cause}
}

// Retryable reports whether err is a connect, timeout, reset or TLS
// handshake failure. Protocol errors and HTTP statuses are not retryable.
func Retryable(err error) bool {
	return errors.Is(err, ErrConnect) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnectionReset) ||
		errors.Is(err, ErrTLSHandshake)
}

// wrapErr classifies err and wraps it in a *TransportError. fallback is the
// category used when nothing more specific is recognised. Errors that are
// already TransportErrors pass through.
func wrapErr(op, host, proto string, err error, fallback error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Host: host, Protocol: proto, Cause: err, Category: classify(err, fallback)}
}

func classify(err error, fallback error) error {
	switch {
	case errors.Is(err, context.Canceled):
		// caller cancellation is never retried
		return context.Canceled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE), errors.Is(err, syscall.ECONNABORTED):
		return ErrConnectionReset
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return ErrConnect
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrConnect
	}
	if fallback == ErrProtocol && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
		// the peer closed a connection we expected a response on
		return ErrConnectionReset
	}
	return fallback
}
