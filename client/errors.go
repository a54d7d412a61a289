package client

import (
	"errors"
	"fmt"
)

var (
	ErrHeaderValue       = errors.New("invalid header")
	ErrCookieParse       = errors.New("malformed Set-Cookie")
	ErrCookieNotFound    = errors.New("cookie not found")
	ErrStreamConsumed    = errors.New("response body already consumed")
	ErrHTTPSOnly         = errors.New("plain http request refused by https_only")
	ErrTooManyRedirects  = errors.New("too many redirects")
	ErrClientClosed      = errors.New("client is closed")
	ErrConflictingBodies = errors.New("only one of Content, Data, JSON and Files may carry the body")
)

// HeaderValueError reports a header name or value that cannot be put on the
// wire. It is raised before the request reaches the transport.
type HeaderValueError struct {
	Name   string
	Value  string
	Reason string
}

func (e *HeaderValueError) Error() string {
	return fmt.Sprintf("invalid header %q: %s", e.Name, e.Reason)
}

func (e *HeaderValueError) Is(target error) bool { return target == ErrHeaderValue }

// CookieParseError reports a Set-Cookie value that was dropped. It never
// aborts response processing.
type CookieParseError struct {
	Header string
	Reason string
}

func (e *CookieParseError) Error() string {
	return fmt.Sprintf("dropping Set-Cookie %q: %s", e.Header, e.Reason)
}

func (e *CookieParseError) Is(target error) bool { return target == ErrCookieParse }
