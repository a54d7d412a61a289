package client

import (
	"maps"
	"time"
)

// Request describes one logical request. Zero fields fall back to the
// client configuration.
type Request struct {
	Method string // default GET
	URL    string

	// Params are appended to the URL query after the client's params.
	Params map[string]string
	// Headers override the client's baseline headers by name.
	Headers map[string]string
	// OrderedHeaders override every other header layer, positions included.
	OrderedHeaders *OrderedHeaders
	// Cookies are sent with this request only and override jar cookies of
	// the same name. They are never stored.
	Cookies map[string]string

	// Auth overrides the client's authentication. BearerToken is a shortcut
	// for NewBearerAuth.
	Auth        Auth
	BearerToken string

	// Timeout overrides the client timeout.
	Timeout time.Duration

	// Body variants. Only Data may be combined with Files.
	Content []byte
	Data    any // string, []byte, map[string]string, map[string]any or url.Values
	JSON    any
	Files   []FormFile

	// Stream leaves the response body unread; the caller must Close the
	// Response. Otherwise the body is buffered before Do returns.
	Stream bool
}

// auth returns the effective authentication of r under the client's.
func (r *Request) auth(s *snapshot) Auth {
	switch {
	case r.Auth != nil:
		return r.Auth
	case r.BearerToken != "":
		return NewBearerAuth(r.BearerToken)
	}
	return s.auth
}

// RequestOption adjusts a Request built by the Client's verb helpers.
type RequestOption func(*Request)

// WithRequestParams sets query parameters.
func WithRequestParams(params map[string]string) RequestOption {
	return func(r *Request) { r.Params = maps.Clone(params) }
}

// WithRequestHeaders sets per-request headers.
func WithRequestHeaders(headers map[string]string) RequestOption {
	return func(r *Request) { r.Headers = maps.Clone(headers) }
}

// WithRequestOrderedHeaders sets per-request ordered headers.
func WithRequestOrderedHeaders(h *OrderedHeaders) RequestOption {
	return func(r *Request) { r.OrderedHeaders = h.Clone() }
}

// WithRequestCookies sets per-request cookies.
func WithRequestCookies(cookies map[string]string) RequestOption {
	return func(r *Request) { r.Cookies = maps.Clone(cookies) }
}

// WithRequestAuth authenticates this request with a.
func WithRequestAuth(a Auth) RequestOption {
	return func(r *Request) { r.Auth = a }
}

// WithRequestBearer authenticates this request with a Bearer token.
func WithRequestBearer(token string) RequestOption {
	return func(r *Request) { r.BearerToken = token }
}

// WithRequestTimeout overrides the client timeout.
func WithRequestTimeout(d time.Duration) RequestOption {
	return func(r *Request) { r.Timeout = d }
}

// WithContent sends raw bytes.
func WithContent(b []byte) RequestOption {
	return func(r *Request) { r.Content = b }
}

// WithData sends form data (see Request.Data).
func WithData(data any) RequestOption {
	return func(r *Request) { r.Data = data }
}

// WithJSON sends v as JSON.
func WithJSON(v any) RequestOption {
	return func(r *Request) { r.JSON = v }
}

// WithFiles sends a multipart body.
func WithFiles(files ...FormFile) RequestOption {
	return func(r *Request) { r.Files = append(r.Files, files...) }
}

// WithStream leaves the response body unread.
func WithStream() RequestOption {
	return func(r *Request) { r.Stream = true }
}
