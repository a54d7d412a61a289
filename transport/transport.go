// Package transport opens fingerprinted connections and writes requests on
// them exactly as planned: header order and casing are taken from the
// request, TLS and HTTP/2 parameters from the profile.
//
// The client package decides what to send; this package decides nothing
// about headers beyond the wire mechanics of each protocol.
package transport

import (
	"context"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sardanioss/primp/dns"
	"github.com/sardanioss/primp/fingerprint"
	"github.com/sardanioss/primp/pool"
)

// Options configure a Transport. They are fixed for its lifetime; values
// that may change per request travel in Request.
type Options struct {
	DNS          *dns.Cache
	DialTimeout  time.Duration
	TCPNoDelay   bool
	TCPKeepAlive time.Duration

	InsecureSkipVerify bool
	RootCAs            *x509.CertPool // nil uses the system roots
	KeyLogWriter       io.Writer

	Pool   pool.Config
	Logger *zap.Logger
}

// DefaultOptions returns the transport defaults.
func DefaultOptions() Options {
	return Options{
		DialTimeout:  30 * time.Second,
		TCPNoDelay:   true,
		TCPKeepAlive: 30 * time.Second,
		Pool:         pool.DefaultConfig(),
	}
}

// Protocol restricts ALPN negotiation.
type Protocol int

const (
	ProtocolAuto Protocol = iota
	ProtocolHTTP1
	ProtocolHTTP2
)

func (p Protocol) String() string {
	switch p {
	case ProtocolHTTP1:
		return "h1"
	case ProtocolHTTP2:
		return "h2"
	}
	return "auto"
}

// Request is one fully planned request.
type Request struct {
	Method string
	URL    *url.URL
	// Headers are written in this order and casing. Header syntax has been
	// validated by the caller.
	Headers []fingerprint.Header
	Body    []byte

	Profile  *fingerprint.Profile
	Protocol Protocol
	Proxy    *url.URL // nil for a direct connection
}

// Response is a response whose body has not been read yet. Body must be
// closed; for HTTP/1.1 the connection returns to the pool only when the body
// was read to the end.
type Response struct {
	StatusCode    int
	Status        string
	Proto         string // "HTTP/1.1" or "HTTP/2.0"
	Header        http.Header
	ContentLength int64
	Body          io.ReadCloser
}

// Transport is the connection engine. It is safe for concurrent use.
type Transport struct {
	opts     Options
	dns      *dns.Cache
	pool     *pool.Manager
	sessions *SessionCache
	logger   *zap.Logger

	h2transports sync.Map // profile id -> *http2.Transport
}

// New creates a transport and its connection pool.
func New(opts Options) *Transport {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.DNS == nil {
		opts.DNS = dns.NewCache(nil, opts.Logger.Named("dns"))
	}
	return &Transport{
		opts:     opts,
		dns:      opts.DNS,
		pool:     pool.NewManager(opts.Pool, opts.Logger.Named("pool")),
		sessions: NewSessionCache(),
		logger:   opts.Logger,
	}
}

// Key returns the pool key for req: scheme, address, profile identity,
// protocol restriction and route.
func Key(req *Request) pool.Key {
	profile := req.Profile.ID()
	if req.Protocol != ProtocolAuto {
		profile += "+" + req.Protocol.String()
	}
	route := ""
	if req.Proxy != nil {
		route = req.Proxy.Redacted()
	}
	return pool.Key{
		Scheme:  req.URL.Scheme,
		Addr:    canonicalAddr(req.URL),
		Profile: profile,
		Route:   route,
	}
}

// RoundTrip acquires a pooled connection for req, or opens one, and sends
// req on it. A pooled HTTP/1.1 connection that turns out to be dead before
// any response byte arrived is replaced once.
func (t *Transport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return nil, &TransportError{Op: "roundtrip", Host: req.URL.Host, Cause: errors.New("unsupported scheme " + req.URL.Scheme), Category: ErrProtocol}
	}
	key := Key(req)

	pooled, err := t.pool.Acquire(key)
	if err != nil {
		return nil, &TransportError{Op: "roundtrip", Host: key.Host(), Cause: err, Category: ErrClosed}
	}
	if c, ok := pooled.(*Conn); ok {
		resp, err := t.Send(ctx, c, req)
		if err == nil || !c.reused(err) || ctx.Err() != nil {
			return resp, err
		}
		t.logger.Debug("pooled connection dead, redialing", zap.Stringer("key", key), zap.Error(err))
	}

	c, err := t.Open(ctx, key, req)
	if err != nil {
		return nil, err
	}
	return t.Send(ctx, c, req)
}

// Open dials key's address, directly or through req.Proxy, and performs the
// TLS handshake with req.Profile. The negotiated protocol decides how the
// connection is framed.
func (t *Transport) Open(ctx context.Context, key pool.Key, req *Request) (*Conn, error) {
	host := key.Host()
	raw, err := t.dial(ctx, req.URL, req.Proxy)
	if err != nil {
		return nil, err
	}

	c := &Conn{key: key, pool: t.pool, raw: raw, proto: "h1", createdAt: time.Now()}
	if req.URL.Scheme == "https" {
		tlsConn, err := t.handshake(ctx, raw, host, key, req)
		if err != nil {
			raw.Close()
			return nil, err
		}
		c.tls = tlsConn
		if tlsConn.ConnectionState().NegotiatedProtocol == "h2" {
			if err := t.setupHTTP2(c, req.Profile); err != nil {
				tlsConn.Close()
				return nil, wrapErr("h2 setup", host, "h2", err, ErrProtocol)
			}
		}
	}
	if c.proto == "h1" {
		c.initHTTP1()
	}

	t.logger.Debug("connection opened",
		zap.Stringer("key", key),
		zap.String("proto", c.proto),
		zap.Bool("resumed", c.tls != nil && c.tls.ConnectionState().DidResume))
	return c, nil
}

// Send writes req on c and reads the response head.
func (t *Transport) Send(ctx context.Context, c *Conn, req *Request) (*Response, error) {
	c.markUsed()
	if c.proto == "h2" {
		return t.sendHTTP2(ctx, c, req)
	}
	return t.sendHTTP1(ctx, c, req)
}

// Close closes every pooled connection.
func (t *Transport) Close() {
	t.pool.Close()
}

// CloseIdle evicts connections past their idle timeout now.
func (t *Transport) CloseIdle() {
	t.pool.CloseIdle()
}

// Stats returns the pooled connection counts per key.
func (t *Transport) Stats() map[pool.Key]pool.HostStats {
	return t.pool.Stats()
}

// canonicalAddr returns host:port with the scheme's default port filled in.
func canonicalAddr(u *url.URL) string {
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return net.JoinHostPort(strings.ToLower(u.Hostname()), port)
}
