package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/proxy"

	"github.com/sardanioss/primp/pool"
)

// dial opens the TCP connection for u, through p when set.
func (t *Transport) dial(ctx context.Context, u *url.URL, p *url.URL) (net.Conn, error) {
	addr := canonicalAddr(u)

	if t.opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.DialTimeout)
		defer cancel()
	}

	var conn net.Conn
	var err error
	if p == nil {
		conn, err = t.dialDirect(ctx, addr)
	} else {
		conn, err = t.dialProxy(ctx, p, addr)
	}
	if err != nil {
		return nil, err
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(t.opts.TCPNoDelay)
	}
	return conn, nil
}

func (t *Transport) netDialer() *net.Dialer {
	keepAlive := t.opts.TCPKeepAlive
	if keepAlive == 0 {
		keepAlive = -1
	}
	return &net.Dialer{KeepAlive: keepAlive}
}

// dialDirect tries IPv6 addresses first and falls back to IPv4 only if all
// IPv6 attempts fail, like modern browsers.
func (t *Transport) dialDirect(ctx context.Context, addr string) (net.Conn, error) {
	host, port, _ := net.SplitHostPort(addr)
	ipv6, ipv4, err := t.dns.ResolveIPv6First(ctx, host)
	if err != nil {
		return nil, wrapErr("dns", host, "", err, ErrConnect)
	}

	dialer := t.netDialer()
	var lastErr error
	for _, group := range []struct {
		network string
		ips     []net.IP
	}{{"tcp6", ipv6}, {"tcp4", ipv4}} {
		for _, ip := range group.ips {
			conn, err := dialer.DialContext(ctx, group.network, net.JoinHostPort(ip.String(), port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
			if ctx.Err() != nil {
				return nil, wrapErr("dial", host, "", ctx.Err(), ErrConnect)
			}
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no addresses")
	}
	// every address failed; the next attempt resolves again
	t.dns.Invalidate(host)
	return nil, wrapErr("dial", host, "", lastErr, ErrConnect)
}

// dialProxy connects to addr through an HTTP(S) CONNECT or SOCKS5 proxy.
func (t *Transport) dialProxy(ctx context.Context, p *url.URL, addr string) (net.Conn, error) {
	host, _, _ := net.SplitHostPort(addr)
	switch p.Scheme {
	case "http", "https":
		conn, err := t.dialHTTPProxy(ctx, p, addr)
		if err != nil {
			return nil, wrapErr("proxy", host, "", err, ErrProxy)
		}
		return conn, nil
	case "socks5", "socks5h":
		conn, err := t.dialSOCKS5(ctx, p, addr)
		if err != nil {
			return nil, wrapErr("proxy", host, "", err, ErrProxy)
		}
		return conn, nil
	}
	return nil, &TransportError{Op: "proxy", Host: host, Cause: fmt.Errorf("unsupported proxy scheme %q", p.Scheme), Category: ErrProxy}
}

func proxyAddr(p *url.URL) string {
	port := p.Port()
	if port == "" {
		switch p.Scheme {
		case "https":
			port = "443"
		case "socks5", "socks5h":
			port = "1080"
		default:
			port = "80"
		}
	}
	return net.JoinHostPort(p.Hostname(), port)
}

// dialHTTPProxy establishes a tunnel with CONNECT.
func (t *Transport) dialHTTPProxy(ctx context.Context, p *url.URL, addr string) (net.Conn, error) {
	conn, err := t.netDialer().DialContext(ctx, "tcp", proxyAddr(p))
	if err != nil {
		return nil, err
	}
	if p.Scheme == "https" {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: p.Hostname(), RootCAs: t.opts.RootCAs, InsecureSkipVerify: t.opts.InsecureSkipVerify})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		conn = tlsConn
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	req := "CONNECT " + addr + " HTTP/1.1\r\nHost: " + addr + "\r\n"
	if p.User != nil {
		password, _ := p.User.Password()
		req += "Proxy-Authorization: Basic " + base64.StdEncoding.EncodeToString([]byte(p.User.Username()+":"+password)) + "\r\n"
	}
	req += "\r\n"
	if _, err := conn.Write([]byte(req)); err != nil {
		conn.Close()
		return nil, err
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, &http.Request{Method: http.MethodConnect})
	if err != nil {
		conn.Close()
		return nil, err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("proxy CONNECT failed: %s", resp.Status)
	}
	if br.Buffered() > 0 {
		conn.Close()
		return nil, errors.New("proxy sent data before the tunnel was used")
	}
	return conn, nil
}

// dialSOCKS5 connects through a SOCKS5 proxy. With the socks5 scheme the
// target is resolved locally; socks5h leaves resolution to the proxy.
func (t *Transport) dialSOCKS5(ctx context.Context, p *url.URL, addr string) (net.Conn, error) {
	var auth *proxy.Auth
	if p.User != nil {
		password, _ := p.User.Password()
		auth = &proxy.Auth{User: p.User.Username(), Password: password}
	}
	d, err := proxy.SOCKS5("tcp", proxyAddr(p), auth, t.netDialer())
	if err != nil {
		return nil, err
	}

	target := addr
	if p.Scheme == "socks5" {
		host, port, _ := net.SplitHostPort(addr)
		ipv6, ipv4, err := t.dns.ResolveIPv6First(ctx, host)
		if err != nil {
			return nil, err
		}
		ips := append(ipv6, ipv4...)
		target = net.JoinHostPort(ips[0].String(), port)
	}
	return d.(proxy.ContextDialer).DialContext(ctx, "tcp", target)
}

// handshake runs the uTLS handshake with the profile's ClientHello.
func (t *Transport) handshake(ctx context.Context, raw net.Conn, host string, key pool.Key, req *Request) (*utls.UConn, error) {
	alpn := req.Profile.TLS.ALPN
	switch req.Protocol {
	case ProtocolHTTP1:
		alpn = []string{"http/1.1"}
	case ProtocolHTTP2:
		alpn = []string{"h2"}
	}
	spec, err := req.Profile.TLS.ClientHelloSpec(alpn)
	if err != nil {
		return nil, &TransportError{Op: "tls", Host: host, Cause: err, Category: ErrTLSHandshake}
	}

	cfg := &utls.Config{
		ServerName:         host,
		InsecureSkipVerify: t.opts.InsecureSkipVerify,
		RootCAs:            t.opts.RootCAs,
		ClientSessionCache: t.sessions.Scoped(key.Profile + "|" + key.Route),
		KeyLogWriter:       t.opts.KeyLogWriter,
	}
	uconn := utls.UClient(raw, cfg, utls.HelloCustom)
	if err := uconn.ApplyPreset(spec); err != nil {
		return nil, &TransportError{Op: "tls", Host: host, Cause: err, Category: ErrTLSHandshake}
	}
	if err := uconn.HandshakeContext(ctx); err != nil {
		return nil, wrapErr("tls", host, "", err, ErrTLSHandshake)
	}

	negotiated := uconn.ConnectionState().NegotiatedProtocol
	if req.Protocol == ProtocolHTTP2 && negotiated != "h2" {
		uconn.Close()
		return nil, &TransportError{Op: "tls", Host: host, Cause: fmt.Errorf("server negotiated %q, h2 required", negotiated), Category: ErrProtocol}
	}
	return uconn, nil
}
