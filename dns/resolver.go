package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	mdns "github.com/miekg/dns"
	"golang.org/x/sync/errgroup"
)

// Resolver looks up the addresses of a host. ttl is the lifetime the answer
// may be cached for; zero means the resolver does not know.
type Resolver interface {
	LookupIP(ctx context.Context, host string) (ips []net.IP, ttl time.Duration, err error)
}

// SystemResolver uses the operating system resolver. It never reports a TTL.
type SystemResolver struct {
	Resolver *net.Resolver
}

func (r SystemResolver) LookupIP(ctx context.Context, host string) ([]net.IP, time.Duration, error) {
	res := r.Resolver
	if res == nil {
		res = net.DefaultResolver
	}
	addrs, err := res.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, 0, err
	}
	ips := make([]net.IP, len(addrs))
	for i, addr := range addrs {
		ips[i] = addr.IP
	}
	return ips, 0, nil
}

// NameserverResolver queries explicit nameservers directly. A and AAAA are
// asked in parallel; the first server that answers wins. The returned TTL is
// the smallest record TTL in the answer.
type NameserverResolver struct {
	Servers []string // "host:port"; port 53 is assumed when missing
	Timeout time.Duration
}

// NewNameserverResolver returns a resolver for the given servers.
func NewNameserverResolver(servers ...string) *NameserverResolver {
	out := make([]string, len(servers))
	for i, s := range servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		out[i] = s
	}
	return &NameserverResolver{Servers: out, Timeout: 5 * time.Second}
}

func (r *NameserverResolver) LookupIP(ctx context.Context, host string) ([]net.IP, time.Duration, error) {
	if len(r.Servers) == 0 {
		return nil, 0, errors.New("dns: no nameservers configured")
	}
	var lastErr error
	for _, server := range r.Servers {
		ips, ttl, err := r.lookupServer(ctx, server, host)
		if err == nil {
			return ips, ttl, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, 0, &net.DNSError{Err: lastErr.Error(), Name: host}
}

func (r *NameserverResolver) lookupServer(ctx context.Context, server, host string) ([]net.IP, time.Duration, error) {
	var v4, v6 []net.IP
	var ttl4, ttl6 uint32

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		v6, ttl6, err = r.query(gctx, server, host, mdns.TypeAAAA)
		return err
	})
	g.Go(func() error {
		var err error
		v4, ttl4, err = r.query(gctx, server, host, mdns.TypeA)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	ips := append(v6, v4...)
	if len(ips) == 0 {
		return nil, 0, fmt.Errorf("no A or AAAA records for %s", host)
	}
	ttl := ttl4
	if len(v4) == 0 || (len(v6) > 0 && ttl6 < ttl) {
		ttl = ttl6
	}
	return ips, time.Duration(ttl) * time.Second, nil
}

func (r *NameserverResolver) query(ctx context.Context, server, host string, qtype uint16) ([]net.IP, uint32, error) {
	msg := new(mdns.Msg)
	msg.SetQuestion(mdns.Fqdn(host), qtype)
	msg.RecursionDesired = true

	c := &mdns.Client{Timeout: r.Timeout}
	resp, _, err := c.ExchangeContext(ctx, msg, server)
	if err == nil && resp.Truncated {
		c.Net = "tcp"
		resp, _, err = c.ExchangeContext(ctx, msg, server)
	}
	if err != nil {
		return nil, 0, err
	}
	switch resp.Rcode {
	case mdns.RcodeSuccess:
	case mdns.RcodeNameError:
		return nil, 0, fmt.Errorf("%s: no such host", host)
	default:
		return nil, 0, fmt.Errorf("%s: server answered %s", host, mdns.RcodeToString[resp.Rcode])
	}

	var ips []net.IP
	var minTTL uint32
	for _, rr := range resp.Answer {
		var ip net.IP
		switch rec := rr.(type) {
		case *mdns.A:
			ip = rec.A
		case *mdns.AAAA:
			ip = rec.AAAA
		default:
			continue // CNAME chain
		}
		if ttl := rr.Header().Ttl; len(ips) == 0 || ttl < minTTL {
			minTTL = ttl
		}
		ips = append(ips, ip)
	}
	return ips, minTTL, nil
}
