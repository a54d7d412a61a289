package transport

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"

	"github.com/sardanioss/primp/pool"
)

// Conn is one open connection. It satisfies pool.Conn. Pooled connections
// hold no reference to the client or its cookie jar.
type Conn struct {
	key  pool.Key
	pool *pool.Manager

	raw   net.Conn
	tls   *utls.UConn // nil for plain http
	proto string      // "h1" or "h2"

	// HTTP/1.1
	br *bufio.Reader
	bw *bufio.Writer

	// HTTP/2
	h2     *http2.ClientConn
	framer *frameRewriter

	createdAt time.Time
	uses      atomic.Int64
	broken    atomic.Bool
	closeOnce sync.Once
}

// Proto returns the negotiated protocol, "h1" or "h2".
func (c *Conn) Proto() string { return c.proto }

// Key returns the pool key the connection was opened for.
func (c *Conn) Key() pool.Key { return c.key }

func (c *Conn) Multiplexed() bool { return c.proto == "h2" }

func (c *Conn) Healthy() bool {
	if c.broken.Load() {
		return false
	}
	if c.h2 != nil {
		return c.h2.CanTakeNewRequest()
	}
	return true
}

// Close closes the connection. An HTTP/2 connection is shut down gracefully
// so streams other requests still read from can finish.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.broken.Store(true)
		if c.h2 != nil {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if c.h2.Shutdown(ctx) != nil {
					c.h2.Close()
				}
			}()
			return
		}
		err = c.netConn().Close()
	})
	return err
}

func (c *Conn) netConn() net.Conn {
	if c.tls != nil {
		return c.tls
	}
	return c.raw
}

func (c *Conn) markUsed() {
	c.uses.Add(1)
}

// release hands the connection back to the pool, or closes it when reuse is
// false or the connection broke.
func (c *Conn) release(reuse bool) {
	if !reuse || c.broken.Load() {
		c.pool.Forget(c.key, c)
		c.Close()
		return
	}
	c.pool.Release(c.key, c)
}

// reused reports whether err hit a connection that came from the pool and
// died while idle, so the request can go out again on a fresh connection.
func (c *Conn) reused(err error) bool {
	return c.proto == "h1" && c.uses.Load() > 1 && errors.Is(err, ErrConnectionReset)
}
