package transport

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sardanioss/primp/fingerprint"
)

// aLongTimeAgo is a deadline that makes pending I/O fail immediately.
var aLongTimeAgo = time.Unix(1, 0)

func (c *Conn) initHTTP1() {
	c.br = bufio.NewReaderSize(c.netConn(), 4096)
	c.bw = bufio.NewWriterSize(c.netConn(), 4096)
}

func (t *Transport) sendHTTP1(ctx context.Context, c *Conn, req *Request) (*Response, error) {
	host := c.key.Host()
	conn := c.netConn()
	stop := context.AfterFunc(ctx, func() {
		c.broken.Store(true)
		conn.SetDeadline(aLongTimeAgo)
	})

	fail := func(op string, err error, fallback error) (*Response, error) {
		stop()
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		c.broken.Store(true)
		c.release(false)
		return nil, wrapErr(op, host, "h1", err, fallback)
	}

	if err := writeRequest(c.bw, req); err != nil {
		return fail("write", err, ErrConnectionReset)
	}

	resp, err := readResponse(c.br, req.Method)
	if err != nil {
		return fail("read", err, ErrProtocol)
	}

	body := &h1Body{
		rc:        resp.Body,
		c:         c,
		stop:      stop,
		keepAlive: !resp.Close && resp.ProtoAtLeast(1, 1) && !wantsClose(req.Headers),
	}
	out := &Response{
		StatusCode:    resp.StatusCode,
		Status:        resp.Status,
		Proto:         resp.Proto,
		Header:        resp.Header,
		ContentLength: resp.ContentLength,
		Body:          body,
	}
	if resp.Body == http.NoBody {
		body.finish(true)
		out.Body = http.NoBody
	}
	return out, nil
}

// writeRequest writes the request line, the planned headers in order and
// casing, and the body. Host is written first when the plan has none.
func writeRequest(w *bufio.Writer, req *Request) error {
	uri := req.URL.RequestURI()
	if uri == "" {
		uri = "/"
	}
	w.WriteString(req.Method)
	w.WriteByte(' ')
	w.WriteString(uri)
	w.WriteString(" HTTP/1.1\r\n")

	if !hasHeader(req.Headers, "host") {
		w.WriteString("Host: ")
		w.WriteString(req.URL.Host)
		w.WriteString("\r\n")
	}
	for _, h := range req.Headers {
		w.WriteString(h.Name)
		w.WriteString(": ")
		w.WriteString(h.Value)
		w.WriteString("\r\n")
	}
	w.WriteString("\r\n")
	w.Write(req.Body)
	return w.Flush()
}

// readResponse reads the final response head, skipping interim 1xx
// responses.
func readResponse(br *bufio.Reader, method string) (*http.Response, error) {
	for {
		resp, err := http.ReadResponse(br, &http.Request{Method: method})
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 100 && resp.StatusCode < 200 && resp.StatusCode != http.StatusSwitchingProtocols {
			continue
		}
		return resp, nil
	}
}

func hasHeader(headers []fingerprint.Header, name string) bool {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return true
		}
	}
	return false
}

func wantsClose(headers []fingerprint.Header) bool {
	for _, h := range headers {
		if strings.EqualFold(h.Name, "connection") && strings.EqualFold(strings.TrimSpace(h.Value), "close") {
			return true
		}
	}
	return false
}

// h1Body returns the connection to the pool once the body has been read to
// the end. Closing it early closes the connection instead of draining it.
type h1Body struct {
	rc        io.ReadCloser
	c         *Conn
	stop      func() bool
	keepAlive bool

	mu   sync.Mutex
	eof  bool
	once sync.Once
}

func (b *h1Body) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.eof {
		return 0, io.EOF
	}
	n, err := b.rc.Read(p)
	switch {
	case err == io.EOF:
		b.eof = true
		b.finish(true)
	case err != nil:
		err = wrapErr("read body", b.c.key.Host(), "h1", err, ErrProtocol)
		b.finish(false)
	}
	return n, err
}

func (b *h1Body) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finish(b.eof)
	return nil
}

func (b *h1Body) finish(complete bool) {
	b.once.Do(func() {
		stopped := b.stop()
		b.c.release(complete && stopped && b.keepAlive)
	})
}
