package client

import (
	"context"
	"encoding/json"
	"io"
	"iter"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/text/encoding/htmlindex"
)

// streamChunkSize is the size of the chunks yielded by Stream.
const streamChunkSize = 8 << 10

// Response is a received response. Its body is decoded (gzip, deflate, br,
// zstd) and readable once: buffered through Bytes, Text and JSON, or
// chunked through Stream.
type Response struct {
	StatusCode int
	Status     string
	Proto      string
	Header     http.Header
	// Cookies are the cookies set by this response, by name.
	Cookies map[string]string
	// URL is the final URL after redirects.
	URL *url.URL
	// Encoding is the charset used by Text. It defaults to the Content-Type
	// charset, or utf-8, and may be overwritten.
	Encoding string
	// Attempts is the number of attempts the final hop took.
	Attempts int

	mu       sync.Mutex
	body     io.ReadCloser
	cancel   context.CancelFunc
	content  []byte
	buffered bool
	streamed bool
	err      error
}

func newResponse(status int, statusText, proto string, header http.Header, body io.ReadCloser, u *url.URL) *Response {
	r := &Response{
		StatusCode: status,
		Status:     statusText,
		Proto:      proto,
		Header:     header,
		URL:        u,
		Encoding:   charsetOf(header.Get("Content-Type")),
		body:       newDecodingBody(body, header.Get("Content-Encoding")),
	}
	return r
}

// charsetOf returns the charset parameter of a Content-Type, or "utf-8".
func charsetOf(contentType string) string {
	if contentType == "" {
		return "utf-8"
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil || params["charset"] == "" {
		return "utf-8"
	}
	return strings.ToLower(params["charset"])
}

// Bytes reads and returns the whole body. Later calls return the same
// bytes.
func (r *Response) Bytes() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bufferLocked()
}

func (r *Response) bufferLocked() ([]byte, error) {
	if r.buffered {
		return r.content, r.err
	}
	if r.streamed {
		return nil, ErrStreamConsumed
	}
	r.buffered = true
	r.content, r.err = io.ReadAll(r.body)
	r.closeLocked()
	return r.content, r.err
}

// Text decodes the body with Encoding. An unknown encoding falls back to
// the raw bytes.
func (r *Response) Text() (string, error) {
	b, err := r.Bytes()
	if err != nil {
		return "", err
	}
	enc, lookupErr := htmlindex.Get(r.Encoding)
	if lookupErr != nil {
		return string(b), nil
	}
	decoded, decErr := enc.NewDecoder().Bytes(b)
	if decErr != nil {
		return string(b), nil
	}
	return string(decoded), nil
}

// JSON unmarshals the body into v.
func (r *Response) JSON(v any) error {
	b, err := r.Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// Stream yields the body in chunks as it arrives. The sequence can be
// ranged over once; it fails with ErrStreamConsumed when the body was
// already streamed or buffered. Stopping early closes the body.
func (r *Response) Stream() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		r.mu.Lock()
		if r.streamed || r.buffered {
			r.mu.Unlock()
			yield(nil, ErrStreamConsumed)
			return
		}
		r.streamed = true
		r.mu.Unlock()
		defer r.Close()

		buf := make([]byte, streamChunkSize)
		for {
			n, err := r.body.Read(buf)
			if n > 0 {
				if !yield(append([]byte(nil), buf[:n]...), nil) {
					return
				}
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

// Close releases the body and the request's timeout. A body that was not
// read to the end takes its connection with it.
func (r *Response) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *Response) closeLocked() error {
	var err error
	if r.body != nil {
		err = r.body.Close()
		r.body = http.NoBody
	}
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	return err
}

// drain reads a little of an unwanted body so a short HTTP/1.1 response
// keeps its connection, then closes it.
func drain(body io.ReadCloser) {
	io.CopyN(io.Discard, body, 2<<10)
	body.Close()
}
