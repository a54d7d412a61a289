package client

import (
	"bufio"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

var (
	gzipReaderPool = sync.Pool{
		New: func() any {
			return new(gzip.Reader)
		},
	}

	brotliReaderPool = sync.Pool{
		New: func() any {
			return brotli.NewReader(nil)
		},
	}

	// Concurrency 1 decodes synchronously in Read, so a pooled decoder
	// holds no goroutines.
	zstdDecoderPool = sync.Pool{
		New: func() any {
			dec, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderLowmem(true))
			return dec
		},
	}
)

// decoder is one Content-Encoding layer. release returns pooled state.
type decoder struct {
	r       io.Reader
	release func() error
}

func newDecoder(coding string, src io.Reader) (decoder, error) {
	switch coding {
	case "gzip", "x-gzip":
		gr := gzipReaderPool.Get().(*gzip.Reader)
		if err := gr.Reset(src); err != nil {
			gzipReaderPool.Put(gr)
			return decoder{}, err
		}
		return decoder{r: gr, release: func() error {
			err := gr.Close()
			gzipReaderPool.Put(gr)
			return err
		}}, nil

	case "br":
		br := brotliReaderPool.Get().(*brotli.Reader)
		if err := br.Reset(src); err != nil {
			brotliReaderPool.Put(br)
			return decoder{}, err
		}
		return decoder{r: br, release: func() error {
			brotliReaderPool.Put(br)
			return nil
		}}, nil

	case "zstd":
		dec := zstdDecoderPool.Get().(*zstd.Decoder)
		if err := dec.Reset(src); err != nil {
			zstdDecoderPool.Put(dec)
			return decoder{}, err
		}
		return decoder{r: dec, release: func() error {
			zstdDecoderPool.Put(dec)
			return nil
		}}, nil

	case "deflate":
		// servers send either zlib-wrapped or raw deflate under this name
		bsrc := bufio.NewReader(src)
		if head, err := bsrc.Peek(2); err == nil && isZlibHeader(head) {
			zr, err := zlib.NewReader(bsrc)
			if err != nil {
				return decoder{}, err
			}
			return decoder{r: zr, release: zr.Close}, nil
		}
		fr := flate.NewReader(bsrc)
		return decoder{r: fr, release: fr.Close}, nil
	}
	return decoder{r: src, release: func() error { return nil }}, nil
}

func isZlibHeader(h []byte) bool {
	return h[0]&0x0f == 8 && (uint16(h[0])<<8|uint16(h[1]))%31 == 0
}

// decodingBody decodes a response body according to its Content-Encoding
// list. Decoders are created on the first Read so a body that is never read
// costs nothing.
type decodingBody struct {
	src      io.ReadCloser
	codings  []string // in the order they were applied
	r        io.Reader
	decoders []decoder
	err      error
}

// newDecodingBody wraps body when contentEncoding names a coding this
// client decodes.
func newDecodingBody(body io.ReadCloser, contentEncoding string) io.ReadCloser {
	var codings []string
	for _, c := range strings.Split(contentEncoding, ",") {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" || c == "identity" {
			continue
		}
		codings = append(codings, c)
	}
	if len(codings) == 0 {
		return body
	}
	return &decodingBody{src: body, codings: codings}
}

func (b *decodingBody) Read(p []byte) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	if b.r == nil {
		var r io.Reader = b.src
		for i := len(b.codings) - 1; i >= 0; i-- {
			d, err := newDecoder(b.codings[i], r)
			if err != nil {
				b.err = err
				return 0, err
			}
			b.decoders = append(b.decoders, d)
			r = d.r
		}
		b.r = r
	}
	return b.r.Read(p)
}

func (b *decodingBody) Close() error {
	for i := len(b.decoders) - 1; i >= 0; i-- {
		b.decoders[i].release()
	}
	b.decoders = nil
	if b.err == nil {
		b.err = io.ErrClosedPipe
	}
	return b.src.Close()
}
