package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/dunglas/httpsfv"
	"github.com/google/uuid"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/sardanioss/primp/fingerprint"
)

// planHeader carries the token under which a request's header plan is
// stored until its HEADERS frame is rewritten. It never reaches the wire.
const planHeader = "x-primp-plan"

// HTTP/2 frame types
const (
	frameTypeHeaders      = 0x1
	frameTypeSettings     = 0x4
	frameTypeWindowUpdate = 0x8
	frameTypeContinuation = 0x9
)

// HTTP/2 frame flags
const (
	flagEndStream  = 0x1
	flagAck        = 0x1
	flagEndHeaders = 0x4
	flagPadded     = 0x8
	flagPriority   = 0x20
)

const (
	frameHeaderLen     = 9
	defaultMaxFrameLen = 16384
	defaultTableSize   = 4096
)

var clientPreface = []byte(http2.ClientPreface)

// h2Transport returns the x/net transport configured for spec's flow
// control and table sizes, so the limits it enforces match what the
// rewritten SETTINGS frame advertises. Transports are cached per profile.
func (t *Transport) h2Transport(profile *fingerprint.Profile) (*http2.Transport, error) {
	if v, ok := t.h2transports.Load(profile.ID()); ok {
		return v.(*http2.Transport), nil
	}

	spec := &profile.HTTP2
	cfg := &http.HTTP2Config{
		MaxDecoderHeaderTableSize:     defaultTableSize,
		MaxReceiveBufferPerConnection: 65535,
	}
	if v, ok := spec.Setting(fingerprint.SettingHeaderTableSize); ok && v > 0 {
		cfg.MaxDecoderHeaderTableSize = int(v)
	}
	if v, ok := spec.Setting(fingerprint.SettingInitialWindowSize); ok && v > 0 {
		cfg.MaxReceiveBufferPerStream = int(v)
	}
	if v, ok := spec.Setting(fingerprint.SettingMaxFrameSize); ok {
		cfg.MaxReadFrameSize = int(v)
	}
	if spec.WindowUpdate > 0 {
		cfg.MaxReceiveBufferPerConnection = int(spec.WindowUpdate)
	}

	t1 := &http.Transport{DisableCompression: true, HTTP2: cfg}
	t2, err := http2.ConfigureTransports(t1)
	if err != nil {
		return nil, err
	}
	if v, ok := spec.Setting(fingerprint.SettingMaxHeaderListSize); ok {
		t2.MaxHeaderListSize = v
	}
	v, _ := t.h2transports.LoadOrStore(profile.ID(), t2)
	return v.(*http2.Transport), nil
}

// setupHTTP2 puts c into HTTP/2 mode. The x/net client connection writes
// through a frameRewriter that replaces its preface frames and HEADERS
// blocks with the profile's.
func (t *Transport) setupHTTP2(c *Conn, profile *fingerprint.Profile) error {
	t2, err := t.h2Transport(profile)
	if err != nil {
		return err
	}
	c.framer = newFrameRewriter(c.tls, &profile.HTTP2)
	cc, err := t2.NewClientConn(c.framer)
	if err != nil {
		return err
	}
	c.h2 = cc
	c.proto = "h2"
	return nil
}

func (t *Transport) sendHTTP2(ctx context.Context, c *Conn, req *Request) (*Response, error) {
	host := c.key.Host()

	token := uuid.NewString()
	c.framer.plans.Store(token, req.Headers)
	defer c.framer.plans.Delete(token)

	hreq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), nil)
	if err != nil {
		return nil, &TransportError{Op: "roundtrip", Host: host, Protocol: "h2", Cause: err, Category: ErrProtocol}
	}
	if len(req.Body) > 0 {
		hreq.Body = readCloser{bytes.NewReader(req.Body)}
		hreq.ContentLength = int64(len(req.Body))
	}
	hreq.Header = http.Header{planHeader: {token}}
	for _, h := range req.Headers {
		if strings.EqualFold(h.Name, "host") {
			hreq.Host = h.Value
		}
	}

	resp, err := c.h2.RoundTrip(hreq)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		c.release(c.Healthy())
		return nil, wrapErr("roundtrip", host, "h2", err, ErrProtocol)
	}
	// the connection is shared; it goes back as soon as the stream is open
	c.release(true)

	return &Response{
		StatusCode:    resp.StatusCode,
		Status:        resp.Status,
		Proto:         resp.Proto,
		Header:        resp.Header,
		ContentLength: resp.ContentLength,
		Body:          resp.Body,
	}, nil
}

type readCloser struct{ *bytes.Reader }

func (readCloser) Close() error { return nil }

// frameRewriter wraps the TLS connection under an x/net ClientConn and
// rewrites outgoing frames:
//
//   - the first SETTINGS frame carries the profile's settings in profile order
//   - the first connection WINDOW_UPDATE carries the profile's increment, or
//     is dropped when the profile sends none
//   - every HEADERS block is re-encoded with the profile's pseudo-header
//     order, the request's planned header order, and the profile's priority
//
// All header blocks pass through the rewriter's own HPACK encoder, so the
// peer's decoder state stays consistent.
type frameRewriter struct {
	net.Conn
	spec  *fingerprint.HTTP2Spec
	plans sync.Map // token -> []fingerprint.Header

	mu            sync.Mutex
	buf           bytes.Buffer
	wrotePreface  bool
	wroteSettings bool
	wroteWindow   bool

	// pending collects a header block split across CONTINUATION frames.
	pending       []byte
	pendingStream uint32
	pendingFlags  byte

	dec    *hpack.Decoder
	enc    *hpack.Encoder
	encBuf bytes.Buffer
}

func newFrameRewriter(conn net.Conn, spec *fingerprint.HTTP2Spec) *frameRewriter {
	f := &frameRewriter{Conn: conn, spec: spec}
	f.dec = hpack.NewDecoder(65536, nil)
	f.enc = hpack.NewEncoder(&f.encBuf)
	return f
}

// Write reports len(p) once p has been consumed. Incomplete frames stay
// buffered until the rest arrives.
func (f *frameRewriter) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.buf.Write(p)
	if err := f.flush(); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (f *frameRewriter) flush() error {
	for f.buf.Len() > 0 {
		data := f.buf.Bytes()

		if !f.wrotePreface {
			if len(data) < len(clientPreface) {
				return nil
			}
			if !bytes.Equal(data[:len(clientPreface)], clientPreface) {
				return errors.New("http2: missing client preface")
			}
			if _, err := f.Conn.Write(clientPreface); err != nil {
				return err
			}
			f.buf.Next(len(clientPreface))
			f.wrotePreface = true
			continue
		}

		if len(data) < frameHeaderLen {
			return nil
		}
		length := int(data[0])<<16 | int(data[1])<<8 | int(data[2])
		frameLen := frameHeaderLen + length
		if len(data) < frameLen {
			return nil
		}
		frameType := data[3]
		flags := data[4]
		streamID := binary.BigEndian.Uint32(data[5:9]) & 0x7fffffff
		payload := data[frameHeaderLen:frameLen]

		var out []byte
		switch {
		case frameType == frameTypeSettings && !f.wroteSettings && flags&flagAck == 0:
			f.wroteSettings = true
			out = f.settingsFrame()
		case frameType == frameTypeWindowUpdate && streamID == 0 && !f.wroteWindow:
			f.wroteWindow = true
			out = f.windowUpdateFrame()
		case frameType == frameTypeHeaders:
			block, err := headerBlock(flags, payload)
			if err != nil {
				return err
			}
			if flags&flagEndHeaders == 0 {
				f.pending = append(f.pending[:0], block...)
				f.pendingStream = streamID
				f.pendingFlags = flags
				f.buf.Next(frameLen)
				continue
			}
			if out, err = f.headersFrames(streamID, flags, block); err != nil {
				return err
			}
		case frameType == frameTypeContinuation && f.pendingStream == streamID && f.pendingStream != 0:
			f.pending = append(f.pending, payload...)
			if flags&flagEndHeaders == 0 {
				f.buf.Next(frameLen)
				continue
			}
			var err error
			if out, err = f.headersFrames(streamID, f.pendingFlags, f.pending); err != nil {
				return err
			}
			f.pendingStream = 0
		default:
			out = data[:frameLen]
		}

		if len(out) > 0 {
			if _, err := f.Conn.Write(out); err != nil {
				return err
			}
		}
		f.buf.Next(frameLen)
	}
	return nil
}

// headerBlock strips padding and priority fields from a HEADERS payload.
func headerBlock(flags byte, payload []byte) ([]byte, error) {
	pad := 0
	if flags&flagPadded != 0 {
		if len(payload) < 1 {
			return nil, errors.New("http2: short padded HEADERS frame")
		}
		pad = int(payload[0])
		payload = payload[1:]
	}
	if flags&flagPriority != 0 {
		if len(payload) < 5 {
			return nil, errors.New("http2: short HEADERS priority")
		}
		payload = payload[5:]
	}
	if pad > len(payload) {
		return nil, errors.New("http2: padding exceeds HEADERS payload")
	}
	return payload[:len(payload)-pad], nil
}

func (f *frameRewriter) settingsFrame() []byte {
	frame := make([]byte, frameHeaderLen, frameHeaderLen+6*len(f.spec.Settings))
	for _, s := range f.spec.Settings {
		frame = binary.BigEndian.AppendUint16(frame, s.ID)
		frame = binary.BigEndian.AppendUint32(frame, s.Val)
	}
	putFrameHeader(frame, len(frame)-frameHeaderLen, frameTypeSettings, 0, 0)
	return frame
}

// windowUpdateFrame returns nil when the profile sends no connection
// WINDOW_UPDATE.
func (f *frameRewriter) windowUpdateFrame() []byte {
	if f.spec.WindowUpdate == 0 {
		return nil
	}
	frame := make([]byte, frameHeaderLen+4)
	putFrameHeader(frame, 4, frameTypeWindowUpdate, 0, 0)
	binary.BigEndian.PutUint32(frame[frameHeaderLen:], f.spec.WindowUpdate&0x7fffffff)
	return frame
}

// headersFrames decodes block and re-encodes it as a HEADERS frame plus
// CONTINUATION frames when the block is larger than one frame.
func (f *frameRewriter) headersFrames(streamID uint32, flags byte, block []byte) ([]byte, error) {
	fields, err := f.dec.DecodeFull(block)
	if err != nil {
		return nil, fmt.Errorf("http2: decode header block: %w", err)
	}

	pseudo := make(map[string]hpack.HeaderField)
	isRequest := false
	var regular []hpack.HeaderField
	var token string
	for _, hf := range fields {
		switch {
		case strings.HasPrefix(hf.Name, ":"):
			pseudo[hf.Name] = hf
			isRequest = true
		case hf.Name == planHeader:
			token = hf.Value
		default:
			regular = append(regular, hf)
		}
	}
	if token != "" {
		if v, ok := f.plans.Load(token); ok {
			regular = planFields(v.([]fingerprint.Header))
		}
	}

	f.encBuf.Reset()
	for _, name := range f.spec.PseudoOrder {
		if hf, ok := pseudo[name]; ok {
			f.enc.WriteField(hf)
			delete(pseudo, name)
		}
	}
	// pseudo-headers the profile does not order, e.g. :protocol
	rest := make([]string, 0, len(pseudo))
	for name := range pseudo {
		rest = append(rest, name)
	}
	slices.Sort(rest)
	for _, name := range rest {
		f.enc.WriteField(pseudo[name])
	}
	for _, hf := range regular {
		f.enc.WriteField(hf)
	}
	encoded := f.encBuf.Bytes()

	var prio []byte
	if p := f.spec.Priority; p != nil && isRequest {
		weight := p.Weight
		if f.spec.PriorityFromHeader {
			if w, ok := urgencyWeight(regular); ok {
				weight = w
			}
		}
		prio = priorityField(p, weight)
	}

	return splitHeaders(streamID, flags&flagEndStream, prio, encoded), nil
}

// connection-specific headers are not allowed in HTTP/2
var h2Forbidden = map[string]bool{
	"host":              true,
	"connection":        true,
	"keep-alive":        true,
	"proxy-connection":  true,
	"transfer-encoding": true,
	"upgrade":           true,
}

// planFields lowercases the planned headers for HTTP/2 and drops the ones
// the protocol forbids. Host travels in :authority.
func planFields(plan []fingerprint.Header) []hpack.HeaderField {
	out := make([]hpack.HeaderField, 0, len(plan))
	for _, h := range plan {
		name := strings.ToLower(h.Name)
		if h2Forbidden[name] || (name == "te" && h.Value != "trailers") {
			continue
		}
		out = append(out, hpack.HeaderField{Name: name, Value: h.Value})
	}
	return out
}

// urgencyWeight maps the urgency of a "priority" header (RFC 9218) to the
// HTTP/2 weight Chromium sends with it.
func urgencyWeight(fields []hpack.HeaderField) (uint16, bool) {
	for _, hf := range fields {
		if hf.Name != "priority" {
			continue
		}
		dict, err := httpsfv.UnmarshalDictionary([]string{hf.Value})
		if err != nil {
			return 0, false
		}
		m, ok := dict.Get("u")
		if !ok {
			return 0, false
		}
		item, ok := m.(httpsfv.Item)
		if !ok {
			return 0, false
		}
		u, ok := item.Value.(int64)
		if !ok || u < 0 || u > 7 {
			return 0, false
		}
		return uint16(255.9/7*float64(7-u)) + 1, true
	}
	return 0, false
}

func priorityField(p *fingerprint.Priority, weight uint16) []byte {
	b := make([]byte, 5)
	dep := p.StreamDep & 0x7fffffff
	if p.Exclusive {
		dep |= 0x80000000
	}
	binary.BigEndian.PutUint32(b, dep)
	if weight == 0 {
		weight = 16
	}
	b[4] = byte(weight - 1)
	return b
}

func splitHeaders(streamID uint32, endStream byte, prio, block []byte) []byte {
	first := defaultMaxFrameLen - len(prio)
	if first > len(block) {
		first = len(block)
	}
	flags := endStream
	if prio != nil {
		flags |= flagPriority
	}
	if first == len(block) {
		flags |= flagEndHeaders
	}

	out := make([]byte, frameHeaderLen, frameHeaderLen+len(prio)+len(block)+frameHeaderLen*(len(block)/defaultMaxFrameLen+1))
	putFrameHeader(out, len(prio)+first, frameTypeHeaders, flags, streamID)
	out = append(out, prio...)
	out = append(out, block[:first]...)

	for rest := block[first:]; len(rest) > 0; {
		n := min(len(rest), defaultMaxFrameLen)
		var fl byte
		if n == len(rest) {
			fl = flagEndHeaders
		}
		hdr := make([]byte, frameHeaderLen)
		putFrameHeader(hdr, n, frameTypeContinuation, fl, streamID)
		out = append(out, hdr...)
		out = append(out, rest[:n]...)
		rest = rest[n:]
	}
	return out
}

func putFrameHeader(b []byte, length int, typ, flags byte, streamID uint32) {
	b[0] = byte(length >> 16)
	b[1] = byte(length >> 8)
	b[2] = byte(length)
	b[3] = typ
	b[4] = flags
	binary.BigEndian.PutUint32(b[5:9], streamID&0x7fffffff)
}
