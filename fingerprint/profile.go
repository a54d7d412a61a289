package fingerprint

import (
	"strconv"
	"strings"
)

// HTTP/2 SETTINGS identifiers used by browser profiles.
const (
	SettingHeaderTableSize      uint16 = 0x1
	SettingEnablePush           uint16 = 0x2
	SettingMaxConcurrentStreams uint16 = 0x3
	SettingInitialWindowSize    uint16 = 0x4
	SettingMaxFrameSize         uint16 = 0x5
	SettingMaxHeaderListSize    uint16 = 0x6
	SettingEnableConnectProto   uint16 = 0x8
	SettingNoRFC7540Priorities  uint16 = 0x9
)

// Setting is one HTTP/2 SETTINGS parameter. Profiles keep them as an ordered
// slice because the order is part of the fingerprint.
type Setting struct {
	ID  uint16
	Val uint32
}

// Priority is the stream dependency block a browser attaches to HEADERS frames.
type Priority struct {
	Weight    uint16 // 1-256
	StreamDep uint32
	Exclusive bool
}

// TLSSpec describes the ClientHello a browser sends. The list fields are in
// wire order. GREASE values are not stored; GREASE says whether the browser
// injects them.
type TLSSpec struct {
	Version             uint16
	MinVersion          uint16
	CipherSuites        []uint16
	Extensions          []uint16
	Curves              []uint16
	PointFormats        []uint8
	SignatureAlgorithms []uint16
	// DelegatedCredentials lists the schemes offered in extension 34.
	DelegatedCredentials []uint16
	// KeyShares lists the groups that get a key share. Empty means the
	// first curve only.
	KeyShares         []uint16
	ALPN              []string
	CertCompression   []uint16
	ALPSCodepoint     uint16 // 17513, 17613 or 0
	GREASE            bool
	PermuteExtensions bool
	RecordSizeLimit   uint16
}

// HTTP2Spec describes the HTTP/2 connection preface and HEADERS shape.
type HTTP2Spec struct {
	Settings     []Setting
	WindowUpdate uint32
	// PseudoOrder is the pseudo-header order, e.g. [":method", ":authority", ":scheme", ":path"].
	PseudoOrder []string
	// Priority is sent on every HEADERS frame when non-nil.
	Priority *Priority
	// PriorityFromHeader derives the HEADERS weight from the request's
	// "priority: u=N" header instead of using Priority.Weight.
	PriorityFromHeader bool
}

// Header is a default header in browser order with browser casing.
type Header struct {
	Name  string
	Value string
}

// Profile is one resolved browser/version/OS identity. Profiles returned by
// the registry are shared and must be treated as read-only.
type Profile struct {
	Browser string
	Version string
	OS      string
	TLS     TLSSpec
	HTTP2   HTTP2Spec
	Headers []Header
}

// Name returns the registry key of the browser, e.g. "chrome_133".
func (p *Profile) Name() string {
	return p.Browser + "_" + p.Version
}

// ID identifies the profile for connection pooling, e.g. "chrome_133/windows".
func (p *Profile) ID() string {
	return p.Name() + "/" + p.OS
}

func (p *Profile) String() string {
	return p.ID()
}

// DefaultHeaders returns a copy of the profile's default header sequence.
func (p *Profile) DefaultHeaders() []Header {
	out := make([]Header, len(p.Headers))
	copy(out, p.Headers)
	return out
}

// UserAgent returns the default user-agent value, or "" if the profile has none.
func (p *Profile) UserAgent() string {
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, "user-agent") {
			return h.Value
		}
	}
	return ""
}

// Setting returns the value of an HTTP/2 setting and whether the profile sends it.
func (s *HTTP2Spec) Setting(id uint16) (uint32, bool) {
	for _, st := range s.Settings {
		if st.ID == id {
			return st.Val, true
		}
	}
	return 0, false
}

// JA3 renders the TLS fingerprint in JA3 string form (GREASE excluded).
func (p *Profile) JA3() string {
	return p.TLS.JA3()
}

// JA3 renders s as "version,ciphers,extensions,curves,points".
func (s *TLSSpec) JA3() string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(int(s.Version)))
	b.WriteByte(',')
	joinUint16(&b, s.CipherSuites)
	b.WriteByte(',')
	joinUint16(&b, s.Extensions)
	b.WriteByte(',')
	joinUint16(&b, s.Curves)
	b.WriteByte(',')
	for i, pf := range s.PointFormats {
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteString(strconv.Itoa(int(pf)))
	}
	return b.String()
}

// Akamai renders the HTTP/2 fingerprint as "SETTINGS|WINDOW_UPDATE|PRIORITY|PSEUDO_HEADER_ORDER".
func (p *Profile) Akamai() string {
	return p.HTTP2.Akamai()
}

// Akamai renders s in Akamai form. The PRIORITY field is always "0"
// since profiles never send standalone PRIORITY frames.
func (s *HTTP2Spec) Akamai() string {
	var b strings.Builder
	for i, st := range s.Settings {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(strconv.Itoa(int(st.ID)))
		b.WriteByte(':')
		b.WriteString(strconv.FormatUint(uint64(st.Val), 10))
	}
	b.WriteByte('|')
	b.WriteString(strconv.FormatUint(uint64(s.WindowUpdate), 10))
	b.WriteString("|0|")
	for i, ph := range s.PseudoOrder {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strings.TrimPrefix(ph, ":")[:1])
	}
	return b.String()
}

func joinUint16(b *strings.Builder, vals []uint16) {
	for i, v := range vals {
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteString(strconv.Itoa(int(v)))
	}
}
