package client

import (
	"slices"
	"strings"
)

// CookiePair is a cookie name and value as sent in a Cookie header.
type CookiePair struct {
	Name  string
	Value string
}

// PlanInput collects every layer that contributes to a request's headers.
// Nil layers are skipped.
type PlanInput struct {
	// Defaults are the profile's browser headers.
	Defaults *OrderedHeaders
	// Explicit are the client's unordered baseline headers merged with the
	// request's plain headers.
	Explicit *OrderedHeaders
	// ClientOrdered and RequestOrdered are position-significant overrides.
	ClientOrdered  *OrderedHeaders
	RequestOrdered *OrderedHeaders

	// ContentLength is the body length computed by the encoder, or "" when
	// the request carries no length.
	ContentLength string
	// ContentType is the type computed by the encoder. It yields to a
	// user-supplied Content-Type.
	ContentType string

	// Cookies are the jar cookies for the URL merged with the per-request
	// cookies, in send order.
	Cookies      []CookiePair
	SplitCookies bool
}

// Plan builds the final header sequence for one request.
//
// Merge precedence, highest first: RequestOrdered, ClientOrdered, Explicit,
// Defaults. The highest ordered layer governs position; entries of lower
// layers that were not overridden follow in their own order.
//
// The output order is then fixed regardless of input order: Host,
// Content-Length, a computed Content-Type, the remaining headers, the
// cookie header(s), priority.
func Plan(in PlanInput) (*OrderedHeaders, error) {
	merged := mergeLayers(in)

	// Cookie headers supplied in any layer are folded into the cookie list.
	// Pairs from the jar and the request override them by name.
	var cookies []CookiePair
	for _, v := range merged.Values("cookie") {
		cookies = mergeCookiePairs(cookies, parseCookieHeader(v))
	}
	cookies = mergeCookiePairs(cookies, in.Cookies)

	out := &OrderedHeaders{entries: make([]HeaderEntry, 0, merged.Len()+len(cookies)+3)}

	if host, ok := merged.Lookup("host"); ok {
		out.Add(nameOf(merged, "host"), host)
	}
	if in.ContentLength != "" {
		out.Add("Content-Length", in.ContentLength)
	}
	autoType := in.ContentType != "" && !merged.Has("content-type")
	if autoType {
		out.Add("Content-Type", in.ContentType)
	}

	for _, e := range merged.entries {
		switch strings.ToLower(e.Name) {
		case "host", "cookie", "priority":
			continue
		case "content-length":
			// the encoder owns the length; a stale user value would desync the body
			continue
		}
		out.Add(e.Name, e.Value)
	}

	if len(cookies) > 0 {
		name := "cookie"
		if n := nameOf(merged, "cookie"); n != "" {
			name = n
		}
		if in.SplitCookies {
			for _, c := range cookies {
				out.Add(name, c.String())
			}
		} else {
			out.Add(name, joinCookies(cookies))
		}
	}

	if prio, ok := merged.Lookup("priority"); ok {
		out.Add(nameOf(merged, "priority"), prio)
	}

	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// Update applies partial to an already planned sequence. Existing names keep
// their position and take the new value; new names are appended ahead of the
// cookie and priority entries, which stay last. Cookie values in partial are
// merged pair by pair into the planned cookies, which stay split if they were.
func Update(existing, partial *OrderedHeaders) (*OrderedHeaders, error) {
	out := existing.Clone()
	var cookies []CookiePair
	for name, value := range partial.All() {
		switch {
		case strings.EqualFold(name, "cookie"):
			cookies = mergeCookiePairs(cookies, parseCookieHeader(value))
		case out.Has(name):
			out.Set(name, value)
		default:
			out.insertBeforeTail(name, value)
		}
	}
	if len(cookies) > 0 {
		out.mergeCookies(cookies)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// mergeCookies folds pairs into the cookie entries of h. More than one entry
// means split cookies, so the result is written one pair per entry; otherwise
// as one joined entry. Without cookie entries the block goes ahead of priority.
func (h *OrderedHeaders) mergeCookies(pairs []CookiePair) {
	name, at, count := "cookie", -1, 0
	var current []CookiePair
	kept := make([]HeaderEntry, 0, len(h.entries))
	for _, e := range h.entries {
		if !strings.EqualFold(e.Name, "cookie") {
			kept = append(kept, e)
			continue
		}
		if at < 0 {
			name, at = e.Name, len(kept)
		}
		count++
		current = append(current, parseCookieHeader(e.Value)...)
	}
	merged := mergeCookiePairs(current, pairs)

	var block []HeaderEntry
	if count > 1 {
		for _, c := range merged {
			block = append(block, HeaderEntry{Name: name, Value: c.String()})
		}
	} else {
		block = []HeaderEntry{{Name: name, Value: joinCookies(merged)}}
	}
	if at < 0 {
		at = len(kept)
		if at > 0 && strings.EqualFold(kept[at-1].Name, "priority") {
			at--
		}
	}
	h.entries = slices.Concat(kept[:at], block, kept[at:])
}

// insertBeforeTail inserts ahead of the trailing run of cookie and priority
// entries.
func (h *OrderedHeaders) insertBeforeTail(name, value string) {
	i := len(h.entries)
	for i > 0 && isTailHeader(h.entries[i-1].Name) {
		i--
	}
	h.entries = append(h.entries, HeaderEntry{})
	copy(h.entries[i+1:], h.entries[i:])
	h.entries[i] = HeaderEntry{Name: name, Value: value}
}

func isTailHeader(name string) bool {
	return strings.EqualFold(name, "cookie") || strings.EqualFold(name, "priority")
}

func mergeLayers(in PlanInput) *OrderedHeaders {
	base := in.Defaults.Clone().Update(in.Explicit)
	if in.ClientOrdered.Len() == 0 && in.RequestOrdered.Len() == 0 {
		return base
	}
	merged := in.RequestOrdered.Clone()
	for _, layer := range []*OrderedHeaders{in.ClientOrdered, base} {
		for name, value := range layer.All() {
			if !merged.Has(name) {
				merged.Add(name, value)
			}
		}
	}
	return merged
}

// nameOf returns the stored casing of name in h.
func nameOf(h *OrderedHeaders, name string) string {
	for _, e := range h.entries {
		if strings.EqualFold(e.Name, name) {
			return e.Name
		}
	}
	return ""
}

// parseCookieHeader splits "a=1; b=2" into pairs. Pieces without '=' are
// kept with an empty name so they round-trip unchanged.
func parseCookieHeader(v string) []CookiePair {
	var out []CookiePair
	for _, part := range strings.Split(v, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			out = append(out, CookiePair{Value: part})
			continue
		}
		out = append(out, CookiePair{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	}
	return out
}

// mergeCookiePairs overlays add on base: a known name takes the new value in
// place, a new name is appended.
func mergeCookiePairs(base, add []CookiePair) []CookiePair {
	for _, c := range add {
		replaced := false
		if c.Name != "" {
			for i := range base {
				if base[i].Name == c.Name {
					base[i].Value = c.Value
					replaced = true
					break
				}
			}
		}
		if !replaced {
			base = append(base, c)
		}
	}
	return base
}

func joinCookies(cookies []CookiePair) string {
	var b strings.Builder
	for i, c := range cookies {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(c.String())
	}
	return b.String()
}

func (c CookiePair) String() string {
	if c.Name == "" {
		return c.Value
	}
	return c.Name + "=" + c.Value
}
