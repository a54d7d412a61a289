package client

import (
	"fmt"
	"iter"
	"net/http"
	"strings"

	"golang.org/x/net/http/httpguts"
	"gopkg.in/yaml.v3"

	"github.com/sardanioss/primp/fingerprint"
)

// HeaderEntry is a single header with its original casing. It is the
// transport's header type, so a planned set is handed over without copying
// into another representation.
type HeaderEntry = fingerprint.Header

// OrderedHeaders is an ordered header set with case-insensitive names.
//
// Set keeps a name's position when it already exists, so a captured browser
// order survives value changes. Add allows repeated names; the planner uses it
// for split cookie headers.
//
// OrderedHeaders is not safe for concurrent use. Clients store them behind an
// immutable snapshot and clone before mutating.
type OrderedHeaders struct {
	entries []HeaderEntry
}

// NewOrderedHeaders builds a set from name/value pairs:
//
//	client.NewOrderedHeaders("User-Agent", "x", "Accept", "*/*")
//
// A trailing name without a value is ignored.
func NewOrderedHeaders(kv ...string) *OrderedHeaders {
	h := &OrderedHeaders{entries: make([]HeaderEntry, 0, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

// HeadersFromMap builds a set from a map. Map iteration order is random, so
// the resulting order is sorted by name for determinism.
func HeadersFromMap(m map[string]string) *OrderedHeaders {
	h := &OrderedHeaders{entries: make([]HeaderEntry, 0, len(m))}
	for _, k := range sortedKeys(m) {
		h.Set(k, m[k])
	}
	return h
}

func headersFromProfile(hs []fingerprint.Header) *OrderedHeaders {
	h := &OrderedHeaders{entries: make([]HeaderEntry, 0, len(hs))}
	for _, e := range hs {
		h.Set(e.Name, e.Value)
	}
	return h
}

// Set replaces the value of the first entry named name (case-insensitively)
// in place and removes later duplicates. The stored casing is kept. A new
// name is appended.
func (h *OrderedHeaders) Set(name, value string) {
	found := false
	out := h.entries[:0]
	for _, e := range h.entries {
		if strings.EqualFold(e.Name, name) {
			if found {
				continue
			}
			e.Value = value
			found = true
		}
		out = append(out, e)
	}
	if !found {
		out = append(out, HeaderEntry{Name: name, Value: value})
	}
	h.entries = out
}

// Add appends an entry even if the name already exists.
func (h *OrderedHeaders) Add(name, value string) {
	h.entries = append(h.entries, HeaderEntry{Name: name, Value: value})
}

// Get returns the value of the first entry named name, or "".
func (h *OrderedHeaders) Get(name string) string {
	v, _ := h.Lookup(name)
	return v
}

// Lookup returns the value of the first entry named name.
func (h *OrderedHeaders) Lookup(name string) (string, bool) {
	if h == nil {
		return "", false
	}
	for _, e := range h.entries {
		if strings.EqualFold(e.Name, name) {
			return e.Value, true
		}
	}
	return "", false
}

// Values returns the values of every entry named name, in order.
func (h *OrderedHeaders) Values(name string) []string {
	if h == nil {
		return nil
	}
	var out []string
	for _, e := range h.entries {
		if strings.EqualFold(e.Name, name) {
			out = append(out, e.Value)
		}
	}
	return out
}

// Has reports whether an entry named name exists.
func (h *OrderedHeaders) Has(name string) bool {
	_, ok := h.Lookup(name)
	return ok
}

// Del removes every entry named name.
func (h *OrderedHeaders) Del(name string) {
	out := h.entries[:0]
	for _, e := range h.entries {
		if !strings.EqualFold(e.Name, name) {
			out = append(out, e)
		}
	}
	h.entries = out
}

// Len returns the number of entries, duplicates included.
func (h *OrderedHeaders) Len() int {
	if h == nil {
		return 0
	}
	return len(h.entries)
}

// Update sets every entry of partial on h: known names keep their position,
// new names are appended in partial's order.
func (h *OrderedHeaders) Update(partial *OrderedHeaders) *OrderedHeaders {
	if partial == nil {
		return h
	}
	for _, e := range partial.entries {
		h.Set(e.Name, e.Value)
	}
	return h
}

// Clone returns a deep copy. Cloning nil yields an empty set.
func (h *OrderedHeaders) Clone() *OrderedHeaders {
	if h == nil {
		return &OrderedHeaders{}
	}
	c := &OrderedHeaders{entries: make([]HeaderEntry, len(h.entries))}
	copy(c.entries, h.entries)
	return c
}

// Entries returns a copy of the entries in order.
func (h *OrderedHeaders) Entries() []HeaderEntry {
	if h == nil {
		return nil
	}
	out := make([]HeaderEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// All iterates the entries in order.
func (h *OrderedHeaders) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		if h == nil {
			return
		}
		for _, e := range h.entries {
			if !yield(e.Name, e.Value) {
				return
			}
		}
	}
}

// Header converts to an http.Header. Order and casing are lost.
func (h *OrderedHeaders) Header() http.Header {
	out := make(http.Header, h.Len())
	for name, value := range h.All() {
		out.Add(name, value)
	}
	return out
}

// Validate checks every entry against HTTP field syntax.
func (h *OrderedHeaders) Validate() error {
	for name, value := range h.All() {
		if err := validateHeader(name, value); err != nil {
			return err
		}
	}
	return nil
}

func validateHeader(name, value string) error {
	if !httpguts.ValidHeaderFieldName(name) {
		return &HeaderValueError{Name: name, Value: value, Reason: "illegal character in header name"}
	}
	if strings.ContainsAny(value, "\r\n") {
		return &HeaderValueError{Name: name, Value: value, Reason: "header value contains CR or LF"}
	}
	if !httpguts.ValidHeaderFieldValue(value) {
		return &HeaderValueError{Name: name, Value: value, Reason: "illegal character in header value"}
	}
	return nil
}

// UnmarshalYAML reads a mapping and keeps its key order:
//
//	ordered_headers:
//	  User-Agent: primp
//	  Accept: "*/*"
func (h *OrderedHeaders) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: ordered headers must be a mapping", node.Line)
	}
	h.entries = h.entries[:0]
	for i := 0; i+1 < len(node.Content); i += 2 {
		var name, value string
		if err := node.Content[i].Decode(&name); err != nil {
			return err
		}
		if err := node.Content[i+1].Decode(&value); err != nil {
			return err
		}
		h.Set(name, value)
	}
	return nil
}
