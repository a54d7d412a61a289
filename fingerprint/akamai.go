package fingerprint

import (
	"fmt"
	"strconv"
	"strings"
)

var pseudoHeaderNames = map[string]string{
	"m": ":method",
	"a": ":authority",
	"s": ":scheme",
	"p": ":path",
}

// ParseAkamai parses an Akamai HTTP/2 fingerprint string into an HTTP2Spec.
//
// Format: SETTINGS|WINDOW_UPDATE|PRIORITY|PSEUDO_HEADER_ORDER
//
// SETTINGS: semicolon-separated "id:value" pairs (e.g., "1:65536;3:1000;4:6291456")
// WINDOW_UPDATE: connection-level window update value
// PRIORITY: "weight" or "0" (stream weight; 0 means default/not sent)
// PSEUDO_HEADER_ORDER: comma-separated single-char pseudo-header identifiers
//
//	m = :method, a = :authority, s = :scheme, p = :path
//
// Example (Chrome): "1:65536;2:0;4:6291456;6:262144|15663105|0|m,a,s,p"
//
// Settings keep their order. Unknown setting ids are kept as-is.
func ParseAkamai(akamai string) (*HTTP2Spec, error) {
	parts := strings.Split(akamai, "|")
	if len(parts) != 4 {
		return nil, fmt.Errorf("akamai: expected 4 pipe-separated fields, got %d", len(parts))
	}

	spec := &HTTP2Spec{}

	if parts[0] != "" {
		for _, pair := range strings.Split(parts[0], ";") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			kv := strings.SplitN(pair, ":", 2)
			if len(kv) != 2 {
				return nil, fmt.Errorf("akamai: invalid settings pair %q", pair)
			}
			id, err := strconv.ParseUint(strings.TrimSpace(kv[0]), 10, 16)
			if err != nil {
				return nil, fmt.Errorf("akamai: invalid settings id %q: %w", kv[0], err)
			}
			val, err := strconv.ParseUint(strings.TrimSpace(kv[1]), 10, 32)
			if err != nil {
				return nil, fmt.Errorf("akamai: invalid settings value %q: %w", kv[1], err)
			}
			spec.Settings = append(spec.Settings, Setting{ID: uint16(id), Val: uint32(val)})
		}
	}

	if parts[1] != "" {
		windowUpdate, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("akamai: invalid window update %q: %w", parts[1], err)
		}
		spec.WindowUpdate = uint32(windowUpdate)
	}

	if parts[2] != "" {
		weight, err := strconv.ParseUint(strings.TrimSpace(parts[2]), 10, 16)
		if err != nil {
			return nil, fmt.Errorf("akamai: invalid priority weight %q: %w", parts[2], err)
		}
		if weight > 256 {
			return nil, fmt.Errorf("akamai: priority weight %d out of range", weight)
		}
		if weight > 0 {
			spec.Priority = &Priority{Weight: uint16(weight), Exclusive: true}
		}
	}

	if parts[3] != "" {
		for _, ch := range strings.Split(strings.TrimSpace(parts[3]), ",") {
			name, ok := pseudoHeaderNames[strings.TrimSpace(ch)]
			if !ok {
				return nil, fmt.Errorf("akamai: unknown pseudo-header identifier %q", ch)
			}
			spec.PseudoOrder = append(spec.PseudoOrder, name)
		}
	}

	return spec, nil
}
