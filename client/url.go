package client

import (
	"fmt"
	"net/url"
	"strings"
)

// parseRequestURL parses raw and checks that it names an http(s) host.
func parseRequestURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		u.Scheme = strings.ToLower(u.Scheme)
	default:
		return nil, fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("missing host in URL %q", raw)
	}
	return u, nil
}

// withParams returns a copy of u with the query parameters of every layer
// appended after its existing query. A later layer replaces a key of an
// earlier one.
func withParams(u *url.URL, layers ...map[string]string) *url.URL {
	merged := make(url.Values)
	for _, layer := range layers {
		for k, v := range layer {
			merged.Set(k, v)
		}
	}
	out := *u
	if len(merged) == 0 {
		return &out
	}
	extra := sortedEncode(merged)
	if out.RawQuery == "" {
		out.RawQuery = extra
	} else {
		out.RawQuery += "&" + extra
	}
	return &out
}

// sortedEncode encodes url.Values with sorted keys
func sortedEncode(v url.Values) string {
	if len(v) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, key := range sortedKeys(v) {
		if i > 0 {
			sb.WriteByte('&')
		}
		for j, value := range v[key] {
			if j > 0 {
				sb.WriteByte('&')
			}
			sb.WriteString(url.QueryEscape(key))
			sb.WriteByte('=')
			sb.WriteString(url.QueryEscape(value))
		}
	}
	return sb.String()
}

// EncodeParams encodes a map of parameters to a query string with sorted
// keys.
func EncodeParams(params map[string]string) string {
	values := make(url.Values, len(params))
	for key, value := range params {
		values.Set(key, value)
	}
	return sortedEncode(values)
}

// redactURL drops userinfo and fragment, as sent in a Referer header.
func redactURL(u *url.URL) string {
	c := *u
	c.User = nil
	c.Fragment = ""
	c.RawFragment = ""
	return c.String()
}
