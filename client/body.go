package client

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strconv"
)

const (
	contentTypeJSON = "application/json"
	contentTypeForm = "application/x-www-form-urlencoded"
)

// encodedBody is a request body ready for the wire.
type encodedBody struct {
	data        []byte
	contentType string // computed type, "" when the body is untyped
	present     bool
}

// encodeBody turns the body fields of req into bytes. At most one of
// Content, Data, JSON and Files may be set, except that Data may accompany
// Files, in which case its fields become text parts.
func encodeBody(req *Request) (encodedBody, error) {
	set := 0
	if req.Content != nil {
		set++
	}
	if req.JSON != nil {
		set++
	}
	if len(req.Files) > 0 {
		set++
	} else if req.Data != nil {
		set++
	}
	if set > 1 {
		return encodedBody{}, ErrConflictingBodies
	}

	switch {
	case req.Content != nil:
		return encodedBody{data: req.Content, present: true}, nil

	case len(req.Files) > 0:
		var fields map[string]string
		if req.Data != nil {
			var err error
			if fields, err = flatFields(req.Data); err != nil {
				return encodedBody{}, err
			}
		}
		return multipartBody(fields, req.Files)

	case req.Data != nil:
		return encodeData(req.Data)

	case req.JSON != nil:
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return encodedBody{}, fmt.Errorf("encode json body: %w", err)
		}
		return encodedBody{data: data, contentType: contentTypeJSON, present: true}, nil
	}
	return encodedBody{}, nil
}

// encodeData applies the form rules: a JSON string is re-serialized as
// JSON, any other string is sent raw, a map holding a nested map or slice
// is sent as JSON and a flat map is form-urlencoded with sorted keys.
func encodeData(data any) (encodedBody, error) {
	switch d := data.(type) {
	case string:
		var compact bytes.Buffer
		if json.Valid([]byte(d)) && json.Compact(&compact, []byte(d)) == nil {
			return encodedBody{data: compact.Bytes(), contentType: contentTypeJSON, present: true}, nil
		}
		return encodedBody{data: []byte(d), present: true}, nil
	case []byte:
		return encodedBody{data: d, present: true}, nil
	case url.Values:
		return encodedBody{data: []byte(sortedEncode(d)), contentType: contentTypeForm, present: true}, nil
	case map[string]any:
		if isNested(d) {
			b, err := json.Marshal(d)
			if err != nil {
				return encodedBody{}, fmt.Errorf("encode data body: %w", err)
			}
			return encodedBody{data: b, contentType: contentTypeJSON, present: true}, nil
		}
	}

	fields, err := flatFields(data)
	if err != nil {
		return encodedBody{}, err
	}
	values := make(url.Values, len(fields))
	for k, v := range fields {
		values.Set(k, v)
	}
	return encodedBody{data: []byte(sortedEncode(values)), contentType: contentTypeForm, present: true}, nil
}

// flatFields converts a flat map into string fields.
func flatFields(data any) (map[string]string, error) {
	switch d := data.(type) {
	case map[string]string:
		return d, nil
	case url.Values:
		out := make(map[string]string, len(d))
		for k := range d {
			out[k] = d.Get(k)
		}
		return out, nil
	case map[string]any:
		out := make(map[string]string, len(d))
		for k, v := range d {
			if isNestedValue(v) {
				return nil, fmt.Errorf("data field %q: nested values cannot be form fields", k)
			}
			out[k] = formValue(v)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported Data type %T", data)
}

func isNested(m map[string]any) bool {
	for _, v := range m {
		if isNestedValue(v) {
			return true
		}
	}
	return false
}

func isNestedValue(v any) bool {
	switch v.(type) {
	case map[string]any, map[string]string, []any, []string, []int, []float64, []map[string]any:
		return true
	}
	return false
}

func formValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// contentLength returns the Content-Length to plan: the body length, "0"
// for a bodyless POST, PUT or PATCH, and "" otherwise.
func contentLength(method string, body encodedBody) string {
	if body.present {
		return strconv.Itoa(len(body.data))
	}
	switch method {
	case "POST", "PUT", "PATCH":
		return "0"
	}
	return ""
}

// sortedKeys returns the keys of m in ascending order.
func sortedKeys[M ~map[K]V, K cmp.Ordered, V any](m M) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
