// Package binding resolves reaction parameter values against the event
// payload captured in a HookLog.
//
// The template grammar is closed: a value is literal text in which
// "{{ path }}" markers reference a field of the payload. A path is a list of
// object keys or array indexes separated by dots ("items.0.title"). There are
// no expressions, filters, or function calls.
//
//   - A value that is exactly one marker resolves to the referenced JSON
//     value with its type preserved (object, array, number, bool, string).
//   - Markers embedded in longer text are replaced by the string form of the
//     referenced value.
//   - A marker whose path does not exist resolves to nil when it is the whole
//     value and to "" when embedded. Missing fields are never an error.
package binding

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var marker = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_\-]+(?:\.[A-Za-z0-9_\-]+)*)\s*\}\}`)

// Param is one bound parameter. JSON wins over Text when both are set;
// Default applies when neither is.
type Param struct {
	Name     string
	DataType string
	Text     *string
	JSON     []byte
	Default  []byte
}

// Payload is a decoded event payload.
type Payload struct {
	root any
}

// ParsePayload decodes raw JSON. Numbers keep their textual form. An empty
// input is treated as an empty object.
func ParsePayload(raw []byte) (Payload, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Payload{root: map[string]any{}}, nil
	}
	v, err := decode(raw)
	if err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	return Payload{root: v}, nil
}

// Lookup returns the value at a dot-separated path.
func (p Payload) Lookup(path string) (any, bool) {
	cur := p.root
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Resolve returns the parameter map handed to a capability. Parameters with
// no value and no default are omitted.
func Resolve(params []Param, payload Payload) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for _, p := range params {
		switch {
		case len(p.JSON) > 0 && !bytes.Equal(bytes.TrimSpace(p.JSON), []byte("null")):
			v, err := decode(p.JSON)
			if err != nil {
				return nil, fmt.Errorf("param %s: %w", p.Name, err)
			}
			out[p.Name] = walk(v, payload)
		case p.Text != nil:
			out[p.Name] = coerce(p.DataType, Render(*p.Text, payload))
		case len(p.Default) > 0:
			v, err := decode(p.Default)
			if err != nil {
				return nil, fmt.Errorf("param %s default: %w", p.Name, err)
			}
			out[p.Name] = v
		}
	}
	return out, nil
}

// Render resolves the markers in s.
func Render(s string, payload Payload) any {
	if m := marker.FindStringSubmatchIndex(s); m != nil && m[0] == 0 && m[1] == len(s) {
		v, _ := payload.Lookup(s[m[2]:m[3]])
		return v
	}
	return marker.ReplaceAllStringFunc(s, func(tok string) string {
		path := marker.FindStringSubmatch(tok)[1]
		v, ok := payload.Lookup(path)
		if !ok {
			return ""
		}
		return stringify(v)
	})
}

// HasMarker reports whether s references the payload.
func HasMarker(s string) bool { return marker.MatchString(s) }

func walk(v any, payload Payload) any {
	switch node := v.(type) {
	case string:
		return Render(node, payload)
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, child := range node {
			out[k] = walk(child, payload)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, child := range node {
			out[i] = walk(child, payload)
		}
		return out
	}
	return v
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// coerce converts rendered text to the declared scalar type. Values that do
// not parse are left unchanged.
func coerce(dataType string, v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch strings.ToLower(dataType) {
	case "number", "integer", "int", "float":
		if _, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return json.Number(strings.TrimSpace(s))
		}
	case "boolean", "bool":
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b
		}
	}
	return s
}

func decode(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
