package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// Params maps call parameter or return field names to raw values.
type Params map[string]any

// Get returns the value of name as a string. Lists are joined with
// commas. Absent and nil values report false.
func (p Params) Get(name string) (string, bool) {
	v, ok := p[name]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case []any, []string, []int, []int64:
		items, err := cast.ToStringSliceE(t)
		if err != nil {
			return "", false
		}
		return strings.Join(items, ","), true
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", false
	}
	return s, true
}

// FieldSource is implemented by return payloads that expose their
// identifying fields without being decoded.
type FieldSource interface {
	AuditField(name string) (any, bool)
}

// ExtractFields picks the named fields out of a call's return payload.
// Maps and FieldSource values are read directly; other payloads are
// decoded through their JSON form. Payloads that are not objects yield
// an empty result.
func ExtractFields(data any, names []string) Params {
	out := Params{}
	if data == nil || len(names) == 0 {
		return out
	}

	var src func(string) (any, bool)
	switch v := data.(type) {
	case FieldSource:
		src = v.AuditField
	case Params:
		src = lookupIn(v)
	case map[string]any:
		src = lookupIn(v)
	default:
		m, err := decodeObject(v)
		if err != nil {
			return out
		}
		src = lookupIn(m)
	}

	for _, name := range names {
		if val, ok := src(name); ok {
			out[name] = val
		}
	}
	return out
}

func lookupIn(m map[string]any) func(string) (any, bool) {
	return func(name string) (any, bool) {
		v, ok := m[name]
		return v, ok
	}
}

func decodeObject(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding return value: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding return value: %w", err)
	}
	return m, nil
}

// ParseID converts a raw identity into a numeric object id.
func ParseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return UnresolvedID, fmt.Errorf("%w: %q", ErrMalformedIdentity, raw)
	}
	return id, nil
}
