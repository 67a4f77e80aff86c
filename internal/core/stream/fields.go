package stream

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// object is a decoded JSON object whose fields have not been checked.
type object map[string]any

// asObject narrows untyped input to a JSON object.
func asObject(raw any) (object, bool) {
	switch v := raw.(type) {
	case nil:
		return nil, false
	case map[string]any:
		return object(v), v != nil
	case object:
		return v, v != nil
	case json.RawMessage:
		return decodeObject(v)
	case []byte:
		return decodeObject(v)
	case string:
		return decodeObject([]byte(v))
	default:
		return nil, false
	}
}

func decodeObject(data []byte) (object, bool) {
	if len(data) == 0 {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return nil, false
	}
	return object(m), true
}

// str returns a required non-empty string field.
func (o object) str(key string) (string, bool) {
	v, ok := o[key].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// optStr returns an optional string field. A present field of another
// type is a mismatch.
func (o object) optStr(key string) (string, bool) {
	v, present := o[key]
	if !present || v == nil {
		return "", true
	}
	s, ok := v.(string)
	return s, ok
}

// blank reports whether an optional field is absent, null or an empty
// string, all of which mean "use the default".
func (o object) blank(key string) bool {
	switch v := o[key].(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	default:
		return false
	}
}

// id accepts string or integral numeric identifiers.
func (o object) id(key string) (string, bool) {
	switch v := o[key].(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return "", false
		}
		return v, true
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return "", false
		}
		return strconv.FormatInt(int64(v), 10), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case json.Number:
		if _, err := v.Int64(); err != nil {
			return "", false
		}
		return v.String(), true
	default:
		return "", false
	}
}

// num returns a required finite number.
func (o object) num(key string) (float64, bool) {
	return toFloat(o[key])
}

// optNum returns an optional number, zero when absent.
func (o object) optNum(key string) (float64, bool) {
	v, present := o[key]
	if !present || v == nil {
		return 0, true
	}
	return toFloat(v)
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// optBool returns an optional boolean, false when absent.
func (o object) optBool(key string) (bool, bool) {
	v, present := o[key]
	if !present || v == nil {
		return false, true
	}
	b, ok := v.(bool)
	return b, ok
}

// timestamp parses an optional ISO-8601 field. Absent fields default to
// now; present but unparseable values are rejected.
func (o object) timestamp(key string, now time.Time) (time.Time, bool) {
	v, present := o[key]
	if !present || v == nil {
		return now, true
	}
	return parseTime(v)
}

// optTime parses an optional timestamp that has no default.
func (o object) optTime(key string) (*time.Time, bool) {
	v, present := o[key]
	if !present || v == nil {
		return nil, true
	}
	t, ok := parseTime(v)
	if !ok {
		return nil, false
	}
	return &t, true
}

func parseTime(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// firstPresent returns the first key present in o.
func (o object) firstPresent(keys ...string) string {
	for _, k := range keys {
		if v, ok := o[k]; ok && v != nil {
			return k
		}
	}
	return keys[0]
}
