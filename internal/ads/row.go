package ads

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Row is one result row, keyed by the dotted snake_case field path used in
// the query (campaign.id, metrics.cost_micros, ...). It is only read through
// the typed accessors below; the fetcher turns rows into models records.
type Row map[string]any

// Has reports whether the row carries a non-null value for key
func (r Row) Has(key string) bool {
	v, ok := r[key]
	return ok && v != nil
}

// String returns the value at key as text. Numbers are formatted, missing keys yield "".
func (r Row) Text(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

// RequireText fails when key is absent or empty
func (r Row) RequireText(key string) (string, error) {
	s := r.Text(key)
	if s == "" {
		return "", fmt.Errorf("field %s missing", key)
	}
	return s, nil
}

// Int64 parses the value at key. The REST surface encodes int64 as strings.
// A missing key is zero.
func (r Row) Int64(key string) (int64, error) {
	switch v := r[key].(type) {
	case nil:
		return 0, nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("field %s: %v is not an integer", key, v)
		}
		return int64(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("field %s: %w", key, err)
		}
		return n, nil
	case string:
		if v == "" {
			return 0, nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("field %s: %w", key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("field %s: unexpected type %T", key, v)
	}
}

// OptionalInt returns nil when key is absent
func (r Row) OptionalInt(key string) (*int, error) {
	if !r.Has(key) {
		return nil, nil
	}
	n, err := r.Int64(key)
	if err != nil {
		return nil, err
	}
	i := int(n)
	return &i, nil
}

// Float64 parses the value at key. A missing key is zero.
func (r Row) Float64(key string) (float64, error) {
	switch v := r[key].(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("field %s: %w", key, err)
		}
		return f, nil
	case string:
		if v == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("field %s: %w", key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("field %s: unexpected type %T", key, v)
	}
}

// Date parses a YYYY-MM-DD value. A missing key yields nil.
func (r Row) Date(key string) (*time.Time, error) {
	s := r.Text(key)
	if s == "" {
		return nil, nil
	}
	// campaign.start_date is sometimes returned with a time part
	if len(s) > 10 {
		s = s[:10]
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", key, err)
	}
	return &t, nil
}

// Subtree returns every value under prefix (with the prefix stripped),
// skipping the listed child keys
func (r Row) Subtree(prefix string, skip ...string) map[string]any {
	prefix = strings.TrimSuffix(prefix, ".") + "."
	out := make(map[string]any)
outer:
	for k, v := range r {
		if !strings.HasPrefix(k, prefix) || v == nil {
			continue
		}
		name := strings.TrimPrefix(k, prefix)
		for _, s := range skip {
			if name == s {
				continue outer
			}
		}
		out[name] = v
	}
	return out
}

// FlattenJSON converts a nested REST result object into a Row. Object keys are
// converted from lowerCamelCase to snake_case; arrays are kept as values.
func FlattenJSON(obj map[string]any) Row {
	row := make(Row)
	flattenInto(row, "", obj)
	return row
}

func flattenInto(row Row, prefix string, obj map[string]any) {
	for k, v := range obj {
		key := snakeCase(k)
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := v.(map[string]any); ok {
			flattenInto(row, key, nested)
			continue
		}
		row[key] = v
	}
}

func snakeCase(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, c := range s {
		if c >= 'A' && c <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(c + ('a' - 'A'))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}
