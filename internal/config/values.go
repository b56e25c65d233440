package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// values reads typed settings out of a merged config map. The first type
// mismatch is kept in err and later reads are skipped.
type values struct {
	m   map[string]any
	err error
}

func (v *values) lookup(path string) (any, bool) {
	if v.err != nil {
		return nil, false
	}
	parts := strings.Split(path, ".")
	cur := v.m
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			return nil, false
		}
		cur = next
	}
	val, ok := cur[parts[len(parts)-1]]
	return val, ok && val != nil
}

func (v *values) fail(path string, val any, want string) {
	v.err = &ValidationError{Key: path, Value: val, Err: fmt.Errorf("%w: want %s, got %T", errWrongType, want, val)}
}

func (v *values) str(path string, dst *string) {
	val, ok := v.lookup(path)
	if !ok {
		return
	}
	switch s := val.(type) {
	case string:
		*dst = s
	case fmt.Stringer:
		*dst = s.String()
	default:
		v.fail(path, val, "string")
	}
}

func (v *values) int(path string, dst *int) {
	val, ok := v.lookup(path)
	if !ok {
		return
	}
	switch n := val.(type) {
	case int:
		*dst = n
	case int64:
		*dst = int(n)
	case uint64:
		*dst = int(n)
	case float64:
		if n != float64(int(n)) {
			v.fail(path, val, "integer")
			return
		}
		*dst = int(n)
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			v.fail(path, val, "integer")
			return
		}
		*dst = i
	default:
		v.fail(path, val, "integer")
	}
}

// duration accepts a duration string ("50ms") or a number of milliseconds.
func (v *values) duration(path string, dst *time.Duration) {
	val, ok := v.lookup(path)
	if !ok {
		return
	}
	switch d := val.(type) {
	case time.Duration:
		*dst = d
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			v.fail(path, val, "duration")
			return
		}
		*dst = parsed
	case int64:
		*dst = time.Duration(d) * time.Millisecond
	case int:
		*dst = time.Duration(d) * time.Millisecond
	case uint64:
		*dst = time.Duration(d) * time.Millisecond
	case float64:
		*dst = time.Duration(d * float64(time.Millisecond))
	default:
		v.fail(path, val, "duration")
	}
}

// strings accepts a list or a comma-separated string.
func (v *values) strings(path string, dst *[]string) {
	val, ok := v.lookup(path)
	if !ok {
		return
	}
	switch l := val.(type) {
	case []string:
		*dst = append([]string(nil), l...)
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			s, ok := item.(string)
			if !ok {
				v.fail(path, val, "list of strings")
				return
			}
			out = append(out, s)
		}
		*dst = out
	case string:
		var out []string
		for _, s := range strings.Split(l, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*dst = out
	default:
		v.fail(path, val, "list of strings")
	}
}
