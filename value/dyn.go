package value

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Dyn is the opaque structured-data kind: a decoded JSON document held as
// nested any values (nil, bool, float64, string, []any, map[string]any).
// Dyn trees are treated as immutable; handles share freely.
type Dyn struct {
	Raw any
}

func (Dyn) isValue()       {}
func (Dyn) Kind() Kind     { return KindDyn }
func (d Dyn) Clone() Value { return d }
func (Dyn) Release()       {}

func (d Dyn) Truthy() bool { return d.Raw != nil }

func ParseDyn(text string) (Dyn, error) {
	var raw any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return Dyn{}, err
	}
	return Dyn{Raw: raw}, nil
}

// Field navigates one step into an object or array.
func (d Dyn) Field(key Value) (Dyn, bool) {
	switch raw := d.Raw.(type) {
	case map[string]any:
		k, ok := key.(Str)
		if !ok {
			return Dyn{}, false
		}
		v, ok := raw[string(k)]
		return Dyn{Raw: v}, ok
	case []any:
		i, ok := key.(Num)
		if !ok {
			return Dyn{}, false
		}
		idx := int(i)
		if idx < 0 || idx >= len(raw) {
			return Dyn{}, false
		}
		return Dyn{Raw: raw[idx]}, true
	default:
		return Dyn{}, false
	}
}

// Lift converts a Dyn leaf or tree into the corresponding plain values.
func (d Dyn) Lift() Value {
	switch raw := d.Raw.(type) {
	case nil:
		return NullValue
	case bool:
		return Bool(raw)
	case float64:
		return Num(raw)
	case string:
		return Str(raw)
	case []any:
		elems := make([]Value, len(raw))
		for i, e := range raw {
			elems[i] = Dyn{Raw: e}.Lift()
		}
		return NewArray(elems...)
	case map[string]any:
		m := NewMap()
		for k, v := range raw {
			m = m.WithPut(StrKey(k), Dyn{Raw: v}.Lift())
		}
		return m
	default:
		return d
	}
}

func dynEqual(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !dynEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			ov, ok := bv[k]
			if !ok || !dynEqual(v, ov) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func formatDyn(raw any) string {
	switch v := raw.(type) {
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case string:
		return strconv.Quote(v)
	case []any:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = formatDyn(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%q: %s", k, formatDyn(v[k]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return fmt.Sprintf("<dyn %T>", raw)
	}
}
