package store

import (
	"fmt"
	"strings"
)

// Shared mutation semantics for Store implementations. Keeping transform and
// precondition evaluation here guarantees the in-memory and Postgres
// implementations behave identically.

// GetField resolves a possibly dotted field path against a field map.
// Returns nil when any segment is absent.
func GetField(data map[string]interface{}, field string) interface{} {
	segs := strings.Split(field, ".")
	cur := interface{}(data)
	for _, seg := range segs {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = m[seg]
	}
	return cur
}

func setField(data map[string]interface{}, field string, value interface{}) {
	segs := strings.Split(field, ".")
	for _, seg := range segs[:len(segs)-1] {
		next, ok := data[seg].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			data[seg] = next
		}
		data = next
	}
	data[segs[len(segs)-1]] = value
}

func deleteField(data map[string]interface{}, field string) {
	segs := strings.Split(field, ".")
	for _, seg := range segs[:len(segs)-1] {
		next, ok := data[seg].(map[string]interface{})
		if !ok {
			return
		}
		data = next
	}
	delete(data, segs[len(segs)-1])
}

// ApplyUpdate merges update entries into data, resolving transform markers.
func ApplyUpdate(data map[string]interface{}, updates map[string]interface{}) error {
	for field, value := range updates {
		switch tv := value.(type) {
		case Increment:
			cur, _ := toFloat(GetField(data, field))
			setField(data, field, cur+tv.By)
		case ArrayUnion:
			arr, _ := GetField(data, field).([]interface{})
			for _, v := range tv.Values {
				if !containsValue(arr, v) {
					arr = append(arr, v)
				}
			}
			setField(data, field, arr)
		case ArrayRemove:
			arr, _ := GetField(data, field).([]interface{})
			kept := make([]interface{}, 0, len(arr))
			for _, existing := range arr {
				if !containsValue(tv.Values, existing) {
					kept = append(kept, existing)
				}
			}
			setField(data, field, kept)
		case DeleteField:
			deleteField(data, field)
		default:
			setField(data, field, value)
		}
	}
	return nil
}

// CheckPrecond evaluates a precondition against the current document state.
// doc is nil when the target does not exist.
func CheckPrecond(doc *Doc, p *Precond) bool {
	if p == nil {
		return true
	}
	if p.Exists != nil && *p.Exists != (doc != nil) {
		return false
	}
	for _, c := range p.Fields {
		var cur interface{}
		if doc != nil {
			cur = GetField(doc.Data, c.Field)
		}
		switch c.Op {
		case "null":
			if cur != nil {
				return false
			}
		case "not-null":
			if cur == nil {
				return false
			}
		case "==":
			if len(c.Values) != 1 || !valuesEqual(cur, c.Values[0]) {
				return false
			}
		case "in":
			if !containsValue(c.Values, cur) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// MatchFilters reports whether a document satisfies every filter.
func MatchFilters(doc *Doc, filters []Filter) bool {
	for _, f := range filters {
		cur := GetField(doc.Data, f.Field)
		switch f.Op {
		case "==":
			if !valuesEqual(cur, f.Value) {
				return false
			}
		case "!=":
			if valuesEqual(cur, f.Value) {
				return false
			}
		case "array-contains":
			arr, ok := cur.([]interface{})
			if !ok || !containsValue(arr, f.Value) {
				return false
			}
		case "<", "<=", ">", ">=":
			cmp, ok := Compare(cur, f.Value)
			if !ok {
				return false
			}
			switch f.Op {
			case "<":
				if cmp >= 0 {
					return false
				}
			case "<=":
				if cmp > 0 {
					return false
				}
			case ">":
				if cmp <= 0 {
					return false
				}
			case ">=":
				if cmp < 0 {
					return false
				}
			}
		default:
			return false
		}
	}
	return true
}

// Compare orders two field values. Numbers compare numerically, strings
// lexicographically. ok is false for incomparable values.
func Compare(a, b interface{}) (int, bool) {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if !aok || !bok {
		return 0, false
	}
	return strings.Compare(as, bs), true
}

func valuesEqual(a, b interface{}) bool {
	if cmp, ok := Compare(a, b); ok {
		return cmp == 0
	}
	if ab, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ab == bb
	}
	return a == nil && b == nil
}

func containsValue(arr []interface{}, v interface{}) bool {
	for _, existing := range arr {
		if valuesEqual(existing, v) {
			return true
		}
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// CloneData deep-copies a field map.
func CloneData(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch tv := v.(type) {
	case map[string]interface{}:
		return CloneData(tv)
	case []interface{}:
		out := make([]interface{}, len(tv))
		for i, e := range tv {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// ValidateOps rejects commits that cannot be applied.
func ValidateOps(ops []Op) error {
	if len(ops) > MaxBatchOps {
		return fmt.Errorf("%w: %d ops", ErrBatchTooLarge, len(ops))
	}
	for _, op := range ops {
		if op.Path == "" || strings.Count(op.Path, "/")%2 == 0 {
			return fmt.Errorf("invalid document path %q", op.Path)
		}
	}
	return nil
}
