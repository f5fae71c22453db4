package expr

import (
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
)

// compareValues compares two scalar values, returning a negative, zero, or
// positive ordering. The second return value is false when the two values
// are not comparable (mismatched or unsupported types).
//
// Integers and timestamps compare as int64; if either side is a float,
// both sides compare as float64. Booleans order false before true.
func compareValues(a, b any) (int, bool) {
	switch av := a.(type) {
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		default:
			return 1, true
		}

	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	}

	ai, aIsInt := asInt64(a)
	bi, bIsInt := asInt64(b)
	if aIsInt && bIsInt {
		switch {
		case ai < bi:
			return -1, true
		case ai > bi:
			return 1, true
		default:
			return 0, true
		}
	}

	af, aIsNum := asFloat64(a)
	bf, bIsNum := asFloat64(b)
	if aIsNum && bIsNum {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}

	return 0, false
}

func asInt64(v any) (int64, bool) {
	switch v := v.(type) {
	case int32:
		return int64(v), true
	case int64:
		return v, true
	}
	if ts, ok := asTimestamp(v); ok {
		return ts, true
	}
	return 0, false
}

func asFloat64(v any) (float64, bool) {
	switch v := v.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	if i, ok := asInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

func asTimestamp(v any) (int64, bool) {
	ts, ok := v.(arrow.Timestamp)
	return int64(ts), ok
}

// cmpHolds reports whether the comparison op holds for the ordering c
// returned by compareValues.
func cmpHolds(op BinOpKind, c int) bool {
	switch op {
	case BinOpKindEq:
		return c == 0
	case BinOpKindNeq:
		return c != 0
	case BinOpKindGt:
		return c > 0
	case BinOpKindGte:
		return c >= 0
	case BinOpKindLt:
		return c < 0
	case BinOpKindLte:
		return c <= 0
	}
	return false
}
