package insight

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// toString renders any value for string comparison and message templates
func toString(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// toNumber converts JSON numbers, Go numerics and numeric strings to float64
func toNumber(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		num, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert string %q to number", v)
		}
		return num, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to number", value)
	}
}

// toBool treats "true", "1" and "yes" as true and any other non-empty value as truthy
func toBool(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no", "":
			return false
		}
		return true
	case float64:
		return v != 0
	case int:
		return v != 0
	default:
		return true
	}
}

// equal compares numerically when both sides are numbers, then as booleans,
// then as strings
func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if na, err := toNumber(a); err == nil {
		if nb, err := toNumber(b); err == nil {
			return na == nb
		}
	}
	if ba, ok := a.(bool); ok {
		return ba == toBool(b)
	}
	if bb, ok := b.(bool); ok {
		return toBool(a) == bb
	}
	return toString(a) == toString(b)
}

// compare returns -1, 0 or 1 comparing a and b as numbers
func compare(a, b any) (int, error) {
	na, err := toNumber(a)
	if err != nil {
		return 0, fmt.Errorf("left operand: %w", err)
	}
	nb, err := toNumber(b)
	if err != nil {
		return 0, fmt.Errorf("right operand: %w", err)
	}
	switch {
	case na < nb:
		return -1, nil
	case na > nb:
		return 1, nil
	default:
		return 0, nil
	}
}
