package insight

import (
	"fmt"
	"regexp"
	"strings"
)

// Operator names accepted in rules
const (
	OpEq       = "eq"
	OpNe       = "ne"
	OpGt       = "gt"
	OpLt       = "lt"
	OpGte      = "gte"
	OpLte      = "lte"
	OpContains = "contains"
	OpExists   = "exists"
	OpRegex    = "regex"
)

type operatorFunc func(actual, expected any) (bool, error)

func ordered(test func(int) bool) operatorFunc {
	return func(actual, expected any) (bool, error) {
		c, err := compare(actual, expected)
		if err != nil {
			return false, err
		}
		return test(c), nil
	}
}

var operators = map[string]operatorFunc{
	OpEq:  func(a, e any) (bool, error) { return equal(a, e), nil },
	OpNe:  func(a, e any) (bool, error) { return !equal(a, e), nil },
	OpGt:  ordered(func(c int) bool { return c > 0 }),
	OpLt:  ordered(func(c int) bool { return c < 0 }),
	OpGte: ordered(func(c int) bool { return c >= 0 }),
	OpLte: ordered(func(c int) bool { return c <= 0 }),
	OpContains: func(a, e any) (bool, error) {
		if list, ok := a.([]any); ok {
			for _, item := range list {
				if equal(item, e) {
					return true, nil
				}
			}
			return false, nil
		}
		return strings.Contains(toString(a), toString(e)), nil
	},
	OpExists: func(a, _ any) (bool, error) { return a != nil, nil },
	OpRegex: func(a, e any) (bool, error) {
		re, err := regexp.Compile(toString(e))
		if err != nil {
			return false, fmt.Errorf("invalid regex %q: %w", toString(e), err)
		}
		return re.MatchString(toString(a)), nil
	},
}

// Apply evaluates operator against the extracted and expected values
func Apply(operator string, actual, expected any) (bool, error) {
	fn, ok := operators[strings.ToLower(operator)]
	if !ok {
		return false, fmt.Errorf("unknown operator: %s", operator)
	}
	return fn(actual, expected)
}
