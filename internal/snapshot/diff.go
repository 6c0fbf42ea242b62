package snapshot

import (
	"reflect"
	"sort"
	"strings"
)

// Change is one field that differs between two snapshots
type Change struct {
	Field  string
	Before any
	After  any
	// Delta is After-Before when both are numbers
	Delta *float64
}

// Diff compares two normalized documents field by field. Nested objects are
// walked with dotted paths; lists compare as a whole. The returned document
// has the shape {before, after, delta, changed} used by insight rules.
func Diff(before, after map[string]any) ([]Change, map[string]any) {
	b, _ := canonicalMap(before)
	a, _ := canonicalMap(after)

	flatBefore := map[string]any{}
	flatAfter := map[string]any{}
	flatten("", b, flatBefore)
	flatten("", a, flatAfter)

	keys := make(map[string]struct{}, len(flatBefore)+len(flatAfter))
	for k := range flatBefore {
		keys[k] = struct{}{}
	}
	for k := range flatAfter {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	var changes []Change
	delta := map[string]any{}
	changed := make([]any, 0)

	for _, field := range sorted {
		prev, hadPrev := flatBefore[field]
		curr, hasCurr := flatAfter[field]
		if hadPrev && hasCurr && reflect.DeepEqual(prev, curr) {
			continue
		}

		c := Change{Field: field, Before: prev, After: curr}
		pn, pok := prev.(float64)
		cn, cok := curr.(float64)
		if pok && cok {
			d := cn - pn
			c.Delta = &d
			setPath(delta, field, d)
		}
		changes = append(changes, c)
		changed = append(changed, field)
	}

	doc := map[string]any{
		"before":  b,
		"after":   a,
		"delta":   delta,
		"changed": changed,
	}
	return changes, doc
}

func flatten(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok && len(nested) > 0 {
			flatten(key, nested, out)
			continue
		}
		out[key] = v
	}
}

func setPath(m map[string]any, dotted string, value any) {
	parts := strings.Split(dotted, ".")
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = value
}
