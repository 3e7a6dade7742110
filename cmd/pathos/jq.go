package main

import (
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
)

// jqFilters is a set of compiled jq expressions that must all be truthy.
type jqFilters []*gojq.Code

func compileJQ(exprs []string) (jqFilters, error) {
	filters := make(jqFilters, len(exprs))
	for i, expr := range exprs {
		query, err := gojq.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", expr, err)
		}
		filters[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
		}
	}
	return filters, nil
}

// match reports whether v, viewed as JSON, satisfies every filter. A filter
// that errors or yields nothing does not match.
func (f jqFilters) match(v any) (bool, error) {
	if len(f) == 0 {
		return true, nil
	}
	doc, err := toJQValue(v)
	if err != nil {
		return false, err
	}
	for _, code := range f {
		iter := code.Run(doc)
		result, ok := iter.Next()
		if !ok {
			return false, nil
		}
		if _, isErr := result.(error); isErr {
			return false, nil
		}
		if !isTruthy(result) {
			return false, nil
		}
	}
	return true, nil
}

// filterJQ keeps the items that match every filter.
func filterJQ[T any](items []T, f jqFilters) ([]T, error) {
	if len(f) == 0 {
		return items, nil
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		ok, err := f.match(item)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, item)
		}
	}
	return out, nil
}

// toJQValue round-trips v through JSON so gojq sees plain maps and slices.
func toJQValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal for jq: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal for jq: %w", err)
	}
	return doc, nil
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	// Everything else (numbers, strings, objects, arrays) is truthy
	return true
}
