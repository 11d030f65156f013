package models

import (
	"fmt"
	"reflect"
	"slices"
	"sort"
)

// Result is one completed simulation.
type Result struct {
	Params ParameterCombination `json:"params" yaml:"params"`
	Meta   *Meta                `json:"meta" yaml:"meta"`
	Output *Output              `json:"output,omitempty" yaml:"output,omitempty"`
}

// Meta holds the bookkeeping recorded for a result.
type Meta struct {
	ID          string  `json:"id" yaml:"id"`
	ElapsedTime float64 `json:"elapsed_time" yaml:"elapsed_time"`
}

// Output holds the captured simulator output. It is only populated when
// results are read back together with their files.
type Output struct {
	Stdout string `json:"stdout" yaml:"stdout"`
	Stderr string `json:"stderr" yaml:"stderr"`
}

// ParameterSpec binds each parameter to a single value or a slice of
// candidate values.
type ParameterSpec map[string]any

// Candidates returns the normalized, de-duplicated candidate values for a
// parameter, preserving first-seen order.
func (s ParameterSpec) Candidates(name string) ([]any, error) {
	raw, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("parameter %s is not bound", name)
	}

	var values []any
	rv := reflect.ValueOf(raw)
	if raw != nil && (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) {
		values = make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			values = append(values, rv.Index(i).Interface())
		}
	} else {
		values = []any{raw}
	}

	out := make([]any, 0, len(values))
	for _, v := range values {
		nv, err := Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		if slices.ContainsFunc(out, func(seen any) bool { return ValuesEqual(seen, nv) }) {
			continue
		}
		out = append(out, nv)
	}
	return out, nil
}

// Names returns the bound parameter names in sorted order.
func (s ParameterSpec) Names() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
