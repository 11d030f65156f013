package models

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// RngRunParam is the reserved parameter carrying the repetition index.
const RngRunParam = "RngRun"

// Value kinds as persisted by the result store.
const (
	KindInt    = "int"
	KindFloat  = "float"
	KindString = "string"
	KindBool   = "bool"
)

// ParameterCombination maps parameter names to scalar values. Values are
// normalized to int64, float64, string or bool.
type ParameterCombination map[string]any

// NewParameterCombination copies values into a normalized combination.
func NewParameterCombination(values map[string]any) (ParameterCombination, error) {
	p := make(ParameterCombination, len(values))
	for name, v := range values {
		nv, err := Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		p[name] = nv
	}
	return p, nil
}

// MustParameterCombination is NewParameterCombination that panics on error.
func MustParameterCombination(values map[string]any) ParameterCombination {
	p, err := NewParameterCombination(values)
	if err != nil {
		panic(err)
	}
	return p
}

// Clone returns a shallow copy.
func (p ParameterCombination) Clone() ParameterCombination {
	out := make(ParameterCombination, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Fingerprint returns a copy without the repetition index.
func (p ParameterCombination) Fingerprint() ParameterCombination {
	out := make(ParameterCombination, len(p))
	for k, v := range p {
		if k == RngRunParam {
			continue
		}
		out[k] = v
	}
	return out
}

// WithRngRun returns a copy bound to the given repetition index.
func (p ParameterCombination) WithRngRun(run int) ParameterCombination {
	out := p.Clone()
	out[RngRunParam] = int64(run)
	return out
}

// RngRun returns the repetition index, if present and integral.
func (p ParameterCombination) RngRun() (int, bool) {
	v, ok := p[RngRunParam]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return int(n), true
	case int:
		return n, true
	case float64:
		if n == math.Trunc(n) {
			return int(n), true
		}
	}
	return 0, false
}

// Names returns the parameter names in sorted order.
func (p ParameterCombination) Names() []string {
	names := make([]string, 0, len(p))
	for k := range p {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Args renders the combination as simulator command line tokens.
func (p ParameterCombination) Args() []string {
	args := make([]string, 0, len(p))
	for _, name := range p.Names() {
		args = append(args, fmt.Sprintf("--%s=%s", name, FormatValue(p[name])))
	}
	return args
}

// Key returns a canonical string identifying the combination.
func (p ParameterCombination) Key() string {
	var b strings.Builder
	for i, name := range p.Names() {
		if i > 0 {
			b.WriteByte('|')
		}
		kind, text, _ := Encode(p[name])
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(kind)
		b.WriteByte(':')
		b.WriteString(text)
	}
	return b.String()
}

// Equal reports whether both combinations bind the same names to equal values.
func (p ParameterCombination) Equal(other ParameterCombination) bool {
	if len(p) != len(other) {
		return false
	}
	for k, v := range p {
		ov, ok := other[k]
		if !ok || !ValuesEqual(v, ov) {
			return false
		}
	}
	return true
}

// Normalize converts a scalar into one of the canonical value types.
func Normalize(v any) (any, error) {
	switch n := v.(type) {
	case int64, float64, string, bool:
		return n, nil
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case uint:
		if uint64(n) > math.MaxInt64 {
			return nil, fmt.Errorf("value %d overflows int64", n)
		}
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return nil, fmt.Errorf("value %d overflows int64", n)
		}
		return int64(n), nil
	case float32:
		return float64(n), nil
	case fmt.Stringer:
		return n.String(), nil
	case nil:
		return nil, fmt.Errorf("nil value")
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// FormatValue renders a value the way the simulator expects it on the
// command line.
func FormatValue(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case float64:
		return strconv.FormatFloat(n, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'g', -1, 32)
	default:
		return fmt.Sprint(n)
	}
}

// Encode returns the persisted kind, text form, and numeric form of a
// normalized value. num is the int64 or float64 itself for numeric kinds and
// nil otherwise, so integers keep full precision.
func Encode(v any) (kind, text string, num any) {
	switch n := v.(type) {
	case int64:
		return KindInt, strconv.FormatInt(n, 10), n
	case float64:
		return KindFloat, strconv.FormatFloat(n, 'g', -1, 64), n
	case bool:
		return KindBool, strconv.FormatBool(n), nil
	case string:
		return KindString, n, nil
	default:
		nv, err := Normalize(v)
		if err != nil {
			return KindString, fmt.Sprint(v), nil
		}
		return Encode(nv)
	}
}

// Decode is the inverse of Encode.
func Decode(kind, text string) (any, error) {
	switch kind {
	case KindInt:
		return strconv.ParseInt(text, 10, 64)
	case KindFloat:
		return strconv.ParseFloat(text, 64)
	case KindBool:
		return strconv.ParseBool(text)
	case KindString:
		return text, nil
	default:
		return nil, fmt.Errorf("unknown value kind %q", kind)
	}
}

// ValuesEqual compares two values, treating ints and floats numerically.
// An int equals a float only when the float holds exactly that integer.
func ValuesEqual(a, b any) bool {
	na, err := Normalize(a)
	if err != nil {
		return false
	}
	nb, err := Normalize(b)
	if err != nil {
		return false
	}
	switch x := na.(type) {
	case int64:
		switch y := nb.(type) {
		case int64:
			return x == y
		case float64:
			return intEqualsFloat(x, y)
		}
	case float64:
		switch y := nb.(type) {
		case int64:
			return intEqualsFloat(y, x)
		case float64:
			return x == y
		}
	}
	ka, ta, _ := Encode(na)
	kb, tb, _ := Encode(nb)
	return ka == kb && ta == tb
}

func intEqualsFloat(i int64, f float64) bool {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return false
	}
	return int64(f) == i
}
