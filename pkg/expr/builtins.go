package expr

import (
	"math"
	"strconv"
	"time"
	"unicode/utf8"
)

type builtin struct {
	minArgs, maxArgs int // maxArgs < 0 means variadic
	fn               func(args []any) (any, error)
}

// builtins is the complete whitelist of callable functions.
var builtins map[string]builtin

func init() {
	builtins = map[string]builtin{
		"abs":       {1, 1, builtinAbs},
		"all":       {1, 1, func(a []any) (any, error) { return fold("all", a[0], true) }},
		"any":       {1, 1, func(a []any) (any, error) { return fold("any", a[0], false) }},
		"len":       {1, 1, builtinLen},
		"sum":       {1, 1, builtinSum},
		"min":       {1, -1, func(a []any) (any, error) { return extremum("min", a, -1) }},
		"max":       {1, -1, func(a []any) (any, error) { return extremum("max", a, 1) }},
		"round":     {1, 2, builtinRound},
		"is_number": {1, 1, func(a []any) (any, error) { _, ok := a[0].(float64); return ok, nil }},
		"is_string": {1, 1, func(a []any) (any, error) { _, ok := a[0].(string); return ok, nil }},
		"is_date":   {1, 1, func(a []any) (any, error) { return IsDate(a[0]), nil }},
	}
}

// Builtins returns the names of all whitelisted functions.
func Builtins() []string {
	names := make([]string, 0, len(builtins))
	for k := range builtins {
		names = append(names, k)
	}
	return names
}

func evalCall(n *Call, s *Scope) (any, error) {
	b, ok := builtins[n.Fn]
	if !ok {
		return nil, &EvalError{Kind: KindUnsupportedBuiltin, Msg: "unsupported built-in " + strconv.Quote(n.Fn)}
	}
	if len(n.Args) < b.minArgs || (b.maxArgs >= 0 && len(n.Args) > b.maxArgs) {
		return nil, &EvalError{Kind: KindArity, Msg: n.Fn + "() called with " + strconv.Itoa(len(n.Args)) + " arguments"}
	}
	args := make([]any, len(n.Args))
	for i, a := range n.Args {
		v, err := Eval(a, s)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return b.fn(args)
}

// elements returns the members of an iterable value. Mapping values are
// returned in key order.
func elements(fn string, v any) ([]any, error) {
	switch t := v.(type) {
	case []any:
		return t, nil
	case map[string]any:
		return sortedValues(t), nil
	}
	return nil, typeErrorf("%s() needs a list or mapping, got %s", fn, typeName(v))
}

func builtinAbs(a []any) (any, error) {
	f, ok := a[0].(float64)
	if !ok {
		return nil, typeErrorf("abs() needs a number, got %s", typeName(a[0]))
	}
	return math.Abs(f), nil
}

func fold(fn string, v any, all bool) (any, error) {
	items, err := elements(fn, v)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		b, ok := it.(bool)
		if !ok {
			return nil, typeErrorf("%s() needs boolean elements, got %s", fn, typeName(it))
		}
		if b != all {
			return !all, nil
		}
	}
	return all, nil
}

func builtinLen(a []any) (any, error) {
	switch t := a[0].(type) {
	case string:
		return float64(utf8.RuneCountInString(t)), nil
	case []any:
		return float64(len(t)), nil
	case map[string]any:
		return float64(len(t)), nil
	case Set:
		return float64(len(t)), nil
	}
	return nil, typeErrorf("len() of %s", typeName(a[0]))
}

func builtinSum(a []any) (any, error) {
	items, err := elements("sum", a[0])
	if err != nil {
		return nil, err
	}
	total := 0.0
	for _, it := range items {
		f, ok := it.(float64)
		if !ok {
			return nil, typeErrorf("sum() needs numeric elements, got %s", typeName(it))
		}
		total += f
	}
	return total, nil
}

func extremum(fn string, a []any, sign int) (any, error) {
	items := a
	if len(a) == 1 {
		var err error
		if items, err = elements(fn, a[0]); err != nil {
			return nil, err
		}
	}
	if len(items) == 0 {
		return nil, typeErrorf("%s() of an empty sequence", fn)
	}
	best := items[0]
	for _, it := range items[1:] {
		gt, err := compare(">", it, best)
		if err != nil {
			return nil, err
		}
		if gt.(bool) == (sign > 0) && !Equal(it, best) {
			best = it
		}
	}
	return best, nil
}

func builtinRound(a []any) (any, error) {
	f, ok := a[0].(float64)
	if !ok {
		return nil, typeErrorf("round() needs a number, got %s", typeName(a[0]))
	}
	digits := 0.0
	if len(a) == 2 {
		d, ok := a[1].(float64)
		if !ok || d != math.Trunc(d) {
			return nil, typeErrorf("round() digits must be an integer")
		}
		digits = d
	}
	if digits < 0 {
		scale := math.Pow(10, -digits)
		return math.RoundToEven(f/scale) * scale, nil
	}
	if digits > 340 || math.IsInf(f, 0) || math.IsNaN(f) {
		return f, nil
	}
	// Round on the exact decimal expansion rather than f*10^digits.
	r, err := strconv.ParseFloat(strconv.FormatFloat(f, 'f', int(digits), 64), 64)
	if err != nil {
		return nil, typeErrorf("round(): %v", err)
	}
	return r, nil
}

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	time.RFC3339,
}

// IsDate reports whether v is a string in one of the accepted date layouts.
func IsDate(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}
