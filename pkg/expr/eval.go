package expr

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ErrorKind classifies evaluator failures.
type ErrorKind string

const (
	KindSyntax             ErrorKind = "syntax"
	KindUnknownIdentifier  ErrorKind = "unknown_identifier"
	KindTypeMismatch       ErrorKind = "type_mismatch"
	KindDivisionByZero     ErrorKind = "division_by_zero"
	KindUnsupportedBuiltin ErrorKind = "unsupported_builtin"
	KindArity              ErrorKind = "arity"
)

// EvalError is returned for every failure inside the evaluator. It never
// carries a panic or host error past the evaluation boundary.
type EvalError struct {
	Kind ErrorKind
	Msg  string
}

func (e *EvalError) Error() string { return string(e.Kind) + ": " + e.Msg }

func typeErrorf(format string, args ...any) *EvalError {
	return &EvalError{Kind: KindTypeMismatch, Msg: fmt.Sprintf(format, args...)}
}

// Set is a string-keyed membership set, used for precomputed identifier
// sets such as policy_ids.
type Set map[string]bool

// Has reports whether v (a string or number) is a member.
func (s Set) Has(v any) bool {
	k, ok := Key(v)
	return ok && s[k]
}

// Key returns the canonical set key for a scalar. Numbers are keyed by their
// shortest decimal form so 12 and "12" collide.
func Key(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

var datePattern = regexp.MustCompile(`(?i)(^|_)(data|date|dt)(_|$)`)

// IsDateField reports whether a column name looks like it holds a date.
func IsDateField(name string) bool { return datePattern.MatchString(name) }

// Scope binds identifiers for one evaluation: row fields first, then the
// derived numeric_values / date_values mappings, then context variables.
type Scope struct {
	Fields map[string]any
	Vars   map[string]any

	numeric map[string]any
	dates   map[string]any
}

// NewScope returns a scope over fields and context vars. Neither map is copied.
func NewScope(fields, vars map[string]any) *Scope {
	return &Scope{Fields: fields, Vars: vars}
}

// Touch drops the cached derived bindings after Fields changed.
func (s *Scope) Touch() {
	s.numeric = nil
	s.dates = nil
}

// NumericValues returns all numeric-valued fields.
func (s *Scope) NumericValues() map[string]any {
	if s.numeric == nil {
		s.numeric = make(map[string]any)
		for k, v := range s.Fields {
			if f, ok := v.(float64); ok {
				s.numeric[k] = f
			}
		}
	}
	return s.numeric
}

// DateValues returns all fields whose name matches the date pattern.
func (s *Scope) DateValues() map[string]any {
	if s.dates == nil {
		s.dates = make(map[string]any)
		for k, v := range s.Fields {
			if IsDateField(k) {
				s.dates[k] = v
			}
		}
	}
	return s.dates
}

// Lookup resolves an identifier.
func (s *Scope) Lookup(name string) (any, bool) {
	if v, ok := s.Fields[name]; ok {
		return v, true
	}
	switch name {
	case "numeric_values":
		return s.NumericValues(), true
	case "date_values":
		return s.DateValues(), true
	}
	v, ok := s.Vars[name]
	return v, ok
}

// Eval evaluates n against scope.
func Eval(n Node, s *Scope) (any, error) {
	switch n := n.(type) {
	case *Literal:
		return n.Value, nil
	case *Ident:
		v, ok := s.Lookup(n.Name)
		if !ok {
			return nil, &EvalError{Kind: KindUnknownIdentifier, Msg: "unknown identifier " + strconv.Quote(n.Name)}
		}
		return v, nil
	case *List:
		out := make([]any, len(n.Items))
		for i, it := range n.Items {
			v, err := Eval(it, s)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case *Unary:
		return evalUnary(n, s)
	case *Binary:
		return evalBinary(n, s)
	case *Call:
		return evalCall(n, s)
	}
	return nil, typeErrorf("unsupported node %T", n)
}

func evalUnary(n *Unary, s *Scope) (any, error) {
	x, err := Eval(n.X, s)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case "not":
		b, ok := x.(bool)
		if !ok {
			return nil, typeErrorf("'not' needs a boolean, got %s", typeName(x))
		}
		return !b, nil
	case "-", "+":
		f, ok := x.(float64)
		if !ok {
			return nil, typeErrorf("unary %s needs a number, got %s", n.Op, typeName(x))
		}
		if n.Op == "-" {
			return -f, nil
		}
		return f, nil
	}
	return nil, typeErrorf("unknown unary operator %q", n.Op)
}

func evalBinary(n *Binary, s *Scope) (any, error) {
	if n.Op == "and" || n.Op == "or" {
		return evalLogical(n, s)
	}
	l, err := Eval(n.L, s)
	if err != nil {
		return nil, err
	}
	r, err := Eval(n.R, s)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case "==":
		return Equal(l, r), nil
	case "!=":
		return !Equal(l, r), nil
	case "<", "<=", ">", ">=":
		return compare(n.Op, l, r)
	case "in":
		return contains(r, l)
	case "not in":
		in, err := contains(r, l)
		if err != nil {
			return nil, err
		}
		return !in, nil
	case "+":
		return add(l, r)
	case "-", "*", "/", "%":
		return arith(n.Op, l, r)
	}
	return nil, typeErrorf("unknown operator %q", n.Op)
}

func evalLogical(n *Binary, s *Scope) (any, error) {
	l, err := Eval(n.L, s)
	if err != nil {
		return nil, err
	}
	lb, ok := l.(bool)
	if !ok {
		return nil, typeErrorf("'%s' needs boolean operands, got %s", n.Op, typeName(l))
	}
	if n.Op == "and" && !lb {
		return false, nil
	}
	if n.Op == "or" && lb {
		return true, nil
	}
	r, err := Eval(n.R, s)
	if err != nil {
		return nil, err
	}
	rb, ok := r.(bool)
	if !ok {
		return nil, typeErrorf("'%s' needs boolean operands, got %s", n.Op, typeName(r))
	}
	return rb, nil
}

// Equal is structural equality. Values of different types are never equal.
func Equal(a, b any) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func compare(op string, l, r any) (any, error) {
	var c int
	switch x := l.(type) {
	case float64:
		y, ok := r.(float64)
		if !ok {
			return nil, typeErrorf("cannot compare number %s %s", op, typeName(r))
		}
		switch {
		case x < y:
			c = -1
		case x > y:
			c = 1
		}
	case string:
		y, ok := r.(string)
		if !ok {
			return nil, typeErrorf("cannot compare string %s %s", op, typeName(r))
		}
		c = strings.Compare(x, y)
	default:
		return nil, typeErrorf("cannot order %s", typeName(l))
	}
	switch op {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	}
	return c >= 0, nil
}

func contains(container, item any) (bool, error) {
	switch c := container.(type) {
	case []any:
		for _, v := range c {
			if Equal(v, item) {
				return true, nil
			}
		}
		return false, nil
	case string:
		sub, ok := item.(string)
		if !ok {
			return false, typeErrorf("'in <string>' needs a string on the left, got %s", typeName(item))
		}
		return strings.Contains(c, sub), nil
	case map[string]any:
		k, ok := Key(item)
		if !ok {
			return false, nil
		}
		_, found := c[k]
		return found, nil
	case Set:
		return c.Has(item), nil
	}
	return false, typeErrorf("'in' needs a list, string, mapping or set, got %s", typeName(container))
}

func add(l, r any) (any, error) {
	switch x := l.(type) {
	case float64:
		if y, ok := r.(float64); ok {
			return x + y, nil
		}
	case string:
		if y, ok := r.(string); ok {
			return x + y, nil
		}
	case []any:
		if y, ok := r.([]any); ok {
			out := make([]any, 0, len(x)+len(y))
			return append(append(out, x...), y...), nil
		}
	}
	return nil, typeErrorf("cannot add %s and %s", typeName(l), typeName(r))
}

func arith(op string, l, r any) (any, error) {
	x, ok1 := l.(float64)
	y, ok2 := r.(float64)
	if !ok1 || !ok2 {
		return nil, typeErrorf("operator %s needs numbers, got %s and %s", op, typeName(l), typeName(r))
	}
	switch op {
	case "-":
		return x - y, nil
	case "*":
		return x * y, nil
	case "/":
		if y == 0 {
			return nil, &EvalError{Kind: KindDivisionByZero, Msg: "division by zero"}
		}
		return x / y, nil
	}
	if y == 0 {
		return nil, &EvalError{Kind: KindDivisionByZero, Msg: "modulo by zero"}
	}
	// Result takes the sign of the divisor.
	m := math.Mod(x, y)
	if m != 0 && (m < 0) != (y < 0) {
		m += y
	}
	return m, nil
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case float64:
		return "number"
	case string:
		return "string"
	case bool:
		return "boolean"
	case []any:
		return "list"
	case map[string]any:
		return "mapping"
	case Set:
		return "set"
	}
	return fmt.Sprintf("%T", v)
}

// sortedValues returns mapping values ordered by key so folds are deterministic.
func sortedValues(m map[string]any) []any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = m[k]
	}
	return out
}
