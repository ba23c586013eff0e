package expr

import (
	"fmt"
	"strings"
)

// Lang selects the dialect a rule expression is written in.
type Lang string

const (
	LangExpr Lang = "expr"
	LangCEL  Lang = "cel"
)

// ParseLang maps a ruleset `lang:` value to a dialect. Empty means LangExpr.
func ParseLang(s string) (Lang, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "expr":
		return LangExpr, nil
	case "cel":
		return LangCEL, nil
	}
	return "", fmt.Errorf("unknown expression language %q", s)
}

// Predicate is a compiled boolean expression.
type Predicate interface {
	Test(s *Scope) (bool, error)
	Source() string
}

// Derivation is a compiled `field = expr` transform.
type Derivation interface {
	Derive(s *Scope) (field string, value any, err error)
	Source() string
}

// CompilePredicate compiles src in the given dialect.
func CompilePredicate(lang Lang, src string) (Predicate, error) {
	if lang == LangCEL {
		return compileCELPredicate(src)
	}
	root, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return &nativePredicate{src: src, root: root}, nil
}

// CompileDerivation compiles a transform in the given dialect.
func CompileDerivation(lang Lang, src string) (Derivation, error) {
	if lang == LangCEL {
		return compileCELDerivation(src)
	}
	field, root, err := ParseAssignment(src)
	if err != nil {
		return nil, err
	}
	return &nativeDerivation{src: src, field: field, root: root}, nil
}

type nativePredicate struct {
	src  string
	root Node
}

func (p *nativePredicate) Source() string { return p.src }

func (p *nativePredicate) Test(s *Scope) (ok bool, err error) {
	defer recoverEval(&err)
	v, err := Eval(p.root, s)
	if err != nil {
		return false, err
	}
	b, isBool := v.(bool)
	if !isBool {
		return false, typeErrorf("expression must evaluate to a boolean, got %s", typeName(v))
	}
	return b, nil
}

type nativeDerivation struct {
	src   string
	field string
	root  Node
}

func (d *nativeDerivation) Source() string { return d.src }

func (d *nativeDerivation) Derive(s *Scope) (field string, value any, err error) {
	defer recoverEval(&err)
	v, err := Eval(d.root, s)
	if err != nil {
		return "", nil, err
	}
	if !isScalar(v) {
		return "", nil, typeErrorf("transform %q must produce a number, string, boolean or null, got %s", d.field, typeName(v))
	}
	return d.field, v, nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, float64, string, bool:
		return true
	}
	return false
}

func recoverEval(err *error) {
	if r := recover(); r != nil {
		*err = &EvalError{Kind: KindTypeMismatch, Msg: fmt.Sprintf("evaluation aborted: %v", r)}
	}
}
