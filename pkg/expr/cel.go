package expr

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// celCostLimit bounds the computational cost of a single CEL evaluation.
const celCostLimit = 10000

// celVars lists the context variables visible to CEL rules besides row,
// numeric_values and date_values.
var celVars = []string{"table", "period", "policy_ids", "client_ids", "intermediary_codes"}

var (
	celEnvOnce sync.Once
	celEnv     *cel.Env
	celEnvErr  error

	celMu    sync.RWMutex
	celCache = make(map[string]cel.Program)
)

func sharedCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		opts := []cel.EnvOption{
			cel.Variable("row", cel.MapType(cel.StringType, cel.DynType)),
			cel.Variable("numeric_values", cel.MapType(cel.StringType, cel.DynType)),
			cel.Variable("date_values", cel.MapType(cel.StringType, cel.DynType)),
		}
		for _, name := range celVars {
			opts = append(opts, cel.Variable(name, cel.DynType))
		}
		celEnv, celEnvErr = cel.NewEnv(opts...)
	})
	return celEnv, celEnvErr
}

// celProgram compiles src once and caches the program for reuse across rows.
func celProgram(src string) (cel.Program, error) {
	celMu.RLock()
	prg, hit := celCache[src]
	celMu.RUnlock()
	if hit {
		return prg, nil
	}

	env, err := sharedCELEnv()
	if err != nil {
		return nil, fmt.Errorf("cel environment: %w", err)
	}

	celMu.Lock()
	defer celMu.Unlock()
	if prg, hit = celCache[src]; hit {
		return prg, nil
	}
	ast, issues := env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, &EvalError{Kind: KindSyntax, Msg: "cel compile: " + issues.Err().Error()}
	}
	p, err := env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(celCostLimit),
	)
	if err != nil {
		return nil, &EvalError{Kind: KindSyntax, Msg: "cel program: " + err.Error()}
	}
	celCache[src] = p
	return p, nil
}

func celActivation(s *Scope) map[string]any {
	act := map[string]any{
		"row":            s.Fields,
		"numeric_values": s.NumericValues(),
		"date_values":    s.DateValues(),
	}
	for _, name := range celVars {
		if v, ok := s.Vars[name]; ok {
			if set, isSet := v.(Set); isSet {
				v = map[string]bool(set)
			}
			act[name] = v
		} else {
			act[name] = types.NullValue
		}
	}
	return act
}

func celEval(prg cel.Program, s *Scope) (ref.Val, error) {
	out, _, err := prg.Eval(celActivation(s))
	if err != nil {
		return nil, classifyCELError(err)
	}
	return out, nil
}

func classifyCELError(err error) *EvalError {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "divide by zero"), strings.Contains(msg, "modulus by zero"):
		return &EvalError{Kind: KindDivisionByZero, Msg: msg}
	case strings.Contains(msg, "no such key"), strings.Contains(msg, "no such attribute"):
		return &EvalError{Kind: KindUnknownIdentifier, Msg: msg}
	}
	return &EvalError{Kind: KindTypeMismatch, Msg: msg}
}

type celPredicate struct {
	src string
	prg cel.Program
}

func compileCELPredicate(src string) (Predicate, error) {
	prg, err := celProgram(src)
	if err != nil {
		return nil, err
	}
	return &celPredicate{src: src, prg: prg}, nil
}

func (p *celPredicate) Source() string { return p.src }

func (p *celPredicate) Test(s *Scope) (bool, error) {
	out, err := celEval(p.prg, s)
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, typeErrorf("cel expression must evaluate to a boolean, got %s", out.Type().TypeName())
	}
	return b, nil
}

type celDerivation struct {
	src   string
	field string
	prg   cel.Program
}

func compileCELDerivation(src string) (Derivation, error) {
	field, body, err := splitAssignment(src)
	if err != nil {
		return nil, err
	}
	prg, err := celProgram(body)
	if err != nil {
		return nil, err
	}
	return &celDerivation{src: src, field: field, prg: prg}, nil
}

func (d *celDerivation) Source() string { return d.src }

func (d *celDerivation) Derive(s *Scope) (string, any, error) {
	out, err := celEval(d.prg, s)
	if err != nil {
		return "", nil, err
	}
	switch v := out.Value().(type) {
	case float64, string, bool:
		return d.field, v, nil
	case int64:
		return d.field, float64(v), nil
	case uint64:
		return d.field, float64(v), nil
	}
	if out == types.NullValue {
		return d.field, nil, nil
	}
	return "", nil, typeErrorf("transform %q must produce a scalar, got %s", d.field, out.Type().TypeName())
}

// splitAssignment splits `name = body` without tokenising body, which is CEL.
func splitAssignment(src string) (string, string, error) {
	i := strings.IndexByte(src, '=')
	if i < 0 || (i+1 < len(src) && src[i+1] == '=') {
		return "", "", syntaxErrorf(0, "transform must have the form <field> = <expression>")
	}
	name := strings.TrimSpace(src[:i])
	if name == "" {
		return "", "", syntaxErrorf(0, "transform is missing a field name")
	}
	for j, r := range name {
		if r != '_' && !unicode.IsLetter(r) && (j == 0 || !unicode.IsDigit(r)) {
			return "", "", syntaxErrorf(j, "invalid field name %q", name)
		}
	}
	body := strings.TrimSpace(src[i+1:])
	if body == "" {
		return "", "", syntaxErrorf(i+1, "transform %q has an empty expression", name)
	}
	return name, body, nil
}
