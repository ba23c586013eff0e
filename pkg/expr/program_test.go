package expr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompilePredicate_Native(t *testing.T) {
	p, err := CompilePredicate(LangExpr, "premio_netto >= 0")
	require.NoError(t, err)
	assert.Equal(t, "premio_netto >= 0", p.Source())

	ok, err := p.Test(policyScope())
	require.NoError(t, err)
	assert.True(t, ok)

	p, err = CompilePredicate(LangExpr, "premio_netto + 1")
	require.NoError(t, err)
	_, err = p.Test(policyScope())
	var ee *EvalError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, KindTypeMismatch, ee.Kind)
}

func TestCompileDerivation_Native(t *testing.T) {
	d, err := CompileDerivation(LangExpr, "premio_tasse = premio_lordo - premio_netto")
	require.NoError(t, err)

	field, v, err := d.Derive(policyScope())
	require.NoError(t, err)
	assert.Equal(t, "premio_tasse", field)
	assert.Equal(t, 22.0, v)

	d, err = CompileDerivation(LangExpr, "rami = [ramo]")
	require.NoError(t, err)
	_, _, err = d.Derive(policyScope())
	require.Error(t, err)
}

func TestCompilePredicate_CEL(t *testing.T) {
	p, err := CompilePredicate(LangCEL, `table == "policy" && row.premio_netto >= 0.0`)
	require.NoError(t, err)
	ok, err := p.Test(policyScope())
	require.NoError(t, err)
	assert.True(t, ok)

	p, err = CompilePredicate(LangCEL, `row.id in policy_ids`)
	require.NoError(t, err)
	ok, err = p.Test(policyScope())
	require.NoError(t, err)
	assert.True(t, ok)

	p, err = CompilePredicate(LangCEL, `"premio_netto" in numeric_values`)
	require.NoError(t, err)
	ok, err = p.Test(policyScope())
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = CompilePredicate(LangCEL, `row.premio_netto >=`)
	var ee *EvalError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, KindSyntax, ee.Kind)
}

func TestCompilePredicate_CELMissingKey(t *testing.T) {
	p, err := CompilePredicate(LangCEL, `row.missing > 0.0`)
	require.NoError(t, err)
	_, err = p.Test(policyScope())
	var ee *EvalError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, KindUnknownIdentifier, ee.Kind)
}

func TestCompileDerivation_CEL(t *testing.T) {
	d, err := CompileDerivation(LangCEL, `ramo_normativo = "99"`)
	require.NoError(t, err)
	field, v, err := d.Derive(policyScope())
	require.NoError(t, err)
	assert.Equal(t, "ramo_normativo", field)
	assert.Equal(t, "99", v)

	d, err = CompileDerivation(LangCEL, `doppio = row.premio_netto * 2.0`)
	require.NoError(t, err)
	_, v, err = d.Derive(policyScope())
	require.NoError(t, err)
	assert.Equal(t, 200.0, v)

	_, err = CompileDerivation(LangCEL, `row.premio_netto == 1.0`)
	require.Error(t, err)
	_, err = CompileDerivation(LangCEL, `1x = 2`)
	require.Error(t, err)
}

func TestParseLang(t *testing.T) {
	l, err := ParseLang("")
	require.NoError(t, err)
	assert.Equal(t, LangExpr, l)
	l, err = ParseLang("CEL")
	require.NoError(t, err)
	assert.Equal(t, LangCEL, l)
	_, err = ParseLang("python")
	require.Error(t, err)
}
