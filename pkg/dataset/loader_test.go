package dataset_test

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/broker-flow-ai/regpack/pkg/dataset"
)

func writeTables(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	return dir
}

func portfolio() map[string]string {
	return map[string]string{
		"policy.csv":       "id;premio_netto;ramo;data_emissione\nP1;100.00;01;2024-01-10\nP2;200;02;2024-02-11\n12;abc;01;\n",
		"claim.csv":        "id,policy_id,importo_pagato,riserva\nC1,P1,50.5,10\n",
		"transaction.csv":  "id,policy_id,importo\n",
		"intermediary.csv": "code,name\nRUI001,Broker Flow Srl\n",
		"client.csv":       "id,nome\nK1,Rossi\n",
	}
}

func TestLoad_Portfolio(t *testing.T) {
	dir := writeTables(t, portfolio())
	ds, err := dataset.Load(dataset.Options{Dir: dir})
	require.NoError(t, err)

	require.Len(t, ds.Tables, 5)
	assert.Equal(t, "policy", ds.Tables[0].Name)
	assert.Equal(t, 6, ds.RowCount())

	pol := ds.Table("policy")
	assert.Equal(t, []string{"id", "premio_netto", "ramo", "data_emissione"}, pol.Header)
	require.Len(t, pol.Rows, 3)
	assert.Equal(t, 100.0, pol.Rows[0].Values["premio_netto"])
	assert.Equal(t, 1.0, pol.Rows[0].Values["ramo"])
	assert.Equal(t, "abc", pol.Rows[2].Values["premio_netto"])
	assert.Equal(t, "", pol.Rows[2].Values["data_emissione"])
	assert.Equal(t, 12.0, pol.Rows[2].ID())
	assert.Equal(t, 2, pol.Rows[2].Index)

	claim := ds.Table("claim")
	assert.Equal(t, 50.5, claim.Rows[0].Values["importo_pagato"])
	assert.Empty(t, ds.Table("transaction").Rows)
	assert.Nil(t, ds.Table("nope"))

	assert.Equal(t, filepath.Join(dir, "policy.csv"), ds.Files()[0])
}

func TestLoad_MissingTable(t *testing.T) {
	files := portfolio()
	delete(files, "claim.csv")
	dir := writeTables(t, files)

	_, err := dataset.Load(dataset.Options{Dir: dir})
	require.Error(t, err)
	var le *dataset.LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "claim", le.Table)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestLoad_FieldCountMismatch(t *testing.T) {
	dir := writeTables(t, map[string]string{"policy.csv": "id,premio_netto\nP1,1,extra\n"})
	_, err := dataset.Load(dataset.Options{Dir: dir, Tables: []string{"policy"}})
	var le *dataset.LoadError
	require.True(t, errors.As(err, &le))
}

func TestLoad_HeaderProblems(t *testing.T) {
	for name, body := range map[string]string{
		"empty":     "",
		"duplicate": "id,id\n1,2\n",
		"blank":     "id,,x\n1,2,3\n",
	} {
		t.Run(name, func(t *testing.T) {
			dir := writeTables(t, map[string]string{"policy.csv": body})
			_, err := dataset.Load(dataset.Options{Dir: dir, Tables: []string{"policy"}})
			var le *dataset.LoadError
			require.True(t, errors.As(err, &le), "got %v", err)
		})
	}
}

func TestLoad_BOMAndNormalisedHeader(t *testing.T) {
	// The second column uses a combining grave accent.
	body := "\xef\xbb\xbf id ,citta\u0300\nP1,Roma\n"
	dir := writeTables(t, map[string]string{"policy.csv": body})
	ds, err := dataset.Load(dataset.Options{Dir: dir, Tables: []string{"policy"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "citt\u00e0"}, ds.Table("policy").Header)
	assert.Equal(t, "P1", ds.Table("policy").Rows[0].ID())
}

func TestLoad_ExplicitDelimiterAndFiles(t *testing.T) {
	dir := writeTables(t, map[string]string{"pol_2024.tsv": "id\tpremio_netto\nP1\t5\n"})
	ds, err := dataset.Load(dataset.Options{
		Dir:       dir,
		Delimiter: `\t`,
		Tables:    []string{"policy"},
		Files:     map[string]string{"policy": "pol_2024.tsv"},
	})
	require.NoError(t, err)
	assert.Equal(t, 5.0, ds.Table("policy").Rows[0].Values["premio_netto"])

	_, err = dataset.Load(dataset.Options{Dir: dir, Delimiter: "#"})
	require.Error(t, err)
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, 100.0, dataset.ParseValue("100.00"))
	assert.Equal(t, -3.5, dataset.ParseValue(" -3.5 "))
	assert.Equal(t, 1e3, dataset.ParseValue("1e3"))
	assert.Equal(t, "100,50", dataset.ParseValue("100,50"))
	assert.Equal(t, "", dataset.ParseValue(""))
	assert.Equal(t, "NaN", dataset.ParseValue("NaN"))
	assert.Equal(t, "inf", dataset.ParseValue("inf"))
}

func TestRow_SetAndID(t *testing.T) {
	r := &dataset.Row{Columns: []string{"policy_id"}, Values: map[string]any{"policy_id": "P7"}}
	assert.Equal(t, "P7", r.ID())

	r.Set("ramo_normativo", "99")
	r.Set("ramo_normativo", "98")
	assert.Equal(t, []string{"policy_id", "ramo_normativo"}, r.Columns)
	v, ok := r.Get("ramo_normativo")
	assert.True(t, ok)
	assert.Equal(t, "98", v)

	assert.Nil(t, (&dataset.Row{Values: map[string]any{"id": ""}}).ID())
}

func TestNewContext(t *testing.T) {
	dir := writeTables(t, portfolio())
	ds, err := dataset.Load(dataset.Options{Dir: dir})
	require.NoError(t, err)

	ctx := dataset.NewContext("2024Q1", ds)
	assert.True(t, ctx.PolicyIDs.Has("P1"))
	assert.True(t, ctx.PolicyIDs.Has(12.0))
	assert.True(t, ctx.PolicyIDs.Has("12"))
	assert.False(t, ctx.PolicyIDs.Has("C1"))
	assert.True(t, ctx.ClientIDs.Has("K1"))
	assert.True(t, ctx.IntermediaryCodes.Has("RUI001"))

	vars := ctx.Vars("claim")
	assert.Equal(t, "claim", vars["table"])
	assert.Equal(t, "2024Q1", vars["period"])
}
