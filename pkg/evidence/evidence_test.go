package evidence_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/broker-flow-ai/regpack/pkg/evidence"
)

const emptySHA = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func fixture(t *testing.T) (dataDir, outDir string, paths []string) {
	t.Helper()
	dataDir, outDir = t.TempDir(), t.TempDir()
	paths = []string{
		writeFile(t, dataDir, "policy.csv", "id,premio_netto\nP1,100\n"),
		writeFile(t, dataDir, "rules.yaml", "version: 1\n"),
		writeFile(t, outDir, "report.json", `{"period":"2024Q1"}`),
		writeFile(t, outDir, "empty.json", ""),
	}
	return dataDir, outDir, paths
}

func TestBuildManifest_OrderAndFormat(t *testing.T) {
	_, _, paths := fixture(t)
	m, err := evidence.BuildManifest(paths...)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(string(m.Bytes()), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "policy.csv: "))
	assert.True(t, strings.HasPrefix(lines[1], "rules.yaml: "))
	assert.True(t, strings.HasPrefix(lines[2], "report.json: "))
	assert.Equal(t, "empty.json: "+emptySHA, lines[3])

	sum, ok := m.Lookup("empty.json")
	assert.True(t, ok)
	assert.Equal(t, emptySHA, sum)

	again, err := evidence.BuildManifest(paths...)
	require.NoError(t, err)
	assert.Equal(t, m.Bytes(), again.Bytes())
	assert.Equal(t, m.Digest(), again.Digest())
}

func TestBuildManifest_DuplicateNames(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	_, err := evidence.BuildManifest(writeFile(t, a, "x.csv", "1"), writeFile(t, b, "x.csv", "2"))
	require.Error(t, err)
}

func TestParseManifest(t *testing.T) {
	m, err := evidence.ParseManifest([]byte("a: b: " + emptySHA + "\n\n"))
	require.NoError(t, err)
	require.Len(t, m.Entries, 1)
	assert.Equal(t, "a: b", m.Entries[0].Filename)

	_, err = evidence.ParseManifest([]byte("policy.csv: nothex\n"))
	require.Error(t, err)
	_, err = evidence.ParseManifest([]byte("no separator\n"))
	require.Error(t, err)
}

func TestVerifyManifest(t *testing.T) {
	dataDir, outDir, paths := fixture(t)
	m, err := evidence.BuildManifest(paths...)
	require.NoError(t, err)
	mpath, err := m.Write(outDir)
	require.NoError(t, err)

	checks, err := evidence.VerifyManifest(mpath, dataDir)
	require.NoError(t, err)
	require.Len(t, checks, 4)
	for _, c := range checks {
		assert.True(t, c.OK(), c.Filename)
	}

	// Without the data dir the inputs cannot be located.
	_, err = evidence.VerifyManifest(mpath)
	require.ErrorIs(t, err, evidence.ErrVerification)

	// A single changed byte is detected.
	writeFile(t, dataDir, "policy.csv", "id,premio_netto\nP1,101\n")
	checks, err = evidence.VerifyManifest(mpath, dataDir)
	require.ErrorIs(t, err, evidence.ErrVerification)
	assert.False(t, checks[0].OK())
	assert.True(t, checks[1].OK())
}

func TestSignature_RoundTrip(t *testing.T) {
	_, outDir, paths := fixture(t)
	m, err := evidence.BuildManifest(paths[2:]...)
	require.NoError(t, err)
	mpath, err := m.Write(outDir)
	require.NoError(t, err)

	seed, err := evidence.GenerateSeed()
	require.NoError(t, err)
	keyPath := writeFile(t, t.TempDir(), "signing.key", seed+"\n")
	signer, err := evidence.LoadSigner(keyPath)
	require.NoError(t, err)

	spath, err := evidence.WriteSignature(outDir, m.Bytes(), signer)
	require.NoError(t, err)

	require.NoError(t, evidence.VerifySignature(mpath, spath, ""))
	require.NoError(t, evidence.VerifySignature(mpath, spath, strings.ToUpper(signer.PublicKey())))

	other, err := evidence.NewSignerFromSeed(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	err = evidence.VerifySignature(mpath, spath, other.PublicKey())
	require.ErrorIs(t, err, evidence.ErrVerification)

	require.NoError(t, os.WriteFile(mpath, append(m.Bytes(), "x.csv: "+emptySHA+"\n"...), 0o600))
	err = evidence.VerifySignature(mpath, spath, "")
	require.ErrorIs(t, err, evidence.ErrVerification)
}

func TestSigner_Deterministic(t *testing.T) {
	s1, err := evidence.NewSignerFromSeed(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	s2, err := evidence.NewSignerFromSeed(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	assert.Equal(t, s1.PublicKey(), s2.PublicKey())
	assert.Equal(t, s1.Sign([]byte("m")), s2.Sign([]byte("m")))

	ok, err := evidence.Verify(s1.PublicKey(), s1.Sign([]byte("m")), []byte("m"))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = evidence.NewSignerFromSeed([]byte("short"))
	require.Error(t, err)
	_, err = evidence.Verify("zz", "00", nil)
	require.Error(t, err)
}

func TestExportPack_RoundTripAndDeterminism(t *testing.T) {
	_, outDir, paths := fixture(t)
	m, err := evidence.BuildManifest(paths...)
	require.NoError(t, err)
	info := evidence.PackInfo{Period: "2024Q1", RulesetVersion: "1", Status: "COMPLETED"}
	extra := map[string][]byte{evidence.ManifestFile: m.Bytes()}

	p1 := filepath.Join(outDir, "pack1.tar.gz")
	p2 := filepath.Join(outDir, "pack2.tar.gz")
	require.NoError(t, evidence.ExportPack(p1, m, extra, info))
	require.NoError(t, evidence.ExportPack(p2, m, extra, info))

	b1, err := os.ReadFile(p1)
	require.NoError(t, err)
	b2, err := os.ReadFile(p2)
	require.NoError(t, err)
	assert.Equal(t, b1, b2, "packs built from identical inputs must be byte-identical")

	pm, err := evidence.VerifyPack(p1)
	require.NoError(t, err)
	assert.Equal(t, "2024Q1", pm.Period)
	assert.Equal(t, "COMPLETED", pm.Status)
	assert.Len(t, pm.FileHashes, 5)
	assert.Equal(t, emptySHA, pm.FileHashes["empty.json"])
}

func TestExportPack_ReservedName(t *testing.T) {
	err := evidence.ExportPack(filepath.Join(t.TempDir(), "p.tar.gz"), &evidence.Manifest{},
		map[string][]byte{"manifest.json": []byte("{}")}, evidence.PackInfo{})
	require.Error(t, err)
}

func TestVerifyPack_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := evidence.VerifyPack(filepath.Join(dir, "missing.tar.gz"))
	require.Error(t, err)

	notGzip := writeFile(t, dir, "bad.tar.gz", "plain text")
	_, err = evidence.VerifyPack(notGzip)
	require.Error(t, err)
	assert.False(t, errors.Is(err, evidence.ErrVerification))
}
