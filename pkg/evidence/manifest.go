// Package evidence builds and verifies the audit trail of a run: a hash
// manifest over every consumed and produced file, an optional detached
// Ed25519 signature, and a deterministic tar.gz evidence pack.
package evidence

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// File names written next to the report.
const (
	ManifestFile  = "evidence_manifest.txt"
	SignatureFile = "evidence_manifest.sig"
	PackFile      = "evidence_pack.tar.gz"
)

// ErrVerification is wrapped by every hash or signature mismatch.
var ErrVerification = errors.New("evidence: verification failed")

var hexDigest = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Entry is one manifest line.
type Entry struct {
	Filename string `json:"filename"`
	SHA256   string `json:"sha256"`
	// Path is where the file was read from. Not part of the manifest text.
	Path string `json:"-"`
}

// Manifest is an ordered list of file digests.
type Manifest struct {
	Entries []Entry
}

// HashFile returns the hex SHA-256 of a file's raw bytes.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// BuildManifest hashes paths in the given order. Entries are keyed by base
// name, which must be unique.
func BuildManifest(paths ...string) (*Manifest, error) {
	m := &Manifest{Entries: make([]Entry, 0, len(paths))}
	seen := make(map[string]string, len(paths))
	for _, p := range paths {
		name := filepath.Base(p)
		if prev, dup := seen[name]; dup {
			return nil, fmt.Errorf("evidence: %s and %s share the manifest name %q", prev, p, name)
		}
		seen[name] = p
		sum, err := HashFile(p)
		if err != nil {
			return nil, fmt.Errorf("evidence: hash %s: %w", p, err)
		}
		m.Entries = append(m.Entries, Entry{Filename: name, SHA256: sum, Path: p})
	}
	return m, nil
}

// Bytes renders the manifest as `filename: sha256` lines.
func (m *Manifest) Bytes() []byte {
	var b bytes.Buffer
	for _, e := range m.Entries {
		b.WriteString(e.Filename)
		b.WriteString(": ")
		b.WriteString(e.SHA256)
		b.WriteByte('\n')
	}
	return b.Bytes()
}

// Digest is the SHA-256 of the rendered manifest.
func (m *Manifest) Digest() string {
	sum := sha256.Sum256(m.Bytes())
	return hex.EncodeToString(sum[:])
}

// Lookup returns the digest recorded for filename.
func (m *Manifest) Lookup(filename string) (string, bool) {
	for _, e := range m.Entries {
		if e.Filename == filename {
			return e.SHA256, true
		}
	}
	return "", false
}

// Write stores the manifest as dir/evidence_manifest.txt.
func (m *Manifest) Write(dir string) (string, error) {
	path := filepath.Join(dir, ManifestFile)
	if err := os.WriteFile(path, m.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("evidence: write manifest: %w", err)
	}
	return path, nil
}

// ParseManifest reads manifest text.
func ParseManifest(data []byte) (*Manifest, error) {
	m := &Manifest{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if text == "" {
			continue
		}
		i := strings.LastIndex(text, ": ")
		if i <= 0 {
			return nil, fmt.Errorf("evidence: manifest line %d: expected `filename: sha256`", line)
		}
		name, sum := text[:i], text[i+2:]
		if !hexDigest.MatchString(sum) {
			return nil, fmt.Errorf("evidence: manifest line %d: invalid digest %q", line, sum)
		}
		m.Entries = append(m.Entries, Entry{Filename: name, SHA256: sum})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("evidence: read manifest: %w", err)
	}
	return m, nil
}

// Check is the verification result of one manifest entry.
type Check struct {
	Filename string `json:"filename"`
	Expected string `json:"expected"`
	Actual   string `json:"actual,omitempty"`
	Path     string `json:"path,omitempty"`
	Error    string `json:"error,omitempty"`
}

// OK reports whether the file was found and matched.
func (c Check) OK() bool { return c.Error == "" && c.Actual == c.Expected }

// VerifyManifest recomputes every digest listed in manifestPath. Files are
// looked up in the manifest's directory first, then in searchDirs. The
// returned error wraps ErrVerification when any entry is missing or differs.
func VerifyManifest(manifestPath string, searchDirs ...string) ([]Check, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("evidence: read manifest: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	dirs := append([]string{filepath.Dir(manifestPath)}, searchDirs...)

	checks := make([]Check, 0, len(m.Entries))
	failed := 0
	for _, e := range m.Entries {
		c := Check{Filename: e.Filename, Expected: e.SHA256}
		c.Path = locate(e.Filename, dirs)
		if c.Path == "" {
			c.Error = "file not found"
		} else if c.Actual, err = HashFile(c.Path); err != nil {
			c.Error = err.Error()
		}
		if !c.OK() {
			failed++
		}
		checks = append(checks, c)
	}
	if failed > 0 {
		return checks, fmt.Errorf("%w: %d of %d files do not match the manifest", ErrVerification, failed, len(checks))
	}
	return checks, nil
}

func locate(name string, dirs []string) string {
	if name != filepath.Base(name) {
		return ""
	}
	for _, d := range dirs {
		p := filepath.Join(d, name)
		if st, err := os.Stat(p); err == nil && st.Mode().IsRegular() {
			return p
		}
	}
	return ""
}
