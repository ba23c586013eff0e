package evidence

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/broker-flow-ai/regpack/pkg/canonicalize"
)

const (
	packManifestName = "manifest.json"
	packVersion      = "1"
	maxPackEntrySize = 1 << 30
)

// PackManifest is written as manifest.json inside the evidence pack.
type PackManifest struct {
	Version        string            `json:"version"`
	Period         string            `json:"period"`
	RulesetVersion string            `json:"ruleset_version"`
	Status         string            `json:"status"`
	FileHashes     map[string]string `json:"file_hashes"`
}

// PackInfo describes the run a pack belongs to.
type PackInfo struct {
	Period         string
	RulesetVersion string
	Status         string
}

// ExportPack writes every manifest entry plus the manifest itself into a
// deterministic tar.gz: sorted names, epoch mtime, uid/gid 0, no timestamps
// in the embedded manifest.
func ExportPack(outPath string, m *Manifest, extra map[string][]byte, info PackInfo) error {
	files := make(map[string][]byte, len(m.Entries)+len(extra))
	for _, e := range m.Entries {
		data, err := os.ReadFile(e.Path)
		if err != nil {
			return fmt.Errorf("evidence: pack %s: %w", e.Filename, err)
		}
		files[e.Filename] = data
	}
	for name, data := range extra {
		files[name] = data
	}
	return writePack(outPath, files, info)
}

func writePack(outPath string, files map[string][]byte, info PackInfo) (err error) {
	names := make([]string, 0, len(files))
	for name := range files {
		if name == packManifestName {
			return fmt.Errorf("evidence: %s is reserved inside the pack", packManifestName)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	manifest := PackManifest{
		Version:        packVersion,
		Period:         info.Period,
		RulesetVersion: info.RulesetVersion,
		Status:         info.Status,
		FileHashes:     make(map[string]string, len(names)),
	}
	for _, name := range names {
		manifest.FileHashes[name] = canonicalize.HashBytes(files[name])
	}
	manifestBytes, err := canonicalize.JCS(manifest)
	if err != nil {
		return fmt.Errorf("evidence: marshal pack manifest: %w", err)
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("evidence: create pack: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)
	if err := writeEntry(tw, packManifestName, manifestBytes); err != nil {
		return err
	}
	for _, name := range names {
		if err := writeEntry(tw, name, files[name]); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("evidence: close tar: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("evidence: close gzip: %w", err)
	}
	return nil
}

func writeEntry(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Size:     int64(len(data)),
		Mode:     0o644,
		ModTime:  time.Unix(0, 0),
		Uid:      0,
		Gid:      0,
		Format:   tar.FormatUSTAR,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("evidence: write header %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("evidence: write data %s: %w", name, err)
	}
	return nil
}

// VerifyPack reads a pack and checks every file against its manifest.json.
// Files missing from the manifest, or listed but absent, fail verification.
func VerifyPack(packPath string) (*PackManifest, error) {
	f, err := os.Open(packPath)
	if err != nil {
		return nil, fmt.Errorf("evidence: open pack: %w", err)
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("evidence: gzip reader: %w", err)
	}
	defer gr.Close()
	tr := tar.NewReader(gr)

	var manifest *PackManifest
	fileHashes := make(map[string]string)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("evidence: tar read: %w", err)
		}
		data, err := io.ReadAll(io.LimitReader(tr, maxPackEntrySize+1))
		if err != nil {
			return nil, fmt.Errorf("evidence: read %s: %w", hdr.Name, err)
		}
		if len(data) > maxPackEntrySize {
			return nil, fmt.Errorf("evidence: %s exceeds %d bytes", hdr.Name, maxPackEntrySize)
		}
		if hdr.Name == packManifestName {
			var m PackManifest
			if err := json.Unmarshal(data, &m); err != nil {
				return nil, fmt.Errorf("evidence: decode pack manifest: %w", err)
			}
			manifest = &m
			continue
		}
		fileHashes[hdr.Name] = canonicalize.HashBytes(data)
	}

	if manifest == nil {
		return nil, fmt.Errorf("%w: %s not found in pack", ErrVerification, packManifestName)
	}
	for name, expected := range manifest.FileHashes {
		actual, ok := fileHashes[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s listed in manifest but missing from pack", ErrVerification, name)
		}
		if actual != expected {
			return nil, fmt.Errorf("%w: hash mismatch for %s: expected %s, got %s", ErrVerification, name, expected, actual)
		}
	}
	for name := range fileHashes {
		if _, ok := manifest.FileHashes[name]; !ok {
			return nil, fmt.Errorf("%w: %s present in pack but not in manifest", ErrVerification, name)
		}
	}
	return manifest, nil
}
