package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/broker-flow-ai/regpack/pkg/canonicalize"
)

// Index maps each published file name to its digest. The index itself is
// stored as a canonical JSON blob so one digest addresses a whole run.
type Index struct {
	RunID string            `json:"run_id"`
	Files map[string]string `json:"files"`
}

// Publish stores every file in paths plus an Index, and returns the index
// digest.
func Publish(ctx context.Context, s Store, runID string, paths []string) (string, *Index, error) {
	idx := &Index{RunID: runID, Files: make(map[string]string, len(paths))}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return "", nil, fmt.Errorf("artifacts: read %s: %w", p, err)
		}
		digest, err := s.Put(ctx, data)
		if err != nil {
			return "", nil, fmt.Errorf("artifacts: publish %s: %w", filepath.Base(p), err)
		}
		idx.Files[filepath.Base(p)] = digest
	}
	body, err := canonicalize.JCS(idx)
	if err != nil {
		return "", nil, fmt.Errorf("artifacts: encode index: %w", err)
	}
	digest, err := s.Put(ctx, body)
	if err != nil {
		return "", nil, fmt.Errorf("artifacts: publish index: %w", err)
	}
	return digest, idx, nil
}
