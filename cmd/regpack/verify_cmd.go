package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/broker-flow-ai/regpack/pkg/evidence"
)

type verifyCheck struct {
	Name   string `json:"name"`
	Pass   bool   `json:"pass"`
	Reason string `json:"reason,omitempty"`
}

type verifyReport struct {
	Target   string        `json:"target"`
	Verified bool          `json:"verified"`
	Checks   []verifyCheck `json:"checks"`
}

// runVerifyCmd implements `regpack verify`.
//
// Exit codes:
//
//	0 = verification passed
//	1 = verification failed
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		dir        string
		inputs     string
		packPath   string
		pubKey     string
		jsonOutput bool
	)
	cmd.StringVar(&dir, "dir", "", "Output directory holding evidence_manifest.txt")
	cmd.StringVar(&inputs, "inputs", "", "Comma-separated directories searched for input files")
	cmd.StringVar(&packPath, "pack", "", "Path to evidence_pack.tar.gz")
	cmd.StringVar(&pubKey, "pubkey", "", "Trusted Ed25519 public key (hex); requires a signature")
	cmd.BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if (dir == "") == (packPath == "") {
		_, _ = fmt.Fprintln(stderr, "Error: exactly one of --dir or --pack is required")
		return 2
	}

	var (
		rep *verifyReport
		err error
	)
	if packPath != "" {
		rep = verifyPack(packPath)
	} else {
		rep, err = verifyDir(dir, splitList(inputs), pubKey)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(rep, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else if rep.Verified {
		_, _ = fmt.Fprintf(stdout, "✅ Evidence verification PASSED\n")
		_, _ = fmt.Fprintf(stdout, "Target: %s\n", rep.Target)
		_, _ = fmt.Fprintf(stdout, "Checks: %d\n", len(rep.Checks))
	} else {
		_, _ = fmt.Fprintf(stdout, "❌ Evidence verification FAILED\n")
		_, _ = fmt.Fprintf(stdout, "Target: %s\n", rep.Target)
		for _, c := range rep.Checks {
			if !c.Pass {
				_, _ = fmt.Fprintf(stdout, "  - %s: %s\n", c.Name, c.Reason)
			}
		}
	}

	if !rep.Verified {
		return 1
	}
	return 0
}

func verifyDir(dir string, searchDirs []string, pubKey string) (*verifyReport, error) {
	manifestPath := filepath.Join(dir, evidence.ManifestFile)
	rep := &verifyReport{Target: manifestPath, Verified: true}

	checks, err := evidence.VerifyManifest(manifestPath, searchDirs...)
	if err != nil && !errors.Is(err, evidence.ErrVerification) {
		return nil, err
	}
	for _, c := range checks {
		vc := verifyCheck{Name: c.Filename, Pass: c.OK(), Reason: c.Error}
		if !vc.Pass && vc.Reason == "" {
			vc.Reason = fmt.Sprintf("expected %s, got %s", c.Expected, c.Actual)
		}
		rep.Verified = rep.Verified && vc.Pass
		rep.Checks = append(rep.Checks, vc)
	}

	sigPath := filepath.Join(dir, evidence.SignatureFile)
	if _, statErr := os.Stat(sigPath); statErr == nil {
		rep.add("signature", evidence.VerifySignature(manifestPath, sigPath, pubKey))
	} else if pubKey != "" {
		rep.add("signature", fmt.Errorf("%s not found", evidence.SignatureFile))
	}
	return rep, nil
}

func verifyPack(path string) *verifyReport {
	rep := &verifyReport{Target: path, Verified: true}
	pm, err := evidence.VerifyPack(path)
	rep.add("pack", err)
	if pm != nil {
		rep.Checks[0].Reason = fmt.Sprintf("period %s, status %s, %d files", pm.Period, pm.Status, len(pm.FileHashes))
	}
	return rep
}

func (r *verifyReport) add(name string, err error) {
	c := verifyCheck{Name: name, Pass: err == nil}
	if err != nil {
		c.Reason = err.Error()
		r.Verified = false
	}
	r.Checks = append(r.Checks, c)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
