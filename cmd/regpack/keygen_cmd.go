package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/broker-flow-ai/regpack/pkg/evidence"
)

// runKeygenCmd writes a fresh signing seed for evidence.signing_key and
// prints the matching public key for verifiers.
func runKeygenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("keygen", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var outPath string
	cmd.StringVar(&outPath, "out", "", "Path for the hex seed file (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if outPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --out is required")
		return 2
	}

	seed, err := evidence.GenerateSeed()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	f, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if _, err := fmt.Fprintln(f, seed); err != nil {
		_ = f.Close()
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if err := f.Close(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	signer, err := evidence.LoadSigner(outPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintf(stdout, "Seed written to %s\n", outPath)
	_, _ = fmt.Fprintf(stdout, "Public key: %s\n", signer.PublicKey())
	return 0
}
