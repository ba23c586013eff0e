package evidence

import (
	"bufio"
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Signer signs manifests with an Ed25519 key.
type Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
}

// NewSignerFromSeed derives the key pair from a 32-byte seed.
func NewSignerFromSeed(seed []byte) (*Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("evidence: signing seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Signer{privKey: priv, pubKey: priv.Public().(ed25519.PublicKey)}, nil
}

// LoadSigner reads a hex-encoded seed (or full private key) from path.
func LoadSigner(path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("evidence: read signing key: %w", err)
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("evidence: signing key is not hex: %w", err)
	}
	if len(raw) == ed25519.PrivateKeySize {
		raw = raw[:ed25519.SeedSize]
	}
	return NewSignerFromSeed(raw)
}

// GenerateSeed returns a fresh hex-encoded seed suitable for LoadSigner.
func GenerateSeed() (string, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return "", fmt.Errorf("evidence: key generation failed: %w", err)
	}
	return hex.EncodeToString(seed), nil
}

// Sign returns the hex signature of data.
func (s *Signer) Sign(data []byte) string {
	return hex.EncodeToString(ed25519.Sign(s.privKey, data))
}

// PublicKey returns the hex public key.
func (s *Signer) PublicKey() string {
	return hex.EncodeToString(s.pubKey)
}

// Verify checks a hex signature against a hex public key.
func Verify(pubKeyHex, sigHex string, data []byte) (bool, error) {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("invalid public key hex: %w", err)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key size")
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), data, sig), nil
}

// Signature is the detached signature file content.
type Signature struct {
	Algorithm string
	PublicKey string
	Value     string
}

func (s Signature) bytes() []byte {
	return []byte(fmt.Sprintf("algorithm: %s\npublic_key: %s\nsignature: %s\n", s.Algorithm, s.PublicKey, s.Value))
}

// WriteSignature signs manifest and stores the result as dir/evidence_manifest.sig.
func WriteSignature(dir string, manifest []byte, s *Signer) (string, error) {
	sig := Signature{Algorithm: "ed25519", PublicKey: s.PublicKey(), Value: s.Sign(manifest)}
	path := filepath.Join(dir, SignatureFile)
	if err := os.WriteFile(path, sig.bytes(), 0o644); err != nil {
		return "", fmt.Errorf("evidence: write signature: %w", err)
	}
	return path, nil
}

// ParseSignature reads a detached signature file.
func ParseSignature(data []byte) (Signature, error) {
	var sig Signature
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ": ")
		if !ok {
			continue
		}
		switch key {
		case "algorithm":
			sig.Algorithm = value
		case "public_key":
			sig.PublicKey = value
		case "signature":
			sig.Value = value
		}
	}
	if sig.Algorithm != "ed25519" || sig.PublicKey == "" || sig.Value == "" {
		return Signature{}, fmt.Errorf("evidence: malformed signature file")
	}
	return sig, nil
}

// VerifySignature checks sigPath against the manifest bytes. When
// trustedKey is set the embedded public key must equal it.
func VerifySignature(manifestPath, sigPath, trustedKey string) error {
	manifest, err := os.ReadFile(manifestPath)
	if err != nil {
		return fmt.Errorf("evidence: read manifest: %w", err)
	}
	raw, err := os.ReadFile(sigPath)
	if err != nil {
		return fmt.Errorf("evidence: read signature: %w", err)
	}
	sig, err := ParseSignature(raw)
	if err != nil {
		return err
	}
	if trustedKey != "" && !strings.EqualFold(trustedKey, sig.PublicKey) {
		return fmt.Errorf("%w: manifest signed by untrusted key %s", ErrVerification, sig.PublicKey)
	}
	ok, err := Verify(sig.PublicKey, sig.Value, manifest)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerification, err)
	}
	if !ok {
		return fmt.Errorf("%w: signature does not match manifest", ErrVerification)
	}
	return nil
}
