package canonicalize

import (
	"testing"
)

func TestJCS_SortsKeysRecursively(t *testing.T) {
	input := map[string]any{
		"period": "2024Q1",
		"aggregates": map[string]any{
			"premiums":      "300.00",
			"final_reserve": "10.00",
			"claims_paid":   "50.50",
		},
	}
	expected := `{"aggregates":{"claims_paid":"50.50","final_reserve":"10.00","premiums":"300.00"},"period":"2024Q1"}`

	b, err := JCS(input)
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}
	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestJCS_NoHTMLEscaping(t *testing.T) {
	input := map[string]string{"message": "premio < 0 & ramo > 99"}
	expected := `{"message":"premio < 0 & ramo > 99"}`

	b, err := JCS(input)
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}
	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestJCS_NumberFormatting(t *testing.T) {
	input := map[string]any{"row_id": 12.0, "share": 0.5, "big": 1e21}
	expected := `{"big":1e+21,"row_id":12,"share":0.5}`

	b, err := JCS(input)
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}
	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestCanonicalHash_StructAndMapAgree(t *testing.T) {
	type doc struct {
		B string `json:"b"`
		A string `json:"a"`
	}
	h1, err := CanonicalHash(map[string]any{"a": "1", "b": "2"})
	if err != nil {
		t.Fatal(err)
	}
	h2, err := CanonicalHash(doc{B: "2", A: "1"})
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("hash mismatch: %s != %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(h1))
	}
}

func TestHashBytes_KnownVector(t *testing.T) {
	const empty = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := HashBytes(nil); got != empty {
		t.Errorf("HashBytes(nil) = %s", got)
	}
}
