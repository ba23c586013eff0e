package canonicalize

import (
	"bytes"
	"encoding/json"
	"testing"
)

// FuzzJCS checks that canonical output is a fixed point and that the hash
// of a decoded document does not depend on the input key order.
func FuzzJCS(f *testing.F) {
	f.Add([]byte(`{"period":"2024Q1","violations":[]}`))
	f.Add([]byte(`{"aggregates":{"premiums":"300.00","claims_paid":"0.00"},"period":"Q1"}`))
	f.Add([]byte(`{"rule_id":"R1","row_id":12,"share":0.5,"error":null}`))
	f.Add([]byte(`{"name":"Società Cattolica & C.","note":"<b>"}`))
	f.Add([]byte(`[1e21,-0,0.000001,"tab\there"]`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var doc any
		if json.Unmarshal(data, &doc) != nil {
			t.Skip()
		}
		canon, err := JCS(doc)
		if err != nil {
			return
		}

		var decoded any
		if err := json.Unmarshal(canon, &decoded); err != nil {
			t.Fatalf("canonical output does not decode: %q", canon)
		}
		again, err := JCS(decoded)
		if err != nil {
			t.Fatalf("re-canonicalizing %q: %v", canon, err)
		}
		if !bytes.Equal(canon, again) {
			t.Fatalf("not a fixed point:\n%s\n%s", canon, again)
		}

		h1, err := CanonicalHash(doc)
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		if h2 := HashBytes(canon); h1 != h2 {
			t.Fatalf("CanonicalHash %s differs from HashBytes(JCS) %s", h1, h2)
		}
	})
}
