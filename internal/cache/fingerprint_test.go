package cache

import "testing"

func TestFingerprintStableForIdenticalInput(t *testing.T) {
	a := Fingerprint("input", map[string]string{"name": "email", "type": "text"}, []string{"form", "div"})
	b := Fingerprint("input", map[string]string{"type": "text", "name": "email"}, []string{"form", "div"})
	if a != b {
		t.Errorf("expected identical fingerprints regardless of map iteration order, got %q vs %q", a, b)
	}
}

func TestHammingDistanceZeroForEqualInput(t *testing.T) {
	a := Fingerprint("button", map[string]string{"id": "go"}, nil)
	if d := HammingDistance(a, a); d != 0 {
		t.Errorf("distance to self = %d, want 0", d)
	}
}

func TestHammingDistanceMalformedInputIsMaximal(t *testing.T) {
	if d := HammingDistance("not-hex!!", "alsonotafingerprint"); d != simhashBits {
		t.Errorf("malformed distance = %d, want %d", d, simhashBits)
	}
}
