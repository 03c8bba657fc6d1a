package fingerprint

import "testing"

func TestSumDeterministic(t *testing.T) {
	data := []byte("jpeg bytes")
	if Sum(data) != Sum([]byte("jpeg bytes")) {
		t.Error("identical input produced different digests")
	}
}

func TestSumEmptyInput(t *testing.T) {
	got := Sum(nil)
	if got != "d41d8cd98f00b204e9800998ecf8427e" {
		t.Errorf("Sum(nil) = %q, want the MD5 empty digest", got)
	}
	if got != Sum([]byte{}) {
		t.Error("nil and empty slice hashed differently")
	}
}

func TestSumDistinctInputs(t *testing.T) {
	if Sum([]byte("a")) == Sum([]byte("b")) {
		t.Error("distinct inputs produced the same digest")
	}
}

func TestSumLength(t *testing.T) {
	if got := len(Sum([]byte("x"))); got != 32 {
		t.Errorf("digest length = %d, want 32 hex characters", got)
	}
}
