package ash

import "testing"

func TestBuildProofV1_Deterministic(t *testing.T) {
	p1 := buildProofV1(ModeBalanced, "POST /orders", "ctx_abc", "", []byte(`{"a":1}`))
	p2 := buildProofV1(ModeBalanced, "POST /orders", "ctx_abc", "", []byte(`{"a":1}`))
	if p1 != p2 {
		t.Fatalf("expected deterministic proof, got %q vs %q", p1, p2)
	}
	if p1 == "" {
		t.Fatal("expected non-empty proof")
	}
}

func TestBuildProofV1_SensitiveToEveryComponent(t *testing.T) {
	base := buildProofV1(ModeBalanced, "POST /orders", "ctx_abc", "", []byte(`{"a":1}`))

	variants := []string{
		buildProofV1(ModeStrict, "POST /orders", "ctx_abc", "", []byte(`{"a":1}`)),
		buildProofV1(ModeBalanced, "GET /orders", "ctx_abc", "", []byte(`{"a":1}`)),
		buildProofV1(ModeBalanced, "POST /orders", "ctx_xyz", "", []byte(`{"a":1}`)),
		buildProofV1(ModeBalanced, "POST /orders", "ctx_abc", "", []byte(`{"a":2}`)),
		buildProofV1(ModeBalanced, "POST /orders", "ctx_abc", "deadbeef", []byte(`{"a":1}`)),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d: expected proof to change, both were %q", i, base)
		}
	}
}

func TestDeriveClientSecretV21_Deterministic(t *testing.T) {
	nonce, err := generateNonceHex(32)
	if err != nil {
		t.Fatal(err)
	}
	s1, err := deriveClientSecretV21(nonce, "ash_abc", "POST /orders")
	if err != nil {
		t.Fatal(err)
	}
	s2, err := deriveClientSecretV21(nonce, "ash_abc", "POST /orders")
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Fatalf("expected deterministic derivation, got %q vs %q", s1, s2)
	}
}

func TestBuildProofV21_SensitiveToEveryComponent(t *testing.T) {
	nonce, err := generateNonceHex(32)
	if err != nil {
		t.Fatal(err)
	}
	secret, err := deriveClientSecretV21(nonce, "ash_abc", "POST /orders")
	if err != nil {
		t.Fatal(err)
	}

	base, err := buildProofV21(secret, 1000, "POST /orders", []byte(`{"a":1}`))
	if err != nil {
		t.Fatal(err)
	}

	otherTS, err := buildProofV21(secret, 2000, "POST /orders", []byte(`{"a":1}`))
	if err != nil {
		t.Fatal(err)
	}
	otherBinding, err := buildProofV21(secret, 1000, "GET /orders", []byte(`{"a":1}`))
	if err != nil {
		t.Fatal(err)
	}
	otherPayload, err := buildProofV21(secret, 1000, "POST /orders", []byte(`{"a":2}`))
	if err != nil {
		t.Fatal(err)
	}

	if otherTS == base || otherBinding == base || otherPayload == base {
		t.Fatal("expected proof to change when timestamp, binding, or payload changes")
	}
}

func TestConstantTimeEqual(t *testing.T) {
	if !constantTimeEqual("abc", "abc") {
		t.Error("expected equal strings to compare equal")
	}
	if constantTimeEqual("abc", "abd") {
		t.Error("expected differing strings to compare unequal")
	}
	if constantTimeEqual("abc", "abcd") {
		t.Error("expected differing lengths to compare unequal")
	}
	if constantTimeEqual("", "") != true {
		t.Error("expected two empty strings to compare equal")
	}
}
